// Package style centralizes terminal styling for CLI output.
package style

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/parishlabs/parish/internal/constants"
	"github.com/parishlabs/parish/internal/heartbeat"
)

// Color palette
var (
	colorGreen  = lipgloss.Color("76")
	colorYellow = lipgloss.Color("214")
	colorRed    = lipgloss.Color("196")
	colorBlue   = lipgloss.Color("39")
	colorMuted  = lipgloss.Color("242")
)

// Shared styles
var (
	Bold    = lipgloss.NewStyle().Bold(true)
	Dim     = lipgloss.NewStyle().Foreground(colorMuted)
	Header  = lipgloss.NewStyle().Bold(true).Foreground(colorBlue)
	Good    = lipgloss.NewStyle().Foreground(colorGreen)
	Warn    = lipgloss.NewStyle().Foreground(colorYellow)
	Bad     = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	ErrText = lipgloss.NewStyle().Foreground(colorRed)
)

// Init picks the color profile for the process. NO_COLOR and non-TTY
// output both degrade to plain text so piped output stays parseable.
func Init() {
	if useColor() {
		lipgloss.SetColorProfile(termenv.EnvColorProfile())
	} else {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

func useColor() bool {
	if _, set := os.LookupEnv("NO_COLOR"); set {
		return false
	}
	if _, set := os.LookupEnv("CLICOLOR_FORCE"); set {
		return true
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// AgentStatus renders an agent lifecycle status with its conventional color.
func AgentStatus(status string) string {
	switch status {
	case constants.StatusRunning:
		return Good.Render(status)
	case constants.StatusStarting:
		return Warn.Render(status)
	case constants.StatusError:
		return Bad.Render(status)
	case constants.StatusStopped:
		return Dim.Render(status)
	default:
		return status
	}
}

// HeartbeatStatus renders a heartbeat freshness class with its color.
func HeartbeatStatus(status string) string {
	switch status {
	case heartbeat.StatusActive:
		return Good.Render(status)
	case heartbeat.StatusStale, heartbeat.StatusWarning:
		return Warn.Render(status)
	case heartbeat.StatusDead:
		return Bad.Render(status)
	default:
		return status
	}
}
