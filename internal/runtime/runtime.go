// Package runtime describes the supported coding assistants and how to
// launch them inside a session. Each assistant is a fixed variant with a
// capability record and a shell-command template; the rest of the control
// plane only consumes the record, never the assistant's own config.
package runtime

import (
	"fmt"
	"regexp"
	"strings"
)

// Capabilities is the feature surface an assistant exposes. The control
// plane branches on these instead of on the assistant name.
type Capabilities struct {
	Skills           bool // reusable skill packs
	Commands         bool // custom slash commands
	MultiModel       bool // accepts --model at launch
	BackgroundAgents bool // can run subagents in the background
	PlanMode         bool // separate planning mode before edits
	Resume           bool // accepts --resume <session-id>
}

// Adapter binds an assistant name to its launch template.
type Adapter struct {
	Name         string
	Binary       string
	Capabilities Capabilities
}

// The supported assistant variants. Order matters only for listings.
var adapters = []Adapter{
	{
		Name:   "claude",
		Binary: "claude",
		Capabilities: Capabilities{
			Skills: true, Commands: true, MultiModel: true,
			BackgroundAgents: true, PlanMode: true, Resume: true,
		},
	},
	{
		Name:   "codex",
		Binary: "codex",
		Capabilities: Capabilities{
			MultiModel: true, Resume: true,
		},
	},
	{
		Name:   "cursor",
		Binary: "cursor-agent",
		Capabilities: Capabilities{
			Commands: true, MultiModel: true, BackgroundAgents: true,
		},
	},
	{
		Name:   "gemini",
		Binary: "gemini",
		Capabilities: Capabilities{
			MultiModel: true, PlanMode: true, Resume: true,
		},
	},
}

// Default is the assistant used when config names none.
const Default = "claude"

// ForName resolves an adapter by assistant name.
func ForName(name string) (Adapter, error) {
	for _, a := range adapters {
		if a.Name == name {
			return a, nil
		}
	}
	return Adapter{}, fmt.Errorf("unknown runtime %q (supported: %s)", name, strings.Join(Names(), ", "))
}

// Names lists the supported assistant names.
func Names() []string {
	names := make([]string, len(adapters))
	for i, a := range adapters {
		names[i] = a.Name
	}
	return names
}

// escapePrompt makes a prompt safe inside a double-quoted shell argument.
func escapePrompt(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`"`, `\"`,
		"$", `\$`,
		"`", "\\`",
	)
	return r.Replace(s)
}

// StartCommand builds the shell command that launches the assistant in a
// fresh session. Model and prompt are included only when the variant
// supports them.
func (a Adapter) StartCommand(model, prompt string) string {
	var b strings.Builder
	b.WriteString(a.Binary)
	if model != "" && a.Capabilities.MultiModel {
		b.WriteString(" --model ")
		b.WriteString(model)
	}
	if prompt != "" {
		b.WriteString(` "`)
		b.WriteString(escapePrompt(prompt))
		b.WriteString(`"`)
	}
	return b.String()
}

// ResumeCommand builds the launch command that reattaches to a previous
// conversation. Variants without resume support start fresh; the caller
// re-injects context via the startup prompt instead.
func (a Adapter) ResumeCommand(model, sessionID string) string {
	if sessionID == "" || !a.Capabilities.Resume {
		return a.StartCommand(model, "")
	}
	var b strings.Builder
	b.WriteString(a.Binary)
	if model != "" && a.Capabilities.MultiModel {
		b.WriteString(" --model ")
		b.WriteString(model)
	}
	b.WriteString(" --resume ")
	b.WriteString(sessionID)
	return b.String()
}

// sessionIDPattern matches the opaque UUID-like token assistants print on
// startup. The control plane never invents session ids; it only captures
// what the assistant emits.
var sessionIDPattern = regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`)

// CaptureSessionID extracts the last session-id-shaped token from pane
// output. The last match wins: startup banners may echo older ids first.
func CaptureSessionID(paneOutput string) string {
	matches := sessionIDPattern.FindAllString(paneOutput, -1)
	if len(matches) == 0 {
		return ""
	}
	return matches[len(matches)-1]
}
