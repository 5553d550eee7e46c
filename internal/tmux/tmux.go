// Package tmux is the session driver: a thin wrapper over tmux subprocess
// operations. It is the only place the control plane touches the
// multiplexer, so everything above it can be tested against a fake.
package tmux

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/parishlabs/parish/internal/constants"
)

// Common errors
var (
	ErrNoServer        = errors.New("no tmux server running")
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionNotFound = errors.New("session not found")
)

// Tmux wraps tmux operations.
type Tmux struct {
	// runner executes a tmux command; overridable in tests.
	runner func(args ...string) (string, error)
}

// NewTmux creates a new Tmux wrapper.
func NewTmux() *Tmux {
	t := &Tmux{}
	t.runner = t.execTmux
	return t
}

// NewWithRunner creates a wrapper with a custom command runner (tests).
func NewWithRunner(runner func(args ...string) (string, error)) *Tmux {
	return &Tmux{runner: runner}
}

// execTmux executes a tmux command and returns stdout.
func (t *Tmux) execTmux(args ...string) (string, error) {
	cmd := exec.Command("tmux", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", wrapError(err, stderr.String(), args)
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (t *Tmux) run(args ...string) (string, error) {
	return t.runner(args...)
}

// wrapError maps tmux stderr chatter onto the sentinel errors.
func wrapError(err error, stderr string, args []string) error {
	stderr = strings.TrimSpace(stderr)

	if strings.Contains(stderr, "no server running") ||
		strings.Contains(stderr, "error connecting to") {
		return ErrNoServer
	}
	if strings.Contains(stderr, "duplicate session") {
		return ErrSessionExists
	}
	if strings.Contains(stderr, "session not found") ||
		strings.Contains(stderr, "can't find session") {
		return ErrSessionNotFound
	}

	if stderr != "" {
		return fmt.Errorf("tmux %s: %s", args[0], stderr)
	}
	return fmt.Errorf("tmux %s: %w", args[0], err)
}

// NewSessionWithCommand creates a detached session named name, running
// command as the pane's initial process with workDir as working directory.
// Running the command directly (instead of send-keys into a shell) avoids
// the race where input arrives before the shell prompt.
func (t *Tmux) NewSessionWithCommand(name, workDir, command string) error {
	args := []string{"new-session", "-d", "-s", name}
	if workDir != "" {
		args = append(args, "-c", workDir)
	}
	args = append(args, command)
	_, err := t.run(args...)
	return err
}

// HasSession checks if a session exists (exact match).
// The "=" prefix prevents prefix matches: checking "agent-min-4" must not
// match "agent-min-42".
func (t *Tmux) HasSession(name string) (bool, error) {
	_, err := t.run("has-session", "-t", "="+name)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrNoServer) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// KillSession terminates a session. Killing an absent session is a no-op.
func (t *Tmux) KillSession(name string) error {
	_, err := t.run("kill-session", "-t", "="+name)
	if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrNoServer) {
		return nil
	}
	return err
}

// ListSessions returns the names of all sessions owned by the control
// plane: those whose names carry a reserved prefix.
func (t *Tmux) ListSessions() ([]string, error) {
	out, err := t.run("list-sessions", "-F", "#{session_name}")
	if err != nil {
		if errors.Is(err, ErrNoServer) {
			return nil, nil
		}
		return nil, err
	}
	if out == "" {
		return nil, nil
	}

	var names []string
	for _, name := range strings.Split(out, "\n") {
		if strings.HasPrefix(name, constants.AgentPrefix) ||
			strings.HasPrefix(name, constants.SpecialistPrefix) {
			names = append(names, name)
		}
	}
	return names, nil
}

// SendKeys injects text into a session and presses Enter.
// Text goes in literal mode (-l) so assistant prompts with special
// characters survive; Enter is sent separately after a debounce so the
// paste is processed before submission.
func (t *Tmux) SendKeys(session, text string) error {
	return t.SendKeysDebounced(session, text, constants.DefaultDebounceMs)
}

// SendKeysDebounced is SendKeys with a configurable paste-to-Enter delay.
func (t *Tmux) SendKeysDebounced(session, text string, debounceMs int) error {
	if _, err := t.run("send-keys", "-t", "="+session, "-l", text); err != nil {
		return err
	}
	if debounceMs > 0 {
		time.Sleep(time.Duration(debounceMs) * time.Millisecond)
	}
	_, err := t.run("send-keys", "-t", "="+session, "Enter")
	return err
}

// Nudge sends a message to an assistant session reliably: literal paste,
// 500ms settle, then Enter with retry. The Enter retry matters; a dropped
// Enter leaves the prompt sitting unsubmitted in the input box.
func (t *Tmux) Nudge(session, message string) error {
	if _, err := t.run("send-keys", "-t", "="+session, "-l", message); err != nil {
		return err
	}

	time.Sleep(500 * time.Millisecond)

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			time.Sleep(200 * time.Millisecond)
		}
		if _, err := t.run("send-keys", "-t", "="+session, "Enter"); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("failed to send Enter after 3 attempts: %w", lastErr)
}

// CapturePane captures the last lines of a pane's output.
func (t *Tmux) CapturePane(session string, lines int) (string, error) {
	return t.run("capture-pane", "-p", "-t", "="+session, "-S", fmt.Sprintf("-%d", lines))
}

// GetPaneCommand returns the current command running in a session's pane
// ("bash", "node", "claude", ...).
func (t *Tmux) GetPaneCommand(session string) (string, error) {
	out, err := t.run("list-panes", "-t", "="+session, "-F", "#{pane_current_command}")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// IsAssistantRunning reports whether a non-shell process occupies the pane.
// A session whose pane dropped back to a bare shell is a zombie: tmux is
// alive but the assistant died.
func (t *Tmux) IsAssistantRunning(session string) bool {
	cmd, err := t.GetPaneCommand(session)
	if err != nil {
		return false
	}
	for _, shell := range constants.SupportedShells {
		if cmd == shell {
			return false
		}
	}
	return cmd != ""
}

// WaitForCommand polls until the pane is not running one of the excluded
// commands, or the timeout elapses. Used after session creation to wait for
// the assistant to replace the shell.
func (t *Tmux) WaitForCommand(session string, excludeCommands []string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		cmd, err := t.GetPaneCommand(session)
		if err != nil {
			time.Sleep(constants.PollInterval)
			continue
		}
		excluded := false
		for _, exc := range excludeCommands {
			if cmd == exc {
				excluded = true
				break
			}
		}
		if !excluded {
			return nil
		}
		time.Sleep(constants.PollInterval)
	}
	return fmt.Errorf("timeout waiting for command (still running excluded command)")
}

// IsAvailable checks if tmux is installed and can be invoked.
func (t *Tmux) IsAvailable() bool {
	cmd := exec.Command("tmux", "-V")
	return cmd.Run() == nil
}
