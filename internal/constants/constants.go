// Package constants centralizes names, prefixes, and timing defaults
// shared across the Parish control plane.
package constants

import "time"

// Session name prefixes. The agent id doubles as the tmux session name,
// so every live Parish session starts with one of these.
const (
	// AgentPrefix prefixes work-agent sessions: "agent-<issue-ref>".
	AgentPrefix = "agent-"

	// SpecialistPrefix prefixes specialist sessions: "specialist-<role>".
	SpecialistPrefix = "specialist-"
)

// Specialist role names.
const (
	RoleReview   = "review-agent"
	RoleTest     = "test-agent"
	RoleMerge    = "merge-agent"
	RolePlanning = "planning-agent"
)

// SpecialistRoles lists every known specialist role in a stable order.
var SpecialistRoles = []string{RoleReview, RoleTest, RoleMerge, RolePlanning}

// Agent status values persisted in state.json.
const (
	StatusStarting = "starting"
	StatusRunning  = "running"
	StatusStopped  = "stopped"
	StatusError    = "error"
)

// Runtime states reported by assistant hook scripts in runtime.json.
const (
	RuntimeActive    = "active"
	RuntimeIdle      = "idle"
	RuntimeSuspended = "suspended"
)

// Hook item priorities, highest first.
const (
	PriorityUrgent = "urgent"
	PriorityHigh   = "high"
	PriorityNormal = "normal"
	PriorityLow    = "low"
)

// SupportedShells are pane commands that mean "no agent running, just a shell".
var SupportedShells = []string{"bash", "zsh", "sh", "fish", "dash"}

// Timing defaults. Deacon-specific intervals live in config.DeaconConfig;
// these are process-wide.
const (
	// PollInterval is the delay between liveness polls of a tmux pane.
	PollInterval = 500 * time.Millisecond

	// DefaultDebounceMs is the pause between a literal paste and the
	// Enter keypress when injecting text into a session.
	DefaultDebounceMs = 100

	// AssistantStartTimeout bounds the wait for an assistant process to
	// replace the shell after session creation.
	AssistantStartTimeout = 60 * time.Second

	// DefaultIdleTimeout bounds the handoff wait for a session to go idle.
	DefaultIdleTimeout = 30 * time.Second

	// WorkIdleSuspend is how long a work agent may report idle before the
	// Deacon suspends it.
	WorkIdleSuspend = 10 * time.Minute

	// SpecialistIdleSuspend is the specialist counterpart.
	SpecialistIdleSuspend = 5 * time.Minute
)

// WakeDeadlines are the per-role specialist wake deadlines.
var WakeDeadlines = map[string]time.Duration{
	RoleReview:   10 * time.Minute,
	RoleTest:     15 * time.Minute,
	RoleMerge:    20 * time.Minute,
	RolePlanning: 5 * time.Minute,
}

// WakeDeadline returns the wake deadline for a role, defaulting to 10 minutes
// for unknown roles.
func WakeDeadline(role string) time.Duration {
	if d, ok := WakeDeadlines[role]; ok {
		return d
	}
	return 10 * time.Minute
}
