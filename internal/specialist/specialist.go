// Package specialist implements the coordinator for the long-lived
// role-based agents: review, test, merge, and planning. Each role is a
// singleton session that is initialized once and then woken repeatedly
// with distinct tasks; state persists under specialists/<role>/.
package specialist

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parishlabs/parish/internal/agent"
	"github.com/parishlabs/parish/internal/constants"
	"github.com/parishlabs/parish/internal/runtime"
	"github.com/parishlabs/parish/internal/town"
	"github.com/parishlabs/parish/internal/util"
)

// Precondition and lifecycle errors.
var (
	ErrUnknownRole = errors.New("unknown specialist role")
	ErrNotRunning  = errors.New("specialist not running")
	ErrNotHead     = errors.New("task is not at the head of the queue")
	ErrWakeTimeout = errors.New("specialist wake deadline exceeded")
	ErrEmptyQueue  = errors.New("specialist queue is empty")
)

// tmuxOps is the session-driver surface the coordinator needs.
type tmuxOps interface {
	NewSessionWithCommand(name, workDir, command string) error
	HasSession(name string) (bool, error)
	KillSession(name string) error
	SendKeys(session, text string) error
	CapturePane(session string, lines int) (string, error)
}

// Messenger delivers feedback to work agents. *supervisor.Supervisor
// satisfies it.
type Messenger interface {
	Message(id, text string) error
}

// Coordinator manages the specialist roles under one control-plane root.
type Coordinator struct {
	root    string
	store   *agent.Store
	tmux    tmuxOps
	now     func() time.Time
	poll    time.Duration
	runtime string
	model   string
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock injects a clock (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithPollInterval sets the marker-poll interval for wake deadlines.
func WithPollInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.poll = d }
}

// WithRuntime sets the assistant runtime and model specialists launch with.
func WithRuntime(rt, model string) Option {
	return func(c *Coordinator) {
		if rt != "" {
			c.runtime = rt
		}
		c.model = model
	}
}

// New creates a coordinator.
func New(root string, store *agent.Store, t tmuxOps, opts ...Option) *Coordinator {
	c := &Coordinator{
		root:    root,
		store:   store,
		tmux:    t,
		now:     time.Now,
		poll:    constants.PollInterval,
		runtime: runtime.Default,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Coordinator) dir(role string) string { return town.SpecialistDir(c.root, role) }

func (c *Coordinator) sessionIDPath(role string) string {
	return filepath.Join(c.dir(role), "session-id.txt")
}

func (c *Coordinator) wakeLogPath(role string) string {
	return filepath.Join(c.dir(role), "wake-log.jsonl")
}

func (c *Coordinator) historyPath(role string) string {
	return filepath.Join(c.dir(role), "history.jsonl")
}

func validateRole(role string) error {
	for _, known := range constants.SpecialistRoles {
		if role == known {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownRole, role)
}

// SessionID returns the stored resume token for a role, or "".
func (c *Coordinator) SessionID(role string) string {
	data, err := os.ReadFile(c.sessionIDPath(role))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (c *Coordinator) saveSessionID(role, id string) error {
	return util.WriteFileAtomic(c.sessionIDPath(role), []byte(id+"\n"), 0644)
}

// bootstrapPrompts seed each role's first session with its standing orders.
var bootstrapPrompts = map[string]string{
	constants.RoleReview: "You are the review specialist. You will receive code review " +
		"tasks one at a time. For each, review the named branch and emit your verdict " +
		"as line-anchored markers: REVIEW_RESULT, FILES_REVIEWED, SECURITY_ISSUES, " +
		"PERFORMANCE_ISSUES, NOTES. Wait for your first task.",
	constants.RoleTest: "You are the test specialist. You will receive test tasks one " +
		"at a time. Run the project's test suite for the named branch and emit " +
		"TEST_RESULT: PASS or TEST_RESULT: FAIL plus NOTES. Wait for your first task.",
	constants.RoleMerge: "You are the merge specialist. You will receive merge tasks " +
		"one at a time: fast-forward or conflict-resolve the source branch into the " +
		"target, run the project's test command, and push. Reference the source " +
		"branch in the merge commit message. Wait for your first task.",
	constants.RolePlanning: "You are the planning specialist. You will receive " +
		"planning tasks one at a time. Produce a planning document at the path " +
		"named in the task. Wait for your first task.",
}

// Initialize ensures a role's session exists, capturing the assistant's
// session id on first startup. Already-running is a successful no-op.
func (c *Coordinator) Initialize(role string) error {
	if err := validateRole(role); err != nil {
		return err
	}
	id := agent.IDForSpecialist(role)

	exists, err := c.tmux.HasSession(id)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	if err := os.MkdirAll(c.dir(role), 0755); err != nil {
		return err
	}
	adapter, err := runtime.ForName(c.runtime)
	if err != nil {
		return err
	}

	var cmd string
	if sid := c.SessionID(role); sid != "" {
		cmd = adapter.ResumeCommand(c.model, sid)
	} else {
		cmd = adapter.StartCommand(c.model, bootstrapPrompts[role])
	}

	st := &agent.State{
		ID:        id,
		IssueID:   role,
		Runtime:   c.runtime,
		Model:     c.model,
		Status:    constants.StatusStarting,
		StartedAt: c.now(),
	}
	if err := c.store.SaveState(st); err != nil {
		return err
	}
	if err := c.tmux.NewSessionWithCommand(id, "", cmd); err != nil {
		return fmt.Errorf("initializing %s: %w", role, err)
	}
	st.Status = constants.StatusRunning
	st.LastActivity = c.now()
	if err := c.store.SaveState(st); err != nil {
		return err
	}

	// First startup: capture the assistant-reported session id for later
	// resumes. Absence is tolerated; some runtimes print it late.
	if c.SessionID(role) == "" {
		if pane, err := c.tmux.CapturePane(id, 200); err == nil {
			if sid := runtime.CaptureSessionID(pane); sid != "" {
				if err := c.saveSessionID(role, sid); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// IsRunning reports whether a role's session exists.
func (c *Coordinator) IsRunning(role string) (bool, error) {
	return c.tmux.HasSession(agent.IDForSpecialist(role))
}

// IsActive reports whether a role's assistant currently reports itself busy.
func (c *Coordinator) IsActive(role string) bool {
	rt := c.store.LoadRuntime(agent.IDForSpecialist(role))
	return rt != nil && rt.State == constants.RuntimeActive
}

// wakeRecord is one line of wake-log.jsonl.
type wakeRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Role      string    `json:"role"`
	Source    string    `json:"source"`
	TaskID    string    `json:"taskId,omitempty"`
	Digest    string    `json:"digest"`
}

// historyRecord is one line of history.jsonl.
type historyRecord struct {
	Timestamp time.Time `json:"timestamp"`
	TaskID    string    `json:"taskId,omitempty"`
	IssueID   string    `json:"issueId,omitempty"`
	Status    string    `json:"status"` // completed | failed
	Reason    string    `json:"reason,omitempty"`
	Report    *Report   `json:"report,omitempty"`
}

// WakeOptions annotate a wake for the log.
type WakeOptions struct {
	Source string
	TaskID string
}

// WakeSpecialist injects a task prompt into a running specialist session
// and records the wake event.
func (c *Coordinator) WakeSpecialist(role, taskPrompt string, opts WakeOptions) error {
	if err := validateRole(role); err != nil {
		return err
	}
	id := agent.IDForSpecialist(role)
	running, err := c.tmux.HasSession(id)
	if err != nil {
		return err
	}
	if !running {
		return fmt.Errorf("%w: %s", ErrNotRunning, role)
	}
	if err := c.tmux.SendKeys(id, taskPrompt); err != nil {
		return err
	}

	digest := taskPrompt
	if len(digest) > 120 {
		digest = digest[:120]
	}
	return util.AppendJSONL(c.wakeLogPath(role), wakeRecord{
		Timestamp: c.now(),
		Role:      role,
		Source:    opts.Source,
		TaskID:    opts.TaskID,
		Digest:    digest,
	})
}

// WakeResult reports what WakeSpecialistOrQueue did.
type WakeResult struct {
	Queued bool
	TaskID string
}

// WakeSpecialistOrQueue wakes an idle specialist immediately, or queues the
// task when the specialist is mid-task. An active specialist is never
// interrupted, urgent or not.
func (c *Coordinator) WakeSpecialistOrQueue(role string, task Task) (WakeResult, error) {
	if err := validateRole(role); err != nil {
		return WakeResult{}, err
	}
	if c.IsActive(role) {
		queued, err := c.Enqueue(role, task)
		if err != nil {
			return WakeResult{}, err
		}
		return WakeResult{Queued: true, TaskID: queued.ID}, nil
	}
	task = c.stamp(task)
	if err := c.WakeSpecialist(role, task.Prompt(), WakeOptions{Source: task.Source, TaskID: task.ID}); err != nil {
		return WakeResult{}, err
	}
	return WakeResult{TaskID: task.ID}, nil
}

// recordHistory appends to the role's history log.
func (c *Coordinator) recordHistory(role string, rec historyRecord) error {
	rec.Timestamp = c.now()
	return util.AppendJSONL(c.historyPath(role), rec)
}
