// Package supervisor reconciles intended agent state (the store) with
// actual session state (tmux) and provides the imperative surface to
// spawn, message, stop, and recover work agents.
package supervisor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parishlabs/parish/internal/agent"
	"github.com/parishlabs/parish/internal/constants"
	"github.com/parishlabs/parish/internal/hook"
	"github.com/parishlabs/parish/internal/runtime"
	"github.com/parishlabs/parish/internal/town"
	"github.com/parishlabs/parish/internal/util"
)

// Precondition errors. CLI maps these to distinct exit codes.
var (
	ErrAlreadyRunning = errors.New("agent already running")
	ErrNotRunning     = errors.New("agent session not running")
)

// tmuxOps is the session-driver surface the supervisor needs.
// *tmux.Tmux satisfies it; tests substitute a fake.
type tmuxOps interface {
	NewSessionWithCommand(name, workDir, command string) error
	HasSession(name string) (bool, error)
	KillSession(name string) error
	ListSessions() ([]string, error)
	SendKeys(session, text string) error
}

// SpawnOptions describe a new work agent. ID pins the session and
// directory name; when empty it is derived from IssueID. Respawns of an
// existing agent (recovery, handoff) must pass ID so specialists keep
// their specialist-<role> identity.
type SpawnOptions struct {
	ID        string
	IssueID   string
	Workspace string
	Runtime   string
	Model     string
	Prompt    string
	Phase     string
	WorkType  string
}

// Info is one row of List: durable state joined with session liveness.
type Info struct {
	State      *agent.State
	TmuxActive bool
}

// Supervisor manages work-agent lifecycles.
type Supervisor struct {
	store *agent.Store
	hooks *hook.Hooks
	tmux  tmuxOps
	now   func() time.Time
}

// New creates a supervisor over the given store and session driver.
func New(store *agent.Store, hooks *hook.Hooks, t tmuxOps) *Supervisor {
	return &Supervisor{store: store, hooks: hooks, tmux: t, now: time.Now}
}

// NewWithClock is New with an injected clock (tests).
func NewWithClock(store *agent.Store, hooks *hook.Hooks, t tmuxOps, now func() time.Time) *Supervisor {
	return &Supervisor{store: store, hooks: hooks, tmux: t, now: now}
}

// Spawn starts a new work agent for an issue. Pending hook items are
// rendered into the startup prompt so work queued while the agent was down
// is seen on the first turn.
func (s *Supervisor) Spawn(opts SpawnOptions) (*agent.State, error) {
	if opts.IssueID == "" {
		return nil, errors.New("issue id required")
	}
	id := opts.ID
	if id == "" {
		id = agent.IDForIssue(opts.IssueID)
	}

	exists, err := s.tmux.HasSession(id)
	if err != nil {
		return nil, fmt.Errorf("checking session: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, id)
	}

	if err := s.hooks.Init(id); err != nil {
		return nil, err
	}
	prompt := opts.Prompt
	if pending, err := s.hooks.StartupPrompt(id); err == nil && pending != "" {
		if prompt != "" {
			prompt = pending + "\n" + prompt
		} else {
			prompt = pending
		}
	}

	rtName := opts.Runtime
	if rtName == "" {
		rtName = runtime.Default
	}
	adapter, err := runtime.ForName(rtName)
	if err != nil {
		return nil, err
	}

	st := &agent.State{
		ID:           id,
		IssueID:      opts.IssueID,
		Workspace:    opts.Workspace,
		Runtime:      rtName,
		Model:        opts.Model,
		Status:       constants.StatusStarting,
		StartedAt:    s.now(),
		LastActivity: s.now(),
		Phase:        opts.Phase,
		WorkType:     opts.WorkType,
	}
	if err := s.store.SaveState(st); err != nil {
		return nil, err
	}

	cmd := adapter.StartCommand(opts.Model, prompt)
	if err := s.tmux.NewSessionWithCommand(id, opts.Workspace, cmd); err != nil {
		// state.json stays at starting; the caller retries or tears down.
		return st, fmt.Errorf("creating session %s: %w", id, err)
	}

	st.Status = constants.StatusRunning
	if err := s.store.SaveState(st); err != nil {
		return st, err
	}
	return st, nil
}

// Message injects text into a live agent session and archives a copy under
// the agent's mail directory. The copy is Markdown, not a mailbox item, so
// mail collection never re-delivers it.
func (s *Supervisor) Message(id, text string) error {
	exists, err := s.tmux.HasSession(id)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotRunning, id)
	}
	if err := s.tmux.SendKeys(id, text); err != nil {
		return err
	}

	name := s.now().Format("20060102-150405") + ".md"
	path := filepath.Join(town.MailDir(s.store.Root(), id), name)
	body := fmt.Sprintf("# Message to %s\n\n_%s_\n\n%s\n", id, s.now().Format(time.RFC3339), text)
	return util.WriteFileAtomic(path, []byte(body), 0644)
}

// Stop kills the agent's session if running and marks it stopped.
// Stopping a stopped or absent agent is a no-op.
func (s *Supervisor) Stop(id string) error {
	st, err := s.store.LoadState(id)
	if errors.Is(err, agent.ErrNotFound) {
		// No state to update; still clear any stray session.
		return s.tmux.KillSession(id)
	}
	if err != nil {
		return err
	}
	if err := s.tmux.KillSession(id); err != nil {
		return err
	}
	if st.Status == constants.StatusStopped {
		return nil
	}
	st.Status = constants.StatusStopped
	st.LastActivity = s.now()
	return s.store.SaveState(st)
}

// List joins store contents with live sessions.
func (s *Supervisor) List() ([]Info, error) {
	ids, err := s.store.List()
	if err != nil {
		return nil, err
	}
	sessions, err := s.tmux.ListSessions()
	if err != nil {
		return nil, err
	}
	live := make(map[string]bool, len(sessions))
	for _, name := range sessions {
		live[name] = true
	}

	var infos []Info
	for _, id := range ids {
		st, err := s.store.LoadState(id)
		if err != nil {
			// Directory without a readable state.json: skip rather than
			// fail the whole listing.
			continue
		}
		infos = append(infos, Info{State: st, TmuxActive: live[id]})
	}
	return infos, nil
}

// DetectCrashed returns agents recorded as running whose session is gone.
func (s *Supervisor) DetectCrashed() ([]string, error) {
	infos, err := s.List()
	if err != nil {
		return nil, err
	}
	var crashed []string
	for _, info := range infos {
		if info.State.Status == constants.StatusRunning && !info.TmuxActive {
			crashed = append(crashed, info.State.ID)
		}
	}
	return crashed, nil
}

// Recover re-spawns a crashed agent with a recovery prompt that restores
// its working context. Failure is recorded as status error.
func (s *Supervisor) Recover(id string) error {
	st, err := s.store.LoadState(id)
	if err != nil {
		return err
	}
	exists, err := s.tmux.HasSession(id)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, id)
	}

	prompt := s.recoveryPrompt(st)
	if pending, err := s.hooks.StartupPrompt(id); err == nil && pending != "" {
		prompt += "\n" + pending
	}

	adapter, err := runtime.ForName(st.Runtime)
	if err != nil {
		return err
	}
	cmd := adapter.StartCommand(st.Model, prompt)
	if err := s.tmux.NewSessionWithCommand(id, st.Workspace, cmd); err != nil {
		st.Status = constants.StatusError
		_ = s.store.SaveState(st)
		return fmt.Errorf("recovering %s: %w", id, err)
	}

	st.Status = constants.StatusRunning
	st.LastActivity = s.now()
	if err := s.store.SaveState(st); err != nil {
		return err
	}

	health := s.store.LoadHealth(id)
	health.RecoveryCount++
	health.LastRecoveryAt = s.now()
	return s.store.SaveHealth(id, health)
}

// AutoRecoverAll recovers every crashed agent, returning per-id results.
func (s *Supervisor) AutoRecoverAll() (map[string]error, error) {
	crashed, err := s.DetectCrashed()
	if err != nil {
		return nil, err
	}
	results := make(map[string]error, len(crashed))
	for _, id := range crashed {
		results[id] = s.Recover(id)
	}
	return results, nil
}

func (s *Supervisor) recoveryPrompt(st *agent.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your previous session crashed and has been restarted.\n\n")
	fmt.Fprintf(&b, "You are working on issue %s in %s", st.IssueID, st.Workspace)
	if st.Branch != "" {
		fmt.Fprintf(&b, " on branch %s", st.Branch)
	}
	fmt.Fprintf(&b, ". The original session started at %s.\n\n", st.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Check `git status` and `git log` to re-establish where you were, then continue the work.")
	return b.String()
}

// Remove tears down a stopped agent's directory and heartbeat.
func (s *Supervisor) Remove(id string) error {
	exists, err := s.tmux.HasSession(id)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: stop %s first", ErrAlreadyRunning, id)
	}
	hbPath := filepath.Join(town.HeartbeatsDir(s.store.Root()), id+".json")
	if err := os.Remove(hbPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return s.store.Remove(id)
}
