// Package handoff transfers an agent's work to a new model: either by
// killing and respawning the session with a rendered handoff document, or,
// for specialists, by waking the existing session with the handoff as a
// task.
package handoff

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parishlabs/parish/internal/agent"
	"github.com/parishlabs/parish/internal/config"
	"github.com/parishlabs/parish/internal/constants"
	"github.com/parishlabs/parish/internal/git"
	"github.com/parishlabs/parish/internal/heartbeat"
	"github.com/parishlabs/parish/internal/specialist"
	"github.com/parishlabs/parish/internal/supervisor"
	"github.com/parishlabs/parish/internal/town"
	"github.com/parishlabs/parish/internal/util"
)

// Handoff modes.
const (
	ModeKillAndSpawn   = "kill-and-spawn"
	ModeSpecialistWake = "specialist-wake"
)

const paneCaptureLines = 100

// Request describes one handoff.
type Request struct {
	AgentID                string
	TargetModel            string
	Reason                 string
	Mode                   string // empty means auto-detect by agent id
	AdditionalInstructions string
	IdleTimeout            time.Duration
}

// Result reports what the manager did.
type Result struct {
	Mode     string
	Queued   bool
	Document string // path of the rendered handoff, kill-and-spawn only
}

// supervisorOps is the supervisor surface the manager needs.
type supervisorOps interface {
	Stop(id string) error
	Spawn(opts supervisor.SpawnOptions) (*agent.State, error)
}

// coordinatorOps is the specialist surface the manager needs.
type coordinatorOps interface {
	WakeSpecialistOrQueue(role string, task specialist.Task) (specialist.WakeResult, error)
}

// tmuxOps is the session surface the manager needs.
type tmuxOps interface {
	HasSession(name string) (bool, error)
	CapturePane(session string, lines int) (string, error)
}

// gitOps is the version-control surface for context capture.
type gitOps interface {
	CurrentBranch() (string, error)
	RecentCommits(n int) ([]string, error)
}

// Manager performs handoffs.
type Manager struct {
	store  *agent.Store
	sup    supervisorOps
	coord  coordinatorOps
	tmux   tmuxOps
	cfg    config.DeaconConfig
	logger *log.Logger
	now    func() time.Time
	poll   time.Duration

	// newGit builds a git wrapper for a workspace; overridable in tests.
	newGit func(workspace string) gitOps
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock injects a clock (tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithPollInterval sets the idle-wait poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) { m.poll = d }
}

// WithGitFactory replaces the git wrapper constructor (tests).
func WithGitFactory(f func(workspace string) gitOps) Option {
	return func(m *Manager) { m.newGit = f }
}

// WithLogger replaces the logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New creates a handoff manager.
func New(store *agent.Store, sup supervisorOps, coord coordinatorOps, t tmuxOps, cfg config.DeaconConfig, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		sup:    sup,
		coord:  coord,
		tmux:   t,
		cfg:    cfg,
		logger: log.New(os.Stderr, "handoff ", log.LstdFlags),
		now:    time.Now,
		poll:   constants.PollInterval,
		newGit: func(workspace string) gitOps { return git.NewGit(workspace) },
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Execute runs a handoff. Mode defaults by agent id: specialists get
// specialist-wake, work agents get kill-and-spawn.
func (m *Manager) Execute(req Request) (Result, error) {
	mode := req.Mode
	if mode == "" {
		if agent.IsSpecialist(req.AgentID) {
			mode = ModeSpecialistWake
		} else {
			mode = ModeKillAndSpawn
		}
	}

	if mode == ModeSpecialistWake {
		res, err := m.specialistWake(req)
		if err == nil {
			return res, nil
		}
		m.logger.Printf("specialist wake failed for %s, falling back to kill-and-spawn: %v", req.AgentID, err)
	}
	return m.killAndSpawn(req)
}

func (m *Manager) specialistWake(req Request) (Result, error) {
	role, err := agent.SpecialistRole(req.AgentID)
	if err != nil {
		return Result{}, err
	}
	res, err := m.coord.WakeSpecialistOrQueue(role, specialist.Task{
		Body:   m.handoffPrompt(req, handoffContext{}),
		Source: "handoff",
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Mode: ModeSpecialistWake, Queued: res.Queued}, nil
}

// handoffContext is what kill-and-spawn carries over to the new session.
type handoffContext struct {
	PaneTail      string
	Branch        string
	RecentCommits []string
}

func (m *Manager) killAndSpawn(req Request) (Result, error) {
	st, err := m.store.LoadState(req.AgentID)
	if err != nil {
		return Result{}, err
	}

	m.waitForIdle(req.AgentID, req.IdleTimeout)
	ctx := m.captureContext(req.AgentID, st.Workspace)

	doc := m.renderDocument(req, st, ctx)
	docPath := filepath.Join(town.HandoffsDir(m.store.Root(), req.AgentID),
		"handoff-"+m.now().Format("20060102-150405")+".md")
	if err := util.WriteFileAtomic(docPath, []byte(doc), 0644); err != nil {
		return Result{}, err
	}

	if err := m.sup.Stop(req.AgentID); err != nil {
		return Result{}, err
	}

	prompt := m.handoffPrompt(req, ctx)
	if req.AdditionalInstructions != "" {
		prompt += "\n\n" + req.AdditionalInstructions
	}
	newState, err := m.sup.Spawn(supervisor.SpawnOptions{
		ID:        st.ID,
		IssueID:   st.IssueID,
		Workspace: st.Workspace,
		Runtime:   st.Runtime,
		Model:     req.TargetModel,
		Prompt:    prompt,
		Phase:     st.Phase,
		WorkType:  st.WorkType,
	})
	if err != nil {
		// The prior session is already dead; the failure is sticky.
		st.Status = constants.StatusError
		_ = m.store.SaveState(st)
		return Result{}, fmt.Errorf("respawning %s: %w", req.AgentID, err)
	}

	newState.HandoffCount = st.HandoffCount + 1
	newState.Branch = st.Branch
	if ctx.Branch != "" {
		newState.Branch = ctx.Branch
	}
	if err := m.store.SaveState(newState); err != nil {
		return Result{}, err
	}
	return Result{Mode: ModeKillAndSpawn, Document: docPath}, nil
}

// waitForIdle polls until the session's heartbeat goes non-fresh or the
// session disappears. Timing out just means handing off mid-thought.
func (m *Manager) waitForIdle(id string, timeout time.Duration) {
	if timeout <= 0 {
		timeout = constants.DefaultIdleTimeout
	}
	deadline := m.now().Add(timeout)
	for m.now().Before(deadline) {
		exists, err := m.tmux.HasSession(id)
		if err != nil || !exists {
			return
		}
		if heartbeat.Status(m.store.Root(), id, true, m.cfg.PingTimeout()) != heartbeat.StatusActive {
			return
		}
		time.Sleep(m.poll)
	}
	m.logger.Printf("idle wait for %s timed out after %s, proceeding", id, timeout)
}

// captureContext gathers pane output and git state. Failures degrade to an
// empty context; the handoff proceeds regardless.
func (m *Manager) captureContext(id, workspace string) handoffContext {
	var ctx handoffContext
	pane, err := m.tmux.CapturePane(id, paneCaptureLines)
	if err != nil {
		m.logger.Printf("pane capture for %s failed, handing off with empty context: %v", id, err)
	} else {
		ctx.PaneTail = strings.TrimSpace(pane)
	}
	if workspace != "" {
		g := m.newGit(workspace)
		if branch, err := g.CurrentBranch(); err == nil {
			ctx.Branch = branch
		}
		if commits, err := g.RecentCommits(5); err == nil {
			ctx.RecentCommits = commits
		}
	}
	return ctx
}

func (m *Manager) renderDocument(req Request, st *agent.State, ctx handoffContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Handoff: %s\n\n", st.ID)
	fmt.Fprintf(&b, "- Date: %s\n", m.now().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Issue: %s\n", st.IssueID)
	fmt.Fprintf(&b, "- Workspace: %s\n", st.Workspace)
	fmt.Fprintf(&b, "- From model: %s\n", st.Model)
	fmt.Fprintf(&b, "- To model: %s\n", req.TargetModel)
	fmt.Fprintf(&b, "- Reason: %s\n", req.Reason)
	fmt.Fprintf(&b, "- Handoffs so far: %d\n", st.HandoffCount)
	if ctx.Branch != "" {
		fmt.Fprintf(&b, "- Branch: %s\n", ctx.Branch)
	}
	if len(ctx.RecentCommits) > 0 {
		b.WriteString("\n## Recent commits\n\n")
		for _, c := range ctx.RecentCommits {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	if ctx.PaneTail != "" {
		b.WriteString("\n## Session tail\n\n```\n")
		b.WriteString(ctx.PaneTail)
		b.WriteString("\n```\n")
	}
	return b.String()
}

func (m *Manager) handoffPrompt(req Request, ctx handoffContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are taking over work from a previous session (reason: %s).\n", req.Reason)
	if ctx.Branch != "" {
		fmt.Fprintf(&b, "The work is on branch %s.\n", ctx.Branch)
	}
	if len(ctx.RecentCommits) > 0 {
		fmt.Fprintf(&b, "Recent commits:\n")
		for _, c := range ctx.RecentCommits {
			fmt.Fprintf(&b, "  %s\n", c)
		}
	}
	if ctx.PaneTail != "" {
		fmt.Fprintf(&b, "\nThe previous session's last output:\n%s\n", ctx.PaneTail)
	}
	b.WriteString("\nRe-establish context with `git status` and `git log`, then continue the work.")
	return b.String()
}
