package handoff

import (
	"bytes"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/parishlabs/parish/internal/agent"
	"github.com/parishlabs/parish/internal/config"
	"github.com/parishlabs/parish/internal/constants"
	"github.com/parishlabs/parish/internal/specialist"
	"github.com/parishlabs/parish/internal/supervisor"
	"github.com/parishlabs/parish/internal/town"
)

type fakeSup struct {
	stopped  []string
	spawned  []supervisor.SpawnOptions
	store    *agent.Store
	spawnErr error
}

func (f *fakeSup) Stop(id string) error {
	f.stopped = append(f.stopped, id)
	return nil
}

func (f *fakeSup) Spawn(opts supervisor.SpawnOptions) (*agent.State, error) {
	if f.spawnErr != nil {
		return nil, f.spawnErr
	}
	f.spawned = append(f.spawned, opts)
	id := opts.ID
	if id == "" {
		id = agent.IDForIssue(opts.IssueID)
	}
	st := &agent.State{
		ID:        id,
		IssueID:   opts.IssueID,
		Workspace: opts.Workspace,
		Runtime:   opts.Runtime,
		Model:     opts.Model,
		Status:    constants.StatusRunning,
	}
	if err := f.store.SaveState(st); err != nil {
		return nil, err
	}
	return st, nil
}

type fakeCoord struct {
	woken   []string
	wakeErr error
	queued  bool
}

func (f *fakeCoord) WakeSpecialistOrQueue(role string, task specialist.Task) (specialist.WakeResult, error) {
	if f.wakeErr != nil {
		return specialist.WakeResult{}, f.wakeErr
	}
	f.woken = append(f.woken, role+": "+task.Body)
	return specialist.WakeResult{Queued: f.queued}, nil
}

type fakeTmux struct {
	sessions map[string]bool
	pane     string
	paneErr  error
}

func (f *fakeTmux) HasSession(name string) (bool, error) { return f.sessions[name], nil }
func (f *fakeTmux) CapturePane(session string, lines int) (string, error) {
	return f.pane, f.paneErr
}

type fakeGit struct {
	branch  string
	commits []string
}

func (f *fakeGit) CurrentBranch() (string, error) { return f.branch, nil }

func (f *fakeGit) RecentCommits(n int) ([]string, error) { return f.commits, nil }

type fixture struct {
	m     *Manager
	sup   *fakeSup
	coord *fakeCoord
	tmux  *fakeTmux
	store *agent.Store
	root  string
	log   *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	store := agent.NewStore(root)
	sup := &fakeSup{store: store}
	coord := &fakeCoord{}
	ft := &fakeTmux{sessions: map[string]bool{}, pane: "last output line"}
	var buf bytes.Buffer
	m := New(store, sup, coord, ft, config.DefaultDeaconConfig(),
		WithLogger(log.New(&buf, "", 0)),
		WithPollInterval(0),
		WithGitFactory(func(string) gitOps {
			return &fakeGit{branch: "agent/min-42", commits: []string{"abc123 fix login"}}
		}))
	return &fixture{m: m, sup: sup, coord: coord, tmux: ft, store: store, root: root, log: &buf}
}

func seedAgent(t *testing.T, f *fixture) *agent.State {
	t.Helper()
	st := &agent.State{
		ID:           "agent-min-42",
		IssueID:      "MIN-42",
		Workspace:    "/tmp/ws",
		Runtime:      "claude",
		Model:        "sonnet",
		Status:       constants.StatusRunning,
		HandoffCount: 1,
	}
	if err := f.store.SaveState(st); err != nil {
		t.Fatal(err)
	}
	return st
}

func TestKillAndSpawn(t *testing.T) {
	f := newFixture(t)
	seedAgent(t, f)

	res, err := f.m.Execute(Request{
		AgentID:     "agent-min-42",
		TargetModel: "opus",
		Reason:      "complexity escalation",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Mode != ModeKillAndSpawn {
		t.Errorf("mode = %q", res.Mode)
	}

	if len(f.sup.stopped) != 1 || f.sup.stopped[0] != "agent-min-42" {
		t.Errorf("stopped = %v", f.sup.stopped)
	}
	if len(f.sup.spawned) != 1 {
		t.Fatalf("spawned = %v", f.sup.spawned)
	}
	opts := f.sup.spawned[0]
	if opts.IssueID != "MIN-42" || opts.Workspace != "/tmp/ws" || opts.Model != "opus" {
		t.Errorf("spawn opts = %+v", opts)
	}
	for _, want := range []string{"complexity escalation", "agent/min-42", "abc123 fix login", "last output line"} {
		if !strings.Contains(opts.Prompt, want) {
			t.Errorf("handoff prompt missing %q", want)
		}
	}

	// Document rendered with the captured context.
	data, err := os.ReadFile(res.Document)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"# Handoff: agent-min-42", "To model: opus", "agent/min-42", "last output line"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("document missing %q", want)
		}
	}
	if filepath.Dir(res.Document) != town.HandoffsDir(f.root, "agent-min-42") {
		t.Errorf("document path = %q", res.Document)
	}

	// Handoff count incremented on the new state.
	st, _ := f.store.LoadState("agent-min-42")
	if st.HandoffCount != 2 {
		t.Errorf("HandoffCount = %d", st.HandoffCount)
	}
	if st.Branch != "agent/min-42" {
		t.Errorf("Branch = %q", st.Branch)
	}
}

func TestKillAndSpawnWithCaptureFailure(t *testing.T) {
	f := newFixture(t)
	seedAgent(t, f)
	f.tmux.paneErr = errors.New("no such pane")

	res, err := f.m.Execute(Request{AgentID: "agent-min-42", TargetModel: "opus", Reason: "quota"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Mode != ModeKillAndSpawn {
		t.Errorf("mode = %q", res.Mode)
	}
	if !strings.Contains(f.log.String(), "empty context") {
		t.Errorf("capture failure not logged: %s", f.log.String())
	}
}

func TestSpawnFailureMarksError(t *testing.T) {
	f := newFixture(t)
	seedAgent(t, f)
	f.sup.spawnErr = errors.New("tmux unavailable")

	_, err := f.m.Execute(Request{AgentID: "agent-min-42", TargetModel: "opus", Reason: "quota"})
	if err == nil {
		t.Fatal("expected error")
	}
	st, _ := f.store.LoadState("agent-min-42")
	if st.Status != constants.StatusError {
		t.Errorf("status = %q, want error", st.Status)
	}
}

func TestSpecialistWakeAutoDetect(t *testing.T) {
	f := newFixture(t)

	res, err := f.m.Execute(Request{
		AgentID:     constants.SpecialistPrefix + constants.RoleReview,
		TargetModel: "opus",
		Reason:      "quota",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Mode != ModeSpecialistWake {
		t.Errorf("mode = %q", res.Mode)
	}
	if len(f.coord.woken) != 1 || !strings.Contains(f.coord.woken[0], constants.RoleReview) {
		t.Errorf("woken = %v", f.coord.woken)
	}
	if len(f.sup.stopped) != 0 {
		t.Errorf("specialist wake should not stop sessions: %v", f.sup.stopped)
	}
}

func TestSpecialistWakeQueuesWhenBusy(t *testing.T) {
	f := newFixture(t)
	f.coord.queued = true

	res, err := f.m.Execute(Request{
		AgentID: constants.SpecialistPrefix + constants.RoleMerge,
		Reason:  "quota",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Queued {
		t.Error("busy specialist handoff should queue")
	}
}

func TestSpecialistWakeFallsBackToKillAndSpawn(t *testing.T) {
	f := newFixture(t)
	f.coord.wakeErr = errors.New("specialist not running")

	id := constants.SpecialistPrefix + constants.RoleTest
	if err := f.store.SaveState(&agent.State{
		ID: id, IssueID: constants.RoleTest, Runtime: "claude", Status: constants.StatusRunning,
	}); err != nil {
		t.Fatal(err)
	}

	res, err := f.m.Execute(Request{AgentID: id, TargetModel: "opus", Reason: "stuck"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Mode != ModeKillAndSpawn {
		t.Errorf("mode = %q, want fallback to kill-and-spawn", res.Mode)
	}
	if !strings.Contains(f.log.String(), "falling back") {
		t.Errorf("fallback not logged: %s", f.log.String())
	}

	// The respawn keeps the specialist identity: same id, not a derived
	// work-agent id.
	if len(f.sup.spawned) != 1 || f.sup.spawned[0].ID != id {
		t.Fatalf("spawned = %+v, want explicit id %q", f.sup.spawned, id)
	}
	st, err := f.store.LoadState(id)
	if err != nil {
		t.Fatal(err)
	}
	if st.ID != id || st.Status != constants.StatusRunning {
		t.Errorf("respawned state = %+v", st)
	}
	if _, err := f.store.LoadState(agent.IDForIssue(constants.RoleTest)); err == nil {
		t.Errorf("stray work-agent state created for %s", agent.IDForIssue(constants.RoleTest))
	}
}

func TestWaitForIdleReturnsWhenSessionGone(t *testing.T) {
	f := newFixture(t)
	seedAgent(t, f)
	// No session at all: the idle wait returns immediately and the handoff
	// completes well inside the test timeout.
	start := time.Now()
	if _, err := f.m.Execute(Request{AgentID: "agent-min-42", TargetModel: "opus", Reason: "r"}); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("idle wait blocked despite absent session")
	}
}
