package supervisor

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/parishlabs/parish/internal/agent"
	"github.com/parishlabs/parish/internal/constants"
	"github.com/parishlabs/parish/internal/hook"
	"github.com/parishlabs/parish/internal/town"
)

// fakeTmux is an in-memory session driver.
type fakeTmux struct {
	sessions map[string]string // name -> command
	sent     map[string][]string
	failNew  error
}

func newFakeTmux() *fakeTmux {
	return &fakeTmux{sessions: map[string]string{}, sent: map[string][]string{}}
}

func (f *fakeTmux) NewSessionWithCommand(name, workDir, command string) error {
	if f.failNew != nil {
		return f.failNew
	}
	if _, ok := f.sessions[name]; ok {
		return errors.New("duplicate session")
	}
	f.sessions[name] = command
	return nil
}

func (f *fakeTmux) HasSession(name string) (bool, error) {
	_, ok := f.sessions[name]
	return ok, nil
}

func (f *fakeTmux) KillSession(name string) error {
	delete(f.sessions, name)
	return nil
}

func (f *fakeTmux) ListSessions() ([]string, error) {
	var names []string
	for name := range f.sessions {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeTmux) SendKeys(session, text string) error {
	if _, ok := f.sessions[session]; !ok {
		return errors.New("session not found")
	}
	f.sent[session] = append(f.sent[session], text)
	return nil
}

func newTestSupervisor(t *testing.T) (*Supervisor, *fakeTmux, string) {
	t.Helper()
	root := t.TempDir()
	ft := newFakeTmux()
	sup := New(agent.NewStore(root), hook.New(root), ft)
	return sup, ft, root
}

func TestSpawn(t *testing.T) {
	sup, ft, _ := newTestSupervisor(t)

	st, err := sup.Spawn(SpawnOptions{
		IssueID:   "MIN-42",
		Workspace: "/tmp/ws",
		Runtime:   "claude",
		Model:     "opus",
		Prompt:    "fix the bug",
	})
	if err != nil {
		t.Fatal(err)
	}
	if st.ID != "agent-min-42" {
		t.Errorf("id = %q", st.ID)
	}
	if st.Status != constants.StatusRunning {
		t.Errorf("status = %q", st.Status)
	}

	cmd := ft.sessions["agent-min-42"]
	if !strings.HasPrefix(cmd, "claude --model opus") || !strings.Contains(cmd, "fix the bug") {
		t.Errorf("session command = %q", cmd)
	}

	// Second spawn for the same issue is a precondition failure.
	_, err = sup.Spawn(SpawnOptions{IssueID: "MIN-42", Workspace: "/tmp/ws"})
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second spawn = %v, want ErrAlreadyRunning", err)
	}
}

func TestSpawnPrependsPendingWork(t *testing.T) {
	sup, ft, root := newTestSupervisor(t)
	h := hook.New(root)

	id := agent.IDForIssue("MIN-7")
	if err := h.Init(id); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Push(id, hook.Item{Type: "task", Source: "cli", Payload: map[string]string{"message": "queued before spawn"}}); err != nil {
		t.Fatal(err)
	}

	if _, err := sup.Spawn(SpawnOptions{IssueID: "MIN-7", Workspace: "/tmp/ws", Prompt: "main task"}); err != nil {
		t.Fatal(err)
	}
	cmd := ft.sessions[id]
	if !strings.Contains(cmd, "Pending Work Items") || !strings.Contains(cmd, "queued before spawn") {
		t.Errorf("startup prompt not prepended: %q", cmd)
	}
	if !strings.Contains(cmd, "main task") {
		t.Errorf("caller prompt lost: %q", cmd)
	}
	// Pending work comes before the caller's prompt.
	if strings.Index(cmd, "Pending Work Items") > strings.Index(cmd, "main task") {
		t.Errorf("ordering wrong: %q", cmd)
	}
}

func TestSpawnSessionFailureLeavesStarting(t *testing.T) {
	sup, ft, root := newTestSupervisor(t)
	ft.failNew = errors.New("tmux unavailable")

	_, err := sup.Spawn(SpawnOptions{IssueID: "MIN-9", Workspace: "/tmp/ws"})
	if err == nil {
		t.Fatal("expected error")
	}
	st, err := agent.NewStore(root).LoadState("agent-min-9")
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != constants.StatusStarting {
		t.Errorf("status after failed spawn = %q, want starting", st.Status)
	}
}

func TestMessage(t *testing.T) {
	sup, ft, root := newTestSupervisor(t)
	if _, err := sup.Spawn(SpawnOptions{IssueID: "MIN-1", Workspace: "/tmp/ws"}); err != nil {
		t.Fatal(err)
	}

	if err := sup.Message("agent-min-1", "please rebase"); err != nil {
		t.Fatal(err)
	}
	if len(ft.sent["agent-min-1"]) != 1 {
		t.Fatalf("sent = %v", ft.sent)
	}

	// A Markdown copy lands in mail/ but is not collectible as a message.
	entries, err := os.ReadDir(town.MailDir(root, "agent-min-1"))
	if err != nil {
		t.Fatal(err)
	}
	var mds int
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".md" {
			mds++
		}
	}
	if mds != 1 {
		t.Errorf("want 1 archived copy, got %d", mds)
	}
	items, err := hook.New(root).CollectMail("agent-min-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Errorf("archived copy collected as mail: %+v", items)
	}

	// Messaging a dead session fails the precondition.
	ft.KillSession("agent-min-1")
	if err := sup.Message("agent-min-1", "hello?"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Message to dead session = %v, want ErrNotRunning", err)
	}
}

func TestStopIdempotent(t *testing.T) {
	sup, ft, root := newTestSupervisor(t)
	if _, err := sup.Spawn(SpawnOptions{IssueID: "MIN-2", Workspace: "/tmp/ws"}); err != nil {
		t.Fatal(err)
	}

	if err := sup.Stop("agent-min-2"); err != nil {
		t.Fatal(err)
	}
	if _, ok := ft.sessions["agent-min-2"]; ok {
		t.Error("session not killed")
	}
	st, _ := agent.NewStore(root).LoadState("agent-min-2")
	if st.Status != constants.StatusStopped {
		t.Errorf("status = %q", st.Status)
	}

	// Second stop is a no-op.
	if err := sup.Stop("agent-min-2"); err != nil {
		t.Errorf("second Stop = %v", err)
	}
}

func TestStopAbsentAgentIsNoOp(t *testing.T) {
	sup, ft, _ := newTestSupervisor(t)

	if err := sup.Stop("agent-ghost"); err != nil {
		t.Errorf("Stop absent agent = %v, want success", err)
	}

	// A stray session without state is still torn down.
	ft.sessions["agent-stray"] = "claude"
	if err := sup.Stop("agent-stray"); err != nil {
		t.Fatal(err)
	}
	if _, ok := ft.sessions["agent-stray"]; ok {
		t.Error("stray session not killed")
	}
}

func TestSpawnWithExplicitID(t *testing.T) {
	sup, ft, root := newTestSupervisor(t)

	id := agent.IDForSpecialist(constants.RoleTest)
	st, err := sup.Spawn(SpawnOptions{
		ID:        id,
		IssueID:   constants.RoleTest,
		Workspace: "/tmp/ws",
		Runtime:   "claude",
		Model:     "opus",
	})
	if err != nil {
		t.Fatal(err)
	}
	if st.ID != id {
		t.Errorf("id = %q, want %q", st.ID, id)
	}
	if _, ok := ft.sessions[id]; !ok {
		t.Errorf("session created under wrong name: %v", ft.sessions)
	}
	if _, err := agent.NewStore(root).LoadState(id); err != nil {
		t.Errorf("state not stored under %q: %v", id, err)
	}
}

func TestListAndDetectCrashed(t *testing.T) {
	sup, ft, _ := newTestSupervisor(t)
	if _, err := sup.Spawn(SpawnOptions{IssueID: "MIN-3", Workspace: "/tmp/ws"}); err != nil {
		t.Fatal(err)
	}
	if _, err := sup.Spawn(SpawnOptions{IssueID: "MIN-4", Workspace: "/tmp/ws"}); err != nil {
		t.Fatal(err)
	}

	// MIN-4's session dies behind our back.
	delete(ft.sessions, "agent-min-4")

	infos, err := sup.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 {
		t.Fatalf("List = %d rows", len(infos))
	}
	for _, info := range infos {
		wantActive := info.State.ID == "agent-min-3"
		if info.TmuxActive != wantActive {
			t.Errorf("%s TmuxActive = %v", info.State.ID, info.TmuxActive)
		}
	}

	crashed, err := sup.DetectCrashed()
	if err != nil {
		t.Fatal(err)
	}
	if len(crashed) != 1 || crashed[0] != "agent-min-4" {
		t.Errorf("DetectCrashed = %v", crashed)
	}
}

func TestRecover(t *testing.T) {
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	root := t.TempDir()
	ft := newFakeTmux()
	store := agent.NewStore(root)
	sup := NewWithClock(store, hook.New(root), ft, func() time.Time { return clock })

	if _, err := sup.Spawn(SpawnOptions{IssueID: "MIN-5", Workspace: "/tmp/ws", Prompt: "start"}); err != nil {
		t.Fatal(err)
	}
	st, _ := store.LoadState("agent-min-5")
	st.Branch = "agent/min-5"
	if err := store.SaveState(st); err != nil {
		t.Fatal(err)
	}
	delete(ft.sessions, "agent-min-5") // crash

	if err := sup.Recover("agent-min-5"); err != nil {
		t.Fatal(err)
	}
	cmd := ft.sessions["agent-min-5"]
	for _, want := range []string{"crashed", "MIN-5", "/tmp/ws", "agent/min-5"} {
		if !strings.Contains(cmd, want) {
			t.Errorf("recovery prompt missing %q: %q", want, cmd)
		}
	}
	health := store.LoadHealth("agent-min-5")
	if health.RecoveryCount != 1 {
		t.Errorf("RecoveryCount = %d", health.RecoveryCount)
	}
}

func TestRecoverFailureSetsError(t *testing.T) {
	sup, ft, root := newTestSupervisor(t)
	if _, err := sup.Spawn(SpawnOptions{IssueID: "MIN-6", Workspace: "/tmp/ws"}); err != nil {
		t.Fatal(err)
	}
	delete(ft.sessions, "agent-min-6")
	ft.failNew = errors.New("tmux unavailable")

	if err := sup.Recover("agent-min-6"); err == nil {
		t.Fatal("expected error")
	}
	st, _ := agent.NewStore(root).LoadState("agent-min-6")
	if st.Status != constants.StatusError {
		t.Errorf("status = %q, want error", st.Status)
	}
}

func TestAutoRecoverAll(t *testing.T) {
	sup, ft, _ := newTestSupervisor(t)
	if _, err := sup.Spawn(SpawnOptions{IssueID: "MIN-10", Workspace: "/tmp/ws"}); err != nil {
		t.Fatal(err)
	}
	if _, err := sup.Spawn(SpawnOptions{IssueID: "MIN-11", Workspace: "/tmp/ws"}); err != nil {
		t.Fatal(err)
	}
	delete(ft.sessions, "agent-min-10")
	delete(ft.sessions, "agent-min-11")

	results, err := sup.AutoRecoverAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %v", results)
	}
	for id, rerr := range results {
		if rerr != nil {
			t.Errorf("recover %s = %v", id, rerr)
		}
	}
}
