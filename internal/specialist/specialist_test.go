package specialist

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/parishlabs/parish/internal/agent"
	"github.com/parishlabs/parish/internal/constants"
)

// fakeTmux is an in-memory session driver.
type fakeTmux struct {
	sessions map[string]string
	sent     map[string][]string
	pane     map[string]string
	failNew  error
}

func newFakeTmux() *fakeTmux {
	return &fakeTmux{
		sessions: map[string]string{},
		sent:     map[string][]string{},
		pane:     map[string]string{},
	}
}

func (f *fakeTmux) NewSessionWithCommand(name, workDir, command string) error {
	if f.failNew != nil {
		return f.failNew
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

func (f *fakeTmux) SendKeys(session, text string) error {
	if _, ok := f.sessions[session]; !ok {
		return errors.New("session not found")
	}
	f.sent[session] = append(f.sent[session], text)
	return nil
}

func (f *fakeTmux) CapturePane(session string, lines int) (string, error) {
	return f.pane[session], nil
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeTmux, string) {
	t.Helper()
	root := t.TempDir()
	ft := newFakeTmux()
	c := New(root, agent.NewStore(root), ft)
	return c, ft, root
}

const reviewID = constants.SpecialistPrefix + constants.RoleReview

func TestInitializeCapturesSessionID(t *testing.T) {
	c, ft, _ := newTestCoordinator(t)
	ft.pane[reviewID] = "Welcome.\nSession: 4f2c1f9e-9c1a-4b8e-b0d3-1a2b3c4d5e6f\n>"

	if err := c.Initialize(constants.RoleReview); err != nil {
		t.Fatal(err)
	}
	cmd := ft.sessions[reviewID]
	if !strings.Contains(cmd, "review specialist") {
		t.Errorf("bootstrap prompt missing: %q", cmd)
	}
	if got := c.SessionID(constants.RoleReview); got != "4f2c1f9e-9c1a-4b8e-b0d3-1a2b3c4d5e6f" {
		t.Errorf("SessionID = %q", got)
	}

	// Already running: successful no-op, command untouched.
	if err := c.Initialize(constants.RoleReview); err != nil {
		t.Fatal(err)
	}
	if ft.sessions[reviewID] != cmd {
		t.Error("re-initialize replaced the session")
	}
}

func TestInitializeResumesStoredSession(t *testing.T) {
	c, ft, _ := newTestCoordinator(t)
	if err := c.saveSessionID(constants.RoleReview, "11111111-2222-3333-4444-555555555555"); err != nil {
		t.Fatal(err)
	}

	if err := c.Initialize(constants.RoleReview); err != nil {
		t.Fatal(err)
	}
	cmd := ft.sessions[reviewID]
	if !strings.Contains(cmd, "--resume 11111111-2222-3333-4444-555555555555") {
		t.Errorf("resume token not used: %q", cmd)
	}
}

func TestInitializeUnknownRole(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	if err := c.Initialize("barista-agent"); !errors.Is(err, ErrUnknownRole) {
		t.Errorf("Initialize unknown role = %v", err)
	}
}

func TestWakeRequiresRunning(t *testing.T) {
	c, ft, _ := newTestCoordinator(t)
	err := c.WakeSpecialist(constants.RoleTest, "run the suite", WakeOptions{Source: "test"})
	if !errors.Is(err, ErrNotRunning) {
		t.Errorf("wake without session = %v", err)
	}

	if err := c.Initialize(constants.RoleTest); err != nil {
		t.Fatal(err)
	}
	if err := c.WakeSpecialist(constants.RoleTest, "run the suite", WakeOptions{Source: "test"}); err != nil {
		t.Fatal(err)
	}
	sent := ft.sent[constants.SpecialistPrefix+constants.RoleTest]
	if len(sent) != 1 || sent[0] != "run the suite" {
		t.Errorf("sent = %v", sent)
	}
}

func TestWakeOrQueueNeverInterruptsActive(t *testing.T) {
	root := t.TempDir()
	ft := newFakeTmux()
	store := agent.NewStore(root)
	c := New(root, store, ft)
	if err := c.Initialize(constants.RoleReview); err != nil {
		t.Fatal(err)
	}

	// Assistant reports itself mid-task.
	if err := store.SaveRuntime(reviewID, &agent.RuntimeState{State: constants.RuntimeActive}); err != nil {
		t.Fatal(err)
	}

	res, err := c.WakeSpecialistOrQueue(constants.RoleReview, Task{
		IssueID: "MIN-42", Priority: constants.PriorityUrgent, Body: "review this",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Queued {
		t.Fatal("urgent task interrupted an active specialist")
	}
	if len(ft.sent[reviewID]) != 0 {
		t.Errorf("keys sent to active specialist: %v", ft.sent[reviewID])
	}

	// Idle again: wake goes straight through.
	if err := store.SaveRuntime(reviewID, &agent.RuntimeState{State: constants.RuntimeIdle}); err != nil {
		t.Fatal(err)
	}
	res, err = c.WakeSpecialistOrQueue(constants.RoleReview, Task{IssueID: "MIN-43", Body: "review that"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Queued {
		t.Error("idle specialist should be woken, not queued")
	}
	if len(ft.sent[reviewID]) != 1 {
		t.Errorf("sent = %v", ft.sent[reviewID])
	}
}

func TestQueueOrderingAndCompletion(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	role := constants.RoleMerge

	low, err := c.Enqueue(role, Task{IssueID: "MIN-1", Priority: constants.PriorityLow, Body: "a"})
	if err != nil {
		t.Fatal(err)
	}
	normal, _ := c.Enqueue(role, Task{IssueID: "MIN-2", Body: "b"})
	urgent, _ := c.Enqueue(role, Task{IssueID: "MIN-3", Priority: constants.PriorityUrgent, Body: "c"})

	// Urgent jumped the queue; low sank to the back.
	head, err := c.NextTask(role)
	if err != nil {
		t.Fatal(err)
	}
	if head.ID != urgent.ID {
		t.Errorf("head = %s, want urgent", head.IssueID)
	}

	// Peek does not remove.
	again, _ := c.NextTask(role)
	if again.ID != head.ID {
		t.Error("NextTask consumed the head")
	}

	// Completing a non-head task is refused.
	if err := c.CompleteTask(role, low.ID); !errors.Is(err, ErrNotHead) {
		t.Errorf("complete non-head = %v", err)
	}

	if err := c.CompleteTask(role, urgent.ID); err != nil {
		t.Fatal(err)
	}
	head, _ = c.NextTask(role)
	if head.ID != normal.ID {
		t.Errorf("head after complete = %s", head.IssueID)
	}

	stats, err := c.Stats(role)
	if err != nil {
		t.Fatal(err)
	}
	if !stats.HasWork || stats.Depth != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestQueueSurvivesRestart(t *testing.T) {
	root := t.TempDir()
	c := New(root, agent.NewStore(root), newFakeTmux())
	task, err := c.Enqueue(constants.RoleTest, Task{IssueID: "MIN-9", Body: "test it",
		Context: TaskContext{Branch: "agent/min-9", Workspace: "/tmp/ws", PRURL: "https://example.com/pr/9"}})
	if err != nil {
		t.Fatal(err)
	}

	// Fresh coordinator simulates a process restart; crash-before-complete
	// leaves the task at the head with its context intact.
	c2 := New(root, agent.NewStore(root), newFakeTmux())
	head, err := c2.NextTask(constants.RoleTest)
	if err != nil {
		t.Fatal(err)
	}
	if head.ID != task.ID || head.Context.Branch != "agent/min-9" || head.Context.PRURL != "https://example.com/pr/9" {
		t.Errorf("head after restart = %+v", head)
	}
}

func TestEmptyQueue(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	if _, err := c.NextTask(constants.RolePlanning); !errors.Is(err, ErrEmptyQueue) {
		t.Errorf("NextTask on empty = %v", err)
	}
	if err := c.CompleteTask(constants.RolePlanning, "whatever"); !errors.Is(err, ErrEmptyQueue) {
		t.Errorf("CompleteTask on empty = %v", err)
	}
	stats, err := c.Stats(constants.RolePlanning)
	if err != nil || stats.HasWork || stats.Depth != 0 {
		t.Errorf("Stats on empty = %+v, %v", stats, err)
	}
}

func TestStatsOldestAge(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	root := t.TempDir()
	c := New(root, agent.NewStore(root), newFakeTmux(), WithClock(func() time.Time { return clock }))

	if _, err := c.Enqueue(constants.RoleReview, Task{IssueID: "MIN-5", Body: "x"}); err != nil {
		t.Fatal(err)
	}
	clock = base.Add(90 * time.Second)

	stats, err := c.Stats(constants.RoleReview)
	if err != nil {
		t.Fatal(err)
	}
	if stats.OldestAgeMs != 90_000 {
		t.Errorf("OldestAgeMs = %d", stats.OldestAgeMs)
	}
}

func TestTaskPrompt(t *testing.T) {
	task := Task{
		IssueID: "MIN-42",
		Body:    "Review the changes.",
		Context: TaskContext{Branch: "agent/min-42", Workspace: "/tmp/ws", PRURL: "https://example.com/pr/42"},
	}
	prompt := task.Prompt()
	for _, want := range []string{"Review the changes.", "MIN-42", "agent/min-42", "/tmp/ws", "https://example.com/pr/42"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q: %q", want, prompt)
		}
	}
}
