package status

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func testItems() []Item {
	return []Item{
		{ID: "agent-min-42", IssueID: "MIN-42", Status: "running", Heartbeat: "active", Model: "sonnet"},
		{ID: "spec-review", Status: "running", Heartbeat: "stale", Specialist: true, QueueDepth: 3},
	}
}

func newTestModel(items []Item) *Model {
	m := New(
		func() ([]Item, error) { return items, nil },
		func(session string, lines int) (string, error) { return "pane content for " + session, nil },
	)
	m.width = 120
	m.height = 40
	return m
}

func TestHeartbeatEventTriggersRefresh(t *testing.T) {
	ch := make(chan struct{}, 1)
	var fetches int
	m := New(
		func() ([]Item, error) { fetches++; return testItems(), nil },
		func(session string, lines int) (string, error) { return "", nil },
		WithEvents(ch),
	)

	// A queued event resolves the wait command to a refresh message.
	ch <- struct{}{}
	wait := m.waitEvent()
	if wait == nil {
		t.Fatal("waitEvent = nil with an event source wired")
	}
	if _, ok := wait().(eventMsg); !ok {
		t.Fatal("queued event did not produce a refresh message")
	}

	// The refresh message fetches and re-arms the listener. The channel
	// is closed first so the re-armed wait resolves instead of blocking.
	close(ch)
	_, cmd := m.Update(eventMsg{})
	if cmd == nil {
		t.Fatal("eventMsg produced no follow-up commands")
	}
	drainCmds(cmd)
	if fetches != 1 {
		t.Errorf("fetches = %d, want 1", fetches)
	}

	// A closed channel ends the event refreshes without a message storm.
	if msg := m.waitEvent()(); msg != nil {
		t.Errorf("closed event channel produced %v", msg)
	}
}

// drainCmds resolves a command and, for batches, each child command.
func drainCmds(cmd tea.Cmd) {
	if batch, ok := cmd().(tea.BatchMsg); ok {
		for _, c := range batch {
			if c != nil {
				c()
			}
		}
	}
}

func TestItemsMsgUpdatesRows(t *testing.T) {
	m := newTestModel(testItems())
	updated, _ := m.Update(itemsMsg{items: testItems()})
	m = updated.(*Model)

	if len(m.items) != 2 {
		t.Fatalf("items = %d, want 2", len(m.items))
	}
	if m.err != nil {
		t.Errorf("err = %v", m.err)
	}
	if !strings.Contains(m.status, "2 agents") {
		t.Errorf("status = %q", m.status)
	}
}

func TestItemsMsgErrorKept(t *testing.T) {
	m := newTestModel(nil)
	updated, _ := m.Update(itemsMsg{err: errors.New("store unreadable")})
	m = updated.(*Model)
	if m.err == nil {
		t.Error("fetch error dropped")
	}
}

func TestSelectionClampedAfterShrink(t *testing.T) {
	m := newTestModel(testItems())
	m.items = testItems()
	m.selected = 1

	updated, _ := m.Update(itemsMsg{items: testItems()[:1]})
	m = updated.(*Model)
	if m.selected != 0 {
		t.Errorf("selected = %d, want clamped to 0", m.selected)
	}
}

func TestNavigationBounds(t *testing.T) {
	m := newTestModel(testItems())
	m.items = testItems()

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("k")})
	m = updated.(*Model)
	if m.selected != 0 {
		t.Errorf("up at top moved selection to %d", m.selected)
	}

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
	m = updated.(*Model)
	if m.selected != 1 {
		t.Errorf("down = %d, want 1", m.selected)
	}

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
	m = updated.(*Model)
	if m.selected != 1 {
		t.Errorf("down at bottom moved selection to %d", m.selected)
	}
}

func TestPeekEnterAndDismiss(t *testing.T) {
	m := newTestModel(testItems())
	m.items = testItems()

	updated, _ := m.Update(peekMsg{session: "agent-min-42", content: "tail"})
	m = updated.(*Model)
	if !m.peeking || m.peekSession != "agent-min-42" {
		t.Fatalf("peek state = %v %q", m.peeking, m.peekSession)
	}
	if !strings.Contains(m.View(), "agent-min-42") {
		t.Error("peek view missing session name")
	}

	// Any non-scroll key closes the peek.
	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	m = updated.(*Model)
	if m.peeking {
		t.Error("peek not dismissed")
	}
}

func TestPeekFailureSetsStatus(t *testing.T) {
	m := newTestModel(testItems())
	updated, _ := m.Update(peekMsg{err: errors.New("no such session")})
	m = updated.(*Model)
	if m.peeking {
		t.Error("failed peek entered peek mode")
	}
	if !strings.Contains(m.status, "Peek failed") {
		t.Errorf("status = %q", m.status)
	}
}

func TestViewRendersRows(t *testing.T) {
	m := newTestModel(testItems())
	m.items = testItems()

	out := m.View()
	for _, want := range []string{"agent-min-42", "MIN-42", "spec-review", "AGENT", "STATUS"} {
		if !strings.Contains(out, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestViewEmpty(t *testing.T) {
	m := newTestModel(nil)
	if !strings.Contains(m.View(), "No agents") {
		t.Error("empty view missing placeholder")
	}
}
