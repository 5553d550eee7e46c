package heartbeat

import (
	"os"
	"testing"
	"time"
)

func TestWriteReadRoundTrip(t *testing.T) {
	root := t.TempDir()
	hb := Heartbeat{
		AgentID:     "agent-min-42",
		ToolName:    "Edit",
		LastAction:  "edited internal/server/server.go",
		CurrentTask: "MIN-42",
		GitBranch:   "agent/min-42",
		PID:         4242,
		SessionID:   "4f2c1f9e-9c1a-4b8e-b0d3-1a2b3c4d5e6f",
	}
	if err := Write(root, "agent-min-42", hb); err != nil {
		t.Fatal(err)
	}

	got, err := Read(root, "agent-min-42")
	if err != nil {
		t.Fatal(err)
	}
	if got.Timestamp.IsZero() {
		t.Error("Write should stamp an unstamped heartbeat")
	}
	if got.AgentID != hb.AgentID || got.SessionID != hb.SessionID || got.PID != hb.PID {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestReadMissing(t *testing.T) {
	_, err := Read(t.TempDir(), "agent-nope")
	if !os.IsNotExist(err) {
		t.Errorf("missing heartbeat should read as not-exist, got %v", err)
	}
}

func TestReadTornFile(t *testing.T) {
	root := t.TempDir()
	path := Path(root, "agent-torn")
	if err := os.MkdirAll(root+"/heartbeats", 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(`{"timestamp": "2026-`), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := Read(root, "agent-torn")
	if !os.IsNotExist(err) {
		t.Errorf("torn heartbeat should read as not-exist, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	timeout := 30 * time.Second

	cases := []struct {
		name          string
		age           time.Duration
		found         bool
		sessionExists bool
		want          string
	}{
		{"fresh and alive", 5 * time.Second, true, true, StatusActive},
		{"just inside timeout", timeout - time.Millisecond, true, true, StatusActive},
		{"at timeout", timeout, true, true, StatusStale},
		{"old heartbeat", 5 * time.Minute, true, true, StatusStale},
		{"no heartbeat yet", 0, false, true, StatusWarning},
		{"session gone", 5 * time.Second, true, false, StatusDead},
		{"nothing at all", 0, false, false, StatusDead},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hb := Heartbeat{Timestamp: now.Add(-tc.age)}
			got := Classify(hb, tc.found, tc.sessionExists, timeout, now)
			if got != tc.want {
				t.Errorf("Classify = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestList(t *testing.T) {
	root := t.TempDir()
	for _, s := range []string{"agent-a", "specialist-review-agent"} {
		if err := Write(root, s, Heartbeat{AgentID: s}); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(root+"/heartbeats/README.txt", []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	names, err := List(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 {
		t.Fatalf("List = %v", names)
	}
}

func TestListEmptyRoot(t *testing.T) {
	names, err := List(t.TempDir())
	if err != nil || names != nil {
		t.Errorf("List on empty root = %v, %v", names, err)
	}
}
