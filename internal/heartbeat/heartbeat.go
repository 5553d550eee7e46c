// Package heartbeat reads and writes the per-session heartbeat files that
// assistant hook scripts emit under <root>/heartbeats/<session>.json, and
// classifies session freshness from them.
package heartbeat

import (
	"os"
	"path/filepath"
	"time"

	"github.com/parishlabs/parish/internal/town"
	"github.com/parishlabs/parish/internal/util"
)

// Heartbeat is one session's liveness record. Hook scripts overwrite it on
// every tool call, so the timestamp tracks assistant activity rather than
// process existence.
type Heartbeat struct {
	Timestamp   time.Time `json:"timestamp"`
	AgentID     string    `json:"agent_id"`
	ToolName    string    `json:"tool_name,omitempty"`
	LastAction  string    `json:"last_action,omitempty"`
	CurrentTask string    `json:"current_task,omitempty"`
	GitBranch   string    `json:"git_branch,omitempty"`
	Workspace   string    `json:"workspace,omitempty"`
	PID         int       `json:"pid,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
}

// Freshness buckets for a session, derived from heartbeat age and whether
// the tmux session still exists.
const (
	StatusActive  = "active"  // heartbeat fresher than the ping timeout
	StatusStale   = "stale"   // heartbeat present but old
	StatusWarning = "warning" // session alive, no readable heartbeat yet
	StatusDead    = "dead"    // no session
)

// Path returns the heartbeat file for a session name.
func Path(root, session string) string {
	return filepath.Join(town.HeartbeatsDir(root), session+".json")
}

// Write persists a heartbeat atomically, stamping it if unstamped.
func Write(root, session string, hb Heartbeat) error {
	if hb.Timestamp.IsZero() {
		hb.Timestamp = time.Now()
	}
	return util.WriteJSON(Path(root, session), hb)
}

// Read loads a session's heartbeat. A missing file returns os.ErrNotExist;
// an unparseable file (torn write from a hook script) reads as missing too,
// since the next tool call rewrites it whole.
func Read(root, session string) (Heartbeat, error) {
	var hb Heartbeat
	if err := util.ReadJSON(Path(root, session), &hb); err != nil {
		if os.IsNotExist(err) {
			return hb, err
		}
		return hb, os.ErrNotExist
	}
	return hb, nil
}

// Remove deletes a session's heartbeat file, tolerating absence.
func Remove(root, session string) error {
	err := os.Remove(Path(root, session))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Classify buckets a session given its heartbeat state and liveness.
// sessionExists comes from tmux; pingTimeout from the deacon config.
func Classify(hb Heartbeat, found, sessionExists bool, pingTimeout time.Duration, now time.Time) string {
	if !sessionExists {
		return StatusDead
	}
	if !found {
		return StatusWarning
	}
	if now.Sub(hb.Timestamp) < pingTimeout {
		return StatusActive
	}
	return StatusStale
}

// Status reads and classifies in one step.
func Status(root, session string, sessionExists bool, pingTimeout time.Duration) string {
	hb, err := Read(root, session)
	return Classify(hb, err == nil, sessionExists, pingTimeout, time.Now())
}

// List returns every session name that has a heartbeat file.
func List(root string) ([]string, error) {
	entries, err := os.ReadDir(town.HeartbeatsDir(root))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, e.Name()[:len(e.Name())-len(".json")])
	}
	return names, nil
}
