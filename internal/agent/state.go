package agent

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parishlabs/parish/internal/town"
	"github.com/parishlabs/parish/internal/util"
)

// ErrNotFound is returned when an agent has no state on disk.
var ErrNotFound = errors.New("no such agent")

// State is the supervisor-owned record at agents/<id>/state.json.
// Created on spawn, mutated by the supervisor and handoff manager,
// destroyed only by explicit tear-down.
type State struct {
	ID           string    `json:"id"`
	IssueID      string    `json:"issueId"`
	Workspace    string    `json:"workspace"`
	Runtime      string    `json:"runtime"`
	Model        string    `json:"model"`
	Status       string    `json:"status"`
	StartedAt    time.Time `json:"startedAt"`
	LastActivity time.Time `json:"lastActivity"`
	Phase        string    `json:"phase,omitempty"`
	WorkType     string    `json:"workType,omitempty"`
	SessionID    string    `json:"sessionId,omitempty"`
	Branch       string    `json:"branch,omitempty"`
	HandoffCount int       `json:"handoffCount"`
	CostSoFar    float64   `json:"costSoFar"`
	Complexity   string    `json:"complexity,omitempty"`
}

// RuntimeState is the assistant-reported record at agents/<id>/runtime.json.
// Written by hook scripts inside the assistant session; the control plane
// only reads it. Invariant: state == "suspended" implies no live session
// and SessionID set.
type RuntimeState struct {
	State        string    `json:"state"`
	LastActivity time.Time `json:"lastActivity"`
	SuspendedAt  time.Time `json:"suspendedAt,omitempty"`
	SessionID    string    `json:"sessionId,omitempty"`
}

// Health is the recovery bookkeeping at agents/<id>/health.json.
type Health struct {
	RecoveryCount  int       `json:"recoveryCount"`
	LastRecoveryAt time.Time `json:"lastRecoveryAt,omitempty"`
}

// Store reads and writes the per-agent directories under one root.
type Store struct {
	root string
}

// NewStore creates a store rooted at the control-plane root.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Root returns the control-plane root this store operates on.
func (s *Store) Root() string { return s.root }

// Dir returns the agent's directory.
func (s *Store) Dir(id string) string { return town.AgentDir(s.root, id) }

func (s *Store) statePath(id string) string   { return filepath.Join(s.Dir(id), "state.json") }
func (s *Store) runtimePath(id string) string { return filepath.Join(s.Dir(id), "runtime.json") }
func (s *Store) healthPath(id string) string  { return filepath.Join(s.Dir(id), "health.json") }

// EnsureDir creates the agent directory and mailbox idempotently.
func (s *Store) EnsureDir(id string) error {
	return os.MkdirAll(town.MailDir(s.root, id), 0755)
}

// SaveState persists state.json atomically.
func (s *Store) SaveState(st *State) error {
	return util.WriteJSON(s.statePath(st.ID), st)
}

// LoadState reads state.json. Missing file maps to ErrNotFound; a malformed
// file is surfaced as a parse error for the caller to treat as missing.
func (s *Store) LoadState(id string) (*State, error) {
	var st State
	if err := util.ReadJSON(s.statePath(id), &st); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &st, nil
}

// LoadRuntime reads runtime.json. Returns nil with no error when the
// assistant has not reported yet, or when the file is unparseable (a torn
// hook write is treated as missing, never fatal).
func (s *Store) LoadRuntime(id string) *RuntimeState {
	var rt RuntimeState
	if err := util.ReadJSON(s.runtimePath(id), &rt); err != nil {
		return nil
	}
	return &rt
}

// SaveRuntime persists runtime.json. Normally hook scripts own this file;
// the deacon writes it only to flip agents to suspended.
func (s *Store) SaveRuntime(id string, rt *RuntimeState) error {
	return util.WriteJSON(s.runtimePath(id), rt)
}

// LoadHealth reads health.json, returning a zero record when absent.
func (s *Store) LoadHealth(id string) *Health {
	var h Health
	if err := util.ReadJSON(s.healthPath(id), &h); err != nil {
		return &Health{}
	}
	return &h
}

// SaveHealth persists health.json.
func (s *Store) SaveHealth(id string, h *Health) error {
	return util.WriteJSON(s.healthPath(id), h)
}

func (s *Store) approvedPath(id string) string { return filepath.Join(s.Dir(id), "approved") }

// Approve writes the approval marker for an existing agent. The marker
// carries the approval time; readers only test for its presence.
func (s *Store) Approve(id string) error {
	if _, err := s.LoadState(id); err != nil {
		return err
	}
	stamp := time.Now().UTC().Format(time.RFC3339) + "\n"
	return util.WriteFileAtomic(s.approvedPath(id), []byte(stamp), 0644)
}

// IsApproved reports whether the approval marker is present.
func (s *Store) IsApproved(id string) bool {
	_, err := os.Stat(s.approvedPath(id))
	return err == nil
}

// List returns the ids of all agents with a directory under agents/.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(town.AgentsDir(s.root))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// Remove tears down an agent directory. Explicit tear-down is the only
// path that destroys state.json.
func (s *Store) Remove(id string) error {
	return os.RemoveAll(s.Dir(id))
}
