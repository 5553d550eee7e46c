// Package healthdb is an optional SQLite ledger of patrol observations
// and lifecycle events. The deacon's authoritative state stays in
// health-state.json; the database only accumulates history for later
// inspection, and is enabled via the health_db town config key.
package healthdb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS patrols (
	id INTEGER PRIMARY KEY,
	cycle INTEGER NOT NULL,
	at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS observations (
	id INTEGER PRIMARY KEY,
	patrol_id INTEGER NOT NULL,
	role TEXT NOT NULL,
	responsive INTEGER NOT NULL,
	running INTEGER NOT NULL,
	consecutive_failures INTEGER NOT NULL,
	FOREIGN KEY (patrol_id) REFERENCES patrols(id)
);
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY,
	at TEXT NOT NULL,
	kind TEXT NOT NULL,
	subject TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT ''
);
`

const indexes = `
CREATE INDEX IF NOT EXISTS idx_observations_role ON observations(role);
CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind, at);
`

// Event kinds.
const (
	EventForceKill   = "force-kill"
	EventAutoStart   = "auto-start"
	EventAutoSuspend = "auto-suspend"
	EventMassDeath   = "mass-death"
)

// Observation is one role's health as seen by one patrol.
type Observation struct {
	Role                string
	Responsive          bool
	Running             bool
	ConsecutiveFailures int
}

// DB wraps the ledger database.
type DB struct {
	db *sql.DB
}

// Open opens (and if needed creates) the ledger at path.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("healthdb mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("healthdb open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("healthdb schema: %w", err)
	}
	if _, err := db.Exec(indexes); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("healthdb indexes: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error { return d.db.Close() }

// RecordPatrol stores one patrol cycle and its per-role observations.
func (d *DB) RecordPatrol(cycle int64, at time.Time, obs []Observation) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec("INSERT INTO patrols (cycle, at) VALUES (?, ?)",
		cycle, at.UTC().Format(time.RFC3339))
	if err != nil {
		return err
	}
	patrolID, err := res.LastInsertId()
	if err != nil {
		return err
	}
	for _, o := range obs {
		if _, err := tx.Exec(
			"INSERT INTO observations (patrol_id, role, responsive, running, consecutive_failures) VALUES (?, ?, ?, ?, ?)",
			patrolID, o.Role, boolInt(o.Responsive), boolInt(o.Running), o.ConsecutiveFailures,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RecordEvent stores one lifecycle event.
func (d *DB) RecordEvent(at time.Time, kind, subject, detail string) error {
	_, err := d.db.Exec("INSERT INTO events (at, kind, subject, detail) VALUES (?, ?, ?, ?)",
		at.UTC().Format(time.RFC3339), kind, subject, detail)
	return err
}

// FailureCount returns how many force-kills a subject accumulated since a
// point in time.
func (d *DB) FailureCount(subject string, since time.Time) (int, error) {
	var n int
	err := d.db.QueryRow(
		"SELECT COUNT(*) FROM events WHERE kind = ? AND subject = ? AND at >= ?",
		EventForceKill, subject, since.UTC().Format(time.RFC3339),
	).Scan(&n)
	return n, err
}

// RecentEvents returns the latest n events, newest first.
func (d *DB) RecentEvents(n int) ([]EventRow, error) {
	rows, err := d.db.Query(
		"SELECT at, kind, subject, detail FROM events ORDER BY id DESC LIMIT ?", n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var e EventRow
		var at string
		if err := rows.Scan(&at, &e.Kind, &e.Subject, &e.Detail); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(time.RFC3339, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// EventRow is one row of the events table.
type EventRow struct {
	At      time.Time
	Kind    string
	Subject string
	Detail  string
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
