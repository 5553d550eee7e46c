// Package deacon implements the health monitor: a single cooperative
// patrol loop that force-kills and restarts stuck specialists, drains
// queued work to idle sessions, auto-suspends idle agents, and raises
// mass-death alerts. All coordination with the rest of the control plane
// goes through files; the deacon shares no in-memory state with callers.
package deacon

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gofrs/flock"

	"github.com/parishlabs/parish/internal/agent"
	"github.com/parishlabs/parish/internal/config"
	"github.com/parishlabs/parish/internal/constants"
	"github.com/parishlabs/parish/internal/healthdb"
	"github.com/parishlabs/parish/internal/heartbeat"
	"github.com/parishlabs/parish/internal/specialist"
	"github.com/parishlabs/parish/internal/town"
	"github.com/parishlabs/parish/internal/util"
)

// Common errors
var (
	ErrAlreadyRunning = errors.New("deacon already running")
	ErrCooldown       = errors.New("specialist in force-kill cooldown")
)

// massDeathRealert is the minimum gap between mass-death alerts.
const massDeathRealert = 5 * time.Minute

// tmuxOps abstracts the session operations the patrol needs.
type tmuxOps interface {
	HasSession(name string) (bool, error)
	KillSession(name string) error
}

// Deacon runs the patrol loop for one control-plane root.
type Deacon struct {
	root  string
	cfg   config.DeaconConfig
	tcfg  config.TownConfig
	store *agent.Store
	coord *specialist.Coordinator
	tmux  tmuxOps

	logger  *log.Logger
	logFile *os.File
	now     func() time.Time
	ledger  *healthdb.DB

	lock   *flock.Flock
	stopCh chan struct{}
	doneCh chan struct{}
}

// Option configures a Deacon.
type Option func(*Deacon)

// WithClock injects a clock (tests).
func WithClock(now func() time.Time) Option {
	return func(d *Deacon) { d.now = now }
}

// WithLogger replaces the file logger (tests).
func WithLogger(l *log.Logger) Option {
	return func(d *Deacon) { d.logger = l }
}

// New creates a deacon. The log file is opened lazily by Start; Patrol can
// run standalone (CLI one-shot, tests) with a fallback logger.
func New(root string, cfg config.DeaconConfig, tcfg config.TownConfig, store *agent.Store, coord *specialist.Coordinator, t tmuxOps, opts ...Option) *Deacon {
	d := &Deacon{
		root:   root,
		cfg:    cfg,
		tcfg:   tcfg,
		store:  store,
		coord:  coord,
		tmux:   t,
		now:    time.Now,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	if d.logger == nil {
		if f, err := openLog(root); err == nil {
			d.logFile = f
			d.logger = log.New(f, "", log.LstdFlags)
		} else {
			d.logger = log.New(os.Stderr, "deacon ", log.LstdFlags)
		}
	}
	if tcfg.HealthDB {
		ledger, err := healthdb.Open(filepath.Join(town.DeaconDir(root), "health.db"))
		if err != nil {
			// Missing history never blocks the patrol.
			d.logger.Printf("health ledger unavailable: %v", err)
		} else {
			d.ledger = ledger
		}
	}
	return d
}

// Start claims the singleton lock, records the pid, and runs the ticker
// loop until Stop. A second deacon on the same root gets ErrAlreadyRunning.
func (d *Deacon) Start() error {
	if err := os.MkdirAll(town.DeaconDir(d.root), 0755); err != nil {
		return err
	}
	d.lock = flock.New(filepath.Join(town.DeaconDir(d.root), "deacon.lock"))
	locked, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring deacon lock: %w", err)
	}
	if !locked {
		return ErrAlreadyRunning
	}

	pidPath := filepath.Join(town.DeaconDir(d.root), "deacon.pid")
	if err := util.WriteFileAtomic(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		return err
	}

	d.logger.Printf("deacon started (patrol every %s)", d.cfg.PatrolInterval())
	go d.loop()
	return nil
}

// Stop ends the loop. An in-flight patrol tick runs to completion.
func (d *Deacon) Stop() {
	close(d.stopCh)
	<-d.doneCh
	if d.lock != nil {
		_ = d.lock.Unlock()
	}
	if d.ledger != nil {
		_ = d.ledger.Close()
	}
	d.logger.Printf("deacon stopped")
	if d.logFile != nil {
		_ = d.logFile.Close()
	}
}

// loop ticks on a single goroutine, so patrols never overlap by
// construction.
func (d *Deacon) loop() {
	defer close(d.doneCh)
	ticker := time.NewTicker(d.cfg.PatrolInterval())
	defer ticker.Stop()
	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			if err := d.Patrol(); err != nil {
				d.logger.Printf("patrol failed: %v", err)
			}
		}
	}
}

// Patrol runs one full cycle. A failure in one role's checks is logged and
// the cycle continues with the next role; only state persistence errors
// abort.
func (d *Deacon) Patrol() error {
	st := loadState(d.root)
	st.PatrolCycle++
	st.LastPatrol = d.now()

	var observed []healthdb.Observation
	for _, role := range d.tcfg.Roles() {
		hc := d.CheckSpecialistHealth(st, role)
		observed = append(observed, healthdb.Observation{
			Role:                role,
			Responsive:          hc.IsResponsive,
			Running:             hc.WasRunning,
			ConsecutiveFailures: hc.ConsecutiveFailures,
		})
		switch {
		case hc.ShouldForceKill:
			if err := d.forceKill(st, role); err != nil {
				d.logger.Printf("force-kill %s: %v", role, err)
				continue
			}
			if err := d.coord.Initialize(role); err != nil {
				d.logger.Printf("restart %s after force-kill: %v", role, err)
			}
		case !hc.WasRunning && !hc.InCooldown:
			if d.intentionallyDown(role) {
				continue
			}
			if err := d.coord.Initialize(role); err != nil {
				d.logger.Printf("auto-initialize %s: %v", role, err)
				continue
			}
			d.recordEvent(healthdb.EventAutoStart, role, "")
		}
	}

	d.drainQueues()
	d.autoSuspend()
	d.checkMassDeath(st)

	if d.ledger != nil {
		if err := d.ledger.RecordPatrol(st.PatrolCycle, st.LastPatrol, observed); err != nil {
			d.logger.Printf("health ledger patrol: %v", err)
		}
	}
	return saveState(d.root, st)
}

// intentionallyDown reports whether a non-running specialist was stopped
// on purpose and should be left alone.
func (d *Deacon) intentionallyDown(role string) bool {
	as, err := d.store.LoadState(agent.IDForSpecialist(role))
	if err != nil {
		return false
	}
	return as.Status == constants.StatusStopped
}

// CheckSpecialistHealth evaluates one role against its heartbeat and
// updates the failure counters in st.
func (d *Deacon) CheckSpecialistHealth(st *State, role string) HealthCheck {
	id := agent.IDForSpecialist(role)
	sh := st.specialist(role)
	now := d.now()

	var hc HealthCheck
	running, err := d.tmux.HasSession(id)
	if err != nil {
		d.logger.Printf("health check %s: %v", role, err)
		return hc
	}
	hc.WasRunning = running

	if remaining := d.cfg.Cooldown() - now.Sub(sh.LastForceKillTime); !sh.LastForceKillTime.IsZero() && remaining > 0 {
		hc.InCooldown = true
		hc.CooldownRemainingMs = remaining.Milliseconds()
	}

	if !running {
		hc.ConsecutiveFailures = sh.ConsecutiveFailures
		return hc
	}

	status := heartbeat.Status(d.root, id, true, d.cfg.PingTimeout())
	sh.LastPingTime = now
	if status == heartbeat.StatusActive {
		hc.IsResponsive = true
		sh.ConsecutiveFailures = 0
		sh.LastResponseTime = now
	} else {
		sh.ConsecutiveFailures++
	}
	hc.ConsecutiveFailures = sh.ConsecutiveFailures
	hc.ShouldForceKill = sh.ConsecutiveFailures >= d.cfg.ConsecutiveFailures && !hc.InCooldown
	return hc
}

// ForceKill kills a role's session out of band, honoring the cooldown.
func (d *Deacon) ForceKill(role string) error {
	st := loadState(d.root)
	sh := st.specialist(role)
	if remaining := d.cfg.Cooldown() - d.now().Sub(sh.LastForceKillTime); !sh.LastForceKillTime.IsZero() && remaining > 0 {
		return fmt.Errorf("%w: %s for another %s", ErrCooldown, role, remaining.Round(time.Second))
	}
	if err := d.forceKill(st, role); err != nil {
		return err
	}
	return saveState(d.root, st)
}

func (d *Deacon) forceKill(st *State, role string) error {
	id := agent.IDForSpecialist(role)
	if err := d.tmux.KillSession(id); err != nil {
		return err
	}
	now := d.now()
	sh := st.specialist(role)
	sh.LastForceKillTime = now
	sh.ForceKillCount++
	sh.ConsecutiveFailures = 0
	st.RecentDeaths = append(st.RecentDeaths, now)
	d.logger.Printf("force-killed %s (unresponsive)", role)
	d.recordEvent(healthdb.EventForceKill, role, "unresponsive")
	return nil
}

// recordEvent writes to the optional health ledger; failures are logged only.
func (d *Deacon) recordEvent(kind, subject, detail string) {
	if d.ledger == nil {
		return
	}
	if err := d.ledger.RecordEvent(d.now(), kind, subject, detail); err != nil {
		d.logger.Printf("health ledger event: %v", err)
	}
}

// drainQueues feeds queued work to specialists that can take it. Suspended
// specialists with queued work are resumed first; active ones are left
// alone.
func (d *Deacon) drainQueues() {
	for _, role := range d.tcfg.Roles() {
		stats, err := d.coord.Stats(role)
		if err != nil || !stats.HasWork {
			continue
		}
		id := agent.IDForSpecialist(role)

		if rt := d.store.LoadRuntime(id); rt != nil && rt.State == constants.RuntimeSuspended {
			if err := d.coord.Initialize(role); err != nil {
				d.logger.Printf("resume %s for drain: %v", role, err)
				continue
			}
		}
		if d.coord.IsActive(role) {
			continue
		}
		running, err := d.coord.IsRunning(role)
		if err != nil || !running {
			continue
		}

		task, err := d.coord.NextTask(role)
		if err != nil {
			continue
		}
		if err := d.coord.WakeSpecialist(role, task.Prompt(), specialist.WakeOptions{
			Source: "deacon",
			TaskID: task.ID,
		}); err != nil {
			d.logger.Printf("drain wake %s: %v", role, err)
			continue
		}
		if err := d.coord.CompleteTask(role, task.ID); err != nil {
			d.logger.Printf("drain complete %s/%s: %v", role, task.ID, err)
			continue
		}
		d.logger.Printf("drained task %s to %s (queue depth %d)", task.ID, role, stats.Depth-1)
	}
}

// autoSuspend kills sessions whose assistants have reported idle beyond
// the per-class threshold, preserving the session id for later resume.
func (d *Deacon) autoSuspend() {
	ids, err := d.store.List()
	if err != nil {
		d.logger.Printf("auto-suspend scan: %v", err)
		return
	}
	now := d.now()
	for _, id := range ids {
		rt := d.store.LoadRuntime(id)
		if rt == nil || rt.State != constants.RuntimeIdle {
			continue
		}

		threshold := d.tcfg.WorkIdleSuspend()
		if agent.IsSpecialist(id) {
			threshold = d.tcfg.SpecialistIdleSuspend()
		}
		if rt.LastActivity.IsZero() || now.Sub(rt.LastActivity) < threshold {
			continue
		}

		running, err := d.tmux.HasSession(id)
		if err != nil || !running {
			continue
		}

		sessionID := rt.SessionID
		if sessionID == "" && agent.IsSpecialist(id) {
			if role, err := agent.SpecialistRole(id); err == nil {
				sessionID = d.coord.SessionID(role)
			}
		}
		if err := d.tmux.KillSession(id); err != nil {
			d.logger.Printf("auto-suspend kill %s: %v", id, err)
			continue
		}
		if err := d.store.SaveRuntime(id, &agent.RuntimeState{
			State:        constants.RuntimeSuspended,
			LastActivity: rt.LastActivity,
			SuspendedAt:  now,
			SessionID:    sessionID,
		}); err != nil {
			d.logger.Printf("auto-suspend record %s: %v", id, err)
			continue
		}
		d.logger.Printf("auto-suspended %s (idle %s)", id, now.Sub(rt.LastActivity).Round(time.Second))
		d.recordEvent(healthdb.EventAutoSuspend, id, fmt.Sprintf("idle %s", now.Sub(rt.LastActivity).Round(time.Second)))
	}
}

// checkMassDeath prunes the death window and raises at most one alert per
// re-alert interval. A mass death is a soft alert, never an error.
func (d *Deacon) checkMassDeath(st *State) {
	now := d.now()
	var recent []time.Time
	for _, t := range st.RecentDeaths {
		if now.Sub(t) <= d.cfg.MassDeathWindow() {
			recent = append(recent, t)
		}
	}
	st.RecentDeaths = recent

	if len(recent) >= d.cfg.MassDeathThreshold && now.Sub(st.LastMassDeathAlert) >= massDeathRealert {
		d.logger.Printf("ALERT: mass specialist death: %d deaths within %s", len(recent), d.cfg.MassDeathWindow())
		st.LastMassDeathAlert = now
		d.recordEvent(healthdb.EventMassDeath, "specialists", fmt.Sprintf("%d deaths", len(recent)))
	}
}
