package deacon

import (
	"os"
	"path/filepath"
	"time"

	"github.com/parishlabs/parish/internal/town"
	"github.com/parishlabs/parish/internal/util"
)

// SpecialistHealth is the per-role record inside health-state.json.
// LastPingTime is the last heartbeat evaluation; LastResponseTime the
// last fresh one.
type SpecialistHealth struct {
	Role                string    `json:"role"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastPingTime        time.Time `json:"lastPingTime,omitempty"`
	LastResponseTime    time.Time `json:"lastResponseTime,omitempty"`
	LastForceKillTime   time.Time `json:"lastForceKillTime,omitempty"`
	ForceKillCount      int       `json:"forceKillCount"`
}

// State is the deacon's persisted view at deacon/health-state.json.
type State struct {
	Specialists        map[string]*SpecialistHealth `json:"specialists"`
	LastPatrol         time.Time                    `json:"lastPatrol,omitempty"`
	PatrolCycle        int64                        `json:"patrolCycle"`
	RecentDeaths       []time.Time                  `json:"recentDeaths,omitempty"`
	LastMassDeathAlert time.Time                    `json:"lastMassDeathAlert,omitempty"`
}

func (s *State) specialist(role string) *SpecialistHealth {
	if s.Specialists == nil {
		s.Specialists = map[string]*SpecialistHealth{}
	}
	if s.Specialists[role] == nil {
		s.Specialists[role] = &SpecialistHealth{Role: role}
	}
	return s.Specialists[role]
}

func statePath(root string) string {
	return filepath.Join(town.DeaconDir(root), "health-state.json")
}

// loadState reads health-state.json, starting empty when the file is
// missing or unreadable. A corrupt state file must never stop a patrol.
func loadState(root string) *State {
	var st State
	if err := util.ReadJSON(statePath(root), &st); err != nil {
		return &State{Specialists: map[string]*SpecialistHealth{}}
	}
	if st.Specialists == nil {
		st.Specialists = map[string]*SpecialistHealth{}
	}
	return &st
}

func saveState(root string, st *State) error {
	return util.WriteJSON(statePath(root), st)
}

// HealthCheck is the per-role patrol verdict.
type HealthCheck struct {
	IsResponsive        bool
	WasRunning          bool
	ConsecutiveFailures int
	ShouldForceKill     bool
	InCooldown          bool
	CooldownRemainingMs int64
}

// LogPath is where the patrol loop appends its log.
func LogPath(root string) string {
	return filepath.Join(town.DeaconDir(root), "deacon.log")
}

func openLog(root string) (*os.File, error) {
	if err := os.MkdirAll(town.DeaconDir(root), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(LogPath(root), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
}
