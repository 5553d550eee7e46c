// Package config loads control-plane configuration: the deacon's JSON
// config merged over defaults, and the process-level town config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parishlabs/parish/internal/town"
	"github.com/parishlabs/parish/internal/util"
)

// DeaconConfig tunes the health-monitor patrol. Persisted as
// deacon/config.json; absent file or absent fields fall back to defaults.
type DeaconConfig struct {
	PingTimeoutMs       int `json:"pingTimeoutMs"`
	ConsecutiveFailures int `json:"consecutiveFailures"`
	CooldownMs          int `json:"cooldownMs"`
	PatrolIntervalMs    int `json:"patrolIntervalMs"`
	MassDeathThreshold  int `json:"massDeathThreshold"`
	MassDeathWindowMs   int `json:"massDeathWindowMs"`
}

// DefaultDeaconConfig returns the documented defaults.
func DefaultDeaconConfig() DeaconConfig {
	return DeaconConfig{
		PingTimeoutMs:       30000,
		ConsecutiveFailures: 3,
		CooldownMs:          300000,
		PatrolIntervalMs:    30000,
		MassDeathThreshold:  2,
		MassDeathWindowMs:   60000,
	}
}

// DeaconConfigPath returns the path of the deacon config file.
func DeaconConfigPath(root string) string {
	return filepath.Join(town.DeaconDir(root), "config.json")
}

// LoadDeaconConfig reads deacon/config.json merged over defaults.
// A missing file yields pure defaults; a malformed file is an error so a
// typo'd config never silently reverts patrol tuning.
func LoadDeaconConfig(root string) (DeaconConfig, error) {
	cfg := DefaultDeaconConfig()

	var onDisk DeaconConfig
	err := util.ReadJSON(DeaconConfigPath(root), &onDisk)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("loading deacon config: %w", err)
	}

	if onDisk.PingTimeoutMs > 0 {
		cfg.PingTimeoutMs = onDisk.PingTimeoutMs
	}
	if onDisk.ConsecutiveFailures > 0 {
		cfg.ConsecutiveFailures = onDisk.ConsecutiveFailures
	}
	if onDisk.CooldownMs > 0 {
		cfg.CooldownMs = onDisk.CooldownMs
	}
	if onDisk.PatrolIntervalMs > 0 {
		cfg.PatrolIntervalMs = onDisk.PatrolIntervalMs
	}
	if onDisk.MassDeathThreshold > 0 {
		cfg.MassDeathThreshold = onDisk.MassDeathThreshold
	}
	if onDisk.MassDeathWindowMs > 0 {
		cfg.MassDeathWindowMs = onDisk.MassDeathWindowMs
	}
	return cfg, nil
}

// SaveDeaconConfig persists the config pretty-printed.
func SaveDeaconConfig(root string, cfg DeaconConfig) error {
	return util.WriteJSON(DeaconConfigPath(root), cfg)
}

// Duration accessors so callers never re-derive units.

func (c DeaconConfig) PingTimeout() time.Duration {
	return time.Duration(c.PingTimeoutMs) * time.Millisecond
}

func (c DeaconConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownMs) * time.Millisecond
}

func (c DeaconConfig) PatrolInterval() time.Duration {
	return time.Duration(c.PatrolIntervalMs) * time.Millisecond
}

func (c DeaconConfig) MassDeathWindow() time.Duration {
	return time.Duration(c.MassDeathWindowMs) * time.Millisecond
}
