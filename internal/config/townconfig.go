package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/parishlabs/parish/internal/constants"
)

// TownConfig is the process-level configuration at <root>/config.toml.
// It covers everything outside the deacon's own patrol tuning.
type TownConfig struct {
	// DefaultRuntime names the assistant runtime used when a spawn does
	// not specify one: claude, codex, cursor, or gemini.
	DefaultRuntime string `toml:"default_runtime"`

	// DefaultModel is passed to the assistant when a spawn omits a model.
	DefaultModel string `toml:"default_model"`

	// EnabledSpecialists limits which roles the deacon patrols and
	// auto-starts. Empty means all known roles.
	EnabledSpecialists []string `toml:"enabled_specialists"`

	// WorkIdleSuspendMin / SpecialistIdleSuspendMin are the auto-suspend
	// thresholds in minutes.
	WorkIdleSuspendMin       int `toml:"work_idle_suspend_min"`
	SpecialistIdleSuspendMin int `toml:"specialist_idle_suspend_min"`

	// MergeIgnorePaths are working-tree paths the merge pre-flight check
	// tolerates as uncommitted (lockfiles, generated assets).
	MergeIgnorePaths []string `toml:"merge_ignore_paths"`

	// HealthDB enables the SQLite health-history ledger.
	HealthDB bool `toml:"health_db"`
}

// DefaultTownConfig returns the defaults used when config.toml is absent.
func DefaultTownConfig() TownConfig {
	return TownConfig{
		DefaultRuntime:           "claude",
		WorkIdleSuspendMin:       int(constants.WorkIdleSuspend / time.Minute),
		SpecialistIdleSuspendMin: int(constants.SpecialistIdleSuspend / time.Minute),
	}
}

// TownConfigPath returns the path of the town config file.
func TownConfigPath(root string) string {
	return filepath.Join(root, "config.toml")
}

// LoadTownConfig reads config.toml merged over defaults.
func LoadTownConfig(root string) (TownConfig, error) {
	cfg := DefaultTownConfig()

	data, err := os.ReadFile(TownConfigPath(root))
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading town config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing town config: %w", err)
	}
	if cfg.DefaultRuntime == "" {
		cfg.DefaultRuntime = "claude"
	}
	if cfg.WorkIdleSuspendMin <= 0 {
		cfg.WorkIdleSuspendMin = int(constants.WorkIdleSuspend / time.Minute)
	}
	if cfg.SpecialistIdleSuspendMin <= 0 {
		cfg.SpecialistIdleSuspendMin = int(constants.SpecialistIdleSuspend / time.Minute)
	}
	return cfg, nil
}

// Roles returns the enabled specialist roles, defaulting to all known roles.
func (c TownConfig) Roles() []string {
	if len(c.EnabledSpecialists) == 0 {
		return constants.SpecialistRoles
	}
	return c.EnabledSpecialists
}

// WorkIdleSuspend returns the work-agent auto-suspend threshold.
func (c TownConfig) WorkIdleSuspend() time.Duration {
	return time.Duration(c.WorkIdleSuspendMin) * time.Minute
}

// SpecialistIdleSuspend returns the specialist auto-suspend threshold.
func (c TownConfig) SpecialistIdleSuspend() time.Duration {
	return time.Duration(c.SpecialistIdleSuspendMin) * time.Minute
}
