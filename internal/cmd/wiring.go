package cmd

import (
	"errors"
	"fmt"

	"github.com/parishlabs/parish/internal/agent"
	"github.com/parishlabs/parish/internal/config"
	"github.com/parishlabs/parish/internal/deacon"
	"github.com/parishlabs/parish/internal/exitcode"
	"github.com/parishlabs/parish/internal/handoff"
	"github.com/parishlabs/parish/internal/hook"
	"github.com/parishlabs/parish/internal/specialist"
	"github.com/parishlabs/parish/internal/supervisor"
	"github.com/parishlabs/parish/internal/tmux"
	"github.com/parishlabs/parish/internal/town"
)

// app bundles the control-plane services most commands need. Everything
// hangs off the resolved root; construction is cheap and stateless.
type app struct {
	root  string
	store *agent.Store
	hooks *hook.Hooks
	tmux  *tmux.Tmux
	sup   *supervisor.Supervisor
	tcfg  config.TownConfig
}

func openApp() (*app, error) {
	root, err := town.Root()
	if err != nil {
		return nil, err
	}
	if err := town.EnsureLayout(root); err != nil {
		return nil, err
	}
	tcfg, err := config.LoadTownConfig(root)
	if err != nil {
		return nil, err
	}

	store := agent.NewStore(root)
	hooks := hook.New(root)
	t := tmux.NewTmux()
	return &app{
		root:  root,
		store: store,
		hooks: hooks,
		tmux:  t,
		sup:   supervisor.New(store, hooks, t),
		tcfg:  tcfg,
	}, nil
}

func (a *app) coordinator() *specialist.Coordinator {
	return specialist.New(a.root, a.store, a.tmux,
		specialist.WithRuntime(a.tcfg.DefaultRuntime, a.tcfg.DefaultModel))
}

func (a *app) deacon() (*deacon.Deacon, error) {
	dcfg, err := config.LoadDeaconConfig(a.root)
	if err != nil {
		return nil, err
	}
	return deacon.New(a.root, dcfg, a.tcfg, a.store, a.coordinator(), a.tmux), nil
}

func (a *app) handoffManager() (*handoff.Manager, error) {
	dcfg, err := config.LoadDeaconConfig(a.root)
	if err != nil {
		return nil, err
	}
	return handoff.New(a.store, a.sup, a.coordinator(), a.tmux, dcfg), nil
}

// coded maps package sentinel errors onto exit codes so scripts can
// branch without parsing messages.
func coded(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, agent.ErrNotFound):
		return exitcode.Wrap(exitcode.ErrNotFound, "agent not found", err)
	case errors.Is(err, tmux.ErrSessionNotFound):
		return exitcode.Wrap(exitcode.ErrNotFound, "session not found", err)
	case errors.Is(err, supervisor.ErrAlreadyRunning), errors.Is(err, deacon.ErrAlreadyRunning):
		return exitcode.Wrap(exitcode.ErrPrecondition, "already running", err)
	case errors.Is(err, supervisor.ErrNotRunning), errors.Is(err, specialist.ErrNotRunning):
		return exitcode.Wrap(exitcode.ErrPrecondition, "not running", err)
	case errors.Is(err, deacon.ErrCooldown):
		return exitcode.Wrap(exitcode.ErrPrecondition, "cooldown in effect", err)
	case errors.Is(err, specialist.ErrEmptyQueue):
		return exitcode.Wrap(exitcode.ErrPrecondition, "queue is empty", err)
	case errors.Is(err, specialist.ErrWakeTimeout):
		return exitcode.Wrap(exitcode.ErrGeneral, "wake deadline exceeded", err)
	case errors.Is(err, specialist.ErrUnknownRole):
		return exitcode.Wrap(exitcode.ErrPrecondition, fmt.Sprintf("valid roles: %v", specialistRoles()), err)
	default:
		return err
	}
}
