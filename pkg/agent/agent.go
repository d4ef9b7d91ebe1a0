// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package agent assembles the shim: it builds the runtime context, the hook
// manager and the module host from configuration, and drives them through
// process attach and detach.
package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mbeema/asihost/pkg/config"
	"github.com/mbeema/asihost/pkg/game"
	"github.com/mbeema/asihost/pkg/health"
	"github.com/mbeema/asihost/pkg/hook"
	"github.com/mbeema/asihost/pkg/host"
	"github.com/mbeema/asihost/pkg/modules/asiloader"
	"github.com/mbeema/asihost/pkg/modules/launcher"
	"github.com/mbeema/asihost/pkg/modules/launchfix"
	"github.com/mbeema/asihost/pkg/spi"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Agent owns every long-lived object of the shim.
type Agent struct {
	cfg    atomic.Pointer[config.Config]
	logger *zap.Logger

	stats        *health.Stats
	hooks        *hook.Manager
	rt           *host.Runtime
	table        *spi.Table
	host         *host.Host
	loader       *asiloader.Module
	healthServer *health.Server

	mu sync.Mutex
}

// Option customizes an Agent.
type Option func(*options)

type options struct {
	opener asiloader.Opener
}

// WithOpener replaces the plugin opener.
func WithOpener(o asiloader.Opener) Option {
	return func(opts *options) { opts.opener = o }
}

// New builds the agent for the process image img. Nothing is patched until
// Start.
func New(cfg *config.Config, img host.Image, version string, logger *zap.Logger, opts ...Option) (*Agent, error) {
	o := options{opener: asiloader.PluginOpener{}}
	for _, opt := range opts {
		opt(&o)
	}

	if cfg.Game != "" {
		g, err := game.Parse(cfg.Game)
		if err != nil {
			return nil, fmt.Errorf("game override: %w", err)
		}
		logger.Info("game overridden by configuration",
			zap.Stringer("detected", img.Game), zap.Stringer("game", g))
		img.Game = g
	}
	if img.Game == game.Unsupported {
		logger.Warn("unsupported executable, plugins will be rejected", zap.String("image", img.Name))
	}

	a := &Agent{
		logger: logger,
		stats:  health.NewStats(),
	}
	a.cfg.Store(cfg)

	a.hooks = hook.NewManager(selectPatcher(cfg, logger), a.stats, logger.Named("hook"))
	a.rt = host.NewRuntime(logger, a.hooks, a.stats, img)
	a.table = host.NewSharedInterface(a.rt)
	a.host = host.New(logger.Named("host"), a.stats)

	// Order matters: the launch hook must be in place before the launcher
	// module starts the game.
	isLauncher := img.Game == game.Launcher
	if m := cfg.Modules.LaunchFix; m.Enabled && isLauncher {
		if err := a.host.Add(launchfix.New(a.rt), host.Policy{Required: m.Required}); err != nil {
			return nil, err
		}
	}
	if m := cfg.Modules.ASILoader; m.Enabled {
		a.loader = asiloader.New(a.rt, a.table, asiloader.Config{
			Dir:        cfg.ASILoader.Dir,
			Extensions: cfg.ASILoader.Extensions,
		}, o.opener)
		if err := a.host.Add(a.loader, host.Policy{Required: m.Required}); err != nil {
			return nil, err
		}
	}
	if m := cfg.Modules.Launcher; m.Enabled && isLauncher {
		planner := launcher.ConfigPlanner{
			Target: cfg.Launcher.Target,
			Args:   cfg.Launcher.Args,
			Wait:   cfg.Launcher.Wait,
		}
		if err := a.host.Add(launcher.New(a.rt, planner), host.Policy{Required: m.Required}); err != nil {
			return nil, err
		}
	}

	if cfg.Health.Enabled {
		a.healthServer = health.NewServer(cfg.Health.Port, version, a.stats, logger.Named("health"))
		a.healthServer.SetStatusFunc(func() any { return a.Status() })
	}

	return a, nil
}

// selectPatcher picks the primitive for hooks requested through the SPI.
// Plugins pass function addresses, so code patching is the default; the
// slot method only accepts slots the host registered.
func selectPatcher(cfg *config.Config, logger *zap.Logger) hook.Patcher {
	if cfg.Hooks.Method == "slot" {
		logger.Info("plugin hooks limited to registered import slots")
		return hook.SlotPatcher{}
	}
	if !hook.InlineSupported() {
		logger.Warn("inline code patching not available on this architecture, plugin hooks will fail")
	}
	return &hook.InlinePatcher{}
}

// Runtime returns the shared runtime context.
func (a *Agent) Runtime() *host.Runtime { return a.rt }

// Start activates the modules. It fails only when a required module failed,
// in which case nothing stays active.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.healthServer != nil {
		if err := a.healthServer.Start(ctx); err != nil {
			a.logger.Warn("health server not started", zap.Error(err))
			a.healthServer = nil
		}
	}

	err := a.host.Activate()
	if host.Aborted(err) {
		if a.healthServer != nil {
			a.healthServer.Stop()
			a.healthServer = nil
		}
		return fmt.Errorf("activate modules: %w", err)
	}
	if err != nil {
		a.logger.Warn("some modules failed to activate", zap.Error(err))
	}

	a.rt.MarkImageReady()
	if a.healthServer != nil {
		a.healthServer.SetReady(true)
	}
	a.logger.Info("host attached",
		zap.String("image", a.rt.Image.Name),
		zap.Stringer("game", a.rt.Image.Game),
		zap.Int("hooks", a.hooks.Len()),
	)
	return nil
}

// Stop deactivates modules in reverse order and removes any hook still
// installed. Plugins may keep running code that was hooked, so removal is
// best effort.
func (a *Agent) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs error
	if a.healthServer != nil {
		a.healthServer.SetReady(false)
	}

	a.host.Deactivate()
	if err := a.hooks.UninstallAll(); err != nil {
		a.logger.Warn("hooks left in place at detach", zap.Error(err))
		errs = multierr.Append(errs, err)
	}

	if a.healthServer != nil {
		errs = multierr.Append(errs, a.healthServer.Stop())
	}

	snap := a.stats.Snapshot()
	a.logger.Info("host detached",
		zap.Int64("hook_installs", snap.HookInstalls),
		zap.Int64("hook_failures", snap.HookFailures),
		zap.Int64("plugins_attached", snap.PluginsAttached),
		zap.Int64("process_launches", snap.ProcessLaunches),
	)
	return errs
}

// Reload stores a new configuration. Hooks and modules are fixed at attach,
// so only settings read at run time take effect.
func (a *Agent) Reload(cfg *config.Config) error {
	old := a.cfg.Swap(cfg)
	if old != nil && (old.Hooks.Method != cfg.Hooks.Method || old.Modules != cfg.Modules) {
		a.logger.Warn("hook and module settings apply at next attach")
	}
	a.logger.Info("configuration reloaded", zap.String("log_level", cfg.LogLevel))
	return nil
}

// Status is the JSON document served on /status.
type Status struct {
	Image   string                   `json:"image"`
	Game    string                   `json:"game"`
	Method  string                   `json:"hook_method"`
	Hooks   []string                 `json:"hooks"`
	Modules []host.ModuleStatus      `json:"modules"`
	Plugins []asiloader.PluginStatus `json:"plugins,omitempty"`
}

// Status reports the current state of the host.
func (a *Agent) Status() Status {
	st := Status{
		Image:   a.rt.Image.Name,
		Game:    a.rt.Image.Game.String(),
		Method:  a.hooks.Patcher().Name(),
		Hooks:   a.hooks.Names(),
		Modules: a.host.States(),
	}
	if a.loader != nil {
		st.Plugins = a.loader.Plugins()
	}
	return st
}
