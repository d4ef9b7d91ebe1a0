// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package asiloader discovers plugin binaries next to the host executable,
// checks what they declare about themselves, and attaches them with the
// host's SPI table.
package asiloader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mbeema/asihost/pkg/host"
	"github.com/mbeema/asihost/pkg/spi"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config selects where plugins are found.
type Config struct {
	// Dir is the plugin directory. A relative Dir is resolved against the
	// directory of the host executable.
	Dir        string
	Extensions []string
}

// Plugin states reported by Plugins.
const (
	StateRejected = "rejected"
	StateFailed   = "failed"
	StatePending  = "pending"
	StateAttached = "attached"
	StateDetached = "detached"
)

// PluginStatus describes one discovered plugin.
type PluginStatus struct {
	Path       string `json:"path"`
	Name       string `json:"name"`
	Author     string `json:"author,omitempty"`
	Games      string `json:"games"`
	MinVersion uint32 `json:"min_version"`
	Preload    bool   `json:"preload"`
	Async      bool   `json:"async"`
	State      string `json:"state"`
	Reason     string `json:"reason,omitempty"`
}

type loaded struct {
	status PluginStatus
	attach spi.OnAttachFunc
	detach spi.OnDetachFunc
}

// Module is the plugin loader.
type Module struct {
	rt     *host.Runtime
	table  *spi.Table
	cfg    Config
	opener Opener
	logger *zap.Logger

	async   errgroup.Group
	stop    chan struct{}
	waiting sync.WaitGroup

	mu       sync.Mutex
	plugins  []*loaded
	attached []*loaded
}

var _ host.Module = (*Module)(nil)

// New creates the loader. table is handed to every attached plugin.
func New(rt *host.Runtime, table *spi.Table, cfg Config, opener Opener) *Module {
	return &Module{
		rt:     rt,
		table:  table,
		cfg:    cfg,
		opener: opener,
		logger: rt.Logger.Named("asiloader"),
		stop:   make(chan struct{}),
	}
}

func (m *Module) Name() string { return "asi_loader" }

// Activate loads every plugin, attaches the preload ones and arranges for
// the postload ones to attach once the process image is ready. A plugin
// that cannot be loaded or is rejected is skipped.
func (m *Module) Activate() error {
	dir := m.dir()
	paths, err := discover(dir, m.cfg.Extensions)
	if errors.Is(err, os.ErrNotExist) {
		m.logger.Info("no plugin directory", zap.String("dir", dir))
		return nil
	}
	if err != nil {
		return fmt.Errorf("discover plugins: %w", err)
	}
	m.logger.Info("discovered plugins", zap.String("dir", dir), zap.Int("count", len(paths)))

	var postload []*loaded
	for _, path := range paths {
		p := m.load(path)
		m.mu.Lock()
		m.plugins = append(m.plugins, p)
		m.mu.Unlock()

		if p.status.State != StatePending {
			continue
		}
		if p.status.Preload {
			m.attach(p)
		} else {
			postload = append(postload, p)
		}
	}

	if len(postload) > 0 {
		m.waiting.Add(1)
		go m.attachWhenReady(postload)
	}
	return nil
}

// Deactivate stops waiting for postload attach, waits for running attach
// workers, then calls every attached plugin's detach export in reverse
// attach order. Detach is best effort.
func (m *Module) Deactivate() {
	close(m.stop)
	m.waiting.Wait()
	if err := m.async.Wait(); err != nil {
		m.logger.Warn("asynchronous plugin attach failed", zap.Error(err))
	}

	m.mu.Lock()
	attached := m.attached
	m.attached = nil
	m.mu.Unlock()

	for i := len(attached) - 1; i >= 0; i-- {
		p := attached[i]
		if p.detach != nil {
			ok, err := call(p.detach)
			if err != nil || !ok {
				m.logger.Warn("plugin detach failed",
					zap.String("plugin", p.status.Name), zap.Bool("ok", ok), zap.Error(err))
			}
		}
		m.setState(p, StateDetached, "")
	}
}

// Plugins returns the status of every discovered plugin.
func (m *Module) Plugins() []PluginStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PluginStatus, len(m.plugins))
	for i, p := range m.plugins {
		out[i] = p.status
	}
	return out
}

func (m *Module) dir() string {
	if filepath.IsAbs(m.cfg.Dir) || m.rt.Image.Path == "" {
		return m.cfg.Dir
	}
	return filepath.Join(filepath.Dir(m.rt.Image.Path), m.cfg.Dir)
}

func discover(dir string, exts []string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		for _, want := range exts {
			if strings.EqualFold(ext, want) {
				paths = append(paths, filepath.Join(dir, e.Name()))
				break
			}
		}
	}
	return paths, nil
}

// load opens path and gates it. The returned plugin is pending when it
// may be attached.
func (m *Module) load(path string) *loaded {
	p := &loaded{status: PluginStatus{
		Path:    path,
		Name:    filepath.Base(path),
		Preload: true,
	}}
	log := m.logger.With(zap.String("path", path))

	fail := func(reason string, err error) *loaded {
		p.status.State = StateFailed
		p.status.Reason = reason
		if err != nil {
			p.status.Reason = reason + ": " + err.Error()
		}
		m.rt.Stats.PluginsFailed.Add(1)
		log.Error("plugin not loaded", zap.String("reason", reason), zap.Error(err))
		return p
	}

	lib, err := m.opener.Open(path)
	if err != nil {
		return fail("open", err)
	}

	decl, ok, err := lookup[spi.SupportDeclFunc](lib, spi.SymSupportDecl)
	if err != nil || !ok {
		return fail("missing "+spi.SymSupportDecl, err)
	}
	attach, ok, err := lookup[spi.OnAttachFunc](lib, spi.SymOnAttach)
	if err != nil || !ok {
		return fail("missing "+spi.SymOnAttach, err)
	}
	detach, _, err := lookup[spi.OnDetachFunc](lib, spi.SymOnDetach)
	if err != nil {
		return fail("bad "+spi.SymOnDetach, err)
	}
	p.attach, p.detach = attach, detach

	support, err := callValue(decl)
	if err != nil {
		return fail(spi.SymSupportDecl, err)
	}
	if support.Name != "" {
		p.status.Name = support.Name
	}
	p.status.Author = support.Author
	p.status.Games = support.Games.String()
	p.status.MinVersion = support.MinVersion

	if preload, ok, err := lookup[spi.ShouldPreloadFunc](lib, spi.SymShouldPreload); err != nil {
		return fail("bad "+spi.SymShouldPreload, err)
	} else if ok {
		if p.status.Preload, err = call(preload); err != nil {
			return fail(spi.SymShouldPreload, err)
		}
	}
	if spawn, ok, err := lookup[spi.ShouldSpawnThreadFunc](lib, spi.SymShouldSpawnThread); err != nil {
		return fail("bad "+spi.SymShouldSpawnThread, err)
	} else if ok {
		if p.status.Async, err = call(spawn); err != nil {
			return fail(spi.SymShouldSpawnThread, err)
		}
	}

	if reason := m.gate(support); reason != "" {
		p.status.State = StateRejected
		p.status.Reason = reason
		m.rt.Stats.PluginsRejected.Add(1)
		log.Warn("plugin rejected",
			zap.String("plugin", p.status.Name),
			zap.String("reason", reason))
		return p
	}

	p.status.State = StatePending
	log.Info("plugin loaded",
		zap.String("plugin", p.status.Name),
		zap.String("author", p.status.Author),
		zap.String("games", p.status.Games),
		zap.Bool("preload", p.status.Preload),
		zap.Bool("async", p.status.Async))
	return p
}

// gate returns why a plugin may not run here, or "".
func (m *Module) gate(s spi.Support) string {
	running := m.rt.Image.Game
	if !s.Games.Has(running.Flag()) {
		return fmt.Sprintf("does not support %s (supports %s)", running, s.Games)
	}
	if s.MinVersion > spi.VersionLatest {
		return fmt.Sprintf("requires SPI version %d, host provides %d", s.MinVersion, spi.VersionLatest)
	}
	return ""
}

func (m *Module) attachWhenReady(pending []*loaded) {
	defer m.waiting.Done()
	select {
	case <-m.rt.ImageReady():
		for _, p := range pending {
			m.attach(p)
		}
	case <-m.stop:
		m.logger.Info("deactivated before image was ready, postload plugins not attached",
			zap.Int("count", len(pending)))
	}
}

func (m *Module) attach(p *loaded) {
	if !p.status.Async {
		m.runAttach(p)
		return
	}
	m.async.Go(func() error {
		return m.runAttach(p)
	})
}

func (m *Module) runAttach(p *loaded) error {
	ok, err := call(func() bool { return p.attach(m.table) })
	if err == nil && !ok {
		err = errors.New("attach returned false")
	}
	if err != nil {
		m.rt.Stats.PluginsFailed.Add(1)
		m.setState(p, StateFailed, err.Error())
		m.logger.Error("plugin attach failed", zap.String("plugin", p.status.Name), zap.Error(err))
		return fmt.Errorf("%s: %w", p.status.Name, err)
	}

	m.mu.Lock()
	p.status.State = StateAttached
	m.attached = append(m.attached, p)
	m.mu.Unlock()
	m.rt.Stats.PluginsAttached.Add(1)
	m.logger.Info("plugin attached", zap.String("plugin", p.status.Name))
	return nil
}

func (m *Module) setState(p *loaded, state, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.status.State = state
	p.status.Reason = reason
}

// call runs a plugin export, turning a panic into an error.
func call(fn func() bool) (bool, error) {
	return callValue(fn)
}

func callValue[T any](fn func() T) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(), nil
}
