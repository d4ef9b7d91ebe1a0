// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import (
	"errors"
	"sync"
	"time"
	"unsafe"

	"github.com/mbeema/asihost/pkg/health"
	"github.com/mbeema/asihost/pkg/spi"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Record describes one installed hook.
type Record struct {
	Name        string
	Method      string // name of the Patcher that applied it
	Target      unsafe.Pointer
	Detour      unsafe.Pointer
	Original    unsafe.Pointer
	InstalledAt time.Time
}

type entry struct {
	Record
	patch Patch
}

// Manager is the single registry of every interposition in the process,
// whether requested by a built-in module or by a plugin through the SPI.
// Install, Uninstall and lookups are serialized by one mutex, held for the
// whole patch so a racing install/uninstall pair on one name resolves in
// lock order.
type Manager struct {
	patcher Patcher
	stats   *health.Stats
	logger  *zap.Logger

	mu      sync.Mutex
	hooks   map[string]*entry
	targets map[unsafe.Pointer]string
	order   []string
	slots   map[unsafe.Pointer]struct{}
}

// NewManager creates a hook manager on top of the given primitive.
// stats may be nil.
func NewManager(patcher Patcher, stats *health.Stats, logger *zap.Logger) *Manager {
	return &Manager{
		patcher: patcher,
		stats:   stats,
		logger:  logger,
		hooks:   make(map[string]*entry),
		targets: make(map[unsafe.Pointer]string),
		slots:   make(map[unsafe.Pointer]struct{}),
	}
}

// RegisterSlot marks addr as an import slot. SlotPatcher installs are only
// accepted on registered slots; any other address may be code, and storing
// a pointer into it would fault.
func (m *Manager) RegisterSlot(addr unsafe.Pointer) {
	if addr == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[addr] = struct{}{}
}

// Patcher returns the default redirection primitive.
func (m *Manager) Patcher() Patcher { return m.patcher }

// Install redirects all future calls through target to detour and returns
// the trampoline that still reaches the original behavior. Registered
// import slots are swapped with SlotPatcher; any other target goes through
// the default primitive.
func (m *Manager) Install(name string, target, detour unsafe.Pointer) (unsafe.Pointer, spi.Result) {
	patcher := m.patcher
	if m.IsSlot(target) {
		patcher = SlotPatcher{}
	}
	return m.InstallWith(patcher, name, target, detour)
}

// IsSlot reports whether addr was registered with RegisterSlot.
func (m *Manager) IsSlot(addr unsafe.Pointer) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.slots[addr]
	return ok
}

// InstallWith is Install with an explicit primitive, for callers that know
// the kind of their target (an import slot, say) regardless of the default.
// Records of every primitive share one registry.
func (m *Manager) InstallWith(patcher Patcher, name string, target, detour unsafe.Pointer) (unsafe.Pointer, spi.Result) {
	if patcher == nil || name == "" || target == nil || detour == nil {
		m.failed()
		m.logger.Warn("hook install rejected: invalid parameter",
			zap.String("name", name),
			zap.Uintptr("target", uintptr(target)),
			zap.Uintptr("detour", uintptr(detour)),
		)
		return nil, spi.FailureInvalidParam
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.hooks[name]; ok {
		m.failed()
		m.logger.Warn("hook install rejected: duplicate name", zap.String("name", name))
		return nil, spi.FailureDuplicacy
	}
	_, slotPatcher := patcher.(SlotPatcher)
	if _, slot := m.slots[target]; slot != slotPatcher {
		m.failed()
		m.logger.Warn("hook install rejected: primitive does not match target kind",
			zap.String("name", name),
			zap.String("patcher", patcher.Name()),
			zap.Bool("import_slot", slot),
			zap.Uintptr("target", uintptr(target)),
		)
		return nil, spi.FailureInvalidParam
	}
	if owner, ok := m.targets[target]; ok {
		m.failed()
		m.logger.Warn("hook install rejected: target already hooked",
			zap.String("name", name),
			zap.String("owner", owner),
			zap.Uintptr("target", uintptr(target)),
		)
		return nil, spi.FailureDuplicacy
	}

	p, err := patcher.Patch(target, detour)
	if err != nil {
		m.failed()
		m.logger.Error("hook install failed",
			zap.String("name", name),
			zap.String("patcher", patcher.Name()),
			zap.Uintptr("target", uintptr(target)),
			zap.Error(err),
		)
		return nil, spi.FailureHooking
	}

	e := &entry{
		Record: Record{
			Name:        name,
			Method:      patcher.Name(),
			Target:      target,
			Detour:      detour,
			Original:    p.Original(),
			InstalledAt: time.Now(),
		},
		patch: p,
	}
	m.hooks[name] = e
	m.targets[target] = name
	m.order = append(m.order, name)
	if m.stats != nil {
		m.stats.HookInstalls.Add(1)
	}

	m.logger.Info("hook installed",
		zap.String("name", name),
		zap.String("method", e.Method),
		zap.Uintptr("target", uintptr(target)),
		zap.Uintptr("detour", uintptr(detour)),
		zap.Uintptr("original", uintptr(e.Original)),
	)
	return e.Original, spi.Success
}

// Uninstall restores the target and releases the trampoline.
func (m *Manager) Uninstall(name string) spi.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uninstallLocked(name)
}

func (m *Manager) uninstallLocked(name string) spi.Result {
	e, ok := m.hooks[name]
	if !ok {
		m.failed()
		m.logger.Warn("hook uninstall: not registered", zap.String("name", name))
		return spi.FailureGeneric
	}

	if err := e.patch.Restore(); err != nil {
		if !errors.Is(err, ErrAlreadyRestored) {
			m.failed()
			m.logger.Error("hook uninstall failed", zap.String("name", name), zap.Error(err))
			return spi.FailureHooking
		}
		m.logger.Debug("hook target was already restored", zap.String("name", name))
	}

	delete(m.hooks, name)
	delete(m.targets, e.Target)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	if m.stats != nil {
		m.stats.HookUninstalls.Add(1)
	}

	m.logger.Info("hook uninstalled", zap.String("name", name))
	return spi.Success
}

// Lookup returns the record of an installed hook.
func (m *Manager) Lookup(name string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.hooks[name]
	if !ok {
		return Record{}, false
	}
	return e.Record, true
}

// Names returns installed hook names in install order.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

// Len returns the number of installed hooks.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hooks)
}

// UninstallAll removes every hook in reverse install order. It is meant for
// process teardown and keeps going past failures; a hooked function may
// still be running on another thread while this executes.
func (m *Manager) UninstallAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs error
	for i := len(m.order) - 1; i >= 0; i-- {
		name := m.order[i]
		if r := m.uninstallLocked(name); r != spi.Success {
			errs = multierr.Append(errs, &spi.ResultError{Code: r, Op: "uninstall " + name})
		}
	}
	return errs
}

func (m *Manager) failed() {
	if m.stats != nil {
		m.stats.HookFailures.Add(1)
	}
}
