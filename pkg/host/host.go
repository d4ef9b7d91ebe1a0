// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package host owns the built-in modules of the shim, the runtime context
// they share, and the host side of the plugin interface.
package host

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mbeema/asihost/pkg/health"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Module is a named unit of host behavior with an activate/deactivate
// lifecycle. A module is activated at most once.
type Module interface {
	Name() string
	Activate() error
	Deactivate()
}

// Policy is the per-module activation policy.
type Policy struct {
	// Required makes an activation failure abort the whole host.
	Required bool
}

// State is the lifecycle state of a module.
type State int

const (
	Constructed State = iota
	Active
	Inactive
)

func (s State) String() string {
	switch s {
	case Constructed:
		return "constructed"
	case Active:
		return "active"
	case Inactive:
		return "inactive"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

var (
	ErrAlreadyActivated = errors.New("module host already activated")
	ErrDuplicateModule  = errors.New("duplicate module name")
)

// ActivationError records the failure of one module's Activate.
type ActivationError struct {
	Module   string
	Required bool
	Err      error
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("activate %s: %v", e.Module, e.Err)
}

func (e *ActivationError) Unwrap() error { return e.Err }

// Aborted reports whether err, as returned by Host.Activate, contains the
// failure of a required module.
func Aborted(err error) bool {
	for _, e := range multierr.Errors(err) {
		var ae *ActivationError
		if errors.As(e, &ae) && ae.Required {
			return true
		}
	}
	return false
}

// ModuleStatus is a snapshot of one module.
type ModuleStatus struct {
	Name     string `json:"name"`
	State    State  `json:"state"`
	Required bool   `json:"required"`
	Error    string `json:"error,omitempty"`
}

type slot struct {
	module Module
	policy Policy
	state  State
	err    error
}

// Host activates modules front to back and deactivates them in reverse.
type Host struct {
	logger *zap.Logger
	stats  *health.Stats

	mu        sync.Mutex
	slots     []*slot
	activated bool
}

// New creates an empty module host. stats may be nil.
func New(logger *zap.Logger, stats *health.Stats) *Host {
	return &Host{logger: logger, stats: stats}
}

// Add appends m to the activation order.
func (h *Host) Add(m Module, p Policy) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.activated {
		return ErrAlreadyActivated
	}
	for _, s := range h.slots {
		if s.module.Name() == m.Name() {
			return fmt.Errorf("%w: %s", ErrDuplicateModule, m.Name())
		}
	}
	h.slots = append(h.slots, &slot{module: m, policy: p})
	return nil
}

// Activate runs every module's Activate in order. A failed optional module
// is left Inactive and activation continues; the failures are returned
// together. A failed required module deactivates the modules already
// active, in reverse, and ends activation.
func (h *Host) Activate() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.activated {
		return ErrAlreadyActivated
	}
	h.activated = true

	var errs error
	for _, s := range h.slots {
		name := s.module.Name()
		err := activate(s.module)
		if err == nil {
			s.state = Active
			if h.stats != nil {
				h.stats.ModulesActive.Add(1)
			}
			h.logger.Info("module activated", zap.String("module", name))
			continue
		}

		s.state = Inactive
		s.err = err
		if h.stats != nil {
			h.stats.ModuleFailures.Add(1)
		}
		aerr := &ActivationError{Module: name, Required: s.policy.Required, Err: err}
		errs = multierr.Append(errs, aerr)

		if s.policy.Required {
			h.logger.Error("required module failed, aborting activation",
				zap.String("module", name), zap.Error(err))
			h.deactivateLocked()
			return errs
		}
		h.logger.Warn("optional module failed to activate",
			zap.String("module", name), zap.Error(err))
	}
	return errs
}

// Deactivate runs Deactivate on active modules in reverse order. Modules
// that never activated are skipped. Safe to call more than once.
func (h *Host) Deactivate() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deactivateLocked()
}

func (h *Host) deactivateLocked() {
	for i := len(h.slots) - 1; i >= 0; i-- {
		s := h.slots[i]
		if s.state != Active {
			if s.state == Constructed {
				s.state = Inactive
			}
			continue
		}
		name := s.module.Name()
		if err := deactivate(s.module); err != nil {
			h.logger.Error("module deactivate panicked", zap.String("module", name), zap.Error(err))
		} else {
			h.logger.Info("module deactivated", zap.String("module", name))
		}
		s.state = Inactive
		if h.stats != nil {
			h.stats.ModulesActive.Add(-1)
		}
	}
}

// States returns a snapshot of every module in activation order.
func (h *Host) States() []ModuleStatus {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]ModuleStatus, 0, len(h.slots))
	for _, s := range h.slots {
		st := ModuleStatus{
			Name:     s.module.Name(),
			State:    s.state,
			Required: s.policy.Required,
		}
		if s.err != nil {
			st.Error = s.err.Error()
		}
		out = append(out, st)
	}
	return out
}

func activate(m Module) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("panic: %v", v)
		}
	}()
	return m.Activate()
}

func deactivate(m Module) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("panic: %v", v)
		}
	}()
	m.Deactivate()
	return nil
}
