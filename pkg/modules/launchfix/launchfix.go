// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package launchfix repairs the working directory of processes started by
// the host executable. Some launch paths hand CreateProcess a stale current
// directory; the hook replaces it with the directory of the executable.
package launchfix

import (
	"path/filepath"
	"sync/atomic"

	"github.com/mbeema/asihost/pkg/hook"
	"github.com/mbeema/asihost/pkg/host"
	"github.com/mbeema/asihost/pkg/procapi"
	"github.com/mbeema/asihost/pkg/spi"
	"go.uber.org/zap"
)

// HookName is the registry name of the process-creation hook.
const HookName = "procapi.CreateProcess"

// Module installs the process-creation hook.
type Module struct {
	rt     *host.Runtime
	logger *zap.Logger

	original atomic.Pointer[procapi.CreateProcessFunc]
}

var _ host.Module = (*Module)(nil)

// New creates the module.
func New(rt *host.Runtime) *Module {
	return &Module{rt: rt, logger: rt.Logger.Named("launchfix")}
}

func (m *Module) Name() string { return "launch_fix" }

// Activate hooks the runtime's CreateProcess slot. The slot is an import
// slot, so the slot primitive is used whatever the manager's default is.
func (m *Module) Activate() error {
	detour := hook.Entry[procapi.CreateProcessFunc](m.createProcess)
	orig, r := m.rt.Hooks.InstallWith(hook.SlotPatcher{}, HookName, m.rt.Procs.CreateProcess.Addr(), detour)
	if r != spi.Success {
		return &spi.ResultError{Code: r, Op: "install " + HookName}
	}
	fn := hook.Func[procapi.CreateProcessFunc](orig)
	m.original.Store(&fn)
	return nil
}

// Deactivate removes the hook.
func (m *Module) Deactivate() {
	if r := m.rt.Hooks.Uninstall(HookName); r != spi.Success {
		m.logger.Warn("failed to remove process-creation hook", zap.Stringer("result", r))
	}
}

// createProcess is the detour. Whatever happens here, the call reaches the
// original entry point and its result is returned untouched.
func (m *Module) createProcess(p procapi.Params) (*procapi.ProcessInformation, error) {
	fixed, err := Fix(p)
	if err != nil {
		m.logger.Warn("cannot canonicalize launch path",
			zap.String("application", p.ApplicationName),
			zap.String("forwarded", fixed.ApplicationName),
			zap.String("dir", fixed.CurrentDirectory),
			zap.Error(err))
	} else if fixed.ApplicationName != "" {
		m.logger.Info("using working directory",
			zap.String("application", fixed.ApplicationName),
			zap.String("dir", fixed.CurrentDirectory),
			zap.String("requested_dir", p.CurrentDirectory))
	}

	original := procapi.CreateProcess
	if fn := m.original.Load(); fn != nil {
		original = *fn
	}
	return original(fixed)
}

// Fix returns p with ApplicationName made absolute and canonical and
// CurrentDirectory set to its containing directory. All other fields are
// kept. Params without an ApplicationName are returned unchanged.
//
// When symlinks cannot be resolved, a missing file say, the absolute path
// and its directory are still applied and returned along with the error.
func Fix(p procapi.Params) (procapi.Params, error) {
	if p.ApplicationName == "" {
		return p, nil
	}
	abs, err := filepath.Abs(p.ApplicationName)
	if err != nil {
		return p, err
	}
	p.ApplicationName = abs
	p.CurrentDirectory = filepath.Dir(abs)
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return p, err
	}
	p.ApplicationName = canonical
	p.CurrentDirectory = filepath.Dir(canonical)
	return p, nil
}
