// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package launcher starts the selected game from the launcher process on a
// worker goroutine and either waits for it or terminates the launcher.
package launcher

import (
	"github.com/mbeema/asihost/pkg/hook"
	"github.com/mbeema/asihost/pkg/host"
	"github.com/mbeema/asihost/pkg/modules/launchfix"
	"github.com/mbeema/asihost/pkg/procapi"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// Module runs the launch worker.
type Module struct {
	rt      *host.Runtime
	planner Planner
	logger  *zap.Logger

	done chan struct{}
}

var _ host.Module = (*Module)(nil)

// New creates the module.
func New(rt *host.Runtime, planner Planner) *Module {
	return &Module{
		rt:      rt,
		planner: planner,
		logger:  rt.Logger.Named("launcher"),
		done:    make(chan struct{}),
	}
}

func (m *Module) Name() string { return "launcher" }

// Activate plans the launch and starts the worker. Having nothing to launch
// is not a failure.
func (m *Module) Activate() error {
	plan, ok, err := m.planner.Plan(m.rt)
	if err != nil {
		close(m.done)
		return err
	}
	if !ok {
		close(m.done)
		m.logger.Info("no launch target, nothing to do")
		return nil
	}

	m.logger.Info("launch target selected",
		zap.Stringer("game", plan.Game),
		zap.String("exe", plan.ExePath),
		zap.Bool("wait", plan.Wait))
	go m.run(plan)
	return nil
}

// Deactivate does not stop a launch in progress; the child outlives the
// host.
func (m *Module) Deactivate() {}

// createProcess returns the process-creation entry point beneath the launch
// fix. A plan's working directory is final, including for debugger launches
// where the executable lives elsewhere.
func (m *Module) createProcess() procapi.CreateProcessFunc {
	if rec, ok := m.rt.Hooks.Lookup(launchfix.HookName); ok {
		return hook.Func[procapi.CreateProcessFunc](rec.Original)
	}
	return m.rt.Procs.CreateProcess.Load()
}

// Done is closed when the worker has finished.
func (m *Module) Done() <-chan struct{} { return m.done }

func (m *Module) run(plan Plan) {
	defer close(m.done)

	m.logger.Info("creating game process",
		zap.String("application", plan.ExePath),
		zap.String("command_line", plan.CommandLine),
		zap.String("dir", plan.WorkDir))

	pi, err := m.createProcess()(procapi.Params{
		ApplicationName:  plan.ExePath,
		CommandLine:      plan.CommandLine,
		CurrentDirectory: plan.WorkDir,
	})
	if err != nil {
		m.rt.Stats.ProcessLaunchFailures.Add(1)
		m.logger.Error("failed to create game process", zap.Error(err))
		return
	}
	m.rt.Stats.ProcessLaunches.Add(1)

	fields := []zap.Field{zap.Int("pid", pi.PID)}
	if p, err := process.NewProcess(int32(pi.PID)); err == nil {
		if name, err := p.Name(); err == nil {
			fields = append(fields, zap.String("name", name))
		}
	}

	if !plan.Wait {
		m.logger.Info("game process created, terminating the launcher", fields...)
		m.rt.Exit(0)
		return
	}

	m.logger.Info("game process created, waiting until it exits", fields...)
	if pi.Process == nil {
		m.logger.Warn("no process handle to wait on", fields...)
		return
	}
	state, err := pi.Process.Wait()
	if err != nil {
		m.logger.Error("waiting for game process failed", zap.Error(err))
		return
	}
	m.logger.Info("game process exited", zap.Int("pid", pi.PID), zap.Int("exit_code", state.ExitCode()))
}
