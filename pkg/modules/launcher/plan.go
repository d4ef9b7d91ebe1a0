// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package launcher

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mbeema/asihost/pkg/game"
	"github.com/mbeema/asihost/pkg/host"
	"github.com/mbeema/asihost/pkg/procapi"
)

// DebuggerEnv names a debugger executable that is launched in place of the
// game, with the game path prepended to its command line.
const DebuggerEnv = "LEBINK_DEBUGGER"

// Plan is a fully formed launch request. It is not modified after the
// planner returns it.
type Plan struct {
	Game        game.Game
	ExePath     string
	CommandLine string
	WorkDir     string
	// Wait blocks the worker until the child exits. Without it the host
	// process terminates as soon as the child is started.
	Wait bool
}

// Planner decides whether and what to launch.
type Planner interface {
	Plan(rt *host.Runtime) (Plan, bool, error)
}

// ConfigPlanner plans a launch of Target from static configuration.
type ConfigPlanner struct {
	Target string // "le1", "le2", "le3" or empty for no launch
	Args   []string
	Wait   bool
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// Plan resolves the game's install layout relative to the host executable.
func (c ConfigPlanner) Plan(rt *host.Runtime) (Plan, bool, error) {
	if c.Target == "" {
		return Plan{}, false, nil
	}
	g, err := game.Parse(c.Target)
	if err != nil {
		return Plan{}, false, err
	}
	if !g.IsEdition() {
		return Plan{}, false, fmt.Errorf("cannot launch %s", g)
	}

	base := ""
	if rt.Image.Path != "" {
		base = filepath.Dir(rt.Image.Path)
	}
	exe := filepath.Join(base, filepath.FromSlash(g.ExePath()))
	p := Plan{
		Game:        g,
		ExePath:     exe,
		CommandLine: procapi.ComposeCommandLine(append([]string{exe}, c.Args...)),
		WorkDir:     filepath.Join(base, filepath.FromSlash(g.WorkDir())),
		Wait:        c.Wait,
	}

	getenv := c.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if dbg := getenv(DebuggerEnv); dbg != "" {
		p.CommandLine = procapi.ComposeCommandLine([]string{dbg}) + " " + p.CommandLine
		p.ExePath = dbg
	}
	return p, true, nil
}
