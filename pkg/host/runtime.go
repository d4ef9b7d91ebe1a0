// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package host

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mbeema/asihost/pkg/game"
	"github.com/mbeema/asihost/pkg/health"
	"github.com/mbeema/asihost/pkg/hook"
	"github.com/mbeema/asihost/pkg/procapi"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// Image identifies the executable the host is attached to.
type Image struct {
	PID  int
	Path string
	Name string
	Game game.Game
}

// NewImage resolves the current process image.
func NewImage() (Image, error) {
	pid := os.Getpid()
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return Image{}, fmt.Errorf("inspect own process: %w", err)
	}
	exe, err := p.Exe()
	if err != nil {
		return Image{}, fmt.Errorf("resolve executable: %w", err)
	}
	img := ImageFromPath(exe)
	img.PID = pid
	return img, nil
}

// ImageFromPath builds an Image for the executable at path.
func ImageFromPath(path string) Image {
	name := filepath.Base(path)
	return Image{
		Path: path,
		Name: name,
		Game: game.FromExeName(name),
	}
}

// Runtime is the context shared by every module and by the plugin
// interface. It is built once at process attach.
type Runtime struct {
	Logger  *zap.Logger
	Hooks   *hook.Manager
	Stats   *health.Stats
	Image   Image
	CmdLine string
	// Procs is replaced through SetProcs so its slots stay hookable.
	Procs *procapi.Table
	// Exit terminates the process. Replaced in tests.
	Exit func(code int)

	imageReady chan struct{}
	readyOnce  sync.Once
}

// NewRuntime creates a runtime with the OS process table and os.Exit.
func NewRuntime(logger *zap.Logger, hooks *hook.Manager, stats *health.Stats, image Image) *Runtime {
	rt := &Runtime{
		Logger:     logger,
		Hooks:      hooks,
		Stats:      stats,
		Image:      image,
		CmdLine:    procapi.ComposeCommandLine(os.Args),
		Exit:       os.Exit,
		imageReady: make(chan struct{}),
	}
	rt.SetProcs(procapi.NewTable())
	return rt
}

// SetProcs installs t as the process-API table and registers its slots
// with the hook manager.
func (rt *Runtime) SetProcs(t *procapi.Table) {
	if rt.Hooks != nil {
		for _, slot := range t.Slots() {
			rt.Hooks.RegisterSlot(slot)
		}
	}
	rt.Procs = t
}

// ImageReady is closed once the game image is unpacked and postload work
// may run.
func (rt *Runtime) ImageReady() <-chan struct{} {
	return rt.imageReady
}

// MarkImageReady closes ImageReady. Later calls do nothing.
func (rt *Runtime) MarkImageReady() {
	rt.readyOnce.Do(func() {
		rt.Logger.Info("process image ready", zap.String("image", rt.Image.Name))
		close(rt.imageReady)
	})
}
