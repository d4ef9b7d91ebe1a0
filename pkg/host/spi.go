// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package host

import (
	"fmt"
	"unsafe"

	"github.com/mbeema/asihost/pkg/hook"
	"github.com/mbeema/asihost/pkg/spi"
	"go.uber.org/zap"
)

type sharedInterface struct {
	hooks  *hook.Manager
	logger *zap.Logger
}

// NewSharedInterface builds the dispatch table handed to plugins. Its hook
// operations go to rt.Hooks, the same registry the built-in modules use.
// The returned table must not be copied.
func NewSharedInterface(rt *Runtime) *spi.Table {
	s := &sharedInterface{
		hooks:  rt.Hooks,
		logger: rt.Logger.Named("spi"),
	}
	return &spi.Table{
		Size:          spi.TableSize,
		GetVersion:    s.getVersion,
		GetBuildMode:  s.getBuildMode,
		InstallHook:   s.installHook,
		UninstallHook: s.uninstallHook,
		QueryHook:     s.queryHook,
	}
}

func (s *sharedInterface) getVersion() uint32 { return spi.VersionLatest }

func (s *sharedInterface) getBuildMode() bool { return releaseBuild }

func (s *sharedInterface) installHook(name string, target, detour unsafe.Pointer) (original unsafe.Pointer, r spi.Result) {
	defer s.contain("InstallHook", name, &r)
	return s.hooks.Install(name, target, detour)
}

func (s *sharedInterface) uninstallHook(name string) (r spi.Result) {
	defer s.contain("UninstallHook", name, &r)
	return s.hooks.Uninstall(name)
}

func (s *sharedInterface) queryHook(name string) (original unsafe.Pointer, r spi.Result) {
	defer s.contain("QueryHook", name, &r)
	if name == "" {
		return nil, spi.FailureInvalidParam
	}
	rec, ok := s.hooks.Lookup(name)
	if !ok {
		return nil, spi.FailureGeneric
	}
	return rec.Original, spi.Success
}

// contain stops a panic from crossing the plugin boundary.
func (s *sharedInterface) contain(op, name string, r *spi.Result) {
	if v := recover(); v != nil {
		s.logger.Error("panic in SPI call",
			zap.String("op", op),
			zap.String("name", name),
			zap.String("panic", fmt.Sprint(v)),
		)
		*r = spi.ErrorFatal
	}
}
