// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package spi is the Shared Plugin Interface: the versioned boundary between
// the host and independently built plugin binaries.
//
// Plugins import only this package. The host hands each attached plugin a
// single *Table and never moves or copies it.
package spi

import "unsafe"

// ABI versions of the dispatch table.
const (
	// Version2 is the first published table: GetVersion, GetBuildMode,
	// InstallHook, UninstallHook.
	Version2 uint32 = 2
	// Version3 appends QueryHook.
	Version3 uint32 = 3

	// VersionLatest is the version implemented by this build of the host.
	VersionLatest = Version3
	// VersionAny may be declared by a plugin that has no specific minimum.
	VersionAny = Version2
)

// Op is the permanent ordinal of an operation in Table.
type Op int

const (
	OpGetVersion Op = iota
	OpGetBuildMode
	OpInstallHook
	OpUninstallHook
	OpQueryHook
)

// Table is the fixed-layout dispatch table exposed to plugins.
//
// Field order is the ABI. New operations are appended after the last field
// and bump VersionLatest; existing fields are never reordered, removed or
// retyped. Plugins compiled against an older layout keep working because
// they only touch a prefix of the struct.
type Table struct {
	noCopy noCopy

	// Size is the byte size of the table as laid out by the host build.
	Size uintptr

	// GetVersion returns the ABI version implemented by the host.
	GetVersion func() uint32
	// GetBuildMode reports whether the host is a release build.
	GetBuildMode func() (isRelease bool)
	// InstallHook redirects target to detour and returns the trampoline
	// that runs the original behavior.
	InstallHook func(name string, target, detour unsafe.Pointer) (original unsafe.Pointer, r Result)
	// UninstallHook removes a hook installed through InstallHook.
	UninstallHook func(name string) Result

	// QueryHook returns the trampoline of an installed hook. Since Version3.
	QueryHook func(name string) (original unsafe.Pointer, r Result)
}

// TableSize is the size of Table in this build.
const TableSize = unsafe.Sizeof(Table{})

// Supports reports whether the host table is large enough to contain op.
func (t *Table) Supports(op Op) bool {
	if t == nil {
		return false
	}
	end := opEnd(op)
	return end != 0 && t.Size >= end
}

func opEnd(op Op) uintptr {
	var t Table
	switch op {
	case OpGetVersion:
		return unsafe.Offsetof(t.GetVersion) + unsafe.Sizeof(t.GetVersion)
	case OpGetBuildMode:
		return unsafe.Offsetof(t.GetBuildMode) + unsafe.Sizeof(t.GetBuildMode)
	case OpInstallHook:
		return unsafe.Offsetof(t.InstallHook) + unsafe.Sizeof(t.InstallHook)
	case OpUninstallHook:
		return unsafe.Offsetof(t.UninstallHook) + unsafe.Sizeof(t.UninstallHook)
	case OpQueryHook:
		return unsafe.Offsetof(t.QueryHook) + unsafe.Sizeof(t.QueryHook)
	}
	return 0
}

// Check is the plugin-side gate run before any other use of the table.
// A host newer than minVersion is accepted; an older one is refused with
// FailureUnsupportedYet.
func Check(t *Table, minVersion uint32) Result {
	if t == nil || !t.Supports(OpGetVersion) || t.GetVersion == nil {
		return FailureInvalidParam
	}
	if minVersion == 0 {
		minVersion = VersionAny
	}
	if t.GetVersion() < minVersion {
		return FailureUnsupportedYet
	}
	return Success
}

// noCopy makes `go vet` flag copies of a Table; its address is its identity.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
