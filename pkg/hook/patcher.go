// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import (
	"errors"
	"unsafe"
)

// Patcher is the address-level redirection primitive used by the Manager.
// Implementations include the import-slot patcher (SlotPatcher) and the
// amd64 code patcher (InlinePatcher).
type Patcher interface {
	// Patch redirects every future call through target to detour.
	Patch(target, detour unsafe.Pointer) (Patch, error)

	// Name returns the primitive name (e.g., "slot", "inline").
	Name() string
}

// Patch is one applied redirection.
type Patch interface {
	// Original returns the entry point that runs the pre-hook behavior.
	Original() unsafe.Pointer

	// Restore undoes the redirection. It returns ErrAlreadyRestored when the
	// target no longer holds this patch's redirection.
	Restore() error
}

var (
	// ErrAlreadyRestored means the target was put back by another path.
	ErrAlreadyRestored = errors.New("target already restored")
	// ErrEmptySlot means an import slot held no entry point to preserve.
	ErrEmptySlot = errors.New("import slot is empty")
	// ErrNotRelocatable means the target prologue has a relative operand.
	ErrNotRelocatable = errors.New("relative address in prologue")
	// ErrPrologueTooShort means the target ends before the jump fits.
	ErrPrologueTooShort = errors.New("prologue too short for jump")
	// ErrUnsupported means code patching is unavailable on this platform.
	ErrUnsupported = errors.New("code patching unsupported on this platform")
)
