// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import (
	"sync/atomic"
	"unsafe"
)

// SlotPatcher redirects import slots: pointer-sized cells that hold an API's
// entry point and through which every caller dispatches (the same shape as an
// import address table entry). The target passed to Patch is the address of
// the slot; the detour and the returned original are entry points.
//
// Swapping is a single atomic store, so concurrent callers observe either the
// old or the new entry, never a torn one.
type SlotPatcher struct{}

var _ Patcher = SlotPatcher{}

func (SlotPatcher) Name() string { return "slot" }

func (SlotPatcher) Patch(target, detour unsafe.Pointer) (Patch, error) {
	slot := (*unsafe.Pointer)(target)
	original := atomic.SwapPointer(slot, detour)
	if original == nil {
		atomic.CompareAndSwapPointer(slot, detour, nil)
		return nil, ErrEmptySlot
	}
	return &slotPatch{slot: slot, detour: detour, original: original}, nil
}

type slotPatch struct {
	slot     *unsafe.Pointer
	detour   unsafe.Pointer
	original unsafe.Pointer
}

func (p *slotPatch) Original() unsafe.Pointer { return p.original }

func (p *slotPatch) Restore() error {
	if atomic.CompareAndSwapPointer(p.slot, p.detour, p.original) {
		return nil
	}
	return ErrAlreadyRestored
}

// Proc is a typed import slot for an API of type F. Callers always go
// through Load, so a hook installed on Addr redirects all of them, including
// callers that never heard of the hook.
type Proc[F any] struct {
	noCopy noCopy
	entry  unsafe.Pointer // *F
}

// NewProc creates a slot whose unhooked entry point is fn.
func NewProc[F any](fn F) *Proc[F] {
	return &Proc[F]{entry: Entry(fn)}
}

// Addr is the hook target for this slot.
func (p *Proc[F]) Addr() unsafe.Pointer {
	return unsafe.Pointer(&p.entry)
}

// Load returns the current entry point.
func (p *Proc[F]) Load() F {
	return *(*F)(atomic.LoadPointer(&p.entry))
}

// Entry boxes fn as an entry point usable as a detour for a Proc[F].
func Entry[F any](fn F) unsafe.Pointer {
	return unsafe.Pointer(&fn)
}

// Func converts an entry point returned by Install (the original) back into
// a callable F. entry must have been produced by Entry[F] or NewProc[F].
func Func[F any](entry unsafe.Pointer) F {
	return *(*F)(entry)
}

type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
