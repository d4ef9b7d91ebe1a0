// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"sync"
	"unsafe"

	"golang.org/x/arch/x86/x86asm"
)

const (
	// jmpAbsLen is the size of JMP [RIP+0] followed by the 64-bit target.
	// It clobbers no register, so it is safe for any calling convention.
	jmpAbsLen = 14
	// jmpRelLen is the size of JMP rel32.
	jmpRelLen = 5
	// prologueWindow is how many target bytes are decoded at most.
	prologueWindow = 64
	// blockSize holds the relocated prologue, the resume jump and the
	// relay jump to the detour.
	blockSize = 512
	nop       = 0x90
)

// Trampoline placement: candidates are tried nearGranule-aligned, nearStep
// apart, on both sides of the patch site.
const (
	nearGranule  = 64 << 10
	nearStep     = 16 << 20
	nearAttempts = 64
	minHint      = 1 << 20
)

// jmpAbs encodes an absolute indirect jump to addr.
func jmpAbs(addr uintptr) []byte {
	b := make([]byte, jmpAbsLen)
	b[0], b[1] = 0xff, 0x25 // JMP [RIP+disp32], disp32 = 0
	binary.LittleEndian.PutUint64(b[6:], uint64(addr))
	return b
}

// jmpRel encodes JMP rel32 placed at at and landing on dst. dst must be
// reachable from at.
func jmpRel(at, dst uintptr) []byte {
	b := make([]byte, jmpRelLen)
	b[0] = 0xe9
	binary.LittleEndian.PutUint32(b[1:], uint32(int32(int64(dst)-int64(at+jmpRelLen))))
	return b
}

// reachable reports whether a rel32 displacement measured from from can
// land on to.
func reachable(from, to uintptr) bool {
	d := int64(to) - int64(from)
	return d >= math.MinInt32 && d <= math.MaxInt32
}

// stackCheckLen returns the length of the stack bound check a Go function
// opens with: CMP of SP (or of LEA'd SP-frame for large frames) against
// g.stackguard0 at 16(R14), then a JBE to the morestack trailer. It returns
// 0 when code does not start with one.
func stackCheckLen(code []byte) int {
	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		return 0
	}
	off := 0
	var sp x86asm.Arg = x86asm.RSP
	if inst.Op == x86asm.LEA {
		dst, ok := inst.Args[0].(x86asm.Reg)
		src, mok := inst.Args[1].(x86asm.Mem)
		if !ok || !mok || src.Base != x86asm.RSP {
			return 0
		}
		sp = dst
		off = inst.Len
		if inst, err = x86asm.Decode(code[off:], 64); err != nil {
			return 0
		}
	}
	if inst.Op != x86asm.CMP || inst.Args[0] != sp {
		return 0
	}
	guard, ok := inst.Args[1].(x86asm.Mem)
	if !ok || guard.Base != x86asm.R14 || guard.Disp != 16 {
		return 0
	}
	off += inst.Len
	if inst, err = x86asm.Decode(code[off:], 64); err != nil || inst.Op != x86asm.JBE {
		return 0
	}
	return off + inst.Len
}

// relocate moves whole instructions from the start of code, which lives at
// from, until at least need bytes are covered, rewriting them to run at to.
// Relative jumps become absolute ones and RIP-relative operands get a new
// displacement. It returns the rewritten bytes and the number of original
// bytes they replace.
func relocate(code []byte, from, to uintptr, need int) ([]byte, int, error) {
	var out []byte
	var targets []uintptr
	n := 0
	for n < need {
		if n >= len(code) {
			return nil, 0, ErrPrologueTooShort
		}
		inst, err := x86asm.Decode(code[n:], 64)
		if err != nil {
			return nil, 0, fmt.Errorf("decode prologue at +%d: %w", n, err)
		}
		raw := code[n : n+inst.Len]
		next := from + uintptr(n+inst.Len)

		rel, isRel := inst.Args[0].(x86asm.Rel)
		switch {
		case isRel:
			dst := uintptr(int64(next) + int64(rel))
			targets = append(targets, dst)
			if inst.Op == x86asm.JMP {
				out = append(out, jmpAbs(dst)...)
				break
			}
			cc, ok := condCode(raw)
			if !ok {
				return nil, 0, fmt.Errorf("%w: %s at +%d", ErrNotRelocatable, inst.Op, n)
			}
			// Inverted short Jcc over an absolute jump to the old target.
			out = append(out, 0x70|(cc^1), jmpAbsLen)
			out = append(out, jmpAbs(dst)...)
		case inst.PCRel == 4:
			b := append([]byte(nil), raw...)
			moved := to + uintptr(len(out)+inst.Len)
			disp := int64(int32(binary.LittleEndian.Uint32(b[inst.PCRelOff:]))) + int64(next) - int64(moved)
			if disp < math.MinInt32 || disp > math.MaxInt32 {
				return nil, 0, fmt.Errorf("%w: %s at +%d out of reach", ErrNotRelocatable, inst.Op, n)
			}
			binary.LittleEndian.PutUint32(b[inst.PCRelOff:], uint32(int32(disp)))
			out = append(out, b...)
		case inst.PCRel != 0:
			return nil, 0, fmt.Errorf("%w: %s at +%d", ErrNotRelocatable, inst.Op, n)
		default:
			out = append(out, raw...)
		}

		n += inst.Len
		if n < need && terminates(inst) {
			return nil, 0, ErrPrologueTooShort
		}
	}
	for _, t := range targets {
		if t >= from && t < from+uintptr(n) {
			return nil, 0, fmt.Errorf("%w: branch into patched bytes", ErrNotRelocatable)
		}
	}
	return out, n, nil
}

// condCode returns the condition nibble of a short or near Jcc.
func condCode(b []byte) (byte, bool) {
	for len(b) > 0 && (b[0] == 0x2e || b[0] == 0x3e) { // branch hints
		b = b[1:]
	}
	switch {
	case len(b) >= 1 && b[0]&0xf0 == 0x70:
		return b[0] & 0x0f, true
	case len(b) >= 2 && b[0] == 0x0f && b[1]&0xf0 == 0x80:
		return b[1] & 0x0f, true
	}
	return 0, false
}

func terminates(inst x86asm.Inst) bool {
	switch inst.Op {
	case x86asm.RET, x86asm.LRET, x86asm.JMP, x86asm.LJMP, x86asm.INT, x86asm.UD2, x86asm.HLT:
		return true
	}
	return false
}

// padJump fills a jump out to n bytes with NOPs.
func padJump(b []byte, n int) []byte {
	for len(b) < n {
		b = append(b, nop)
	}
	return b
}

// allocNear maps a code block within rel32 reach of site when it can, and
// anywhere otherwise. near reports which one happened.
func allocNear(site unsafe.Pointer, size int) (mem unsafe.Pointer, near bool, err error) {
	at := uintptr(site)
	base := at &^ (nearGranule - 1)
	for i := uintptr(1); i <= nearAttempts; i++ {
		for _, down := range [2]bool{false, true} {
			cand := base + i*nearStep
			if down {
				if base < minHint+i*nearStep {
					continue
				}
				cand = base - i*nearStep
			}
			p, err := mapCode(unsafe.Add(site, int(int64(cand)-int64(at))), size)
			if err != nil {
				continue
			}
			if reachable(at, uintptr(p)) && reachable(at, uintptr(p)+uintptr(size)) {
				return p, true, nil
			}
			unmapCode(p, size)
		}
	}
	p, err := mapCode(nil, size)
	return p, false, err
}

// InlinePatcher redirects machine code. The first instructions at the patch
// site are replaced by a jump to the detour and moved, rewritten for their
// new address, into an executable trampoline that jumps back past them.
// Targets and detours are code addresses (see CodeAddr).
//
// Go functions are patched after their stack bound check, so the check
// still runs on the hooked entry and the morestack path returns into the
// hook. Calling the trampoline runs the original without its own check.
//
// Only amd64 is supported. Prologues that branch back into the patched
// bytes, or that call, are refused.
type InlinePatcher struct {
	// serializes writes to code pages shared by neighbouring functions
	mu sync.Mutex
}

var _ Patcher = (*InlinePatcher)(nil)

// InlineSupported reports whether InlinePatcher can patch code on this
// architecture.
func InlineSupported() bool { return archSupported }

func (p *InlinePatcher) Name() string { return "inline" }

func (p *InlinePatcher) Patch(target, detour unsafe.Pointer) (Patch, error) {
	if !archSupported {
		return nil, ErrUnsupported
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	code := unsafe.Slice((*byte)(target), prologueWindow)
	skip := stackCheckLen(code)
	site := unsafe.Add(target, skip)

	mem, near, err := allocNear(site, blockSize)
	if err != nil {
		return nil, fmt.Errorf("allocate trampoline: %w", err)
	}
	release := func() error { return unmapCode(mem, blockSize) }

	need := jmpAbsLen
	if near {
		need = jmpRelLen
	}
	body, n, err := relocate(code[skip:], uintptr(site), uintptr(mem), need)
	if err != nil {
		release()
		return nil, err
	}

	block := append(body, jmpAbs(uintptr(site)+uintptr(n))...)
	relay := uintptr(mem) + uintptr(len(block))
	block = append(block, jmpAbs(uintptr(detour))...)
	if len(block) > blockSize {
		release()
		return nil, fmt.Errorf("%w: trampoline too large", ErrNotRelocatable)
	}
	copy(unsafe.Slice((*byte)(mem), len(block)), block)
	if err := sealCode(mem, blockSize); err != nil {
		release()
		return nil, fmt.Errorf("seal trampoline: %w", err)
	}

	var jump []byte
	switch {
	case !near:
		jump = jmpAbs(uintptr(detour))
	case reachable(uintptr(site)+jmpRelLen, uintptr(detour)):
		jump = jmpRel(uintptr(site), uintptr(detour))
	default:
		jump = jmpRel(uintptr(site), relay)
	}
	jump = padJump(jump, n)

	saved := append([]byte(nil), code[skip:skip+n]...)
	if err := writeCode(site, jump); err != nil {
		release()
		return nil, fmt.Errorf("write detour jump: %w", err)
	}
	return &inlinePatch{
		owner:   p,
		site:    site,
		saved:   saved,
		written: jump,
		tramp:   mem,
		release: release,
	}, nil
}

type inlinePatch struct {
	owner   *InlinePatcher
	site    unsafe.Pointer
	saved   []byte
	written []byte
	tramp   unsafe.Pointer
	release func() error
}

func (p *inlinePatch) Original() unsafe.Pointer { return p.tramp }

func (p *inlinePatch) Restore() error {
	p.owner.mu.Lock()
	defer p.owner.mu.Unlock()

	current := unsafe.Slice((*byte)(p.site), len(p.written))
	if !bytes.Equal(current, p.written) {
		return ErrAlreadyRestored
	}
	if err := writeCode(p.site, p.saved); err != nil {
		return fmt.Errorf("restore prologue: %w", err)
	}
	return p.release()
}

// CodeAddr returns the code entry address of a top-level Go function, the
// form of address the InlinePatcher works with.
func CodeAddr(fn any) unsafe.Pointer {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return nil
	}
	return v.UnsafePointer()
}

type funcval struct {
	fn uintptr
}

// CodeFunc wraps a code address, such as an InlinePatcher trampoline, into a
// callable Go func of type F. F must be a func type matching the code's ABI.
func CodeFunc[F any](code unsafe.Pointer) F {
	fv := &funcval{fn: uintptr(code)}
	return *(*F)(unsafe.Pointer(&fv))
}
