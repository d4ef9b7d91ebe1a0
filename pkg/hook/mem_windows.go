// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build windows

package hook

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// mapCode commits size bytes of read/write memory at hint. A nil hint lets
// the system choose; a taken hint fails.
func mapCode(hint unsafe.Pointer, size int) (unsafe.Pointer, error) {
	addr, err := windows.VirtualAlloc(uintptr(hint), uintptr(size),
		windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, err
	}
	// VirtualAlloc memory is outside the Go heap.
	return *(*unsafe.Pointer)(unsafe.Pointer(&addr)), nil
}

func sealCode(p unsafe.Pointer, size int) error {
	var old uint32
	return windows.VirtualProtect(uintptr(p), uintptr(size), windows.PAGE_EXECUTE_READ, &old)
}

func unmapCode(p unsafe.Pointer, _ int) error {
	return windows.VirtualFree(uintptr(p), 0, windows.MEM_RELEASE)
}

func writeCode(addr unsafe.Pointer, b []byte) error {
	var old uint32
	if err := windows.VirtualProtect(uintptr(addr), uintptr(len(b)), windows.PAGE_EXECUTE_READWRITE, &old); err != nil {
		return err
	}
	copy(unsafe.Slice((*byte)(addr), len(b)), b)
	return windows.VirtualProtect(uintptr(addr), uintptr(len(b)), old, &old)
}
