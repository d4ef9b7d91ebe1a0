// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build linux || darwin || freebsd

package hook

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

var pageSize = uintptr(unix.Getpagesize())

// mapCode maps size bytes of private read/write memory, at hint when that
// range is free. A nil hint lets the kernel choose.
func mapCode(hint unsafe.Pointer, size int) (unsafe.Pointer, error) {
	return unix.MmapPtr(-1, 0, hint, uintptr(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
}

// sealCode makes a mapped block read+exec.
func sealCode(p unsafe.Pointer, size int) error {
	return unix.Mprotect(unsafe.Slice((*byte)(p), size), unix.PROT_READ|unix.PROT_EXEC)
}

func unmapCode(p unsafe.Pointer, size int) error {
	return unix.MunmapPtr(p, uintptr(size))
}

// writeCode copies b over the code at addr, making the covering pages
// writable for the duration of the copy.
func writeCode(addr unsafe.Pointer, b []byte) error {
	pages := codePages(addr, uintptr(len(b)))
	if err := unix.Mprotect(pages, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC); err != nil {
		return err
	}
	copy(unsafe.Slice((*byte)(addr), len(b)), b)
	return unix.Mprotect(pages, unix.PROT_READ|unix.PROT_EXEC)
}

// codePages returns the whole pages covering size bytes at addr.
func codePages(addr unsafe.Pointer, size uintptr) []byte {
	head := uintptr(addr) & (pageSize - 1)
	end := (uintptr(addr) + size + pageSize - 1) &^ (pageSize - 1)
	start := unsafe.Add(addr, -int(head))
	return unsafe.Slice((*byte)(start), end-(uintptr(addr)-head))
}
