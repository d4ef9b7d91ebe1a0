// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build !linux && !darwin && !freebsd && !windows

package hook

import "unsafe"

func mapCode(unsafe.Pointer, int) (unsafe.Pointer, error) {
	return nil, ErrUnsupported
}

func sealCode(unsafe.Pointer, int) error { return ErrUnsupported }

func unmapCode(unsafe.Pointer, int) error { return ErrUnsupported }

func writeCode(unsafe.Pointer, []byte) error {
	return ErrUnsupported
}
