// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build unix

package procapi

import "syscall"

func sysProcAttr(p Params) *syscall.SysProcAttr {
	if p.CreationFlags&CreateNewProcessGroup != 0 {
		return &syscall.SysProcAttr{Setpgid: true}
	}
	return nil
}
