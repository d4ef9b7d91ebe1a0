// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build windows

package procapi

import (
	"syscall"
	"unsafe"
)

func securityAttributes(a *SecurityAttributes) *syscall.SecurityAttributes {
	if a == nil {
		return nil
	}
	sa := &syscall.SecurityAttributes{Length: uint32(unsafe.Sizeof(syscall.SecurityAttributes{}))}
	if a.InheritHandle {
		sa.InheritHandle = 1
	}
	return sa
}

// The command line is handed to the OS verbatim so that the child sees
// exactly what the caller built.
func sysProcAttr(p Params) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{
		CmdLine:           p.CommandLine,
		CreationFlags:     p.CreationFlags,
		NoInheritHandles:  !p.InheritHandles,
		ProcessAttributes: securityAttributes(p.ProcessAttributes),
		ThreadAttributes:  securityAttributes(p.ThreadAttributes),
	}
	if p.StartupInfo != nil {
		attr.HideWindow = p.StartupInfo.HideWindow
	}
	return attr
}
