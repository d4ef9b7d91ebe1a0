// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build !unix && !windows

package procapi

import "syscall"

func sysProcAttr(Params) *syscall.SysProcAttr { return nil }
