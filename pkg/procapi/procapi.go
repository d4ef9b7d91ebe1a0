// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package procapi exposes the host's process-creation API as a hookable
// import slot. Code that starts processes calls Table.CreateProcess.Load(),
// so an interposition installed on the slot sees every launch.
package procapi

import (
	"errors"
	"fmt"
	"os"
	"unsafe"

	"github.com/mbeema/asihost/pkg/hook"
)

// Creation flags understood by CreateProcess. Values match the Win32 ones.
const (
	CreateNewProcessGroup uint32 = 0x00000200
	CreateNoWindow        uint32 = 0x08000000
)

// ErrNoExecutable is returned when neither ApplicationName nor CommandLine
// names a program.
var ErrNoExecutable = errors.New("no application name or command line")

// SecurityAttributes controls handle inheritance of the new process or thread.
type SecurityAttributes struct {
	InheritHandle bool
}

// StartupInfo carries the standard streams and window hints of the child.
// Nil streams default to the host's own.
type StartupInfo struct {
	Stdin      *os.File
	Stdout     *os.File
	Stderr     *os.File
	HideWindow bool
}

// Params are the arguments of one process-creation call.
type Params struct {
	ApplicationName   string
	CommandLine       string
	ProcessAttributes *SecurityAttributes
	ThreadAttributes  *SecurityAttributes
	InheritHandles    bool
	CreationFlags     uint32
	Environment       []string // nil inherits the host environment
	CurrentDirectory  string   // empty inherits the host working directory
	StartupInfo       *StartupInfo
}

// ProcessInformation describes a started process.
type ProcessInformation struct {
	PID     int
	Process *os.Process
}

// CreateProcessFunc is the signature of the process-creation entry point.
type CreateProcessFunc func(Params) (*ProcessInformation, error)

// Table is the set of process APIs reachable through import slots.
type Table struct {
	CreateProcess *hook.Proc[CreateProcessFunc]
}

// NewTable returns a table whose slots hold the OS implementations.
func NewTable() *Table {
	return &Table{
		CreateProcess: hook.NewProc[CreateProcessFunc](CreateProcess),
	}
}

// Slots returns the hook target of every entry in the table.
func (t *Table) Slots() []unsafe.Pointer {
	return []unsafe.Pointer{t.CreateProcess.Addr()}
}

// CreateProcess starts a process. ApplicationName wins over the first
// command-line token when both are given; CommandLine is passed to the child
// as its argument vector.
func CreateProcess(p Params) (*ProcessInformation, error) {
	argv := SplitCommandLine(p.CommandLine)
	name := p.ApplicationName
	if name == "" {
		if len(argv) == 0 {
			return nil, ErrNoExecutable
		}
		name = argv[0]
	}
	if len(argv) == 0 {
		argv = []string{name}
	}

	files := []*os.File{os.Stdin, os.Stdout, os.Stderr}
	if si := p.StartupInfo; si != nil {
		for i, f := range []*os.File{si.Stdin, si.Stdout, si.Stderr} {
			if f != nil {
				files[i] = f
			}
		}
	}

	proc, err := os.StartProcess(name, argv, &os.ProcAttr{
		Dir:   p.CurrentDirectory,
		Env:   p.Environment,
		Files: files,
		Sys:   sysProcAttr(p),
	})
	if err != nil {
		return nil, fmt.Errorf("create process %q: %w", name, err)
	}
	return &ProcessInformation{PID: proc.Pid, Process: proc}, nil
}
