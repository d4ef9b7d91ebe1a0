// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package spi

import "strings"

// GameFlag has one bit per supported game variant. Combine with |.
type GameFlag uint32

const (
	GameLauncher GameFlag = 1 << 0
	GameLE1      GameFlag = 1 << 1
	GameLE2      GameFlag = 1 << 2
	GameLE3      GameFlag = 1 << 3

	GameAll = GameLauncher | GameLE1 | GameLE2 | GameLE3
)

// Has reports whether every bit of g is set in f.
func (f GameFlag) Has(g GameFlag) bool { return g != 0 && f&g == g }

func (f GameFlag) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, e := range []struct {
		flag GameFlag
		name string
	}{
		{GameLauncher, "launcher"},
		{GameLE1, "le1"},
		{GameLE2, "le2"},
		{GameLE3, "le3"},
	} {
		if f&e.flag != 0 {
			parts = append(parts, e.name)
		}
	}
	return strings.Join(parts, "|")
}

// Support is what a plugin declares about itself before it is attached.
type Support struct {
	Name       string
	Author     string
	Games      GameFlag
	MinVersion uint32
}

// Exported symbol names looked up in every plugin binary.
const (
	SymSupportDecl       = "SpiSupportDecl"
	SymShouldPreload     = "SpiShouldPreload"
	SymShouldSpawnThread = "SpiShouldSpawnThread"
	SymOnAttach          = "SpiOnAttach"
	SymOnDetach          = "SpiOnDetach"
)

// Signatures of the plugin exports.
type (
	// SupportDeclFunc declares name, author, supported games and minimum ABI version.
	SupportDeclFunc = func() Support
	// ShouldPreloadFunc returns true to attach before the game image is
	// unpacked, false to wait until it is.
	ShouldPreloadFunc = func() bool
	// ShouldSpawnThreadFunc returns true to run the attach point on a
	// separate worker instead of inline.
	ShouldSpawnThreadFunc = func() bool
	// OnAttachFunc is the attach point. It receives the host table.
	OnAttachFunc = func(*Table) bool
	// OnDetachFunc is a best-effort cleanup hint. The host may never call it.
	OnDetachFunc = func() bool
)
