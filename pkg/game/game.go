// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package game identifies which Legendary Edition executable the host is
// running inside and where the sibling games are installed.
package game

import (
	"fmt"
	"path"
	"strings"

	"github.com/mbeema/asihost/pkg/spi"
)

// Game is one supported executable.
type Game int

const (
	Unsupported Game = iota
	Launcher
	LE1
	LE2
	LE3
)

var games = []struct {
	game Game
	key  string
	exe  string
	dir  string
	flag spi.GameFlag
}{
	{Launcher, "launcher", "MassEffectLauncher.exe", "", spi.GameLauncher},
	{LE1, "le1", "MassEffect1.exe", "ME1", spi.GameLE1},
	{LE2, "le2", "MassEffect2.exe", "ME2", spi.GameLE2},
	{LE3, "le3", "MassEffect3.exe", "ME3", spi.GameLE3},
}

func (g Game) String() string {
	for _, e := range games {
		if e.game == g {
			return e.key
		}
	}
	return "unsupported"
}

// Flag returns the support bit plugins declare for g, or 0.
func (g Game) Flag() spi.GameFlag {
	for _, e := range games {
		if e.game == g {
			return e.flag
		}
	}
	return 0
}

// ExeName is the file name of the game's executable.
func (g Game) ExeName() string {
	for _, e := range games {
		if e.game == g {
			return e.exe
		}
	}
	return ""
}

// IsEdition reports whether g is one of the three games (not the launcher).
func (g Game) IsEdition() bool {
	return g == LE1 || g == LE2 || g == LE3
}

// ExePath is the game executable relative to the launcher's directory.
// Empty for the launcher itself.
func (g Game) ExePath() string {
	if !g.IsEdition() {
		return ""
	}
	return path.Join(g.WorkDir(), g.ExeName())
}

// WorkDir is the directory the game must be started in, relative to the
// launcher's directory.
func (g Game) WorkDir() string {
	for _, e := range games {
		if e.game == g && e.dir != "" {
			return path.Join("..", e.dir, "Binaries", "Win64")
		}
	}
	return ""
}

// FromExeName maps an executable file name to a game. Matching ignores case
// and accepts the name with or without its ".exe" suffix.
func FromExeName(name string) Game {
	for _, e := range games {
		if strings.EqualFold(name, e.exe) || strings.EqualFold(name+".exe", e.exe) {
			return e.game
		}
	}
	return Unsupported
}

// Parse maps a configuration key ("launcher", "le1", "le2", "le3") to a game.
func Parse(s string) (Game, error) {
	for _, e := range games {
		if strings.EqualFold(s, e.key) {
			return e.game, nil
		}
	}
	return Unsupported, fmt.Errorf("unknown game %q", s)
}
