package game

import (
	"testing"

	"github.com/mbeema/asihost/pkg/spi"
)

func TestFromExeName(t *testing.T) {
	tests := []struct {
		name string
		want Game
	}{
		{"MassEffectLauncher.exe", Launcher},
		{"MassEffect1.exe.bak", Unsupported},
		{"MASSEFFECT1.EXE", LE1},
		{"MassEffect2.exe", LE2},
		{"MassEffect3", LE3},
		{"notepad.exe", Unsupported},
		{"", Unsupported},
	}
	for _, tt := range tests {
		if got := FromExeName(tt.name); got != tt.want {
			t.Errorf("FromExeName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestPaths(t *testing.T) {
	if got := LE1.ExePath(); got != "../ME1/Binaries/Win64/MassEffect1.exe" {
		t.Errorf("LE1.ExePath = %q", got)
	}
	if got := LE3.WorkDir(); got != "../ME3/Binaries/Win64" {
		t.Errorf("LE3.WorkDir = %q", got)
	}
	if Launcher.ExePath() != "" || Launcher.WorkDir() != "" {
		t.Error("launcher has no relative install path")
	}
	if Unsupported.ExePath() != "" {
		t.Error("unsupported game has a path")
	}
}

func TestFlags(t *testing.T) {
	if Launcher.Flag() != spi.GameLauncher || LE2.Flag() != spi.GameLE2 {
		t.Error("flag mapping mismatch")
	}
	if Unsupported.Flag() != 0 {
		t.Error("unsupported should map to no flag")
	}
}

func TestParse(t *testing.T) {
	g, err := Parse("LE2")
	if err != nil || g != LE2 {
		t.Errorf("Parse(LE2) = %v, %v", g, err)
	}
	if _, err := Parse("me4"); err == nil {
		t.Error("Parse(me4) should fail")
	}
	if LE2.String() != "le2" || Unsupported.String() != "unsupported" {
		t.Error("String mismatch")
	}
}
