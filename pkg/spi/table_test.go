package spi

import (
	"testing"
	"unsafe"
)

func newTable(version uint32) *Table {
	return &Table{
		Size:       TableSize,
		GetVersion: func() uint32 { return version },
	}
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name string
		host uint32
		min  uint32
		want Result
	}{
		{"same version", Version3, Version3, Success},
		{"newer host", Version3, Version2, Success},
		{"older host", Version2, Version3, FailureUnsupportedYet},
		{"any", Version2, 0, Success},
		{"explicit any", Version2, VersionAny, Success},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Check(newTable(tt.host), tt.min); got != tt.want {
				t.Errorf("Check = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheckNil(t *testing.T) {
	if got := Check(nil, Version2); got != FailureInvalidParam {
		t.Errorf("Check(nil) = %v, want FailureInvalidParam", got)
	}
	if got := Check(&Table{}, Version2); got != FailureInvalidParam {
		t.Errorf("Check(zero table) = %v, want FailureInvalidParam", got)
	}
}

func TestSupportsBySize(t *testing.T) {
	full := newTable(VersionLatest)
	for op := OpGetVersion; op <= OpQueryHook; op++ {
		if !full.Supports(op) {
			t.Errorf("full table does not support op %d", op)
		}
	}

	// A table laid out by a Version2 host ends after UninstallHook.
	var layout Table
	v2 := newTable(Version2)
	v2.Size = unsafe.Offsetof(layout.UninstallHook) + unsafe.Sizeof(layout.UninstallHook)
	if !v2.Supports(OpUninstallHook) {
		t.Error("v2 table should support UninstallHook")
	}
	if v2.Supports(OpQueryHook) {
		t.Error("v2 table must not claim QueryHook")
	}
	if v2.Supports(Op(99)) {
		t.Error("unknown op reported supported")
	}
}

func TestOrdinalOrder(t *testing.T) {
	var layout Table
	offsets := []uintptr{
		unsafe.Offsetof(layout.Size),
		unsafe.Offsetof(layout.GetVersion),
		unsafe.Offsetof(layout.GetBuildMode),
		unsafe.Offsetof(layout.InstallHook),
		unsafe.Offsetof(layout.UninstallHook),
		unsafe.Offsetof(layout.QueryHook),
	}
	for i := 1; i < len(offsets); i++ {
		if offsets[i] <= offsets[i-1] {
			t.Fatalf("field %d is not laid out after field %d", i, i-1)
		}
	}
}

func TestGameFlag(t *testing.T) {
	f := GameLE1 | GameLE3
	if !f.Has(GameLE1) || f.Has(GameLE2) || f.Has(0) {
		t.Errorf("Has mismatch for %v", f)
	}
	if f.String() != "le1|le3" {
		t.Errorf("String = %q", f.String())
	}
	if GameFlag(0).String() != "none" {
		t.Error("zero flag should print none")
	}
	if !GameAll.Has(GameLauncher | GameLE2) {
		t.Error("GameAll should contain every game")
	}
}
