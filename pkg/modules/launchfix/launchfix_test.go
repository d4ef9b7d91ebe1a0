package launchfix

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/mbeema/asihost/pkg/health"
	"github.com/mbeema/asihost/pkg/hook"
	"github.com/mbeema/asihost/pkg/host"
	"github.com/mbeema/asihost/pkg/procapi"
	"github.com/mbeema/asihost/pkg/spi"
	"go.uber.org/zap"
)

type recorder struct {
	calls []procapi.Params
	err   error
}

func (r *recorder) create(p procapi.Params) (*procapi.ProcessInformation, error) {
	r.calls = append(r.calls, p)
	if r.err != nil {
		return nil, r.err
	}
	return &procapi.ProcessInformation{PID: 4242}, nil
}

func newRuntime(rec *recorder) *host.Runtime {
	stats := health.NewStats()
	rt := host.NewRuntime(zap.NewNop(), hook.NewManager(hook.SlotPatcher{}, stats, zap.NewNop()), stats,
		host.ImageFromPath("MassEffectLauncher.exe"))
	rt.SetProcs(&procapi.Table{CreateProcess: hook.NewProc[procapi.CreateProcessFunc](rec.create)})
	return rt
}

func makeGame(t *testing.T) (exe, dir string) {
	t.Helper()
	root := t.TempDir()
	dir = filepath.Join(root, "ME1", "Binaries", "Win64")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	exe = filepath.Join(dir, "MassEffect1.exe")
	if err := os.WriteFile(exe, []byte("MZ"), 0o755); err != nil {
		t.Fatal(err)
	}
	// Resolve any symlinked temp root so expectations match EvalSymlinks.
	real, err := filepath.EvalSymlinks(exe)
	if err != nil {
		t.Fatal(err)
	}
	return real, filepath.Dir(real)
}

func TestHookRewritesWorkingDirectory(t *testing.T) {
	exe, dir := makeGame(t)
	rec := &recorder{}
	rt := newRuntime(rec)
	m := New(rt)

	if err := m.Activate(); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	garbled := filepath.Join(dir, "..", "Win64", ".", "MassEffect1.exe")
	in := procapi.Params{
		ApplicationName:  garbled,
		CommandLine:      `MassEffect1.exe -NoHomeDir -Subtitles 20`,
		InheritHandles:   true,
		CreationFlags:    procapi.CreateNewProcessGroup,
		Environment:      []string{"A=1"},
		CurrentDirectory: "C:/stale",
		StartupInfo:      &procapi.StartupInfo{HideWindow: true},
	}
	pi, err := rt.Procs.CreateProcess.Load()(in)
	if err != nil || pi.PID != 4242 {
		t.Fatalf("hooked call = %+v, %v", pi, err)
	}
	if len(rec.calls) != 1 {
		t.Fatalf("original called %d times", len(rec.calls))
	}

	got := rec.calls[0]
	if got.ApplicationName != exe {
		t.Errorf("ApplicationName = %q, want %q", got.ApplicationName, exe)
	}
	if got.CurrentDirectory != dir {
		t.Errorf("CurrentDirectory = %q, want %q", got.CurrentDirectory, dir)
	}
	want := in
	want.ApplicationName, want.CurrentDirectory = exe, dir
	if !reflect.DeepEqual(got, want) {
		t.Errorf("forwarded params = %+v, want %+v", got, want)
	}
}

func TestHookForwardsAbsolutePathWhenMissing(t *testing.T) {
	rec := &recorder{err: errors.New("file not found")}
	rt := newRuntime(rec)
	m := New(rt)
	if err := m.Activate(); err != nil {
		t.Fatal(err)
	}

	in := procapi.Params{
		ApplicationName:  filepath.Join(t.TempDir(), "Binaries", "..", "missing.exe"),
		CommandLine:      "missing.exe",
		CurrentDirectory: "somewhere",
	}
	_, err := rt.Procs.CreateProcess.Load()(in)
	if err == nil || err.Error() != "file not found" {
		t.Errorf("err = %v, want the original's error unchanged", err)
	}

	abs, err := filepath.Abs(in.ApplicationName)
	if err != nil {
		t.Fatal(err)
	}
	want := in
	want.ApplicationName, want.CurrentDirectory = abs, filepath.Dir(abs)
	if len(rec.calls) != 1 || !reflect.DeepEqual(rec.calls[0], want) {
		t.Errorf("forwarded = %+v, want %+v", rec.calls, want)
	}
}

func TestFixMissingRelativePath(t *testing.T) {
	in := procapi.Params{ApplicationName: filepath.Join("no-such-dir", "Game.exe"), CurrentDirectory: "stale"}
	got, err := Fix(in)
	if err == nil {
		t.Fatal("Fix of a missing file should report the resolve error")
	}
	abs, aerr := filepath.Abs(in.ApplicationName)
	if aerr != nil {
		t.Fatal(aerr)
	}
	if got.ApplicationName != abs || got.CurrentDirectory != filepath.Dir(abs) {
		t.Errorf("Fix = %+v, want %q in %q", got, abs, filepath.Dir(abs))
	}
	if !filepath.IsAbs(got.CurrentDirectory) {
		t.Errorf("CurrentDirectory %q is not absolute", got.CurrentDirectory)
	}
}

func TestHookForwardsEmptyApplicationName(t *testing.T) {
	rec := &recorder{}
	rt := newRuntime(rec)
	m := New(rt)
	if err := m.Activate(); err != nil {
		t.Fatal(err)
	}
	in := procapi.Params{CommandLine: "cmd /c echo", CurrentDirectory: "x"}
	if _, err := rt.Procs.CreateProcess.Load()(in); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(rec.calls[0], in) {
		t.Errorf("forwarded = %+v", rec.calls[0])
	}
}

func TestActivateTwiceIsDuplicate(t *testing.T) {
	rt := newRuntime(&recorder{})
	if err := New(rt).Activate(); err != nil {
		t.Fatal(err)
	}
	err := New(rt).Activate()
	if !errors.Is(err, spi.FailureDuplicacy.Err()) {
		t.Errorf("second module Activate = %v, want FailureDuplicacy", err)
	}
}

func TestDeactivateRestoresSlot(t *testing.T) {
	rec := &recorder{}
	rt := newRuntime(rec)
	m := New(rt)
	if err := m.Activate(); err != nil {
		t.Fatal(err)
	}
	m.Deactivate()
	if _, ok := rt.Hooks.Lookup(HookName); ok {
		t.Error("hook still registered")
	}

	in := procapi.Params{ApplicationName: "../relative.exe", CurrentDirectory: "kept"}
	rt.Procs.CreateProcess.Load()(in)
	if !reflect.DeepEqual(rec.calls[0], in) {
		t.Errorf("unhooked call was rewritten: %+v", rec.calls[0])
	}
}

func TestFix(t *testing.T) {
	exe, dir := makeGame(t)
	got, err := Fix(procapi.Params{ApplicationName: exe, CommandLine: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if got.ApplicationName != exe || got.CurrentDirectory != dir || got.CommandLine != "x" {
		t.Errorf("Fix = %+v", got)
	}
}
