//go:build unix

package launcher

import (
	"os/exec"
	"testing"

	"github.com/mbeema/asihost/pkg/procapi"
)

func TestWaitForChild(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	rt := newRuntime(procapi.CreateProcess)
	exited := false
	rt.Exit = func(int) { exited = true }

	plan := Plan{
		ExePath:     sh,
		CommandLine: procapi.ComposeCommandLine([]string{"sh", "-c", "exit 3"}),
		WorkDir:     t.TempDir(),
		Wait:        true,
	}
	m := New(rt, staticPlanner{plan: plan, ok: true})
	if err := m.Activate(); err != nil {
		t.Fatal(err)
	}
	wait(t, m)

	if exited {
		t.Error("waiting launch must not terminate the host")
	}
	if rt.Stats.ProcessLaunches.Load() != 1 {
		t.Errorf("ProcessLaunches = %d", rt.Stats.ProcessLaunches.Load())
	}
}
