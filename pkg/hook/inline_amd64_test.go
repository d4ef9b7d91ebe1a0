//go:build amd64 && (linux || darwin || freebsd || windows)

package hook

import (
	"errors"
	"strings"
	"testing"

	"github.com/mbeema/asihost/pkg/health"
	"github.com/mbeema/asihost/pkg/spi"
	"go.uber.org/zap"
)

//go:noinline
func greeting(name string) string { return "hello " + name }

var greetingOriginal func(string) string

func shoutGreeting(name string) string { return strings.ToUpper(greetingOriginal(name)) }

//go:noinline
func mix(a, b int) int { return (a*31 ^ b) + (b*17 ^ a) - a>>3 }

var mixOriginal func(a, b int) int

func mixPlusOne(a, b int) int { return mixOriginal(a, b) + 1 }

func newInlineManager() (*Manager, *health.Stats) {
	stats := health.NewStats()
	return NewManager(&InlinePatcher{}, stats, zap.NewNop()), stats
}

func TestInlineHookGoFunction(t *testing.T) {
	m, stats := newInlineManager()

	orig, r := m.Install("test.greeting", CodeAddr(greeting), CodeAddr(shoutGreeting))
	if r != spi.Success {
		t.Fatalf("Install = %v, want Success", r)
	}
	greetingOriginal = CodeFunc[func(string) string](orig)

	if got := greeting("x"); got != "HELLO X" {
		t.Errorf("hooked call = %q, want %q", got, "HELLO X")
	}
	if got := greetingOriginal("y"); got != "hello y" {
		t.Errorf("trampoline call = %q, want %q", got, "hello y")
	}
	rec, ok := m.Lookup("test.greeting")
	if !ok || rec.Method != "inline" || rec.Original != orig {
		t.Errorf("record = %+v, %v", rec, ok)
	}

	if r := m.Uninstall("test.greeting"); r != spi.Success {
		t.Fatalf("Uninstall = %v", r)
	}
	if got := greeting("x"); got != "hello x" {
		t.Errorf("unhooked call = %q, want %q", got, "hello x")
	}
	if stats.HookInstalls.Load() != 1 || stats.HookFailures.Load() != 0 {
		t.Errorf("installs=%d failures=%d", stats.HookInstalls.Load(), stats.HookFailures.Load())
	}
}

func TestInlineHookReinstall(t *testing.T) {
	m, _ := newInlineManager()
	for i := 0; i < 3; i++ {
		orig, r := m.Install("test.greeting", CodeAddr(greeting), CodeAddr(shoutGreeting))
		if r != spi.Success {
			t.Fatalf("Install %d = %v", i, r)
		}
		greetingOriginal = CodeFunc[func(string) string](orig)
		if got := greeting("again"); got != "HELLO AGAIN" {
			t.Errorf("round %d hooked call = %q", i, got)
		}
		if r := m.Uninstall("test.greeting"); r != spi.Success {
			t.Fatalf("Uninstall %d = %v", i, r)
		}
		if got := greeting("again"); got != "hello again" {
			t.Errorf("round %d unhooked call = %q", i, got)
		}
	}
}

func TestInlineHookLeafFunction(t *testing.T) {
	want := mix(7, 5)
	p := &InlinePatcher{}
	patch, err := p.Patch(CodeAddr(mix), CodeAddr(mixPlusOne))
	if errors.Is(err, ErrPrologueTooShort) || errors.Is(err, ErrNotRelocatable) {
		t.Skipf("compiled body of mix cannot be patched here: %v", err)
	}
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	mixOriginal = CodeFunc[func(int, int) int](patch.Original())

	if got := mix(7, 5); got != want+1 {
		t.Errorf("hooked mix = %d, want %d", got, want+1)
	}
	if got := mixOriginal(7, 5); got != want {
		t.Errorf("trampoline mix = %d, want %d", got, want)
	}

	if err := patch.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := mix(7, 5); got != want {
		t.Errorf("restored mix = %d, want %d", got, want)
	}
	if err := patch.Restore(); !errors.Is(err, ErrAlreadyRestored) {
		t.Errorf("second Restore = %v, want ErrAlreadyRestored", err)
	}
}
