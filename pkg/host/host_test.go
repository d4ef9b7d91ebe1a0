package host

import (
	"errors"
	"reflect"
	"testing"

	"github.com/mbeema/asihost/pkg/health"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type fakeModule struct {
	name        string
	activateErr error
	panics      bool
	log         *[]string
}

func (m *fakeModule) Name() string { return m.name }

func (m *fakeModule) Activate() error {
	*m.log = append(*m.log, "activate "+m.name)
	if m.panics {
		panic("boom")
	}
	return m.activateErr
}

func (m *fakeModule) Deactivate() {
	*m.log = append(*m.log, "deactivate "+m.name)
}

func TestActivateOrderAndReverseDeactivate(t *testing.T) {
	var log []string
	stats := health.NewStats()
	h := New(zap.NewNop(), stats)
	for _, n := range []string{"a", "b", "c"} {
		if err := h.Add(&fakeModule{name: n, log: &log}, Policy{}); err != nil {
			t.Fatal(err)
		}
	}

	if err := h.Activate(); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if stats.ModulesActive.Load() != 3 {
		t.Errorf("ModulesActive = %d", stats.ModulesActive.Load())
	}
	h.Deactivate()

	want := []string{"activate a", "activate b", "activate c", "deactivate c", "deactivate b", "deactivate a"}
	if !reflect.DeepEqual(log, want) {
		t.Errorf("call order = %v, want %v", log, want)
	}
	if stats.ModulesActive.Load() != 0 {
		t.Errorf("ModulesActive after deactivate = %d", stats.ModulesActive.Load())
	}
}

func TestOptionalFailureContinues(t *testing.T) {
	var log []string
	h := New(zap.NewNop(), nil)
	h.Add(&fakeModule{name: "a", log: &log}, Policy{})
	h.Add(&fakeModule{name: "b", activateErr: errors.New("no launcher config"), log: &log}, Policy{})
	h.Add(&fakeModule{name: "c", log: &log}, Policy{})

	err := h.Activate()
	if err == nil {
		t.Fatal("expected the optional failure to be reported")
	}
	if Aborted(err) {
		t.Error("optional failure must not abort")
	}
	var ae *ActivationError
	if !errors.As(err, &ae) || ae.Module != "b" {
		t.Errorf("errors.As = %+v", ae)
	}

	states := h.States()
	if states[0].State != Active || states[1].State != Inactive || states[2].State != Active {
		t.Errorf("states = %+v", states)
	}
	if states[1].Error == "" {
		t.Error("failure not recorded")
	}

	h.Deactivate()
	want := []string{"activate a", "activate b", "activate c", "deactivate c", "deactivate a"}
	if !reflect.DeepEqual(log, want) {
		t.Errorf("call order = %v, want %v", log, want)
	}
}

func TestRequiredFailureAborts(t *testing.T) {
	var log []string
	h := New(zap.NewNop(), nil)
	h.Add(&fakeModule{name: "a", log: &log}, Policy{})
	h.Add(&fakeModule{name: "b", log: &log}, Policy{})
	h.Add(&fakeModule{name: "fix", activateErr: errors.New("hook failed"), log: &log}, Policy{Required: true})
	h.Add(&fakeModule{name: "d", log: &log}, Policy{})

	err := h.Activate()
	if !Aborted(err) {
		t.Fatalf("Aborted(%v) = false", err)
	}

	want := []string{"activate a", "activate b", "activate fix", "deactivate b", "deactivate a"}
	if !reflect.DeepEqual(log, want) {
		t.Errorf("call order = %v, want %v", log, want)
	}
	for _, st := range h.States() {
		if st.State != Inactive {
			t.Errorf("%s state = %v, want inactive", st.Name, st.State)
		}
	}

	// Nothing is deactivated twice.
	h.Deactivate()
	if len(log) != len(want) {
		t.Errorf("second Deactivate produced calls: %v", log[len(want):])
	}
}

func TestRequiredFailureAfterOptionalFailure(t *testing.T) {
	var log []string
	h := New(zap.NewNop(), nil)
	h.Add(&fakeModule{name: "opt", activateErr: errors.New("x"), log: &log}, Policy{})
	h.Add(&fakeModule{name: "req", activateErr: errors.New("y"), log: &log}, Policy{Required: true})

	err := h.Activate()
	if len(multierr.Errors(err)) != 2 {
		t.Errorf("errors = %v, want both failures", err)
	}
	if !Aborted(err) {
		t.Error("expected abort")
	}
}

func TestPanickingModuleIsAFailure(t *testing.T) {
	var log []string
	stats := health.NewStats()
	h := New(zap.NewNop(), stats)
	h.Add(&fakeModule{name: "p", panics: true, log: &log}, Policy{})
	h.Add(&fakeModule{name: "q", log: &log}, Policy{})

	if err := h.Activate(); err == nil {
		t.Fatal("expected an error from the panicking module")
	}
	if stats.ModuleFailures.Load() != 1 {
		t.Errorf("ModuleFailures = %d", stats.ModuleFailures.Load())
	}
	if h.States()[1].State != Active {
		t.Error("module after the panic should still activate")
	}
}

func TestActivateTwice(t *testing.T) {
	var log []string
	h := New(zap.NewNop(), nil)
	h.Add(&fakeModule{name: "a", log: &log}, Policy{})
	if err := h.Activate(); err != nil {
		t.Fatal(err)
	}
	if err := h.Activate(); !errors.Is(err, ErrAlreadyActivated) {
		t.Errorf("second Activate = %v, want ErrAlreadyActivated", err)
	}
	if err := h.Add(&fakeModule{name: "late", log: &log}, Policy{}); !errors.Is(err, ErrAlreadyActivated) {
		t.Errorf("Add after Activate = %v", err)
	}

	h.Deactivate()
	if err := h.Activate(); !errors.Is(err, ErrAlreadyActivated) {
		t.Error("a deactivated host must not be re-activated")
	}
	if len(log) != 2 {
		t.Errorf("calls = %v", log)
	}
}

func TestAddDuplicateName(t *testing.T) {
	var log []string
	h := New(zap.NewNop(), nil)
	h.Add(&fakeModule{name: "a", log: &log}, Policy{})
	if err := h.Add(&fakeModule{name: "a", log: &log}, Policy{}); !errors.Is(err, ErrDuplicateModule) {
		t.Errorf("Add = %v, want ErrDuplicateModule", err)
	}
}

func TestDeactivateBeforeActivate(t *testing.T) {
	var log []string
	h := New(zap.NewNop(), nil)
	h.Add(&fakeModule{name: "a", log: &log}, Policy{})
	h.Deactivate()
	if len(log) != 0 {
		t.Errorf("calls = %v", log)
	}
	if h.States()[0].State != Inactive {
		t.Error("never-activated module should end inactive")
	}
}
