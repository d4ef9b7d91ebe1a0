package hook

import (
	"errors"
	"sync"
	"testing"
	"unsafe"
)

func TestSlotPatcherRestore(t *testing.T) {
	proc := NewProc[func() int](func() int { return 1 })
	p, err := SlotPatcher{}.Patch(proc.Addr(), Entry(func() int { return 2 }))
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if got := proc.Load()(); got != 2 {
		t.Errorf("patched = %d, want 2", got)
	}
	if got := Func[func() int](p.Original())(); got != 1 {
		t.Errorf("original = %d, want 1", got)
	}
	if err := p.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := proc.Load()(); got != 1 {
		t.Errorf("restored = %d, want 1", got)
	}
	if err := p.Restore(); !errors.Is(err, ErrAlreadyRestored) {
		t.Errorf("second Restore = %v, want ErrAlreadyRestored", err)
	}
}

func TestSlotPatcherEmptySlot(t *testing.T) {
	var slot unsafe.Pointer
	_, err := SlotPatcher{}.Patch(unsafe.Pointer(&slot), Entry(func() {}))
	if !errors.Is(err, ErrEmptySlot) {
		t.Fatalf("Patch = %v, want ErrEmptySlot", err)
	}
	if slot != nil {
		t.Error("empty slot was left patched")
	}
}

func TestProcConcurrentCallsDuringPatch(t *testing.T) {
	proc := NewProc[func(int) int](func(x int) int { return x })
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if got := proc.Load()(3); got != 3 && got != 6 {
					t.Errorf("torn call result %d", got)
					return
				}
			}
		}()
	}
	for i := 0; i < 100; i++ {
		p, err := SlotPatcher{}.Patch(proc.Addr(), Entry(func(x int) int { return x * 2 }))
		if err != nil {
			t.Fatalf("Patch: %v", err)
		}
		if err := p.Restore(); err != nil {
			t.Fatalf("Restore: %v", err)
		}
	}
	close(stop)
	wg.Wait()
}
