//go:build windows

package observer

import "testing"

func TestWin32SlotReuse(t *testing.T) {
	a := &win32Hook{pid: 1}
	s := acquireSlot(a)
	if s.hook != a || s.callback == 0 {
		t.Fatalf("slot not bound: %+v", s)
	}
	releaseSlot(s)
	if s.hook != nil {
		t.Error("released slot still bound")
	}

	b := &win32Hook{pid: 2}
	again := acquireSlot(b)
	defer releaseSlot(again)
	if again != s {
		t.Error("released callback not reused")
	}
	if again.hook != b {
		t.Error("reused slot bound to the old hook")
	}
}

func TestWin32SlotIgnoresEventsWhenFree(t *testing.T) {
	s := acquireSlot(&win32Hook{pid: 1})
	releaseSlot(s)
	// A late callback on a free slot must not reach any hook.
	if r := s.winEventProc(0, eventObjectCreate, 1, 0, 0, 0, 0); r != 0 {
		t.Errorf("winEventProc = %d", r)
	}
}
