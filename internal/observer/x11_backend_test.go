//go:build !windows

package observer

import (
	"errors"
	"slices"
	"testing"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/windowobserver/internal/window"
)

const testRoot xproto.Window = 1

func newTestX11Hook(owned ...xproto.Window) *x11Hook {
	h := &x11Hook{
		x:       &x11Conn{root: testRoot, pid: 42},
		loop:    newChanLoop(),
		owned:   make(map[xproto.Window]bool),
		pending: make(map[xproto.Window]bool),
		hidden:  make(map[xproto.Window]bool),
		signals: NewSignalSet([]Signal{
			SignalWindowCreated, SignalElementDestroyed, SignalMoveResize,
			SignalFocusChanged, SignalAppDeactivated, SignalMinimized, SignalRestored,
		}),
	}
	for _, w := range owned {
		h.owned[w] = true
	}
	return h
}

type notes []Notification

func (n *notes) deliver(note Notification) {
	*n = append(*n, note)
}

func (n notes) signals() []Signal {
	out := make([]Signal, len(n))
	for i, note := range n {
		out[i] = note.Signal
	}
	return out
}

func TestX11ActiveTransition(t *testing.T) {
	owned := map[xproto.Window]bool{10: true, 11: true}
	tests := []struct {
		name     string
		previous xproto.Window
		active   xproto.Window
		want     Signal
		ok       bool
	}{
		{"foreign to owned", 99, 10, SignalFocusChanged, true},
		{"owned to owned", 10, 11, SignalFocusChanged, true},
		{"none to owned", 0, 10, SignalFocusChanged, true},
		{"owned to foreign", 10, 99, SignalAppDeactivated, true},
		{"owned to none", 10, 0, SignalAppDeactivated, true},
		{"foreign to foreign", 98, 99, SignalUnknown, false},
		{"unchanged owned", 10, 10, SignalUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := activeTransition(tt.previous, tt.active, owned)
			if got != tt.want || ok != tt.ok {
				t.Errorf("activeTransition(%d, %d) = %s, %v, want %s, %v", tt.previous, tt.active, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestX11HiddenTransitions(t *testing.T) {
	h := newTestX11Hook(10)
	var got notes

	for _, hidden := range []bool{true, true, false, false, true} {
		h.onHiddenChanged(10, hidden, got.deliver)
	}
	want := []Signal{SignalMinimized, SignalRestored, SignalMinimized}
	if !slices.Equal(got.signals(), want) {
		t.Errorf("got %v, want %v", got.signals(), want)
	}
	for _, n := range got {
		if n.Window == nil || n.Window.ID() != 10 {
			t.Errorf("%s carries window %v, want 10", n.Signal, n.Window)
		}
	}
}

func TestX11HiddenTransitionUnsubscribed(t *testing.T) {
	h := newTestX11Hook(10)
	h.signals = NewSignalSet([]Signal{SignalRestored})
	var got notes

	h.onHiddenChanged(10, true, got.deliver)
	h.onHiddenChanged(10, false, got.deliver)
	if want := []Signal{SignalRestored}; !slices.Equal(got.signals(), want) {
		t.Errorf("got %v, want %v", got.signals(), want)
	}
}

func TestX11TranslateOwnership(t *testing.T) {
	withPIDs(t, map[int32]bool{42: true}, nil)

	tests := []struct {
		name string
		ev   xgb.Event
		want []Signal
	}{
		{"configure owned", xproto.ConfigureNotifyEvent{Window: 10}, []Signal{SignalMoveResize}},
		{"configure foreign", xproto.ConfigureNotifyEvent{Window: 99}, nil},
		{"destroy owned", xproto.DestroyNotifyEvent{Window: 10}, []Signal{SignalElementDestroyed}},
		{"destroy foreign", xproto.DestroyNotifyEvent{Window: 99}, nil},
		{"create below a client", xproto.CreateNotifyEvent{Parent: 10, Window: 20}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestX11Hook(10, 11)
			var got notes
			if err := h.translate(tt.ev, got.deliver); err != nil {
				t.Fatalf("translate: %v", err)
			}
			if !slices.Equal(got.signals(), tt.want) {
				t.Errorf("got %v, want %v", got.signals(), tt.want)
			}
		})
	}
}

func TestX11DestroyForgetsWindow(t *testing.T) {
	withPIDs(t, map[int32]bool{42: true}, nil)
	h := newTestX11Hook(10, 11)
	h.hidden[10] = true
	var got notes

	if err := h.translate(xproto.DestroyNotifyEvent{Window: 10}, got.deliver); err != nil {
		t.Fatalf("translate: %v", err)
	}
	if h.owned[10] || h.hidden[10] {
		t.Error("destroyed window still tracked")
	}
	if len(got) != 1 {
		t.Fatalf("got %v, want one notification", got.signals())
	}
	if got[0].Window != nil {
		t.Error("destroy notification carries the destroyed window")
	}

	// A second destroy for the same window is foreign now.
	if err := h.translate(xproto.DestroyNotifyEvent{Window: 10}, got.deliver); err != nil {
		t.Fatalf("translate: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %v, want one notification", got.signals())
	}
}

func TestX11LastWindowOfExitedProcess(t *testing.T) {
	withPIDs(t, map[int32]bool{}, nil)
	h := newTestX11Hook(10)
	var got notes

	err := h.translate(xproto.DestroyNotifyEvent{Window: 10}, got.deliver)
	if !errors.Is(err, ErrProcessGone) {
		t.Fatalf("translate = %v, want ErrProcessGone", err)
	}
	if want := []Signal{SignalElementDestroyed}; !slices.Equal(got.signals(), want) {
		t.Errorf("got %v, want %v", got.signals(), want)
	}
}

func TestMergeWindowIDs(t *testing.T) {
	clients := []xproto.Window{3, 1}
	owned := map[xproto.Window]bool{1: true, 7: true, 8: false}

	got := mergeWindowIDs(clients, owned)
	slices.Sort(got)
	if want := []window.ID{1, 3, 7}; !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}
