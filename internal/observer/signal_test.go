package observer

import (
	"slices"
	"testing"

	"github.com/bryanchriswhite/windowobserver/internal/event"
)

func TestSignalsDeduplicated(t *testing.T) {
	got := Signals(event.Empty().With(event.Focused).With(event.Unfocused))
	want := []Signal{
		SignalFocusChanged, SignalAppActivated, SignalAppDeactivated,
		SignalMinimized, SignalRestored, SignalElementDestroyed,
	}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	if got := Signals(event.Empty()); len(got) != 0 {
		t.Errorf("empty filter registers %v", got)
	}
}

func TestSignalsCoverEveryKind(t *testing.T) {
	for _, k := range event.AllKinds() {
		if len(SignalsFor(k)) == 0 {
			t.Errorf("%s has no signals", k)
		}
	}

	all := NewSignalSet(Signals(event.All()))
	for s := SignalWindowCreated; s <= SignalRestored; s++ {
		if !all.Has(s) {
			t.Errorf("%s not reachable from any kind", s)
		}
	}
}

func TestClosedNeedsCreation(t *testing.T) {
	set := NewSignalSet(SignalsFor(event.Closed))
	if !set.Has(SignalElementDestroyed) || !set.Has(SignalWindowCreated) {
		t.Errorf("closed signals = %v", SignalsFor(event.Closed))
	}
}

func TestSignalsForCopies(t *testing.T) {
	s := SignalsFor(event.Hidden)
	s[0] = SignalUnknown
	if SignalsFor(event.Hidden)[0] != SignalMinimized {
		t.Error("SignalsFor exposed the shared table")
	}
}
