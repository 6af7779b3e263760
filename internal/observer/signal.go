package observer

import (
	"fmt"

	"github.com/bryanchriswhite/windowobserver/internal/event"
	"github.com/bryanchriswhite/windowobserver/internal/window"
)

// Signal is the abstract class of a native notification. Backends translate
// their native vocabulary into signals; the Interpreter translates signals
// into events.
type Signal uint8

const (
	SignalUnknown Signal = iota
	SignalWindowCreated
	SignalElementDestroyed
	SignalWindowMoved
	SignalWindowResized
	SignalMoveResize
	SignalAppActivated
	SignalAppDeactivated
	SignalFocusChanged
	SignalMinimized
	SignalRestored
)

var signalNames = map[Signal]string{
	SignalUnknown:          "unknown",
	SignalWindowCreated:    "window-created",
	SignalElementDestroyed: "element-destroyed",
	SignalWindowMoved:      "window-moved",
	SignalWindowResized:    "window-resized",
	SignalMoveResize:       "move-resize",
	SignalAppActivated:     "app-activated",
	SignalAppDeactivated:   "app-deactivated",
	SignalFocusChanged:     "focus-changed",
	SignalMinimized:        "minimized",
	SignalRestored:         "restored",
}

func (s Signal) String() string {
	if name, ok := signalNames[s]; ok {
		return name
	}
	return fmt.Sprintf("signal(%d)", uint8(s))
}

// Notification is one native notification after backend translation. Window
// is nil for process-wide signals and for destroyed elements that can no
// longer be addressed.
type Notification struct {
	Signal Signal
	Window window.Handle
}

// kindSignals is the static mapping from filter flags to the signals that can
// produce events of that kind. Several kinds share signals; backends register
// each signal once and the Interpreter filters at the event level.
var kindSignals = map[event.Kind][]Signal{
	event.Focused: {
		SignalFocusChanged, SignalAppActivated, SignalAppDeactivated,
		SignalMinimized, SignalRestored, SignalElementDestroyed,
	},
	event.Unfocused: {
		SignalFocusChanged, SignalAppActivated, SignalAppDeactivated,
		SignalMinimized, SignalRestored, SignalElementDestroyed,
	},
	event.Foregrounded: {SignalAppActivated, SignalFocusChanged, SignalRestored},
	event.Backgrounded: {SignalAppDeactivated, SignalFocusChanged, SignalMinimized},
	event.Hidden:       {SignalMinimized},
	event.Showed:       {SignalRestored},
	event.Moved:        {SignalWindowMoved, SignalMoveResize},
	event.Resized:      {SignalWindowResized, SignalMoveResize},
	event.Created:      {SignalWindowCreated},
	event.Closed:       {SignalElementDestroyed, SignalWindowCreated},
}

// SignalsFor returns the signals needed to observe kind k
func SignalsFor(k event.Kind) []Signal {
	return append([]Signal(nil), kindSignals[k]...)
}

// SignalSet is a set of signals
type SignalSet map[Signal]struct{}

// Has reports whether s is in the set
func (set SignalSet) Has(s Signal) bool {
	_, ok := set[s]
	return ok
}

// Signals returns the deduplicated signals implied by f, in first-seen order
// over the kinds of f.
func Signals(f event.Filter) []Signal {
	seen := make(SignalSet)
	var out []Signal
	for _, k := range f.Kinds() {
		for _, s := range kindSignals[k] {
			if seen.Has(s) {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// NewSignalSet builds a set from signals
func NewSignalSet(signals []Signal) SignalSet {
	set := make(SignalSet, len(signals))
	for _, s := range signals {
		set[s] = struct{}{}
	}
	return set
}
