package observer

import (
	"slices"

	"github.com/bryanchriswhite/windowobserver/internal/event"
	"github.com/bryanchriswhite/windowobserver/internal/window"
)

// Interpreter turns notifications into events for one session.
//
// All of its state is owned by the delivery goroutine; it is not safe for
// concurrent use. Events produced by one notification are emitted in a fixed
// order, and nothing is reordered across notifications.
type Interpreter struct {
	app    Application
	filter event.Filter
	emit   func(event.Result)

	// focused is the window that last received Focused without a matching
	// Unfocused since.
	focused     window.Handle
	currentIDs  map[window.ID]struct{}
	previousIDs map[window.ID]struct{}
	bounds      map[window.ID]window.Rect
}

// NewInterpreter creates an interpreter for app. emit must not block.
func NewInterpreter(app Application, filter event.Filter, emit func(event.Result)) *Interpreter {
	return &Interpreter{
		app:         app,
		filter:      filter,
		emit:        emit,
		currentIDs:  make(map[window.ID]struct{}),
		previousIDs: make(map[window.ID]struct{}),
		bounds:      make(map[window.ID]window.Rect),
	}
}

// Filter returns the active filter
func (in *Interpreter) Filter() event.Filter {
	return in.filter
}

// SetFilter replaces the filter. Tracking state is kept so that focus and
// closed detection stay correct across filter changes.
func (in *Interpreter) SetFilter(f event.Filter) {
	in.filter = f
}

// Focused returns the tracked focused window, or nil
func (in *Interpreter) Focused() window.Handle {
	return in.focused
}

// Prime seeds the window id snapshot so that windows existing before the
// session started can be reported closed.
func (in *Interpreter) Prime() error {
	if _, ok := in.app.(WindowLister); !ok {
		return nil
	}
	return in.refreshIDs()
}

// Interpret translates one notification. It reports whether the signal was
// recognized. Translation errors are emitted inline; the returned error is
// non-nil only when the session cannot continue.
func (in *Interpreter) Interpret(n Notification) (bool, error) {
	dispatched, err := in.translate(n)
	if err != nil {
		in.emit(event.Result{Err: err})
		if IsSessionEnding(err) {
			return dispatched, err
		}
	}
	return dispatched, nil
}

func (in *Interpreter) translate(n Notification) (bool, error) {
	switch n.Signal {
	case SignalWindowCreated:
		if n.Window == nil {
			return false, nil
		}
		return true, in.onWindowCreated(n.Window)
	case SignalElementDestroyed:
		return true, in.onElementDestroyed()
	case SignalWindowMoved:
		if n.Window == nil {
			return false, nil
		}
		in.dispatch(n.Window, event.Event{Kind: event.Moved})
		return true, nil
	case SignalWindowResized:
		if n.Window == nil {
			return false, nil
		}
		in.dispatch(n.Window, event.Event{Kind: event.Resized})
		return true, nil
	case SignalMoveResize:
		if n.Window == nil {
			return false, nil
		}
		return true, in.onMoveResize(n.Window)
	case SignalAppActivated:
		return true, in.onAppActivated()
	case SignalAppDeactivated:
		return true, in.onAppDeactivated()
	case SignalFocusChanged:
		return true, in.onFocusChanged(n.Window)
	case SignalMinimized:
		if n.Window == nil {
			return false, nil
		}
		in.onMinimized(n.Window)
		return true, nil
	case SignalRestored:
		if n.Window == nil {
			return false, nil
		}
		in.onRestored(n.Window)
		return true, nil
	}
	return false, nil
}

func (in *Interpreter) dispatch(w window.Handle, e event.Event) {
	if !in.filter.ShouldDispatch(e) {
		return
	}
	in.emit(event.Result{Payload: event.Payload{Window: w, Event: e}})
}

func (in *Interpreter) emitKind(w window.Handle, k event.Kind) {
	in.dispatch(w, event.Event{Kind: k})
}

// refreshIDs rotates the snapshot: previous takes the old current
func (in *Interpreter) refreshIDs() error {
	lister, ok := in.app.(WindowLister)
	if !ok {
		return nil
	}
	ids, err := lister.WindowIDs()
	if err != nil {
		return err
	}
	current := make(map[window.ID]struct{}, len(ids))
	for _, id := range ids {
		current[id] = struct{}{}
	}
	in.previousIDs = in.currentIDs
	in.currentIDs = current
	return nil
}

// onWindowCreated counts w as open even when the lister does not report it
// yet, so its later destruction is seen as a close.
func (in *Interpreter) onWindowCreated(w window.Handle) error {
	in.emitKind(w, event.Created)
	if err := in.refreshIDs(); err != nil {
		return err
	}
	if _, ok := in.app.(WindowLister); ok && w != nil {
		in.currentIDs[w.ID()] = struct{}{}
	}
	return nil
}

// onElementDestroyed never touches the destroyed element; it may already be
// invalid. Closed windows are the ids that left the snapshot.
func (in *Interpreter) onElementDestroyed() error {
	if _, ok := in.app.(WindowLister); !ok {
		return nil
	}
	if err := in.refreshIDs(); err != nil {
		return err
	}

	var removed []window.ID
	for id := range in.previousIDs {
		if _, ok := in.currentIDs[id]; !ok {
			removed = append(removed, id)
		}
	}
	slices.Sort(removed)

	for _, id := range removed {
		delete(in.bounds, id)
		if in.focused != nil && in.focused.ID() == id {
			in.focused = nil
		}
		in.dispatch(nil, event.ClosedEvent(id))
	}
	return nil
}

// onMoveResize resolves a signal that stands for both moves and resizes by
// comparing against the last bounds recorded for the window. The first
// observation of a window only records.
func (in *Interpreter) onMoveResize(w window.Handle) error {
	current, err := w.Bounds()
	if err != nil {
		return err
	}
	id := w.ID()
	previous, seen := in.bounds[id]
	in.bounds[id] = current
	if !seen {
		return nil
	}

	if !previous.SamePosition(current) {
		in.emitKind(w, event.Moved)
	}
	if !previous.SameSize(current) {
		in.emitKind(w, event.Resized)
	}
	return nil
}

func (in *Interpreter) onAppActivated() error {
	windows, err := in.app.Windows()
	if err != nil {
		return err
	}
	for _, w := range windows {
		in.emitKind(w, event.Foregrounded)
	}

	focused, err := in.app.FocusedWindow()
	if err != nil {
		return err
	}
	if focused == nil {
		return nil
	}
	// Activation announces the focused window even when it did not change.
	if in.focused != nil && !in.focused.Equal(focused) {
		in.emitKind(in.focused, event.Unfocused)
	}
	in.emitKind(focused, event.Focused)
	in.focused = focused
	return nil
}

// onAppDeactivated emits Unfocused before Backgrounded for the focused
// window, the same order as minimizing it.
func (in *Interpreter) onAppDeactivated() error {
	windows, err := in.app.Windows()
	if err != nil {
		return err
	}
	for _, w := range windows {
		if in.focused != nil && in.focused.Equal(w) {
			in.emitKind(w, event.Unfocused)
			in.focused = nil
		}
		in.emitKind(w, event.Backgrounded)
	}
	if in.focused != nil {
		in.emitKind(in.focused, event.Unfocused)
		in.focused = nil
	}
	return nil
}

func (in *Interpreter) onFocusChanged(w window.Handle) error {
	if w == nil {
		focused, err := in.app.FocusedWindow()
		if err != nil {
			return err
		}
		if focused == nil {
			return nil
		}
		w = focused
	}

	windows, err := in.app.Windows()
	if err != nil {
		return err
	}
	for _, other := range windows {
		if !other.Equal(w) {
			in.emitKind(other, event.Backgrounded)
		}
	}
	in.emitKind(w, event.Foregrounded)
	in.moveFocus(w)
	return nil
}

// moveFocus makes w the tracked focus, unfocusing the previous window first.
// A repeated notification for the tracked window emits nothing.
func (in *Interpreter) moveFocus(w window.Handle) {
	if window.Same(in.focused, w) {
		return
	}
	if in.focused != nil {
		in.emitKind(in.focused, event.Unfocused)
	}
	in.emitKind(w, event.Focused)
	in.focused = w
}

func (in *Interpreter) onMinimized(w window.Handle) {
	in.emitKind(w, event.Hidden)
	if window.Same(in.focused, w) {
		in.emitKind(w, event.Unfocused)
		in.emitKind(w, event.Backgrounded)
		in.focused = nil
	}
}

func (in *Interpreter) onRestored(w window.Handle) {
	in.emitKind(w, event.Showed)
	in.emitKind(w, event.Foregrounded)
	in.moveFocus(w)
}
