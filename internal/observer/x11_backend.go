//go:build !windows

package observer

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/windowobserver/internal/logger"
	"github.com/bryanchriswhite/windowobserver/internal/window"
)

const x11Name = "x11"

// X11Backend observes windows through a global X11 event subscription on the
// root window, filtering by _NET_WM_PID. Moves and resizes arrive as one
// ConfigureNotify and are told apart by the Interpreter.
type X11Backend struct {
	display string
}

// NewX11Backend creates a backend for display ("" means $DISPLAY)
func NewX11Backend(display string) *X11Backend {
	return &X11Backend{display: display}
}

// Name returns the backend name
func (b *X11Backend) Name() string {
	return x11Name
}

// Available reports whether an X display is configured
func (b *X11Backend) Available() (bool, string) {
	if b.display == "" && os.Getenv("DISPLAY") == "" {
		return false, "DISPLAY is not set"
	}
	return true, ""
}

// Check verifies the pid; X11 needs no consent
func (b *X11Backend) Check(pid int) error {
	return checkPID(pid)
}

// Open connects to the X server and prepares the hook
func (b *X11Backend) Open(pid int) (Hook, Application, error) {
	conn, err := xgb.NewConnDisplay(b.display)
	if err != nil {
		return nil, nil, &PlatformError{Backend: x11Name, Op: "connect to X server", Err: err}
	}

	screen := xproto.Setup(conn).DefaultScreen(conn)
	x := &x11Conn{conn: conn, root: screen.Root, pid: pid}
	if err := x.internAtoms(); err != nil {
		conn.Close()
		return nil, nil, err
	}

	h := &x11Hook{
		x:       x,
		loop:    newChanLoop(),
		signals: make(SignalSet),
		owned:   make(map[xproto.Window]bool),
		pending: make(map[xproto.Window]bool),
		hidden:  make(map[xproto.Window]bool),
	}
	return h, x11App{x: x, hook: h}, nil
}

// x11Conn is the connection state shared by the hook, the application and
// every window handle of one session.
type x11Conn struct {
	conn *xgb.Conn
	root xproto.Window
	pid  int

	atomClientList  xproto.Atom
	atomActive      xproto.Atom
	atomPid         xproto.Atom
	atomName        xproto.Atom
	atomWmName      xproto.Atom
	atomState       xproto.Atom
	atomStateHidden xproto.Atom
}

func (x *x11Conn) internAtoms() error {
	for name, dst := range map[string]*xproto.Atom{
		"_NET_CLIENT_LIST":     &x.atomClientList,
		"_NET_ACTIVE_WINDOW":   &x.atomActive,
		"_NET_WM_PID":          &x.atomPid,
		"_NET_WM_NAME":         &x.atomName,
		"WM_NAME":              &x.atomWmName,
		"_NET_WM_STATE":        &x.atomState,
		"_NET_WM_STATE_HIDDEN": &x.atomStateHidden,
	} {
		reply, err := xproto.InternAtom(x.conn, false, uint16(len(name)), name).Reply()
		if err != nil {
			return &PlatformError{Backend: x11Name, Op: "intern atom " + name, Err: err}
		}
		*dst = reply.Atom
	}
	return nil
}

// cardinals reads a 32-bit list property
func (x *x11Conn) cardinals(win xproto.Window, atom xproto.Atom) ([]uint32, error) {
	reply, err := xproto.GetProperty(x.conn, false, win, atom, xproto.GetPropertyTypeAny, 0, (1<<32)-1).Reply()
	if err != nil {
		return nil, err
	}
	if reply.Format != 32 {
		return nil, nil
	}
	values := make([]uint32, 0, len(reply.Value)/4)
	for i := 0; i+4 <= len(reply.Value); i += 4 {
		values = append(values, xgb.Get32(reply.Value[i:]))
	}
	return values, nil
}

// text reads a string property
func (x *x11Conn) text(win xproto.Window, atom xproto.Atom) (string, error) {
	reply, err := xproto.GetProperty(x.conn, false, win, atom, xproto.GetPropertyTypeAny, 0, (1<<32)-1).Reply()
	if err != nil {
		return "", err
	}
	if reply.ValueLen == 0 {
		return "", errors.New("empty property")
	}
	return string(reply.Value), nil
}

func (x *x11Conn) ownerPID(win xproto.Window) (int, error) {
	values, err := x.cardinals(win, x.atomPid)
	if err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, nil
	}
	return int(values[0]), nil
}

func (x *x11Conn) owns(win xproto.Window) bool {
	pid, err := x.ownerPID(win)
	return err == nil && pid == x.pid
}

func (x *x11Conn) activeWindow() (xproto.Window, error) {
	values, err := x.cardinals(x.root, x.atomActive)
	if err != nil || len(values) == 0 {
		return 0, err
	}
	return xproto.Window(values[0]), nil
}

// ownedClients lists the managed windows of the observed process
func (x *x11Conn) ownedClients() ([]xproto.Window, error) {
	clients, err := x.cardinals(x.root, x.atomClientList)
	if err != nil {
		return nil, err
	}
	var owned []xproto.Window
	for _, c := range clients {
		if x.owns(xproto.Window(c)) {
			owned = append(owned, xproto.Window(c))
		}
	}
	return owned, nil
}

func (x *x11Conn) handle(win xproto.Window) window.Handle {
	return x11Window{x: x, id: win}
}

func (x *x11Conn) selectInput(win xproto.Window, mask uint32) error {
	return xproto.ChangeWindowAttributesChecked(x.conn, win, xproto.CwEventMask, []uint32{mask}).Check()
}

// x11Window is a window handle; equality is the XID on the same connection
type x11Window struct {
	x  *x11Conn
	id xproto.Window
}

func (w x11Window) ID() window.ID {
	return window.ID(w.id)
}

func (w x11Window) Equal(other window.Handle) bool {
	o, ok := other.(x11Window)
	return ok && o.x == w.x && o.id == w.id
}

func (w x11Window) Title() (string, error) {
	title, err := w.x.text(w.id, w.x.atomName)
	if err == nil {
		return title, nil
	}
	title, err = w.x.text(w.id, w.x.atomWmName)
	if err != nil {
		return "", classifyQueryError(x11Name, "read window title", w.x.pid, err)
	}
	return title, nil
}

func (w x11Window) Bounds() (window.Rect, error) {
	geom, err := xproto.GetGeometry(w.x.conn, xproto.Drawable(w.id)).Reply()
	if err != nil {
		return window.Rect{}, classifyQueryError(x11Name, "read window geometry", w.x.pid, err)
	}
	// Geometry is relative to the parent, which is a frame under reparenting
	// window managers; translate the origin to root coordinates.
	pos, err := xproto.TranslateCoordinates(w.x.conn, w.id, w.x.root, 0, 0).Reply()
	if err != nil {
		return window.Rect{}, classifyQueryError(x11Name, "translate window coordinates", w.x.pid, err)
	}
	return window.Rect{
		X:      int(pos.DstX),
		Y:      int(pos.DstY),
		Width:  int(geom.Width),
		Height: int(geom.Height),
	}, nil
}

func (w x11Window) Focused() (bool, error) {
	active, err := w.x.activeWindow()
	if err != nil {
		return false, classifyQueryError(x11Name, "read active window", w.x.pid, err)
	}
	return active == w.id, nil
}

// x11App answers Interpreter queries about the observed process. It runs on
// the delivery goroutine, like the hook it reads ownership from.
type x11App struct {
	x    *x11Conn
	hook *x11Hook
}

func (a x11App) Windows() ([]window.Handle, error) {
	clients, err := a.x.ownedClients()
	if err != nil {
		return nil, classifyQueryError(x11Name, "list client windows", a.x.pid, err)
	}
	handles := make([]window.Handle, len(clients))
	for i, c := range clients {
		handles[i] = a.x.handle(c)
	}
	return handles, nil
}

func (a x11App) FocusedWindow() (window.Handle, error) {
	active, err := a.x.activeWindow()
	if err != nil {
		return nil, classifyQueryError(x11Name, "read active window", a.x.pid, err)
	}
	if active == 0 || !a.x.owns(active) {
		return nil, nil
	}
	return a.x.handle(active), nil
}

// WindowIDs adds the windows the hook adopted to the managed client list.
// A window is adopted at creation, before the window manager lists it.
func (a x11App) WindowIDs() ([]window.ID, error) {
	clients, err := a.x.ownedClients()
	if err != nil {
		return nil, classifyQueryError(x11Name, "list client windows", a.x.pid, err)
	}
	return mergeWindowIDs(clients, a.hook.owned), nil
}

func mergeWindowIDs(clients []xproto.Window, owned map[xproto.Window]bool) []window.ID {
	seen := make(map[xproto.Window]bool, len(clients)+len(owned))
	ids := make([]window.ID, 0, len(clients)+len(owned))
	for _, c := range clients {
		if !seen[c] {
			seen[c] = true
			ids = append(ids, window.ID(c))
		}
	}
	for w, ok := range owned {
		if ok && !seen[w] {
			seen[w] = true
			ids = append(ids, window.ID(w))
		}
	}
	return ids
}

const (
	x11RootMask   = xproto.EventMaskSubstructureNotify | xproto.EventMaskPropertyChange
	x11ClientMask = xproto.EventMaskStructureNotify | xproto.EventMaskPropertyChange
)

// x11Hook turns X events into notifications. xgb reads events on its own
// goroutine; they are forwarded to the delivery goroutine through the loop.
type x11Hook struct {
	x       *x11Conn
	loop    *chanLoop
	signals SignalSet

	// Delivery goroutine state.
	selected bool
	owned    map[xproto.Window]bool
	pending  map[xproto.Window]bool
	hidden   map[xproto.Window]bool
	active   xproto.Window
}

// Register selects root and client events while any signal is wanted. X11
// has no per-notification subscription; unwanted signals are dropped before
// delivery.
func (h *x11Hook) Register(signals []Signal) error {
	h.signals = NewSignalSet(signals)
	want := len(signals) > 0
	if want == h.selected {
		return nil
	}

	var rootMask, clientMask uint32
	if want {
		rootMask, clientMask = x11RootMask, x11ClientMask
	}
	if err := h.x.selectInput(h.x.root, rootMask); err != nil {
		return &PlatformError{Backend: x11Name, Op: "select root events", Err: err}
	}

	clients, err := h.x.ownedClients()
	if err != nil {
		return &PlatformError{Backend: x11Name, Op: "list client windows", Err: err}
	}
	for _, c := range clients {
		if err := h.x.selectInput(c, clientMask); err != nil {
			logger.WithComponent("x11-backend").Debug().Uint32("winID", uint32(c)).Err(err).Msg("Failed to select client events")
			continue
		}
		h.owned[c] = true
		h.hidden[c] = h.isHidden(c)
	}
	if active, err := h.x.activeWindow(); err == nil {
		h.active = active
	}
	h.selected = want
	return nil
}

// Run reads X events until Quit
func (h *x11Hook) Run(ready func(), deliver func(Notification)) error {
	events := make(chan xgb.Event, 64)
	go h.read(events)

	return runLoop(h.loop, ready, events,
		&PlatformError{Backend: x11Name, Op: "read events", Err: errors.New("X connection closed")},
		func(ev xgb.Event) error {
			return h.translate(ev, deliver)
		})
}

func (h *x11Hook) read(events chan<- xgb.Event) {
	log := logger.WithComponent("x11-backend")
	defer close(events)

	for {
		ev, xerr := h.x.conn.WaitForEvent()
		if ev == nil && xerr == nil {
			return
		}
		if xerr != nil {
			// Errors of unchecked requests, usually a window gone mid-query.
			log.Debug().Str("error", xerr.Error()).Msg("X11 error event")
			continue
		}
		select {
		case events <- ev:
		case <-h.loop.exited:
			return
		}
	}
}

func (h *x11Hook) Post(fn func()) bool {
	return h.loop.Post(fn)
}

func (h *x11Hook) Quit() {
	h.loop.Quit()
}

// Release closes the connection, which also ends the reader goroutine
func (h *x11Hook) Release() error {
	h.x.conn.Close()
	return nil
}

func (h *x11Hook) send(deliver func(Notification), s Signal, w window.Handle) {
	if h.signals.Has(s) {
		deliver(Notification{Signal: s, Window: w})
	}
}

func (h *x11Hook) adopt(win xproto.Window) {
	if err := h.x.selectInput(win, x11ClientMask); err != nil {
		logger.WithComponent("x11-backend").Debug().Uint32("winID", uint32(win)).Err(err).Msg("Failed to select client events")
	}
	h.owned[win] = true
	h.hidden[win] = false
}

func (h *x11Hook) isHidden(win xproto.Window) bool {
	states, err := h.x.cardinals(win, h.x.atomState)
	return err == nil && slices.Contains(states, uint32(h.x.atomStateHidden))
}

func (h *x11Hook) translate(ev xgb.Event, deliver func(Notification)) error {
	switch e := ev.(type) {
	case xproto.CreateNotifyEvent:
		if e.Parent != h.x.root || h.owned[e.Window] {
			return nil
		}
		if h.x.owns(e.Window) {
			h.adopt(e.Window)
			h.send(deliver, SignalWindowCreated, h.x.handle(e.Window))
			return nil
		}
		// _NET_WM_PID is usually set after creation; watch for it.
		if err := h.x.selectInput(e.Window, xproto.EventMaskPropertyChange|xproto.EventMaskStructureNotify); err == nil {
			h.pending[e.Window] = true
		}

	case xproto.PropertyNotifyEvent:
		switch {
		case e.Window == h.x.root && e.Atom == h.x.atomActive:
			h.onActiveChanged(deliver)
		case e.Atom == h.x.atomPid && h.pending[e.Window]:
			delete(h.pending, e.Window)
			if h.x.owns(e.Window) {
				h.adopt(e.Window)
				h.send(deliver, SignalWindowCreated, h.x.handle(e.Window))
			}
		case e.Atom == h.x.atomState && h.owned[e.Window]:
			h.onHiddenChanged(e.Window, h.isHidden(e.Window), deliver)
		}

	case xproto.ConfigureNotifyEvent:
		if h.owned[e.Window] {
			h.send(deliver, SignalMoveResize, h.x.handle(e.Window))
		}

	case xproto.DestroyNotifyEvent:
		delete(h.pending, e.Window)
		if !h.owned[e.Window] {
			return nil
		}
		delete(h.owned, e.Window)
		delete(h.hidden, e.Window)
		h.send(deliver, SignalElementDestroyed, nil)

		if len(h.owned) == 0 {
			if exists, err := pidExists(int32(h.x.pid)); err == nil && !exists {
				return fmt.Errorf("%w: pid %d", ErrProcessGone, h.x.pid)
			}
		}
	}
	return nil
}

// onActiveChanged maps _NET_ACTIVE_WINDOW changes: activation of an owned
// window is a focus change, activation moving away from the process is a
// deactivation.
func (h *x11Hook) onActiveChanged(deliver func(Notification)) {
	active, err := h.x.activeWindow()
	if err != nil {
		return
	}
	previous := h.active
	h.active = active
	if signal, ok := activeTransition(previous, active, h.owned); ok {
		var w window.Handle
		if signal == SignalFocusChanged {
			w = h.x.handle(active)
		}
		h.send(deliver, signal, w)
	}
}

// activeTransition maps the active window moving from previous to active
func activeTransition(previous, active xproto.Window, owned map[xproto.Window]bool) (Signal, bool) {
	switch {
	case active == previous:
		return SignalUnknown, false
	case owned[active]:
		return SignalFocusChanged, true
	case owned[previous]:
		return SignalAppDeactivated, true
	}
	return SignalUnknown, false
}

// onHiddenChanged reports minimize and restore once per transition
func (h *x11Hook) onHiddenChanged(win xproto.Window, hidden bool, deliver func(Notification)) {
	if hidden == h.hidden[win] {
		return
	}
	h.hidden[win] = hidden
	if hidden {
		h.send(deliver, SignalMinimized, h.x.handle(win))
	} else {
		h.send(deliver, SignalRestored, h.x.handle(win))
	}
}
