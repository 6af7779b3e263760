//go:build !windows

package observer

import (
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"slices"

	"github.com/bryanchriswhite/windowobserver/internal/logger"
	"github.com/bryanchriswhite/windowobserver/internal/window"
	"github.com/godbus/dbus/v5"
)

const atspiName = "atspi"

// AT-SPI D-Bus constants
const (
	a11yBusService      = "org.a11y.Bus"
	a11yBusPath         = "/org/a11y/bus"
	a11yBusInterface    = "org.a11y.Bus"
	a11yStatusInterface = "org.a11y.Status"

	atspiRegistryService   = "org.a11y.atspi.Registry"
	atspiRegistryPath      = "/org/a11y/atspi/registry"
	atspiRegistryInterface = "org.a11y.atspi.Registry"
	atspiRootPath          = "/org/a11y/atspi/accessible/root"
	atspiAccessible        = "org.a11y.atspi.Accessible"
	atspiComponent         = "org.a11y.atspi.Component"
	atspiWindowEvents      = "org.a11y.atspi.Event.Window"

	dbusService   = "org.freedesktop.DBus"
	dbusInterface = "org.freedesktop.DBus"
)

// AT-SPI roles and states used to recognise top-level windows
const (
	atspiRoleDialog = 16
	atspiRoleFrame  = 23
	atspiRoleWindow = 69

	atspiStateActive = 1

	atspiCoordScreen = 0
)

// atspiNative is the native notification behind a signal
type atspiNative struct {
	member string // member of org.a11y.atspi.Event.Window
	event  string // registry event name
}

// atspiSignals maps signals to AT-SPI window events. AT-SPI reports moves
// and resizes separately, so SignalMoveResize has no native counterpart, and
// application activation is reported per window.
var atspiSignals = map[Signal][]atspiNative{
	SignalWindowCreated:    {{"Create", "window:create"}},
	SignalElementDestroyed: {{"Destroy", "window:destroy"}},
	SignalWindowMoved:      {{"Move", "window:move"}},
	SignalWindowResized:    {{"Resize", "window:resize"}},
	SignalFocusChanged:     {{"Activate", "window:activate"}},
	SignalAppActivated:     {{"Activate", "window:activate"}},
	SignalAppDeactivated:   {{"Deactivate", "window:deactivate"}},
	SignalMinimized:        {{"Minimize", "window:minimize"}},
	SignalRestored:         {{"Restore", "window:restore"}},
}

// atspiMembers maps received members back to the signal they stand for
var atspiMembers = map[string]Signal{
	"Create":     SignalWindowCreated,
	"Destroy":    SignalElementDestroyed,
	"Move":       SignalWindowMoved,
	"Resize":     SignalWindowResized,
	"Activate":   SignalFocusChanged,
	"Deactivate": SignalAppDeactivated,
	"Minimize":   SignalMinimized,
	"Restore":    SignalRestored,
}

// ATSPIBackend observes windows through the AT-SPI accessibility tree on the
// accessibility D-Bus, the notification-based counterpart of the X11 hook.
type ATSPIBackend struct{}

// NewATSPIBackend creates an AT-SPI backend
func NewATSPIBackend() *ATSPIBackend {
	return &ATSPIBackend{}
}

// Name returns the backend name
func (b *ATSPIBackend) Name() string {
	return atspiName
}

// Available reports whether a session bus is reachable
func (b *ATSPIBackend) Available() (bool, string) {
	if os.Getenv("DBUS_SESSION_BUS_ADDRESS") == "" {
		return false, "DBUS_SESSION_BUS_ADDRESS is not set"
	}
	return true, ""
}

// Check verifies the pid and that assistive technologies are enabled
func (b *ATSPIBackend) Check(pid int) error {
	if err := checkPID(pid); err != nil {
		return err
	}

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return &PlatformError{Backend: atspiName, Op: "connect to session bus", Err: err}
	}
	defer conn.Close()

	enabled, err := conn.Object(a11yBusService, a11yBusPath).GetProperty(a11yStatusInterface + ".IsEnabled")
	if err != nil {
		return &PlatformError{Backend: atspiName, Op: "read accessibility status", Err: err}
	}
	if on, ok := enabled.Value().(bool); !ok || !on {
		return fmt.Errorf("%w: AT-SPI is disabled (org.a11y.Status.IsEnabled is false)", ErrPermissionDenied)
	}
	return nil
}

// Open connects to the accessibility bus and locates the application of pid
func (b *ATSPIBackend) Open(pid int) (Hook, Application, error) {
	session, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, nil, &PlatformError{Backend: atspiName, Op: "connect to session bus", Err: err}
	}
	var address string
	err = session.Object(a11yBusService, a11yBusPath).Call(a11yBusInterface+".GetAddress", 0).Store(&address)
	session.Close()
	if err != nil {
		return nil, nil, &PlatformError{Backend: atspiName, Op: "get accessibility bus address", Err: err}
	}

	conn, err := dbus.Connect(address)
	if err != nil {
		return nil, nil, &PlatformError{Backend: atspiName, Op: "connect to accessibility bus", Err: err}
	}

	a := &atspiConn{conn: conn, pid: pid}
	if err := a.locateApplication(); err != nil {
		conn.Close()
		return nil, nil, err
	}

	h := &atspiHook{
		a:          a,
		loop:       newChanLoop(),
		registered: make(map[atspiNative]bool),
	}
	return h, atspiApp{a: a}, nil
}

// atspiRef is an AT-SPI object reference, D-Bus signature (so)
type atspiRef struct {
	Name string
	Path dbus.ObjectPath
}

// atspiConn is the accessibility bus connection of one session
type atspiConn struct {
	conn *dbus.Conn
	pid  int
	app  string // unique bus name of the observed application
}

// locateApplication finds the registered application whose connection
// belongs to pid
func (a *atspiConn) locateApplication() error {
	var apps []atspiRef
	err := a.conn.Object(atspiRegistryService, atspiRootPath).Call(atspiAccessible+".GetChildren", 0).Store(&apps)
	if err != nil {
		return &PlatformError{Backend: atspiName, Op: "list accessible applications", Err: err}
	}

	for _, app := range apps {
		var pid uint32
		err := a.conn.BusObject().Call(dbusInterface+".GetConnectionUnixProcessID", 0, app.Name).Store(&pid)
		if err != nil {
			continue
		}
		if int(pid) == a.pid {
			a.app = app.Name
			return nil
		}
	}
	return fmt.Errorf("%w: process %d exposes no accessible application", ErrNotSupported, a.pid)
}

func (a *atspiConn) object(path dbus.ObjectPath) dbus.BusObject {
	return a.conn.Object(a.app, path)
}

func (a *atspiConn) handle(path dbus.ObjectPath) window.Handle {
	return atspiWindow{a: a, path: path}
}

func (a *atspiConn) role(path dbus.ObjectPath) (uint32, error) {
	var role uint32
	err := a.object(path).Call(atspiAccessible+".GetRole", 0).Store(&role)
	return role, err
}

func (a *atspiConn) active(path dbus.ObjectPath) (bool, error) {
	var states []uint32
	if err := a.object(path).Call(atspiAccessible+".GetState", 0).Store(&states); err != nil {
		return false, err
	}
	return len(states) > 0 && states[0]&(1<<atspiStateActive) != 0, nil
}

// windows lists the top-level frames, windows and dialogs of the application
func (a *atspiConn) windows() ([]dbus.ObjectPath, error) {
	var children []atspiRef
	if err := a.object(atspiRootPath).Call(atspiAccessible+".GetChildren", 0).Store(&children); err != nil {
		return nil, err
	}
	var paths []dbus.ObjectPath
	for _, child := range children {
		role, err := a.role(child.Path)
		if err != nil {
			continue
		}
		if role == atspiRoleFrame || role == atspiRoleWindow || role == atspiRoleDialog {
			paths = append(paths, child.Path)
		}
	}
	return paths, nil
}

// pathID derives a stable id from the object path, which AT-SPI never reuses
// for a live application
func pathID(path dbus.ObjectPath) window.ID {
	h := fnv.New64a()
	h.Write([]byte(path))
	return window.ID(h.Sum64())
}

// atspiWindow is a window handle; equality is the object path on the same
// application connection
type atspiWindow struct {
	a    *atspiConn
	path dbus.ObjectPath
}

func (w atspiWindow) ID() window.ID {
	return pathID(w.path)
}

func (w atspiWindow) Equal(other window.Handle) bool {
	o, ok := other.(atspiWindow)
	return ok && o.a == w.a && o.path == w.path
}

func (w atspiWindow) Title() (string, error) {
	v, err := w.a.object(w.path).GetProperty(atspiAccessible + ".Name")
	if err != nil {
		return "", classifyQueryError(atspiName, "read window name", w.a.pid, err)
	}
	title, _ := v.Value().(string)
	return title, nil
}

func (w atspiWindow) Bounds() (window.Rect, error) {
	var extents struct {
		X, Y, Width, Height int32
	}
	err := w.a.object(w.path).Call(atspiComponent+".GetExtents", 0, uint32(atspiCoordScreen)).Store(&extents)
	if err != nil {
		return window.Rect{}, classifyQueryError(atspiName, "read window extents", w.a.pid, err)
	}
	return window.Rect{
		X:      int(extents.X),
		Y:      int(extents.Y),
		Width:  int(extents.Width),
		Height: int(extents.Height),
	}, nil
}

func (w atspiWindow) Focused() (bool, error) {
	active, err := w.a.active(w.path)
	if err != nil {
		return false, classifyQueryError(atspiName, "read window state", w.a.pid, err)
	}
	return active, nil
}

// atspiApp answers Interpreter queries about the observed application
type atspiApp struct {
	a *atspiConn
}

func (app atspiApp) Windows() ([]window.Handle, error) {
	paths, err := app.a.windows()
	if err != nil {
		return nil, classifyQueryError(atspiName, "list windows", app.a.pid, err)
	}
	handles := make([]window.Handle, len(paths))
	for i, p := range paths {
		handles[i] = app.a.handle(p)
	}
	return handles, nil
}

func (app atspiApp) FocusedWindow() (window.Handle, error) {
	paths, err := app.a.windows()
	if err != nil {
		return nil, classifyQueryError(atspiName, "list windows", app.a.pid, err)
	}
	for _, p := range paths {
		if active, err := app.a.active(p); err == nil && active {
			return app.a.handle(p), nil
		}
	}
	return nil, nil
}

func (app atspiApp) WindowIDs() ([]window.ID, error) {
	paths, err := app.a.windows()
	if err != nil {
		return nil, classifyQueryError(atspiName, "list windows", app.a.pid, err)
	}
	ids := make([]window.ID, len(paths))
	for i, p := range paths {
		ids[i] = pathID(p)
	}
	return ids, nil
}

// atspiHook subscribes to window events of one application. godbus delivers
// signals from its own goroutine; the loop moves them onto the delivery
// goroutine.
type atspiHook struct {
	a          *atspiConn
	loop       *chanLoop
	signals    SignalSet
	registered map[atspiNative]bool
	watching   bool
	ch         chan *dbus.Signal
}

func (h *atspiHook) windowMatch(n atspiNative) []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchSender(h.a.app),
		dbus.WithMatchInterface(atspiWindowEvents),
		dbus.WithMatchMember(n.member),
	}
}

func (h *atspiHook) ownerMatch() []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchSender(dbusService),
		dbus.WithMatchInterface(dbusInterface),
		dbus.WithMatchMember("NameOwnerChanged"),
		dbus.WithMatchArg(0, h.a.app),
	}
}

// Register adds and removes D-Bus matches and registry events so that the
// subscription covers signals exactly. Signals sharing a native event are
// subscribed once.
func (h *atspiHook) Register(signals []Signal) error {
	log := logger.WithComponent("atspi-backend")
	h.signals = NewSignalSet(signals)

	if !h.watching {
		if err := h.a.conn.AddMatchSignal(h.ownerMatch()...); err != nil {
			return &PlatformError{Backend: atspiName, Op: "watch application owner", Err: err}
		}
		h.ch = make(chan *dbus.Signal, 64)
		h.a.conn.Signal(h.ch)
		h.watching = true
	}

	want := make(map[atspiNative]bool)
	for _, s := range signals {
		for _, n := range atspiSignals[s] {
			want[n] = true
		}
	}

	registry := h.a.conn.Object(atspiRegistryService, atspiRegistryPath)
	for n := range h.registered {
		if want[n] {
			continue
		}
		if err := h.a.conn.RemoveMatchSignal(h.windowMatch(n)...); err != nil {
			return &PlatformError{Backend: atspiName, Op: "remove match " + n.event, Err: err}
		}
		if call := registry.Call(atspiRegistryInterface+".DeregisterEvent", 0, n.event); call.Err != nil {
			log.Debug().Str("event", n.event).Err(call.Err).Msg("Registry refused event deregistration")
		}
		delete(h.registered, n)
	}
	for n := range want {
		if h.registered[n] {
			continue
		}
		if err := h.a.conn.AddMatchSignal(h.windowMatch(n)...); err != nil {
			return &PlatformError{Backend: atspiName, Op: "add match " + n.event, Err: err}
		}
		// Toolkits only emit events some listener registered for.
		if call := registry.Call(atspiRegistryInterface+".RegisterEvent", 0, n.event); call.Err != nil {
			log.Debug().Str("event", n.event).Err(call.Err).Msg("Registry refused event registration")
		}
		h.registered[n] = true
	}
	return nil
}

// Run dispatches signals until Quit
func (h *atspiHook) Run(ready func(), deliver func(Notification)) error {
	return runLoop(h.loop, ready, h.ch,
		&PlatformError{Backend: atspiName, Op: "receive signals", Err: errors.New("accessibility bus connection closed")},
		func(sig *dbus.Signal) error {
			return h.translate(sig, deliver)
		})
}

func (h *atspiHook) translate(sig *dbus.Signal, deliver func(Notification)) error {
	if sig == nil {
		return nil
	}

	if sig.Name == dbusInterface+".NameOwnerChanged" {
		// Body: name, old owner, new owner.
		if len(sig.Body) == 3 {
			if name, _ := sig.Body[0].(string); name == h.a.app {
				if owner, _ := sig.Body[2].(string); owner == "" {
					return fmt.Errorf("%w: pid %d left the accessibility bus", ErrProcessGone, h.a.pid)
				}
			}
		}
		return nil
	}

	if sig.Sender != h.a.app {
		return nil
	}
	iface, member := splitMember(sig.Name)
	if iface != atspiWindowEvents {
		return nil
	}
	signal, ok := atspiMembers[member]
	if !ok {
		return nil
	}
	// Activation serves both focus changes and application activation.
	if signal == SignalFocusChanged && !h.signals.Has(SignalFocusChanged) && h.signals.Has(SignalAppActivated) {
		signal = SignalAppActivated
	}
	if !h.signals.Has(signal) {
		return nil
	}

	var w window.Handle
	if signal != SignalElementDestroyed {
		w = h.a.handle(sig.Path)
	}
	deliver(Notification{Signal: signal, Window: w})
	return nil
}

func splitMember(name string) (string, string) {
	i := len(name) - 1
	for i >= 0 && name[i] != '.' {
		i--
	}
	if i < 0 {
		return "", name
	}
	return name[:i], name[i+1:]
}

func (h *atspiHook) Post(fn func()) bool {
	return h.loop.Post(fn)
}

func (h *atspiHook) Quit() {
	h.loop.Quit()
}

// Release drops every registration and closes the accessibility bus
// connection
func (h *atspiHook) Release() error {
	registry := h.a.conn.Object(atspiRegistryService, atspiRegistryPath)
	events := make([]string, 0, len(h.registered))
	for n := range h.registered {
		events = append(events, n.event)
	}
	slices.Sort(events)
	for _, e := range slices.Compact(events) {
		registry.Call(atspiRegistryInterface+".DeregisterEvent", 0, e)
	}
	if h.ch != nil {
		h.a.conn.RemoveSignal(h.ch)
	}
	return h.a.conn.Close()
}
