//go:build windows

package observer

import (
	"errors"
	"fmt"
	"sync"
	"syscall"
	"unsafe"

	"github.com/bryanchriswhite/windowobserver/internal/window"
	"golang.org/x/sys/windows"
)

const win32Name = "win32"

var (
	user32 = windows.NewLazySystemDLL("user32.dll")

	procSetWinEventHook      = user32.NewProc("SetWinEventHook")
	procUnhookWinEvent       = user32.NewProc("UnhookWinEvent")
	procGetMessageW          = user32.NewProc("GetMessageW")
	procPeekMessageW         = user32.NewProc("PeekMessageW")
	procPostThreadMessageW   = user32.NewProc("PostThreadMessageW")
	procEnumWindows          = user32.NewProc("EnumWindows")
	procGetAncestor          = user32.NewProc("GetAncestor")
	procGetWindowRect        = user32.NewProc("GetWindowRect")
	procGetWindowTextW       = user32.NewProc("GetWindowTextW")
	procGetWindowTextLengthW = user32.NewProc("GetWindowTextLengthW")
)

// WinEvent constants
const (
	eventSystemForeground     = 0x0003
	eventSystemMinimizeStart  = 0x0016
	eventSystemMinimizeEnd    = 0x0017
	eventObjectCreate         = 0x8000
	eventObjectDestroy        = 0x8001
	eventObjectLocationChange = 0x800B

	wineventOutOfContext = 0x0000

	objidWindow = 0
	childidSelf = 0
	gaRoot      = 2
	pmNoRemove  = 0x0000
	wmQuit      = 0x0012
	wmApp       = 0x8000
	wmPost      = wmApp + 1
	wmFail      = wmApp + 2
)

// win32Native is a WinEvent id and whether it must be hooked globally.
// Foreground changes to another process are only seen by a global hook.
type win32Native struct {
	event  uint32
	global bool
}

var win32Signals = map[Signal][]win32Native{
	SignalWindowCreated:    {{eventObjectCreate, false}},
	SignalElementDestroyed: {{eventObjectDestroy, false}},
	SignalMoveResize:       {{eventObjectLocationChange, false}},
	SignalFocusChanged:     {{eventSystemForeground, true}},
	SignalAppActivated:     {{eventSystemForeground, true}},
	SignalAppDeactivated:   {{eventSystemForeground, true}},
	SignalMinimized:        {{eventSystemMinimizeStart, false}},
	SignalRestored:         {{eventSystemMinimizeEnd, false}},
}

// Win32Backend observes windows through out-of-context WinEvent hooks,
// delivered to the message loop of the thread that installed them.
//
// Each open session holds one WinEvent callback. The runtime never frees
// callbacks and allows about 2000 of them, so released callbacks are reused
// and the limit applies to concurrently open sessions only.
type Win32Backend struct{}

// NewWin32Backend creates a Win32 backend
func NewWin32Backend() *Win32Backend {
	return &Win32Backend{}
}

// Name returns the backend name
func (b *Win32Backend) Name() string {
	return win32Name
}

// Available reports whether user32 can be loaded
func (b *Win32Backend) Available() (bool, string) {
	if err := user32.Load(); err != nil {
		return false, err.Error()
	}
	return true, ""
}

// Check verifies the pid; WinEvent hooks need no consent
func (b *Win32Backend) Check(pid int) error {
	return checkPID(pid)
}

// Open creates the thread message queue the hooks deliver to
func (b *Win32Backend) Open(pid int) (Hook, Application, error) {
	var msg win32Msg
	// The first PeekMessage gives the thread a message queue, so posts made
	// before Run are not lost.
	procPeekMessageW.Call(uintptr(unsafe.Pointer(&msg)), 0, 0, 0, pmNoRemove)

	h := &win32Hook{
		pid:     pid,
		tid:     windows.GetCurrentThreadId(),
		signals: make(SignalSet),
		hooks:   make(map[win32Native]uintptr),
	}
	// Out-of-context callbacks run on this thread inside GetMessage, so the
	// callback only touches this hook.
	h.slot = acquireSlot(h)
	return h, win32App{pid: pid}, nil
}

type win32Msg struct {
	hwnd    windows.HWND
	message uint32
	wParam  uintptr
	lParam  uintptr
	time    uint32
	pt      struct{ x, y int32 }
}

// errno extracts the Win32 error code for PlatformError
func errno(err error) int64 {
	var e syscall.Errno
	if errors.As(err, &e) {
		return int64(e)
	}
	return 0
}

// win32Slot is a WinEvent callback bound to at most one hook at a time
type win32Slot struct {
	hook     *win32Hook
	callback uintptr
}

var (
	slotMu    sync.Mutex
	freeSlots []*win32Slot
)

func acquireSlot(h *win32Hook) *win32Slot {
	slotMu.Lock()
	defer slotMu.Unlock()

	var s *win32Slot
	if n := len(freeSlots); n > 0 {
		s = freeSlots[n-1]
		freeSlots = freeSlots[:n-1]
	} else {
		s = &win32Slot{}
		s.callback = windows.NewCallback(s.winEventProc)
	}
	s.hook = h
	return s
}

// releaseSlot must only run after every hook using the slot is removed
func releaseSlot(s *win32Slot) {
	slotMu.Lock()
	defer slotMu.Unlock()
	s.hook = nil
	freeSlots = append(freeSlots, s)
}

func (s *win32Slot) winEventProc(hook, ev, hwnd, idObject, idChild, thread, ms uintptr) uintptr {
	if h := s.hook; h != nil {
		h.onWinEvent(uint32(ev), windows.HWND(hwnd), int32(idObject), int32(idChild))
	}
	return 0
}

func isTopLevel(hwnd windows.HWND) bool {
	root, _, _ := procGetAncestor.Call(uintptr(hwnd), gaRoot)
	return windows.HWND(root) == hwnd
}

func windowPID(hwnd windows.HWND) int {
	var pid uint32
	if _, err := windows.GetWindowThreadProcessId(hwnd, &pid); err != nil {
		return 0
	}
	return int(pid)
}

// enumerate collects the top-level windows of pid. Windows that were
// created but not shown yet are only included when hidden is set.
var (
	enumMu       sync.Mutex
	enumPID      int
	enumHidden   bool
	enumFound    []windows.HWND
	enumCallback = windows.NewCallback(func(hwnd, _ uintptr) uintptr {
		h := windows.HWND(hwnd)
		if windowPID(h) == enumPID && (enumHidden || windows.IsWindowVisible(h)) {
			enumFound = append(enumFound, h)
		}
		return 1
	})
)

func enumerate(pid int, hidden bool) ([]windows.HWND, error) {
	enumMu.Lock()
	defer enumMu.Unlock()

	enumPID = pid
	enumHidden = hidden
	enumFound = nil
	r, _, err := procEnumWindows.Call(enumCallback, 0)
	if r == 0 {
		return nil, &PlatformError{Backend: win32Name, Op: "EnumWindows", Code: errno(err), Err: err}
	}
	return enumFound, nil
}

// win32Window is a window handle; HWNDs are unique while the window lives
type win32Window struct {
	pid  int
	hwnd windows.HWND
}

func (w win32Window) ID() window.ID {
	return window.ID(w.hwnd)
}

func (w win32Window) Equal(other window.Handle) bool {
	o, ok := other.(win32Window)
	return ok && o.hwnd == w.hwnd
}

func (w win32Window) Title() (string, error) {
	n, _, _ := procGetWindowTextLengthW.Call(uintptr(w.hwnd))
	if n == 0 {
		return "", nil
	}
	buf := make([]uint16, n+1)
	r, _, err := procGetWindowTextW.Call(uintptr(w.hwnd), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	if r == 0 {
		return "", classifyQueryError(win32Name, "GetWindowText", w.pid, err)
	}
	return windows.UTF16ToString(buf), nil
}

func (w win32Window) Bounds() (window.Rect, error) {
	var r windows.Rect
	ok, _, err := procGetWindowRect.Call(uintptr(w.hwnd), uintptr(unsafe.Pointer(&r)))
	if ok == 0 {
		return window.Rect{}, classifyQueryError(win32Name, "GetWindowRect", w.pid, err)
	}
	return window.Rect{
		X:      int(r.Left),
		Y:      int(r.Top),
		Width:  int(r.Right - r.Left),
		Height: int(r.Bottom - r.Top),
	}, nil
}

func (w win32Window) Focused() (bool, error) {
	return windows.GetForegroundWindow() == w.hwnd, nil
}

// win32App answers Interpreter queries about the observed process
type win32App struct {
	pid int
}

func (app win32App) Windows() ([]window.Handle, error) {
	hwnds, err := enumerate(app.pid, false)
	if err != nil {
		return nil, err
	}
	handles := make([]window.Handle, len(hwnds))
	for i, h := range hwnds {
		handles[i] = win32Window{pid: app.pid, hwnd: h}
	}
	return handles, nil
}

func (app win32App) FocusedWindow() (window.Handle, error) {
	fg := windows.GetForegroundWindow()
	if fg == 0 || windowPID(fg) != app.pid {
		return nil, nil
	}
	return win32Window{pid: app.pid, hwnd: fg}, nil
}

// WindowIDs includes windows not shown yet, so a window closed before it
// was ever visible still leaves the snapshot.
func (app win32App) WindowIDs() ([]window.ID, error) {
	hwnds, err := enumerate(app.pid, true)
	if err != nil {
		return nil, err
	}
	ids := make([]window.ID, len(hwnds))
	for i, h := range hwnds {
		ids[i] = window.ID(h)
	}
	return ids, nil
}

// win32Hook owns the WinEvent hooks of one session. Every method except
// Post and Quit runs on the thread that called Open.
type win32Hook struct {
	pid      int
	tid      uint32
	signals  SignalSet
	hooks    map[win32Native]uintptr
	slot     *win32Slot

	deliver   func(Notification)
	ownsFocus bool
	err       error

	mu     sync.Mutex
	posts  []func()
	exited bool
}

// Register installs and removes WinEvent hooks so that they cover signals
// exactly
func (h *win32Hook) Register(signals []Signal) error {
	h.signals = NewSignalSet(signals)

	want := make(map[win32Native]bool)
	for _, s := range signals {
		for _, n := range win32Signals[s] {
			want[n] = true
		}
	}

	for n, hook := range h.hooks {
		if want[n] {
			continue
		}
		if r, _, err := procUnhookWinEvent.Call(hook); r == 0 {
			return &PlatformError{Backend: win32Name, Op: fmt.Sprintf("UnhookWinEvent 0x%04X", n.event), Code: errno(err), Err: err}
		}
		delete(h.hooks, n)
	}
	for n := range want {
		if _, ok := h.hooks[n]; ok {
			continue
		}
		pid := uintptr(h.pid)
		if n.global {
			pid = 0
		}
		hook, _, err := procSetWinEventHook.Call(
			uintptr(n.event), uintptr(n.event), 0, h.slot.callback, pid, 0, wineventOutOfContext)
		if hook == 0 {
			return &PlatformError{Backend: win32Name, Op: fmt.Sprintf("SetWinEventHook 0x%04X", n.event), Code: errno(err), Err: err}
		}
		h.hooks[n] = hook
	}

	fg := windows.GetForegroundWindow()
	h.ownsFocus = fg != 0 && windowPID(fg) == h.pid
	return nil
}

// Run pumps the thread message queue. WinEvent callbacks run inside
// GetMessage.
func (h *win32Hook) Run(ready func(), deliver func(Notification)) error {
	h.deliver = deliver
	defer func() {
		h.mu.Lock()
		h.exited = true
		h.mu.Unlock()
	}()

	ready()
	var msg win32Msg
	for {
		r, _, err := procGetMessageW.Call(uintptr(unsafe.Pointer(&msg)), 0, 0, 0)
		switch int32(r) {
		case -1:
			return &PlatformError{Backend: win32Name, Op: "GetMessage", Code: errno(err), Err: err}
		case 0:
			return nil
		}
		switch msg.message {
		case wmPost:
			h.runPosts()
		case wmFail:
			return h.err
		}
	}
}

func (h *win32Hook) runPosts() {
	h.mu.Lock()
	posts := h.posts
	h.posts = nil
	h.mu.Unlock()
	for _, fn := range posts {
		fn()
	}
}

func (h *win32Hook) fail(err error) {
	if h.err != nil {
		return
	}
	h.err = err
	procPostThreadMessageW.Call(uintptr(h.tid), wmFail, 0, 0)
}

func (h *win32Hook) onWinEvent(ev uint32, hwnd windows.HWND, idObject, idChild int32) {
	if h.deliver == nil || h.err != nil {
		return
	}
	if idObject != objidWindow || idChild != childidSelf || hwnd == 0 {
		return
	}

	if ev == eventSystemForeground {
		h.onForeground(hwnd)
		return
	}

	// Per-process hooks are already filtered by pid; top-level windows only.
	switch ev {
	case eventObjectCreate:
		if isTopLevel(hwnd) && h.signals.Has(SignalWindowCreated) {
			h.deliver(Notification{Signal: SignalWindowCreated, Window: win32Window{pid: h.pid, hwnd: hwnd}})
		}
	case eventObjectDestroy:
		if !h.signals.Has(SignalElementDestroyed) {
			return
		}
		h.deliver(Notification{Signal: SignalElementDestroyed})
		if left, err := enumerate(h.pid, true); err == nil && len(left) == 0 {
			if exists, _ := pidExists(int32(h.pid)); !exists {
				h.fail(fmt.Errorf("%w: pid %d exited", ErrProcessGone, h.pid))
			}
		}
	case eventObjectLocationChange:
		if isTopLevel(hwnd) && h.signals.Has(SignalMoveResize) {
			h.deliver(Notification{Signal: SignalMoveResize, Window: win32Window{pid: h.pid, hwnd: hwnd}})
		}
	case eventSystemMinimizeStart:
		if h.signals.Has(SignalMinimized) {
			h.deliver(Notification{Signal: SignalMinimized, Window: win32Window{pid: h.pid, hwnd: hwnd}})
		}
	case eventSystemMinimizeEnd:
		if h.signals.Has(SignalRestored) {
			h.deliver(Notification{Signal: SignalRestored, Window: win32Window{pid: h.pid, hwnd: hwnd}})
		}
	}
}

// onForeground turns global foreground changes into focus, activation and
// deactivation of the observed process
func (h *win32Hook) onForeground(hwnd windows.HWND) {
	owned := windowPID(hwnd) == h.pid
	was := h.ownsFocus
	h.ownsFocus = owned

	switch {
	case owned && h.signals.Has(SignalFocusChanged):
		h.deliver(Notification{Signal: SignalFocusChanged, Window: win32Window{pid: h.pid, hwnd: hwnd}})
	case owned && !was && h.signals.Has(SignalAppActivated):
		h.deliver(Notification{Signal: SignalAppActivated})
	case !owned && was && h.signals.Has(SignalAppDeactivated):
		h.deliver(Notification{Signal: SignalAppDeactivated})
	}
}

// Post queues fn and wakes the message loop
func (h *win32Hook) Post(fn func()) bool {
	h.mu.Lock()
	if h.exited {
		h.mu.Unlock()
		return false
	}
	h.posts = append(h.posts, fn)
	h.mu.Unlock()

	r, _, _ := procPostThreadMessageW.Call(uintptr(h.tid), wmPost, 0, 0)
	return r != 0
}

// Quit posts WM_QUIT to the loop thread
func (h *win32Hook) Quit() {
	procPostThreadMessageW.Call(uintptr(h.tid), wmQuit, 0, 0)
}

// Release removes every hook
func (h *win32Hook) Release() error {
	var errs []error
	for n, hook := range h.hooks {
		if r, _, err := procUnhookWinEvent.Call(hook); r == 0 {
			errs = append(errs, &PlatformError{Backend: win32Name, Op: fmt.Sprintf("UnhookWinEvent 0x%04X", n.event), Code: errno(err), Err: err})
		}
	}
	h.hooks = nil
	if len(errs) == 0 && h.slot != nil {
		releaseSlot(h.slot)
		h.slot = nil
	}
	return errors.Join(errs...)
}
