package observer

import (
	"errors"
	"slices"
	"sync"

	"github.com/bryanchriswhite/windowobserver/internal/event"
	"github.com/bryanchriswhite/windowobserver/internal/window"
)

type fakeWindow struct {
	id     window.ID
	bounds window.Rect
}

func (w *fakeWindow) ID() window.ID                  { return w.id }
func (w *fakeWindow) Title() (string, error)         { return "window " + w.id.String(), nil }
func (w *fakeWindow) Bounds() (window.Rect, error)   { return w.bounds, nil }
func (w *fakeWindow) Focused() (bool, error)         { return false, nil }
func (w *fakeWindow) Equal(other window.Handle) bool { return other != nil && other.ID() == w.id }

// fakeApp is safe for use from the test and the delivery goroutine
type fakeApp struct {
	mu      sync.Mutex
	windows []*fakeWindow
	focused *fakeWindow
	err     error
}

func newFakeApp(ids ...window.ID) *fakeApp {
	a := &fakeApp{}
	for _, id := range ids {
		a.windows = append(a.windows, &fakeWindow{id: id})
	}
	return a
}

func (a *fakeApp) window(id window.ID) *fakeWindow {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, w := range a.windows {
		if w.id == id {
			return w
		}
	}
	return nil
}

func (a *fakeApp) add(w *fakeWindow) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.windows = append(a.windows, w)
}

func (a *fakeApp) remove(id window.ID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.windows = slices.DeleteFunc(a.windows, func(w *fakeWindow) bool { return w.id == id })
	if a.focused != nil && a.focused.id == id {
		a.focused = nil
	}
}

func (a *fakeApp) focus(w *fakeWindow) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.focused = w
}

func (a *fakeApp) fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

func (a *fakeApp) Windows() ([]window.Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	handles := make([]window.Handle, len(a.windows))
	for i, w := range a.windows {
		handles[i] = w
	}
	return handles, nil
}

func (a *fakeApp) FocusedWindow() (window.Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	if a.focused == nil {
		return nil, nil
	}
	return a.focused, nil
}

func (a *fakeApp) WindowIDs() ([]window.ID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	ids := make([]window.ID, len(a.windows))
	for i, w := range a.windows {
		ids[i] = w.id
	}
	return ids, nil
}

// recorder collects emitted results
type recorder struct {
	results []event.Result
}

func (r *recorder) emit(res event.Result) {
	r.results = append(r.results, res)
}

func (r *recorder) events() []event.Event {
	var out []event.Event
	for _, res := range r.results {
		if res.Err == nil {
			out = append(out, res.Payload.Event)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.results = nil
}

// fakeHook runs on a chanLoop fed by the test
type fakeHook struct {
	loop  *chanLoop
	notes chan Notification

	registerErr error

	mu         sync.Mutex
	registered [][]Signal
	releases   int
}

func (h *fakeHook) Register(signals []Signal) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.registerErr != nil {
		return h.registerErr
	}
	h.registered = append(h.registered, append([]Signal(nil), signals...))
	return nil
}

func (h *fakeHook) Run(ready func(), deliver func(Notification)) error {
	return runLoop(h.loop, ready, h.notes, errors.New("notification source closed"), func(n Notification) error {
		deliver(n)
		return nil
	})
}

func (h *fakeHook) Post(fn func()) bool { return h.loop.Post(fn) }
func (h *fakeHook) Quit()               { h.loop.Quit() }

func (h *fakeHook) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.releases++
	return nil
}

func (h *fakeHook) lastRegistered() []Signal {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.registered) == 0 {
		return nil
	}
	return h.registered[len(h.registered)-1]
}

func (h *fakeHook) releaseCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.releases
}

type fakeBackend struct {
	app         *fakeApp
	checkErr    error
	openErr     error
	registerErr error

	mu    sync.Mutex
	hooks []*fakeHook
}

func (b *fakeBackend) Name() string              { return "fake" }
func (b *fakeBackend) Available() (bool, string) { return true, "" }

func (b *fakeBackend) Check(pid int) error {
	if pid <= 0 {
		return ErrInvalidProcessID
	}
	return b.checkErr
}

func (b *fakeBackend) Open(pid int) (Hook, Application, error) {
	if b.openErr != nil {
		return nil, nil, b.openErr
	}
	h := &fakeHook{
		loop:        newChanLoop(),
		notes:       make(chan Notification),
		registerErr: b.registerErr,
	}
	b.mu.Lock()
	b.hooks = append(b.hooks, h)
	b.mu.Unlock()
	return h, b.app, nil
}

func (b *fakeBackend) opened() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.hooks)
}

func (b *fakeBackend) hook() *fakeHook {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hooks[len(b.hooks)-1]
}
