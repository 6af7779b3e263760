package observer

import (
	"fmt"
	"strings"

	"github.com/bryanchriswhite/windowobserver/internal/window"
)

// Application is the observed process as the Interpreter sees it
type Application interface {
	// Windows returns every window currently owned by the process
	Windows() ([]window.Handle, error)

	// FocusedWindow returns the process's focused window, or nil when it has none
	FocusedWindow() (window.Handle, error)
}

// WindowLister is implemented by applications that can enumerate stable
// window ids. Closed detection relies on it.
type WindowLister interface {
	WindowIDs() ([]window.ID, error)
}

// Hook is the native observation handle of one session. It is created, run
// and released on the session's delivery goroutine, which is locked to its
// OS thread. Only Post and Quit may be called from other goroutines.
type Hook interface {
	// Register makes the native subscription match signals exactly,
	// subscribing missing ones and unsubscribing the rest
	Register(signals []Signal) error

	// Run blocks in the native loop until Quit. ready is called once the loop
	// is live; deliver is called on the delivery goroutine for every owned
	// notification, in native order.
	Run(ready func(), deliver func(Notification)) error

	// Post schedules fn on the delivery goroutine. It returns false once the
	// loop has exited.
	Post(fn func()) bool

	// Quit asks Run to return. It is idempotent.
	Quit()

	// Release frees the native handle. Called exactly once, after Run.
	Release() error
}

// Backend is one platform implementation of window observation
type Backend interface {
	// Name returns the backend name (e.g., "x11", "atspi")
	Name() string

	// Available reports whether the backend can run in this environment
	Available() (bool, string)

	// Check verifies preconditions for observing pid without allocating
	// any native resource
	Check(pid int) error

	// Open creates the native hook for pid on the calling goroutine
	Open(pid int) (Hook, Application, error)
}

// Backends returns every backend compiled for this platform, preferred first
func Backends() []Backend {
	return platformBackends()
}

// BackendByName returns the named backend. "auto" and "" pick DefaultBackend.
func BackendByName(name string) (Backend, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == "auto" {
		return DefaultBackend()
	}
	for _, b := range platformBackends() {
		if b.Name() == name {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: no backend named %q on this platform", ErrNotSupported, name)
}

// DefaultBackend returns the first available backend
func DefaultBackend() (Backend, error) {
	var reasons []string
	for _, b := range platformBackends() {
		ok, reason := b.Available()
		if ok {
			return b, nil
		}
		reasons = append(reasons, fmt.Sprintf("%s: %s", b.Name(), reason))
	}
	if len(reasons) == 0 {
		return nil, fmt.Errorf("%w: no window observation backend for this platform", ErrNotSupported)
	}
	return nil, fmt.Errorf("%w: no backend available (%s)", ErrNotSupported, strings.Join(reasons, "; "))
}
