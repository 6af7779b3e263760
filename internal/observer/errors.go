package observer

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied indicates the OS has not granted the accessibility
	// consent the backend needs. It is never retried.
	ErrPermissionDenied = errors.New("permission denied: accessibility access is not granted")

	// ErrInvalidProcessID indicates a malformed or unknown pid
	ErrInvalidProcessID = errors.New("invalid process id")

	// ErrNotSupported indicates the target or the platform cannot deliver a
	// requested notification
	ErrNotSupported = errors.New("not supported")

	// ErrAlreadyStarted is returned by Start on a running session
	ErrAlreadyStarted = errors.New("observer already started")

	// ErrAlreadyStopped is returned by Start or Stop on a stopped session
	ErrAlreadyStopped = errors.New("observer already stopped")

	// ErrNotRunning is returned by filter mutation outside the running state
	ErrNotRunning = errors.New("observer is not running")

	// ErrProcessGone indicates the observed process exited. It ends the session.
	ErrProcessGone = errors.New("observed process is gone")
)

// PlatformError carries an opaque native error code for diagnostics.
type PlatformError struct {
	Backend string
	Op      string
	Code    int64
	Err     error
}

func (e *PlatformError) Error() string {
	msg := fmt.Sprintf("%s: %s failed", e.Backend, e.Op)
	if e.Code != 0 {
		msg += fmt.Sprintf(" (code %d)", e.Code)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PlatformError) Unwrap() error {
	return e.Err
}

// platformError wraps err unless it already is a PlatformError
func platformError(backend, op string, code int64, err error) error {
	var pe *PlatformError
	if errors.As(err, &pe) {
		return err
	}
	return &PlatformError{Backend: backend, Op: op, Code: code, Err: err}
}

// IsSessionEnding reports whether err means the session cannot continue
func IsSessionEnding(err error) bool {
	return errors.Is(err, ErrProcessGone)
}
