package observer

import (
	"errors"
	"os"
	"strconv"
	"testing"
)

func withPIDs(t *testing.T, live map[int32]bool, lookupErr error) {
	t.Helper()
	orig := pidExists
	pidExists = func(pid int32) (bool, error) {
		if lookupErr != nil {
			return false, lookupErr
		}
		return live[pid], nil
	}
	t.Cleanup(func() { pidExists = orig })
}

func TestCheckPID(t *testing.T) {
	withPIDs(t, map[int32]bool{100: true}, nil)

	if err := checkPID(100); err != nil {
		t.Errorf("checkPID(100) = %v", err)
	}
	for _, pid := range []int{0, -1, 101} {
		if err := checkPID(pid); !errors.Is(err, ErrInvalidProcessID) {
			t.Errorf("checkPID(%d) = %v, want ErrInvalidProcessID", pid, err)
		}
	}
}

func TestCheckPIDOutOfRange(t *testing.T) {
	if strconv.IntSize < 64 {
		t.Skip("int has no values above the pid range")
	}
	withPIDs(t, map[int32]bool{100: true}, nil)

	// Truncated to int32 this would name pid 100.
	wide := int64(1)<<32 + 100
	if err := checkPID(int(wide)); !errors.Is(err, ErrInvalidProcessID) {
		t.Errorf("checkPID(%d) = %v, want ErrInvalidProcessID", wide, err)
	}
}

func TestCheckPIDLookupFailure(t *testing.T) {
	withPIDs(t, nil, errors.New("proc unavailable"))

	var pe *PlatformError
	if err := checkPID(100); !errors.As(err, &pe) || pe.Backend != "process" {
		t.Errorf("checkPID = %v, want PlatformError", err)
	}
}

func TestCheckPIDSelf(t *testing.T) {
	if err := checkPID(os.Getpid()); err != nil {
		t.Errorf("checkPID(self) = %v", err)
	}
}

func TestClassifyQueryError(t *testing.T) {
	cause := errors.New("bad window")

	withPIDs(t, map[int32]bool{7: true}, nil)
	err := classifyQueryError("x11", "get geometry", 7, cause)
	var pe *PlatformError
	if !errors.As(err, &pe) || pe.Op != "get geometry" || !errors.Is(err, cause) {
		t.Errorf("live process: %v", err)
	}
	if IsSessionEnding(err) {
		t.Error("element failure should not end the session")
	}

	err = classifyQueryError("x11", "get geometry", 8, cause)
	if !errors.Is(err, ErrProcessGone) || !errors.Is(err, cause) {
		t.Errorf("gone process: %v", err)
	}
	if !IsSessionEnding(err) {
		t.Error("process gone should end the session")
	}

	if classifyQueryError("x11", "op", 7, nil) != nil {
		t.Error("nil error should stay nil")
	}
}

func TestPlatformError(t *testing.T) {
	cause := errors.New("access denied")
	err := &PlatformError{Backend: "win32", Op: "SetWinEventHook 0x8000", Code: 5, Err: cause}

	if got := err.Error(); got != "win32: SetWinEventHook 0x8000 failed (code 5): access denied" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, cause) {
		t.Error("PlatformError does not unwrap")
	}

	// Already classified errors are not wrapped twice.
	if got := platformError("x11", "other", 0, err); got != error(err) {
		t.Errorf("platformError rewrapped: %v", got)
	}
}
