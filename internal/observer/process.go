package observer

import (
	"fmt"
	"math"

	"github.com/shirou/gopsutil/v3/process"
)

// pidExists is swapped in tests
var pidExists = process.PidExists

// checkPID rejects pids that cannot name a running process
func checkPID(pid int) error {
	if pid <= 0 || pid > math.MaxInt32 {
		return fmt.Errorf("%w: %d", ErrInvalidProcessID, pid)
	}
	exists, err := pidExists(int32(pid))
	if err != nil {
		return &PlatformError{Backend: "process", Op: "lookup pid", Err: err}
	}
	if !exists {
		return fmt.Errorf("%w: no process with pid %d", ErrInvalidProcessID, pid)
	}
	return nil
}

// classifyQueryError decides whether a failed query means the process is
// gone (session-ending) or only the queried element is.
func classifyQueryError(backend, op string, pid int, err error) error {
	if err == nil {
		return nil
	}
	if exists, lookupErr := pidExists(int32(pid)); lookupErr == nil && !exists {
		return fmt.Errorf("%w: pid %d: %w", ErrProcessGone, pid, err)
	}
	return platformError(backend, op, 0, err)
}
