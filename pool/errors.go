package pool

import (
	"errors"
	"fmt"
)

var (
	// ErrCapacityExceeded is returned when every slot is in use
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrNotReady is returned when the readiness gate rejects admission
	ErrNotReady = errors.New("readiness gate not satisfied")
	// ErrClosed is returned after Shutdown
	ErrClosed = errors.New("pool closed")
	// ErrInvalidCapacity is returned by SetCapacity for values below 1
	ErrInvalidCapacity = errors.New("capacity must be at least 1")
)

// Error is a typed admission rejection. Match it with errors.Is against the
// sentinel values above.
type Error struct {
	Pool     string
	Active   int
	Capacity int
	Err      error
}

func (e *Error) Error() string {
	if errors.Is(e.Err, ErrCapacityExceeded) {
		return fmt.Sprintf("pool %s: %v (%d/%d active)", e.Pool, e.Err, e.Active, e.Capacity)
	}
	return fmt.Sprintf("pool %s: %v", e.Pool, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
