package sync

import (
	"errors"
	"fmt"
)

// ErrStopped is returned by every engine method once Run has exited.
var ErrStopped = errors.New("sync engine stopped")

// PreconditionError: the local validation of a mutating action failed
// (missing pin, stale status, edit lock). No remote call was issued and
// nothing changed.
type PreconditionError struct {
	PinID  string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition failed for pin %s: %s", e.PinID, e.Reason)
}

// AuthorizationError: the transition exists but this actor may not trigger
// it. Same handling as a precondition failure: no write, no state change.
type AuthorizationError struct {
	PinID string
	Err   error
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("not authorized for pin %s: %v", e.PinID, e.Err)
}

func (e *AuthorizationError) Unwrap() error { return e.Err }

// RemoteWriteError: the remote write failed after the optimistic apply.
// The working-set entry has already been rolled back to its exact
// pre-mutation snapshot. User-visible, never fatal.
type RemoteWriteError struct {
	PinID string
	Err   error
}

func (e *RemoteWriteError) Error() string {
	return fmt.Sprintf("remote write for pin %s failed: %v", e.PinID, e.Err)
}

func (e *RemoteWriteError) Unwrap() error { return e.Err }

// StreamError: the area subscription itself failed. Retryable by opening a
// new engine; this engine does not retry on its own.
type StreamError struct {
	AreaID string
	Err    error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("change stream for area %s failed: %v", e.AreaID, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }
