// Package runtime provides the ambient stack shared by every agentrun
// subsystem: structured errors, a component-aware logger, configuration
// types, and a small goroutine supervisor.
package runtime

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across subsystems. Package-local sentinels
// (lifecycle.ErrAgentNotFound, cron.ErrInvalidCron, ...) wrap these or their
// own local errors.New values; both forms are matched by errors.Is.
var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrInvalidState   = errors.New("invalid state transition")
	ErrShuttingDown   = errors.New("shutting down")
	ErrTimeout        = errors.New("operation timed out")
	ErrCapacity       = errors.New("capacity exceeded")
	ErrAccessDenied   = errors.New("access denied")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// OpError is a structured error carrying the failing operation, a semantic
// kind, an optional entity id, and the wrapped cause.
type OpError struct {
	Op      string
	Kind    string
	ID      string
	Message string
	Err     error
}

func (e *OpError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *OpError) Unwrap() error { return e.Err }

// NewOpError builds an OpError for op/kind wrapping err.
func NewOpError(op, kind string, err error) *OpError {
	return &OpError{Op: op, Kind: kind, Err: err}
}

// WithID returns a copy of the error carrying an entity id, for call sites
// that want to report which agent/job/context failed.
func (e *OpError) WithID(id string) *OpError {
	cp := *e
	cp.ID = id
	return &cp
}

// IsNotFound reports whether err (at any wrap depth) is a not-found error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsRetryable reports whether err represents a transient condition worth
// retrying (timeouts, capacity backpressure) as opposed to a permanent one.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrCapacity)
}

// IsInvalidState reports whether err represents a rejected state transition.
func IsInvalidState(err error) bool { return errors.Is(err, ErrInvalidState) }
