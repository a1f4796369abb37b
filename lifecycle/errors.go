package lifecycle

import "errors"

// LifecycleError kinds (spec §7).
var (
	ErrAgentNotFound          = errors.New("lifecycle: agent not found")
	ErrInvalidStateTransition = errors.New("lifecycle: invalid state transition")
	ErrResourceExhausted      = errors.New("lifecycle: resource exhausted")
	ErrShuttingDown           = errors.New("lifecycle: shutting down")
	ErrEventProcessingFailed  = errors.New("lifecycle: event processing failed")
)
