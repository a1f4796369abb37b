package runtime

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpErrorFormatsWithAndWithoutID(t *testing.T) {
	base := NewOpError("lifecycle.Transition", "lifecycle", ErrInvalidState)
	assert.Equal(t, "lifecycle.Transition: invalid state transition", base.Error())

	withID := base.WithID("agent-123")
	assert.Equal(t, "lifecycle.Transition [agent-123]: invalid state transition", withID.Error())
	// WithID must not mutate the receiver.
	assert.Equal(t, "lifecycle.Transition: invalid state transition", base.Error())
}

func TestOpErrorUnwrapAndIs(t *testing.T) {
	err := NewOpError("jobstore.GetJob", "job", ErrNotFound).WithID("job-1")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, IsNotFound(err))
	assert.False(t, IsNotFound(ErrAlreadyExists))
}

func TestIsRetryableMatchesTimeoutAndCapacity(t *testing.T) {
	assert.True(t, IsRetryable(ErrTimeout))
	assert.True(t, IsRetryable(ErrCapacity))
	assert.False(t, IsRetryable(ErrAccessDenied))
}

func TestIsInvalidState(t *testing.T) {
	assert.True(t, IsInvalidState(ErrInvalidState))
	assert.False(t, IsInvalidState(ErrNotFound))
}

func TestOpErrorFallsBackToMessageThenKind(t *testing.T) {
	withMessage := &OpError{Kind: "config", Message: "missing required field"}
	assert.Equal(t, "missing required field", withMessage.Error())

	bare := &OpError{Kind: "config"}
	assert.Equal(t, "config error", bare.Error())
}
