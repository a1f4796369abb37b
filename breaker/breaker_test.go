package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClosedOpensAfterThreshold(t *testing.T) {
	b := newBreaker(Config{FailureThreshold: 3, OpenDuration: time.Minute, HalfOpenTrials: 1})

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		assert.Equal(t, StateClosed, b.State())
	}
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
}

func TestOpenTransitionsToHalfOpenAfterDuration(t *testing.T) {
	b := newBreaker(Config{FailureThreshold: 1, OpenDuration: 10 * time.Millisecond, HalfOpenTrials: 1})
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestHalfOpenClosesAfterTrials(t *testing.T) {
	b := newBreaker(Config{FailureThreshold: 1, OpenDuration: time.Millisecond, HalfOpenTrials: 2})
	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, b.State())

	b.RecordSuccess()
	assert.Equal(t, StateHalfOpen, b.State())
	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := newBreaker(Config{FailureThreshold: 1, OpenDuration: time.Millisecond, HalfOpenTrials: 2})
	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, b.State())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
}

func TestExecuteReturnsCircuitOpenWithoutCallingFn(t *testing.T) {
	b := newBreaker(Config{FailureThreshold: 1, OpenDuration: time.Minute, HalfOpenTrials: 1})
	b.RecordFailure()

	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	assert.False(t, called)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestRegistryIsolatesByToolName(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, OpenDuration: time.Minute, HalfOpenTrials: 1})

	r.For("search").RecordFailure()
	assert.Equal(t, StateOpen, r.For("search").State())
	assert.Equal(t, StateClosed, r.For("other").State())
}

func TestExecutePropagatesUnderlyingError(t *testing.T) {
	r := NewRegistry(DefaultConfig())
	boom := errors.New("boom")
	err := r.For("x").Execute(func() error { return boom })
	assert.ErrorIs(t, err, boom)
}
