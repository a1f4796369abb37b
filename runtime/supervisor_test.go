package runtime

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSupervisorGoCancelsTasksOnStopAll(t *testing.T) {
	s := NewSupervisor(NoOpLogger{})
	var exited atomic.Bool

	s.Go(context.Background(), "worker", func(ctx context.Context) {
		<-ctx.Done()
		exited.Store(true)
	})

	ok := s.StopAll(time.Second)
	assert.True(t, ok)
	assert.True(t, exited.Load())
}

func TestSupervisorStopAllTimesOutOnStuckTask(t *testing.T) {
	s := NewSupervisor(NoOpLogger{})
	release := make(chan struct{})
	defer close(release)

	s.Go(context.Background(), "stuck", func(ctx context.Context) {
		<-release // ignores ctx cancellation
	})

	ok := s.StopAll(50 * time.Millisecond)
	assert.False(t, ok)
}

func TestSupervisorRecoversFromPanic(t *testing.T) {
	s := NewSupervisor(NoOpLogger{})
	s.Go(context.Background(), "panicky", func(ctx context.Context) {
		panic("boom")
	})
	// StopAll must still return promptly; the panic must not crash the test.
	assert.True(t, s.StopAll(time.Second))
}
