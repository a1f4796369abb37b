package taskmanager

import (
	"context"
	"testing"
	"time"

	"github.com/agentrun/agentrun/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartTaskCompletes(t *testing.T) {
	m := New(time.Second, nil)
	agentID := runtime.NewAgentId()

	require.NoError(t, m.StartTask(context.Background(), agentID, func(ctx context.Context, report func(float64, float64)) error {
		report(12.5, 3.0)
		return nil
	}))

	require.NoError(t, m.Wait(agentID))
	stats, err := m.CheckTaskHealth(agentID)
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, stats.Status)
	assert.Equal(t, 12.5, stats.MemoryUsageMB)
}

func TestStartTaskDuplicateRejected(t *testing.T) {
	m := New(time.Second, nil)
	agentID := runtime.NewAgentId()
	block := make(chan struct{})

	require.NoError(t, m.StartTask(context.Background(), agentID, func(ctx context.Context, report func(float64, float64)) error {
		<-block
		return nil
	}))
	err := m.StartTask(context.Background(), agentID, func(context.Context, func(float64, float64)) error { return nil })
	assert.ErrorIs(t, err, runtime.ErrAlreadyExists)
	close(block)
	m.Wait(agentID)
}

func TestWatchdogTimesOutLongTask(t *testing.T) {
	m := New(20*time.Millisecond, nil)
	agentID := runtime.NewAgentId()

	require.NoError(t, m.StartTask(context.Background(), agentID, func(ctx context.Context, report func(float64, float64)) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	m.Wait(agentID)
	stats, err := m.CheckTaskHealth(agentID)
	require.NoError(t, err)
	assert.Equal(t, TaskTimedOut, stats.Status)
}

func TestTerminateTaskForcesExit(t *testing.T) {
	m := New(time.Minute, nil)
	agentID := runtime.NewAgentId()

	require.NoError(t, m.StartTask(context.Background(), agentID, func(ctx context.Context, report func(float64, float64)) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	require.NoError(t, m.TerminateTask(context.Background(), agentID, time.Second))
	stats, err := m.CheckTaskHealth(agentID)
	require.NoError(t, err)
	assert.Equal(t, TaskTerminated, stats.Status)
}

func TestGetTaskStatistics(t *testing.T) {
	m := New(time.Second, nil)
	a, b := runtime.NewAgentId(), runtime.NewAgentId()

	require.NoError(t, m.StartTask(context.Background(), a, func(context.Context, func(float64, float64)) error { return nil }))
	require.NoError(t, m.StartTask(context.Background(), b, func(context.Context, func(float64, float64)) error { return assert.AnError }))
	m.Wait(a)
	m.Wait(b)

	stats := m.GetTaskStatistics()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.Failed)
}
