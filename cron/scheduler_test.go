package cron

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentrun/agentrun/jobstore"
	"github.com/agentrun/agentrun/runtime"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *jobstore.Store {
	t.Helper()
	s, err := jobstore.Open(filepath.Join(t.TempDir(), "cron.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type countingDispatcher struct {
	calls int64
	err   error
}

func (d *countingDispatcher) Dispatch(context.Context, jobstore.CronJobDefinition) (runtime.AgentId, error) {
	atomic.AddInt64(&d.calls, 1)
	if d.err != nil {
		return "", d.err
	}
	return runtime.NewAgentId(), nil
}

func TestNextRunRespectsTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, loc)

	next, err := NextRun("0 9 * * *", "America/New_York", after)
	require.NoError(t, err)
	require.Equal(t, 9, next.In(loc).Hour())
}

func TestNextRunInvalidExpression(t *testing.T) {
	_, err := NextRun("not a cron expr", "UTC", time.Now())
	require.Error(t, err)
}

func TestTickDispatchesDueJobScenario4(t *testing.T) {
	// spec §8 scenario 4: a due, enabled, active job is dispatched exactly
	// once per tick and its bookkeeping (run_count, next_run) advances.
	ctx := context.Background()
	store := newStore(t)
	job := jobstore.CronJobDefinition{
		JobID:          runtime.NewCronJobId(),
		Name:           "heartbeat",
		CronExpression: "* * * * * *", // every second, 6-field w/ seconds
		Timezone:       "UTC",
		AgentConfig:    runtime.AgentConfig{ID: runtime.NewAgentId()},
		Status:         jobstore.StatusActive,
		Enabled:        true,
		SessionMode:    jobstore.SessionEphemeral,
		MaxConcurrent:  1,
		MaxRetries:     3,
		NextRun:        time.Now().Add(-time.Second),
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	require.NoError(t, store.SaveJob(ctx, job))

	d := &countingDispatcher{}
	cfg := runtime.CronSchedulerConfig{TickInterval: 10 * time.Millisecond, MaxConcurrentCronJobs: 5}
	sched := New(store, d, cfg, nil)

	sched.tick(ctx)
	time.Sleep(50 * time.Millisecond)

	require.EqualValues(t, 1, atomic.LoadInt64(&d.calls))
	got, err := store.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	require.Equal(t, 1, got.RunCount)
	require.True(t, got.NextRun.After(job.NextRun))
}

func TestDeadLettersAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	job := jobstore.CronJobDefinition{
		JobID:          runtime.NewCronJobId(),
		CronExpression: "* * * * * *",
		Timezone:       "UTC",
		AgentConfig:    runtime.AgentConfig{ID: runtime.NewAgentId()},
		Status:         jobstore.StatusActive,
		Enabled:        true,
		MaxConcurrent:  1,
		MaxRetries:     1,
		FailureCount:   0,
		NextRun:        time.Now().Add(-time.Second),
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	require.NoError(t, store.SaveJob(ctx, job))

	d := &countingDispatcher{err: assertErr{}}
	cfg := runtime.CronSchedulerConfig{TickInterval: 10 * time.Millisecond, MaxConcurrentCronJobs: 5}
	sched := New(store, d, cfg, nil)

	sched.tick(ctx)
	time.Sleep(50 * time.Millisecond)

	got, err := store.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	require.Equal(t, jobstore.StatusDeadLetter, got.Status)
	require.False(t, got.Enabled)
	require.EqualValues(t, 1, sched.Snapshot().JobsDeadLettered)
}

type assertErr struct{}

func (assertErr) Error() string { return "dispatch failed" }

func TestCatchUpMissedRunsFiresOnlyMostRecent(t *testing.T) {
	lastNextRun := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := lastNextRun.Add(10 * time.Hour)

	fireAt, err := CatchUpMissedRuns("0 * * * *", "UTC", lastNextRun, now)
	require.NoError(t, err)
	require.True(t, fireAt.Before(now) || fireAt.Equal(now))
	require.True(t, fireAt.After(lastNextRun) || fireAt.Equal(lastNextRun))

	next, err := NextRun("0 * * * *", "UTC", fireAt)
	require.NoError(t, err)
	require.True(t, next.After(now) || next.Equal(now))
}
