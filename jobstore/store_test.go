package jobstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentrun/agentrun/runtime"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleJob(id string) CronJobDefinition {
	now := time.Now().UTC().Truncate(time.Second)
	return CronJobDefinition{
		JobID:          runtime.CronJobId(id),
		Name:           "nightly-report",
		CronExpression: "0 2 * * *",
		Timezone:       "UTC",
		AgentConfig:    runtime.AgentConfig{ID: runtime.AgentId("agent-" + id), Name: "reporter"},
		Status:         StatusActive,
		Enabled:        true,
		SessionMode:    SessionEphemeral,
		MaxConcurrent:  1,
		MaxRetries:     3,
		NextRun:        now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestSaveAndGetJob(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	job := sampleJob("job-1")
	require.NoError(t, s.SaveJob(ctx, job))

	got, err := s.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	require.Equal(t, job.Name, got.Name)
	require.Equal(t, job.AgentConfig.Name, got.AgentConfig.Name)
	require.Equal(t, job.MaxRetries, got.MaxRetries)
}

func TestGetJobNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetJob(context.Background(), runtime.CronJobId("missing"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetDueJobsRespectsStatusEnabledAndTime(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	past := sampleJob("due")
	past.NextRun = time.Now().Add(-time.Hour)
	require.NoError(t, s.SaveJob(ctx, past))

	future := sampleJob("not-due")
	future.NextRun = time.Now().Add(time.Hour)
	require.NoError(t, s.SaveJob(ctx, future))

	disabled := sampleJob("disabled")
	disabled.NextRun = time.Now().Add(-time.Hour)
	disabled.Enabled = false
	require.NoError(t, s.SaveJob(ctx, disabled))

	due, err := s.GetDueJobs(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, runtime.CronJobId("due"), due[0].JobID)
}

func TestRecordFailureAndRunHistory(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	job := sampleJob("flaky")
	require.NoError(t, s.SaveJob(ctx, job))

	require.NoError(t, s.RecordFailure(ctx, job.JobID, 3, StatusDeadLetter))
	got, err := s.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	require.Equal(t, StatusDeadLetter, got.Status)
	require.Equal(t, 3, got.FailureCount)

	completed := time.Now()
	errMsg := "boom"
	require.NoError(t, s.SaveRunRecord(ctx, JobRunRecord{
		RunID: "run-1", JobID: job.JobID, AgentID: job.AgentConfig.ID,
		StartedAt: time.Now(), CompletedAt: &completed, Status: RunFailed, Error: &errMsg,
	}))

	history, err := s.GetRunHistory(ctx, job.JobID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, RunFailed, history[0].Status)
}

func TestDeleteJob(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	job := sampleJob("to-delete")
	require.NoError(t, s.SaveJob(ctx, job))
	require.NoError(t, s.DeleteJob(ctx, job.JobID))

	_, err := s.GetJob(ctx, job.JobID)
	require.ErrorIs(t, err, ErrNotFound)
}
