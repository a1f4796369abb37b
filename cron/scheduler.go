// Package cron implements the Cron Scheduler (spec §4.6): a tick loop that
// polls the Job Store for due jobs, parses cron expressions with timezone
// awareness, applies jitter, enforces per-job and global concurrency limits,
// and dead-letters jobs that exceed max_retries. Grounded on the
// tick-loop/backoff idiom in other_examples' skeenode scheduler core.go,
// adapted onto this module's jobstore.Store instead of a generic
// storage.JobStore.
package cron

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/agentrun/agentrun/jobstore"
	"github.com/agentrun/agentrun/runtime"
	"github.com/agentrun/agentrun/telemetry"
)

// parser accepts standard 5-field expressions plus an optional leading
// seconds field and named descriptors (@daily, @every ...).
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Dispatcher runs one due job to completion. The Cron Scheduler owns only
// scheduling; actually running an agent is delegated here (typically into
// the scheduler package's admission path) to avoid a dependency cycle.
type Dispatcher interface {
	Dispatch(ctx context.Context, job jobstore.CronJobDefinition) (runtime.AgentId, error)
}

// Metrics is a snapshot of the Cron Scheduler's own health (spec §4.6).
type Metrics struct {
	TicksRun        int64
	JobsDispatched  int64
	JobsSkipped     int64
	JobsFailed      int64
	JobsDeadLettered int64
}

// Scheduler is the Cron Scheduler (spec §4.6).
type Scheduler struct {
	store      *jobstore.Store
	dispatcher Dispatcher
	cfg        runtime.CronSchedulerConfig
	logger     runtime.ComponentAwareLogger

	globalSem chan struct{}
	perJobMu  sync.Mutex
	perJobSem map[runtime.CronJobId]chan struct{}

	metrics Metrics

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// New builds a Cron Scheduler over store, dispatching due jobs via d.
func New(store *jobstore.Store, d Dispatcher, cfg runtime.CronSchedulerConfig, logger runtime.ComponentAwareLogger) *Scheduler {
	if logger == nil {
		logger = runtime.NoOpLogger{}
	}
	if cfg.Telemetry.Enabled {
		if err := telemetry.Initialize(telemetry.Config{
			Enabled:     true,
			ServiceName: cfg.Telemetry.ServiceName,
			Endpoint:    cfg.Telemetry.Endpoint,
			Provider:    "otel",
		}); err != nil {
			logger.Warn("telemetry initialization failed, metrics will be dropped", map[string]interface{}{"error": err.Error()})
		}
	}
	return &Scheduler{
		store:      store,
		dispatcher: d,
		cfg:        cfg,
		logger:     logger.WithComponent("cron"),
		globalSem:  make(chan struct{}, cfg.MaxConcurrentCronJobs),
		perJobSem:  make(map[runtime.CronJobId]chan struct{}),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// NextRun computes the next fire time after `after` in the job's timezone
// (spec §4.6 step 2).
func NextRun(cronExpr, timezone string, after time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid timezone %q: %v", ErrInvalidCron, timezone, err)
	}
	schedule, err := parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidCron, err)
	}
	return schedule.Next(after.In(loc)), nil
}

// ErrInvalidCron is returned for malformed expressions or timezones.
var ErrInvalidCron = runtime.ErrInvalidConfig

// Run starts the tick loop; it blocks until ctx is cancelled or Stop is
// called.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Stop signals the tick loop to exit and waits for it to finish.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

func (s *Scheduler) tick(ctx context.Context) {
	atomic.AddInt64(&s.metrics.TicksRun, 1)
	telemetry.Counter("cron.tick.total")

	now := time.Now().UTC()
	due, err := s.store.GetDueJobs(ctx, now)
	if err != nil {
		s.logger.Error("failed to query due jobs", map[string]interface{}{"error": err.Error()})
		return
	}

	for _, job := range due {
		job := job
		select {
		case s.globalSem <- struct{}{}:
		default:
			atomic.AddInt64(&s.metrics.JobsSkipped, 1)
			s.logger.Warn("skipped due job: global concurrency limit reached", map[string]interface{}{"job_id": job.JobID})
			continue
		}

		jobSem := s.perJobSemFor(job.JobID, job.MaxConcurrent)
		select {
		case jobSem <- struct{}{}:
		default:
			<-s.globalSem
			atomic.AddInt64(&s.metrics.JobsSkipped, 1)
			s.logger.Warn("skipped due job: per-job concurrency limit reached", map[string]interface{}{"job_id": job.JobID})
			continue
		}

		go func() {
			defer func() { <-s.globalSem; <-jobSem }()
			s.runOne(ctx, job, now)
		}()
	}
}

func (s *Scheduler) perJobSemFor(id runtime.CronJobId, max int) chan struct{} {
	s.perJobMu.Lock()
	defer s.perJobMu.Unlock()
	if max <= 0 {
		max = 1
	}
	sem, ok := s.perJobSem[id]
	if !ok {
		sem = make(chan struct{}, max)
		s.perJobSem[id] = sem
	}
	return sem
}

func (s *Scheduler) runOne(ctx context.Context, job jobstore.CronJobDefinition, fireTime time.Time) {
	if job.JitterMaxSecs > 0 {
		jitter := time.Duration(rand.IntN(job.JitterMaxSecs+1)) * time.Second
		select {
		case <-time.After(jitter):
		case <-ctx.Done():
			return
		}
	}

	start := time.Now()
	agentID, dispErr := s.dispatcher.Dispatch(ctx, job)
	elapsed := time.Since(start)

	next, nextErr := NextRun(job.CronExpression, job.Timezone, fireTime)
	status := job.Status
	runCount := job.RunCount + 1
	enabled := job.Enabled

	if job.OneShot || nextErr != nil {
		status = jobstore.StatusCompleted
		enabled = false
	}

	if dispErr != nil {
		atomic.AddInt64(&s.metrics.JobsFailed, 1)
		newFailures := job.FailureCount + 1
		if newFailures >= job.MaxRetries {
			status = jobstore.StatusDeadLetter
			enabled = false
			atomic.AddInt64(&s.metrics.JobsDeadLettered, 1)
			telemetry.Counter("cron.job.dead_lettered")
			s.logger.Error("job moved to dead letter after exceeding max_retries", map[string]interface{}{
				"job_id": job.JobID, "failure_count": newFailures,
			})
		}
		if err := s.store.RecordFailure(ctx, job.JobID, newFailures, status); err != nil {
			s.logger.Error("failed to record job failure", map[string]interface{}{"error": err.Error()})
		}
		telemetry.RecordRun(telemetry.ModuleCron, "dispatch", float64(elapsed.Milliseconds()), "error")
		telemetry.RecordRunError(telemetry.ModuleCron, "dispatch", "dispatch_failed")
	} else {
		atomic.AddInt64(&s.metrics.JobsDispatched, 1)
		telemetry.RecordRun(telemetry.ModuleCron, "dispatch", float64(elapsed.Milliseconds()), "success")
	}

	if err := s.store.UpdateRunState(ctx, job.JobID, fireTime, next, runCount, status, enabled); err != nil {
		s.logger.Error("failed to update job run state", map[string]interface{}{"error": err.Error()})
	}

	errMsg := (*string)(nil)
	runStatus := jobstore.RunSucceeded
	if dispErr != nil {
		msg := dispErr.Error()
		errMsg = &msg
		runStatus = jobstore.RunFailed
	}
	completed := time.Now()
	record := jobstore.JobRunRecord{
		RunID:           string(runtime.NewSessionId()),
		JobID:           job.JobID,
		AgentID:         agentID,
		StartedAt:       start,
		CompletedAt:     &completed,
		Status:          runStatus,
		Error:           errMsg,
		ExecutionTimeMs: elapsed.Milliseconds(),
	}
	if err := s.store.SaveRunRecord(ctx, record); err != nil {
		s.logger.Error("failed to save run record", map[string]interface{}{"error": err.Error()})
	}
}

// Snapshot returns a copy of the scheduler's own metrics.
func (s *Scheduler) Snapshot() Metrics {
	return Metrics{
		TicksRun:         atomic.LoadInt64(&s.metrics.TicksRun),
		JobsDispatched:   atomic.LoadInt64(&s.metrics.JobsDispatched),
		JobsSkipped:      atomic.LoadInt64(&s.metrics.JobsSkipped),
		JobsFailed:       atomic.LoadInt64(&s.metrics.JobsFailed),
		JobsDeadLettered: atomic.LoadInt64(&s.metrics.JobsDeadLettered),
	}
}

// CatchUpMissedRuns returns the most recent fire time at or before now,
// stepping forward from lastNextRun; it is the single missed occurrence to
// fire when a job's next_run has fallen far behind now. It only computes
// the time: the tick loop does not call it and does not consult
// EnableMissedRunCatchup.
func CatchUpMissedRuns(cronExpr, timezone string, lastNextRun, now time.Time) (time.Time, error) {
	next := lastNextRun
	for {
		candidate, err := NextRun(cronExpr, timezone, next)
		if err != nil {
			return time.Time{}, err
		}
		if candidate.After(now) {
			return next, nil
		}
		next = candidate
	}
}
