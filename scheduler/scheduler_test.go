package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/agentrun/agentrun/lifecycle"
	"github.com/agentrun/agentrun/loadbalancer"
	"github.com/agentrun/agentrun/runtime"
	"github.com/agentrun/agentrun/taskmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingRunner struct {
	mu      sync.Mutex
	started map[runtime.AgentId]chan struct{}
	release chan struct{}
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(map[runtime.AgentId]chan struct{}), release: make(chan struct{})}
}

func (r *blockingRunner) Run(ctx context.Context, config runtime.AgentConfig, report func(float64, float64)) error {
	r.mu.Lock()
	ch, ok := r.started[config.ID]
	if !ok {
		ch = make(chan struct{}, 1)
		r.started[config.ID] = ch
	}
	r.mu.Unlock()
	select {
	case ch <- struct{}{}:
	default:
	}

	select {
	case <-r.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newTestScheduler(t *testing.T, maxConcurrent int, runner AgentRunner) *Scheduler {
	t.Helper()
	cfg := runtime.DefaultSchedulerConfig()
	cfg.MaxConcurrentAgents = maxConcurrent
	cfg.HealthCheckInterval = 20 * time.Millisecond

	lb := loadbalancer.New(runtime.ResourceLimits{MemoryMB: 100000, CPUCores: 1000})
	tasks := taskmanager.New(0, runtime.NoOpLogger{})
	lc := lifecycle.NewController(runtime.DefaultLifecycleConfig(), runtime.NoOpLogger{})
	lc.Start(context.Background())

	return New(cfg, lb, tasks, lc, runner, runtime.NoOpLogger{})
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func TestScheduleAgentAdmitsUnderCapacity(t *testing.T) {
	runner := newBlockingRunner()
	defer close(runner.release)
	s := newTestScheduler(t, 2, runner)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	id, err := s.ScheduleAgent(runtime.AgentConfig{Name: "agent-a", Priority: runtime.PriorityNormal})
	require.NoError(t, err)

	waitFor(t, time.Second, func() bool {
		_, running, _, _ := s.Snapshot()
		return running == 1
	})

	state, err := s.lifecycle.GetAgentState(id)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateRunning, state)
}

func TestScheduleAgentRejectedWhenShutDown(t *testing.T) {
	runner := newBlockingRunner()
	defer close(runner.release)
	s := newTestScheduler(t, 2, runner)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	s.Shutdown(ctx)

	_, err := s.ScheduleAgent(runtime.AgentConfig{Name: "late"})
	require.Error(t, err)
	assert.ErrorIs(t, err, runtime.ErrShuttingDown)
}

func TestMaxConcurrentAgentsBoundsAdmission(t *testing.T) {
	runner := newBlockingRunner()
	defer close(runner.release)
	s := newTestScheduler(t, 1, runner)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	_, err := s.ScheduleAgent(runtime.AgentConfig{Name: "first", Priority: runtime.PriorityNormal})
	require.NoError(t, err)
	_, err = s.ScheduleAgent(runtime.AgentConfig{Name: "second", Priority: runtime.PriorityHigh})
	require.NoError(t, err)

	waitFor(t, time.Second, func() bool {
		_, running, _, _ := s.Snapshot()
		return running == 1
	})

	queued, running, _, _ := s.Snapshot()
	assert.Equal(t, 1, running)
	assert.Equal(t, 1, queued)
}

func TestSuspendAndResumeAgent(t *testing.T) {
	runner := newBlockingRunner()
	defer close(runner.release)
	s := newTestScheduler(t, 2, runner)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	id, err := s.ScheduleAgent(runtime.AgentConfig{Name: "suspendable"})
	require.NoError(t, err)
	waitFor(t, time.Second, func() bool {
		_, running, _, _ := s.Snapshot()
		return running == 1
	})

	require.NoError(t, s.SuspendAgent(id, "operator request"))
	_, running, suspended, _ := s.Snapshot()
	assert.Equal(t, 0, running)
	assert.Equal(t, 1, suspended)

	state, err := s.lifecycle.GetAgentState(id)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateSuspended, state)

	require.NoError(t, s.ResumeAgent(id))
	waitFor(t, time.Second, func() bool {
		_, running, _, _ := s.Snapshot()
		return running == 1
	})
	state, err = s.lifecycle.GetAgentState(id)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateRunning, state)
}

func TestTerminateAgentRemovesQueuedTask(t *testing.T) {
	runner := newBlockingRunner()
	defer close(runner.release)
	s := newTestScheduler(t, 0, runner) // capacity 0: nothing is ever admitted
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	id, err := s.ScheduleAgent(runtime.AgentConfig{Name: "queued-only"})
	require.NoError(t, err)
	assert.Equal(t, 1, s.q.Len())

	require.NoError(t, s.TerminateAgent(context.Background(), id))
	assert.Equal(t, 0, s.q.Len())
}

func TestHealthLoopForceTerminatesRepeatedlyFailingAgent(t *testing.T) {
	cfg := runtime.DefaultSchedulerConfig()
	cfg.MaxConcurrentAgents = 2
	cfg.HealthCheckInterval = 10 * time.Millisecond

	lb := loadbalancer.New(runtime.ResourceLimits{MemoryMB: 100000, CPUCores: 1000})
	tasks := taskmanager.New(0, runtime.NoOpLogger{})
	lc := lifecycle.NewController(runtime.DefaultLifecycleConfig(), runtime.NoOpLogger{})
	lc.Start(context.Background())

	failingRunner := AgentRunnerFunc(func(ctx context.Context, config runtime.AgentConfig, report func(float64, float64)) error {
		return assertErr
	})
	s := New(cfg, lb, tasks, lc, failingRunner, runtime.NoOpLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	_, err := s.ScheduleAgent(runtime.AgentConfig{Name: "flaky"})
	require.NoError(t, err)

	waitFor(t, 2*time.Second, func() bool {
		_, running, _, m := s.Snapshot()
		return running == 0 && m.TotalFailed.Load()+m.TotalForced.Load() > 0
	})
}

// AgentRunnerFunc adapts a plain function to the AgentRunner interface, the
// way http.HandlerFunc adapts a function to http.Handler.
type AgentRunnerFunc func(ctx context.Context, config runtime.AgentConfig, report func(float64, float64)) error

func (f AgentRunnerFunc) Run(ctx context.Context, config runtime.AgentConfig, report func(float64, float64)) error {
	return f(ctx, config, report)
}

var assertErr = &runtime.OpError{Op: "test", Kind: "runner", Message: "synthetic failure"}
