// Package scheduler implements the Agent Scheduler (spec §4.4): the L5
// façade that admits AgentConfigs into the Priority Queue, pops and places
// them under resource admission control, supervises their running task
// handles, and drives suspend/resume/terminate/shutdown across the
// subsystems it composes. No teacher equivalent exists as a single file
// (the teacher delegates this to a Kubernetes scheduler); the shape below
// follows orchestration/task_worker.go's watchdog-plus-statistics idiom and
// lifecycle/controller.go's event-loop-plus-monitor-loop split, wiring them
// together the way core/config.go's ProductionAgent wires its own
// subsystems.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentrun/agentrun/breaker"
	"github.com/agentrun/agentrun/lifecycle"
	"github.com/agentrun/agentrun/loadbalancer"
	"github.com/agentrun/agentrun/queue"
	"github.com/agentrun/agentrun/runtime"
	"github.com/agentrun/agentrun/taskmanager"
	"github.com/agentrun/agentrun/telemetry"
)

// AgentRunner is supplied by the caller to actually execute an admitted
// agent (typically a Reasoning Loop Runner invocation); report lets the
// runner push periodic resource-usage samples into the Task Manager.
type AgentRunner interface {
	Run(ctx context.Context, config runtime.AgentConfig, report func(memoryMB, cpuPercent float64)) error
}

// SuspendedAgent is the record kept for a suspended running task (spec
// §4.4 "carrying {suspended_at, reason, original_task, can_resume}").
type SuspendedAgent struct {
	SuspendedAt  time.Time
	Reason       string
	OriginalTask queue.ScheduledTask
	CanResume    bool
}

type runningEntry struct {
	task queue.ScheduledTask
}

// Metrics are the scheduler's atomic counters, in the same spirit as the
// Cron Scheduler's Metrics (spec §4.6) but for agent admission.
type Metrics struct {
	TotalScheduled atomic.Int64
	TotalCompleted atomic.Int64
	TotalFailed    atomic.Int64
	TotalForced    atomic.Int64
}

// Scheduler is the Agent Scheduler façade (spec §4.4 L5): it composes the
// Priority Queue, Load Balancer, Task Manager, and Lifecycle Controller for
// admission and teardown, plus a per-agent Circuit Breaker Registry that
// tracks health-check outcomes per AgentId, across re-admissions under the
// same AgentId, so callers can avoid re-admitting an agent that keeps
// flapping.
type Scheduler struct {
	cfg    runtime.SchedulerConfig
	runner AgentRunner
	logger runtime.ComponentAwareLogger

	q          *queue.Queue
	lb         *loadbalancer.LoadBalancer
	tasks      *taskmanager.Manager
	lifecycle  *lifecycle.Controller
	healthGate *breaker.Registry

	mu              sync.Mutex
	runningAgents   map[runtime.AgentId]runningEntry
	suspendedAgents map[runtime.AgentId]SuspendedAgent

	running    atomic.Bool
	supervisor *runtime.Supervisor
	metrics    Metrics
}

// New builds a Scheduler. lb, tasks, and lc are owned by the caller (and
// may be shared with other components); runner executes admitted agents.
func New(cfg runtime.SchedulerConfig, lb *loadbalancer.LoadBalancer, tasks *taskmanager.Manager, lc *lifecycle.Controller, runner AgentRunner, logger runtime.ComponentAwareLogger) *Scheduler {
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
		cfg:             cfg,
		runner:          runner,
		logger:          logger.WithComponent("scheduler"),
		q:               queue.New(),
		lb:              lb,
		tasks:           tasks,
		lifecycle:       lc,
		healthGate:      breaker.NewRegistry(breaker.Config{FailureThreshold: 3, OpenDuration: time.Minute, HalfOpenTrials: 1}),
		runningAgents:   make(map[runtime.AgentId]runningEntry),
		suspendedAgents: make(map[runtime.AgentId]SuspendedAgent),
		supervisor:      runtime.NewSupervisor(logger),
	}
}

// Start launches the 100ms admission loop and the health_check_interval
// health loop (spec §4.4).
func (s *Scheduler) Start(ctx context.Context) {
	s.running.Store(true)
	s.supervisor.Go(ctx, "scheduler.main", s.runMainLoop)
	s.supervisor.Go(ctx, "scheduler.health", s.runHealthLoop)
}

// ScheduleAgent admits config into the priority queue (spec §4.4
// "schedule_agent"). It fails with ErrShuttingDown once the scheduler flag
// is off.
func (s *Scheduler) ScheduleAgent(config runtime.AgentConfig) (runtime.AgentId, error) {
	if !s.running.Load() {
		return "", runtime.NewOpError("scheduler.ScheduleAgent", "scheduler", runtime.ErrShuttingDown)
	}
	if config.ID == "" {
		config.ID = runtime.NewAgentId()
	}
	if _, err := s.lifecycle.InitializeAgent(config); err != nil {
		return "", runtime.NewOpError("scheduler.ScheduleAgent", "scheduler", err).WithID(string(config.ID))
	}
	// InitializeAgent leaves the instance at Initializing; the scheduler
	// models "ready to be queued" as an immediate transition to Ready
	// (spec §4.2 has no intermediate async-init step of its own).
	if err := s.lifecycle.ReadyAgent(config.ID); err != nil {
		return "", runtime.NewOpError("scheduler.ScheduleAgent", "scheduler", err).WithID(string(config.ID))
	}

	s.q.Push(queue.ScheduledTask{
		AgentId:              config.ID,
		Config:               config,
		Priority:             config.Priority,
		ScheduledAt:          time.Now(),
		ResourceRequirements: requirementsFromLimits(config.ResourceLimits),
	})
	s.metrics.TotalScheduled.Add(1)
	return config.ID, nil
}

func requirementsFromLimits(l runtime.ResourceLimits) runtime.ResourceRequirements {
	return runtime.ResourceRequirements{
		MemoryMB: l.MemoryMB, CPUCores: l.CPUCores, DiskBps: l.DiskBps, NetworkBps: l.NetworkBps, GPUs: l.GPUs,
	}
}

func (s *Scheduler) runMainLoop(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick admits as many queued tasks as max_concurrent_agents allows (spec
// §4.4 main loop).
func (s *Scheduler) tick(ctx context.Context) {
	for {
		s.mu.Lock()
		room := len(s.runningAgents) < s.cfg.MaxConcurrentAgents
		s.mu.Unlock()
		if !room {
			return
		}

		task, ok := s.q.Pop()
		if !ok {
			return
		}
		if _, admitted := s.admit(ctx, task); !admitted {
			// Resource failure: push the task back (spec §4.4).
			s.q.Push(task)
			return
		}
	}
}

func (s *Scheduler) admit(ctx context.Context, task queue.ScheduledTask) (runtime.ResourceAllocation, bool) {
	start := time.Now()
	alloc, ok := s.lb.Allocate(task.AgentId, task.ResourceRequirements)
	if !ok {
		telemetry.RecordRun(telemetry.ModuleScheduler, "admit", float64(time.Since(start).Milliseconds()), "rejected")
		telemetry.RecordRunError(telemetry.ModuleScheduler, "admit", "resource_exhausted")
		return alloc, false
	}

	s.mu.Lock()
	s.runningAgents[task.AgentId] = runningEntry{task: task}
	s.mu.Unlock()

	if err := s.lifecycle.StartAgent(task.AgentId); err != nil {
		s.logger.Warn("lifecycle refused start transition", map[string]interface{}{
			"agent_id": string(task.AgentId), "error": err.Error(),
		})
	}

	config := task.Config
	err := s.tasks.StartTask(ctx, task.AgentId, func(taskCtx context.Context, report func(float64, float64)) error {
		if s.runner == nil {
			return nil
		}
		return s.runner.Run(taskCtx, config, report)
	})
	if err != nil {
		s.logger.Error("failed to start task for admitted agent", map[string]interface{}{
			"agent_id": string(task.AgentId), "error": err.Error(),
		})
		s.mu.Lock()
		delete(s.runningAgents, task.AgentId)
		s.mu.Unlock()
		s.lb.Release(task.AgentId)
		telemetry.RecordRun(telemetry.ModuleScheduler, "admit", float64(time.Since(start).Milliseconds()), "error")
		telemetry.RecordRunError(telemetry.ModuleScheduler, "admit", "start_task_failed")
		return alloc, false
	}
	telemetry.RecordRun(telemetry.ModuleScheduler, "admit", float64(time.Since(start).Milliseconds()), "success")
	return alloc, true
}

func (s *Scheduler) runHealthLoop(ctx context.Context) {
	interval := s.cfg.HealthCheckInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.healthCheck(ctx)
		}
	}
}

// healthCheck asks the Task Manager for every running agent's health (spec
// §4.4 "failed tasks are removed and force-terminated"). Every outcome is
// also recorded against the agent's entry in healthGate: a Failed/TimedOut
// check records a failure and any other check a success, so the breaker
// trips open once three checks in a row, across admissions under the same
// AgentId, find the task Failed or TimedOut, and RescheduleAgent/
// ScheduleAgent callers can consult IsFlapping before re-admitting it. A
// force-terminated agent is removed from the lifecycle controller, so
// lifecycle auto-recovery does not restart it.
func (s *Scheduler) healthCheck(ctx context.Context) {
	s.mu.Lock()
	ids := make([]runtime.AgentId, 0, len(s.runningAgents))
	for id := range s.runningAgents {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		stats, err := s.tasks.CheckTaskHealth(id)
		if err != nil {
			continue
		}

		gate := s.healthGate.For(string(id))
		switch stats.Status {
		case taskmanager.TaskCompleted:
			gate.RecordSuccess()
			telemetry.Counter("scheduler.health_check.total", "outcome", "completed")
			s.finishRunning(id)
		case taskmanager.TaskFailed, taskmanager.TaskTimedOut:
			gate.RecordFailure()
			s.metrics.TotalFailed.Add(1)
			telemetry.Counter("scheduler.health_check.total", "outcome", "unhealthy")
			s.forceTerminate(ctx, id)
		default:
			gate.RecordSuccess()
			telemetry.Counter("scheduler.health_check.total", "outcome", "healthy")
		}
	}
	telemetry.Gauge("scheduler.running.count", float64(len(ids)))
}

// IsFlapping reports whether id's health-check breaker has tripped open,
// meaning it has failed repeatedly across restarts and should not be
// re-admitted without operator intervention.
func (s *Scheduler) IsFlapping(id runtime.AgentId) bool {
	return !s.healthGate.For(string(id)).Allow()
}

// finishRunning retires a running agent whose task completed successfully.
func (s *Scheduler) finishRunning(id runtime.AgentId) {
	s.mu.Lock()
	_, ok := s.runningAgents[id]
	delete(s.runningAgents, id)
	s.mu.Unlock()
	if !ok {
		return
	}
	s.lb.Release(id)
	s.tasks.Remove(id)
	s.metrics.TotalCompleted.Add(1)
	_ = s.lifecycle.TerminateAgent(id)
}

func (s *Scheduler) forceTerminate(ctx context.Context, id runtime.AgentId) {
	_ = s.tasks.TerminateTask(ctx, id, time.Second)
	s.mu.Lock()
	delete(s.runningAgents, id)
	s.mu.Unlock()
	s.lb.Release(id)
	s.tasks.Remove(id)
	s.metrics.TotalForced.Add(1)
	_ = s.lifecycle.TerminateAgent(id)
	s.logger.Warn("force-terminated unhealthy agent", map[string]interface{}{"agent_id": string(id)})
}

// RescheduleAgent mutates a queued task's priority in place, or the
// priority field of a running task's bookkeeping entry (spec §4.4
// "reschedule_agent").
func (s *Scheduler) RescheduleAgent(id runtime.AgentId, priority runtime.Priority) error {
	if task, ok := s.q.Remove(id); ok {
		task.Priority = priority
		s.q.Push(task)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.runningAgents[id]
	if !ok {
		return runtime.NewOpError("scheduler.RescheduleAgent", "scheduler", runtime.ErrNotFound).WithID(string(id))
	}
	entry.task.Priority = priority
	entry.task.Config.Priority = priority
	s.runningAgents[id] = entry
	return nil
}

// TerminateAgent removes id from wherever it is (queue or running) and
// tears it down (spec §4.4 "Terminate/shutdown_agent: same path").
func (s *Scheduler) TerminateAgent(ctx context.Context, id runtime.AgentId) error {
	if _, ok := s.q.Remove(id); ok {
		return s.lifecycle.TerminateAgent(id)
	}

	s.mu.Lock()
	_, ok := s.runningAgents[id]
	delete(s.runningAgents, id)
	s.mu.Unlock()
	if !ok {
		s.mu.Lock()
		_, susp := s.suspendedAgents[id]
		delete(s.suspendedAgents, id)
		s.mu.Unlock()
		if !susp {
			return runtime.NewOpError("scheduler.TerminateAgent", "scheduler", runtime.ErrNotFound).WithID(string(id))
		}
		return s.lifecycle.TerminateAgent(id)
	}

	if err := s.tasks.TerminateTask(ctx, id, 5*time.Second); err != nil {
		s.logger.Warn("terminate_task reported an error during shutdown_agent", map[string]interface{}{
			"agent_id": string(id), "error": err.Error(),
		})
	}
	s.tasks.Remove(id)
	s.lb.Release(id)
	return s.lifecycle.TerminateAgent(id)
}

// SuspendAgent moves a running task out of running_agents into
// suspended_agents; suspended agents release their resource allocation and
// consume none while parked (spec §4.4 "suspend_agent").
func (s *Scheduler) SuspendAgent(id runtime.AgentId, reason string) error {
	s.mu.Lock()
	entry, ok := s.runningAgents[id]
	if !ok {
		s.mu.Unlock()
		return runtime.NewOpError("scheduler.SuspendAgent", "scheduler", runtime.ErrNotFound).WithID(string(id))
	}
	delete(s.runningAgents, id)
	s.suspendedAgents[id] = SuspendedAgent{
		SuspendedAt:  time.Now(),
		Reason:       reason,
		OriginalTask: entry.task,
		CanResume:    true,
	}
	s.mu.Unlock()

	_ = s.tasks.TerminateTask(context.Background(), id, time.Second)
	s.tasks.Remove(id)
	s.lb.Release(id)
	return s.lifecycle.SuspendAgent(id)
}

// ResumeAgent moves a suspended task back onto the priority queue with a
// fresh scheduled_at (spec §4.4 "resume_agent").
func (s *Scheduler) ResumeAgent(id runtime.AgentId) error {
	s.mu.Lock()
	susp, ok := s.suspendedAgents[id]
	if !ok {
		s.mu.Unlock()
		return runtime.NewOpError("scheduler.ResumeAgent", "scheduler", runtime.ErrNotFound).WithID(string(id))
	}
	if !susp.CanResume {
		s.mu.Unlock()
		return runtime.NewOpError("scheduler.ResumeAgent", "scheduler", runtime.ErrInvalidState).WithID(string(id))
	}
	delete(s.suspendedAgents, id)
	s.mu.Unlock()

	task := susp.OriginalTask
	task.ScheduledAt = time.Now()
	s.q.Push(task)
	return nil
}

// Snapshot returns a point-in-time view of queue depth, running/suspended
// counts, and the scheduler's cumulative counters.
func (s *Scheduler) Snapshot() (queued, running, suspended int, m Metrics) {
	s.mu.Lock()
	running = len(s.runningAgents)
	suspended = len(s.suspendedAgents)
	s.mu.Unlock()
	return s.q.Len(), running, suspended, s.metrics
}

// Shutdown is idempotent (spec §4.4): it flips the running flag, notifies
// the loops via Supervisor cancellation, attempts a graceful termination of
// each running agent within a 30s wall-clock budget, force-terminates
// whatever remains after a 5s settle, then releases allocations and clears
// the queue.
func (s *Scheduler) Shutdown(ctx context.Context) {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.supervisor.StopAll(time.Millisecond) // loops only poll tickers; return promptly

	s.mu.Lock()
	ids := make([]runtime.AgentId, 0, len(s.runningAgents))
	for id := range s.runningAgents {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, id := range ids {
			wg.Add(1)
			go func(id runtime.AgentId) {
				defer wg.Done()
				_ = s.TerminateAgent(ctx, id)
			}(id)
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		time.Sleep(5 * time.Second)
		s.mu.Lock()
		remaining := make([]runtime.AgentId, 0, len(s.runningAgents))
		for id := range s.runningAgents {
			remaining = append(remaining, id)
		}
		s.mu.Unlock()
		for _, id := range remaining {
			s.forceTerminate(ctx, id)
		}
	}

	s.q.Clear()
	s.mu.Lock()
	s.runningAgents = make(map[runtime.AgentId]runningEntry)
	s.suspendedAgents = make(map[runtime.AgentId]SuspendedAgent)
	s.mu.Unlock()
}
