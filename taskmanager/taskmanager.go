// Package taskmanager implements per-agent task handles with watchdog-
// enforced timeouts (spec §4.5): start, health check, and forced
// termination of a running agent task, plus aggregate statistics. Adapted
// from orchestration/task_worker.go's TaskWorkerPool — its atomic
// state-tracking fields and Start/Stop/runWorker shape are kept, but
// generalized from a queue-of-task-types pool into one handle per
// scheduler-admitted agent.
package taskmanager

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentrun/agentrun/runtime"
)

// TaskStatus mirrors a task handle's lifecycle (spec §3).
type TaskStatus string

const (
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskTimedOut  TaskStatus = "timed_out"
	TaskTerminated TaskStatus = "terminated"
)

// Stats is a point-in-time resource/activity snapshot for one task (spec §3).
type Stats struct {
	AgentID      runtime.AgentId
	Status       TaskStatus
	StartedAt    time.Time
	LastActivity time.Time
	MemoryUsageMB float64
	CPUPercent    float64
}

// Work is the unit of execution a task handle runs; it must poll ctx and
// return promptly after cancellation for TerminateTask to be effective.
type Work func(ctx context.Context, report func(memoryMB, cpuPercent float64)) error

type handle struct {
	agentID      runtime.AgentId
	status       atomic.Value // TaskStatus
	startedAt    time.Time
	lastActivity atomic.Value // time.Time
	memoryMB     atomic.Value // float64
	cpuPercent   atomic.Value // float64
	cancel       context.CancelFunc
	done         chan struct{}
}

func (h *handle) snapshot() Stats {
	return Stats{
		AgentID:       h.agentID,
		Status:        h.status.Load().(TaskStatus),
		StartedAt:     h.startedAt,
		LastActivity:  h.lastActivity.Load().(time.Time),
		MemoryUsageMB: h.memoryMB.Load().(float64),
		CPUPercent:    h.cpuPercent.Load().(float64),
	}
}

// Manager tracks one task handle per in-flight agent (spec §4.5).
type Manager struct {
	mu      sync.RWMutex
	tasks   map[runtime.AgentId]*handle
	timeout time.Duration
	logger  runtime.ComponentAwareLogger
}

// New builds a Manager enforcing taskTimeout per task (spec §6
// scheduler.task_timeout).
func New(taskTimeout time.Duration, logger runtime.ComponentAwareLogger) *Manager {
	if logger == nil {
		logger = runtime.NoOpLogger{}
	}
	return &Manager{
		tasks:   make(map[runtime.AgentId]*handle),
		timeout: taskTimeout,
		logger:  logger.WithComponent("taskmanager"),
	}
}

// StartTask launches work for agentID under a watchdog that marks the task
// TimedOut and cancels its context if it runs longer than the configured
// task_timeout (spec §4.5 "start_task").
func (m *Manager) StartTask(ctx context.Context, agentID runtime.AgentId, work Work) error {
	m.mu.Lock()
	if _, exists := m.tasks[agentID]; exists {
		m.mu.Unlock()
		return runtime.NewOpError("taskmanager.StartTask", "task", runtime.ErrAlreadyExists).WithID(string(agentID))
	}

	taskCtx, cancel := context.WithCancel(ctx)
	h := &handle{agentID: agentID, startedAt: time.Now(), cancel: cancel, done: make(chan struct{})}
	h.status.Store(TaskRunning)
	h.lastActivity.Store(time.Now())
	h.memoryMB.Store(float64(0))
	h.cpuPercent.Store(float64(0))
	m.tasks[agentID] = h
	m.mu.Unlock()

	var watchdog *time.Timer
	if m.timeout > 0 {
		watchdog = time.AfterFunc(m.timeout, func() {
			if h.status.CompareAndSwap(TaskRunning, TaskTimedOut) {
				m.logger.Warn("task exceeded task_timeout; cancelling", map[string]interface{}{
					"agent_id": agentID, "timeout": m.timeout.String(),
				})
				cancel()
			}
		})
	}

	go func() {
		defer close(h.done)
		if watchdog != nil {
			defer watchdog.Stop()
		}
		report := func(memoryMB, cpuPercent float64) {
			h.memoryMB.Store(memoryMB)
			h.cpuPercent.Store(cpuPercent)
			h.lastActivity.Store(time.Now())
		}

		err := work(taskCtx, report)

		switch {
		case h.status.Load() == TaskTimedOut:
			// watchdog already flipped status; nothing to do
		case err != nil:
			h.status.Store(TaskFailed)
		default:
			h.status.Store(TaskCompleted)
		}
	}()

	return nil
}

// CheckTaskHealth reports the current Stats for agentID (spec §4.5
// "check_task_health").
func (m *Manager) CheckTaskHealth(agentID runtime.AgentId) (Stats, error) {
	m.mu.RLock()
	h, ok := m.tasks[agentID]
	m.mu.RUnlock()
	if !ok {
		return Stats{}, runtime.NewOpError("taskmanager.CheckTaskHealth", "task", runtime.ErrNotFound).WithID(string(agentID))
	}
	return h.snapshot(), nil
}

// TerminateTask cancels agentID's task context and waits up to grace for it
// to exit before reporting a forced termination (spec §4.5
// "terminate_task").
func (m *Manager) TerminateTask(ctx context.Context, agentID runtime.AgentId, grace time.Duration) error {
	m.mu.RLock()
	h, ok := m.tasks[agentID]
	m.mu.RUnlock()
	if !ok {
		return runtime.NewOpError("taskmanager.TerminateTask", "task", runtime.ErrNotFound).WithID(string(agentID))
	}

	wasRunning := h.status.Load() == TaskRunning
	h.cancel()
	select {
	case <-h.done:
		// The work goroutine records Failed for the ctx error it returns
		// after cancel; a task that was running when terminated reads as
		// Terminated.
		if wasRunning {
			h.status.Store(TaskTerminated)
		}
	case <-time.After(grace):
		h.status.Store(TaskTerminated)
		m.logger.Warn("task did not exit within grace period after cancel", map[string]interface{}{
			"agent_id": agentID, "grace": grace.String(),
		})
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Remove drops a finished task's handle from tracking.
func (m *Manager) Remove(agentID runtime.AgentId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, agentID)
}

// Statistics aggregates counts across all tracked tasks (spec §4.5
// "get_task_statistics").
type Statistics struct {
	Total      int
	Running    int
	Completed  int
	Failed     int
	TimedOut   int
	Terminated int
}

func (m *Manager) GetTaskStatistics() Statistics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats Statistics
	stats.Total = len(m.tasks)
	for _, h := range m.tasks {
		switch h.status.Load().(TaskStatus) {
		case TaskRunning:
			stats.Running++
		case TaskCompleted:
			stats.Completed++
		case TaskFailed:
			stats.Failed++
		case TaskTimedOut:
			stats.TimedOut++
		case TaskTerminated:
			stats.Terminated++
		}
	}
	return stats
}

// Wait blocks until agentID's task goroutine exits.
func (m *Manager) Wait(agentID runtime.AgentId) error {
	m.mu.RLock()
	h, ok := m.tasks[agentID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("taskmanager: no task for agent %s", agentID)
	}
	<-h.done
	return nil
}
