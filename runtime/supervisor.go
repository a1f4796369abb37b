package runtime

import (
	"context"
	"sync"
	"time"
)

// Supervisor starts named long-running goroutines and enforces their
// shutdown budgets, standing in for the "cooperative async runtime" of the
// source design notes without relying on task-local storage: every task
// gets its own cancellation handle and the supervisor simply waits on a
// WaitGroup with a timeout, the same shape the task worker pool's Stop uses.
type Supervisor struct {
	mu     sync.Mutex
	tasks  map[string]context.CancelFunc
	wg     sync.WaitGroup
	logger ComponentAwareLogger
}

func NewSupervisor(logger ComponentAwareLogger) *Supervisor {
	if logger == nil {
		logger = NoOpLogger{}
	}
	return &Supervisor{
		tasks:  make(map[string]context.CancelFunc),
		logger: logger.WithComponent("supervisor"),
	}
}

// Go starts fn as a named goroutine, deriving its context from parent. fn
// must return when its context is canceled.
func (s *Supervisor) Go(parent context.Context, name string, fn func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(parent)

	s.mu.Lock()
	s.tasks[name] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("supervised task panicked", map[string]interface{}{
					"task": name, "panic": r,
				})
			}
		}()
		fn(ctx)
	}()
}

// StopAll cancels every running task and waits up to budget for them all to
// return, returning true if they all exited within the budget.
func (s *Supervisor) StopAll(budget time.Duration) bool {
	s.mu.Lock()
	for name, cancel := range s.tasks {
		s.logger.Debug("stopping task", map[string]interface{}{"task": name})
		cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(budget):
		return false
	}
}
