package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/agentrun/agentrun/runtime"
	"github.com/agentrun/agentrun/telemetry"
)

// AgentInstance is owned by the Lifecycle Controller; state changes only via
// the state machine, last_state_change is updated on every transition, and
// restart_count never exceeds max_restart_attempts (spec §3).
type AgentInstance struct {
	Config          runtime.AgentConfig
	State           AgentState
	LastStateChange time.Time
	ErrorCount      int
	RestartCount    int
	LastError       *string
}

// Event kinds dispatched on the controller's internal single-consumer bus
// (spec §4.3).
type Event interface{ isEvent() }

type StateTransitionEvent struct {
	AgentId runtime.AgentId
	From    AgentState
	To      AgentState
}

type AgentErrorEvent struct {
	AgentId runtime.AgentId
	Error   string
	At      time.Time
}

type ResourceExhaustedEvent struct {
	AgentId runtime.AgentId
	Kind    string
	At      time.Time
}

func (StateTransitionEvent) isEvent()    {}
func (AgentErrorEvent) isEvent()         {}
func (ResourceExhaustedEvent) isEvent()  {}

// HealthState is CheckHealth's result (spec §4.3).
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

type ComponentHealth struct {
	State        HealthState
	TotalAgents  int
	FailedAgents int
	StuckAgents  int
}

// Controller implements the Lifecycle Controller (spec §4.3).
type Controller struct {
	cfg    runtime.LifecycleConfig
	sm     *StateMachine
	logger runtime.ComponentAwareLogger

	mu        sync.RWMutex
	instances map[runtime.AgentId]*AgentInstance

	events    chan Event
	running   bool
	runningMu sync.Mutex

	supervisor *runtime.Supervisor
}

func NewController(cfg runtime.LifecycleConfig, logger runtime.ComponentAwareLogger) *Controller {
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
	c := &Controller{
		cfg:        cfg,
		sm:         NewStateMachine(),
		logger:     logger.WithComponent("lifecycle"),
		instances:  make(map[runtime.AgentId]*AgentInstance),
		events:     make(chan Event, 256),
		supervisor: runtime.NewSupervisor(logger),
	}
	return c
}

// Start launches the event-consumer loop and the periodic monitor loop.
func (c *Controller) Start(ctx context.Context) {
	c.runningMu.Lock()
	c.running = true
	c.runningMu.Unlock()

	c.supervisor.Go(ctx, "lifecycle.events", c.runEventLoop)
	c.supervisor.Go(ctx, "lifecycle.monitor", c.runMonitorLoop)
}

func (c *Controller) isRunning() bool {
	c.runningMu.Lock()
	defer c.runningMu.Unlock()
	return c.running
}

// InitializeAgent admits a new AgentConfig and creates its AgentInstance in
// state Created, immediately transitioning to Initializing.
func (c *Controller) InitializeAgent(config runtime.AgentConfig) (runtime.AgentId, error) {
	if config.ID == "" {
		config.ID = runtime.NewAgentId()
	}

	now := time.Now()
	inst := &AgentInstance{Config: config, State: StateCreated, LastStateChange: now}

	c.mu.Lock()
	c.instances[config.ID] = inst
	c.mu.Unlock()

	if err := c.transition(config.ID, StateInitializing); err != nil {
		return config.ID, err
	}
	return config.ID, nil
}

func (c *Controller) transition(id runtime.AgentId, to AgentState) error {
	c.mu.Lock()
	inst, ok := c.instances[id]
	if !ok {
		c.mu.Unlock()
		return ErrAgentNotFound
	}
	from := inst.State
	if !c.sm.IsValidTransition(from, to) {
		c.mu.Unlock()
		c.logger.Warn("rejected invalid state transition", map[string]interface{}{
			"agent_id": string(id), "from": string(from), "to": string(to),
		})
		return ErrInvalidStateTransition
	}
	inst.State = to
	inst.LastStateChange = time.Now()
	c.mu.Unlock()

	c.submit(StateTransitionEvent{AgentId: id, From: from, To: to})
	return nil
}

// submit is non-blocking; a full event channel is logged as
// EventProcessingFailed rather than blocking the caller (spec §4.3).
func (c *Controller) submit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Error("event channel full, dropping event", map[string]interface{}{
			"error": ErrEventProcessingFailed.Error(),
		})
	}
}

func (c *Controller) runEventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.events:
			c.applyEvent(ev)
		}
	}
}

func (c *Controller) applyEvent(ev Event) {
	switch e := ev.(type) {
	case StateTransitionEvent:
		telemetry.Counter("lifecycle.transition.total", "from", string(e.From), "to", string(e.To))
		c.logger.Debug("state transition", map[string]interface{}{
			"agent_id": string(e.AgentId), "from": string(e.From), "to": string(e.To),
		})
	case AgentErrorEvent:
		c.mu.Lock()
		if inst, ok := c.instances[e.AgentId]; ok {
			msg := e.Error
			inst.LastError = &msg
			inst.ErrorCount++
		}
		c.mu.Unlock()
		telemetry.RecordRunError(telemetry.ModuleLifecycle, "agent_error", "runtime")
		c.logger.Warn("agent error", map[string]interface{}{"agent_id": string(e.AgentId), "error": e.Error})
	case ResourceExhaustedEvent:
		telemetry.RecordRunError(telemetry.ModuleLifecycle, "agent_error", "resource_exhausted")
		c.logger.Warn("resource exhausted", map[string]interface{}{"agent_id": string(e.AgentId), "kind": e.Kind})
	}
}

// runMonitorLoop scans every instance every state_check_interval (spec §4.3).
func (c *Controller) runMonitorLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.StateCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.scanOnce()
		}
	}
}

func (c *Controller) scanOnce() {
	now := time.Now()

	c.mu.Lock()
	type action struct {
		id runtime.AgentId
		to AgentState
	}
	var autoRecover []action
	var stuck []runtime.AgentId
	var exhausted []action

	for id, inst := range c.instances {
		if inst.State == StateFailed && c.cfg.EnableAutoRecovery && inst.RestartCount < c.cfg.MaxRestartAttempts {
			if c.sm.IsValidTransition(inst.State, StateInitializing) {
				autoRecover = append(autoRecover, action{id, StateInitializing})
			}
		}
		if (inst.State == StateInitializing || inst.State == StateTerminating) &&
			now.Sub(inst.LastStateChange) > 5*time.Minute {
			stuck = append(stuck, id)
		}
		if inst.State == StateRunning && inst.ErrorCount > 5 {
			exhausted = append(exhausted, action{id, StateSuspended})
		}
	}
	c.mu.Unlock()

	// Decision 1 in DESIGN.md: emit the "stuck" error before evaluating
	// resource exhaustion, so a single tick may emit both for one agent in
	// a deterministic, documented order.
	for _, id := range stuck {
		c.submit(AgentErrorEvent{AgentId: id, Error: "stuck in state", At: now})
	}
	for _, a := range exhausted {
		c.submit(ResourceExhaustedEvent{AgentId: a.id, Kind: "error_count", At: now})
		_ = c.transition(a.id, a.to)
	}
	for _, a := range autoRecover {
		c.mu.Lock()
		if inst, ok := c.instances[a.id]; ok {
			inst.RestartCount++
		}
		c.mu.Unlock()
		telemetry.Counter("lifecycle.restart.total", "outcome", "attempted")
		_ = c.transition(a.id, a.to)
	}
}

// ReadyAgent transitions an Initializing instance to Ready, the point at
// which the Agent Scheduler may admit it onto the priority queue for
// execution (spec §4.2 transition table).
func (c *Controller) ReadyAgent(id runtime.AgentId) error { return c.transition(id, StateReady) }

func (c *Controller) StartAgent(id runtime.AgentId) error  { return c.transition(id, StateRunning) }
func (c *Controller) SuspendAgent(id runtime.AgentId) error { return c.transition(id, StateSuspended) }
func (c *Controller) ResumeAgent(id runtime.AgentId) error  { return c.transition(id, StateRunning) }

// TerminateAgent transitions to Terminating, waits an implementation-defined
// grace period, transitions to Terminated, then removes the instance.
func (c *Controller) TerminateAgent(id runtime.AgentId) error {
	if err := c.transition(id, StateTerminating); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	if err := c.transition(id, StateTerminated); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.instances, id)
	c.mu.Unlock()
	return nil
}

func (c *Controller) GetAgentState(id runtime.AgentId) (AgentState, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	inst, ok := c.instances[id]
	if !ok {
		return "", ErrAgentNotFound
	}
	return inst.State, nil
}

func (c *Controller) GetAgentsByState(state AgentState) []runtime.AgentId {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []runtime.AgentId
	for id, inst := range c.instances {
		if inst.State == state {
			out = append(out, id)
		}
	}
	return out
}

// CheckHealth reports Degraded if any agent is stuck, failed_count >
// total/4, or capacity > 90%; Healthy otherwise; Unhealthy after shutdown
// (spec §4.3).
func (c *Controller) CheckHealth() ComponentHealth {
	if !c.isRunning() {
		return ComponentHealth{State: HealthUnhealthy}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	total := len(c.instances)
	failed := 0
	stuck := 0
	now := time.Now()
	for _, inst := range c.instances {
		if inst.State == StateFailed {
			failed++
		}
		if (inst.State == StateInitializing || inst.State == StateTerminating) &&
			now.Sub(inst.LastStateChange) > 5*time.Minute {
			stuck++
		}
	}

	health := ComponentHealth{State: HealthHealthy, TotalAgents: total, FailedAgents: failed, StuckAgents: stuck}
	capacityRatio := 0.0
	if c.cfg.MaxAgents > 0 {
		capacityRatio = float64(total) / float64(c.cfg.MaxAgents)
	}
	if stuck > 0 || (total > 0 && failed*4 > total) || capacityRatio > 0.9 {
		health.State = HealthDegraded
	}
	telemetry.Counter("lifecycle.health_check.total", "status", string(health.State))
	return health
}

// Shutdown sets running=false, terminates every known agent, then cancels
// the event and monitor loops through the controller's own Supervisor; the
// loops are stopped only after every agent has been terminated. Errors are
// logged but never abort the sequence (spec §4.3).
func (c *Controller) Shutdown() {
	c.runningMu.Lock()
	if !c.running {
		c.runningMu.Unlock()
		return
	}
	c.running = false
	c.runningMu.Unlock()

	c.mu.RLock()
	ids := make([]runtime.AgentId, 0, len(c.instances))
	for id := range c.instances {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	for _, id := range ids {
		if err := c.TerminateAgent(id); err != nil {
			c.logger.Error("termination failed during shutdown", map[string]interface{}{
				"agent_id": string(id), "error": err.Error(),
			})
		}
	}
	c.supervisor.StopAll(c.cfg.TerminationTimeout)
}
