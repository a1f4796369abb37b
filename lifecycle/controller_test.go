package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/agentrun/agentrun/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMachineTransitionsExactlyPerSpec(t *testing.T) {
	sm := NewStateMachine()

	assert.True(t, sm.IsValidTransition(StateCreated, StateInitializing))
	assert.False(t, sm.IsValidTransition(StateCreated, StateRunning))
	assert.True(t, sm.IsValidTransition(StateRunning, StateSuspended))
	assert.True(t, sm.IsValidTransition(StateFailed, StateInitializing))
	assert.False(t, sm.IsValidTransition(StateTerminated, StateInitializing), "terminal state has no outgoing transitions")
}

func testConfig() runtime.LifecycleConfig {
	cfg := runtime.DefaultLifecycleConfig()
	cfg.StateCheckInterval = 20 * time.Millisecond
	return cfg
}

func TestInitializeAgentEntersInitializing(t *testing.T) {
	c := NewController(testConfig(), nil)
	id, err := c.InitializeAgent(runtime.AgentConfig{Name: "a"})
	require.NoError(t, err)

	state, err := c.GetAgentState(id)
	require.NoError(t, err)
	assert.Equal(t, StateInitializing, state)
}

func TestTerminateAgentRemovesInstance(t *testing.T) {
	c := NewController(testConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	id, _ := c.InitializeAgent(runtime.AgentConfig{Name: "a"})
	require.NoError(t, c.transition(id, StateReady))
	require.NoError(t, c.TerminateAgent(id))

	_, err := c.GetAgentState(id)
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

// End-to-end scenario 6 (spec §8): Agent in Failed with restart_count=0,
// max_restart_attempts=3, enable_auto_recovery=true. After one monitor tick:
// state=Initializing, restart_count=1.
func TestAutoRecoveryScenario(t *testing.T) {
	cfg := testConfig()
	c := NewController(cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	id, _ := c.InitializeAgent(runtime.AgentConfig{Name: "a"})
	require.NoError(t, c.transition(id, StateFailed))

	require.Eventually(t, func() bool {
		state, err := c.GetAgentState(id)
		return err == nil && state == StateInitializing
	}, time.Second, 5*time.Millisecond)

	c.mu.RLock()
	restartCount := c.instances[id].RestartCount
	c.mu.RUnlock()
	assert.Equal(t, 1, restartCount)
}

func TestCheckHealthDegradedOnHighFailureRatio(t *testing.T) {
	cfg := testConfig()
	cfg.EnableAutoRecovery = false
	c := NewController(cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	id, _ := c.InitializeAgent(runtime.AgentConfig{Name: "a"})
	require.NoError(t, c.transition(id, StateFailed))

	health := c.CheckHealth()
	assert.Equal(t, HealthDegraded, health.State)
}

func TestShutdownIsIdempotent(t *testing.T) {
	c := NewController(testConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	c.Shutdown()
	c.Shutdown()

	assert.Equal(t, HealthUnhealthy, c.CheckHealth().State)
}
