package queue

import (
	"testing"
	"time"

	"github.com/agentrun/agentrun/runtime"
	"github.com/stretchr/testify/assert"
)

func TestPushPopOrdersByPriorityThenArrival(t *testing.T) {
	q := New()
	now := time.Now()

	q.Push(ScheduledTask{AgentId: "a", Priority: runtime.PriorityLow, ScheduledAt: now})
	q.Push(ScheduledTask{AgentId: "b", Priority: runtime.PriorityHigh, ScheduledAt: now.Add(time.Second)})
	q.Push(ScheduledTask{AgentId: "c", Priority: runtime.PriorityHigh, ScheduledAt: now})

	first, ok := q.Pop()
	assert.True(t, ok)
	assert.Equal(t, runtime.AgentId("c"), first.AgentId, "equal priority ties broken by earlier arrival")

	second, ok := q.Pop()
	assert.True(t, ok)
	assert.Equal(t, runtime.AgentId("b"), second.AgentId)

	third, ok := q.Pop()
	assert.True(t, ok)
	assert.Equal(t, runtime.AgentId("a"), third.AgentId)

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestRemoveByAgentId(t *testing.T) {
	q := New()
	q.Push(ScheduledTask{AgentId: "a", Priority: runtime.PriorityNormal, ScheduledAt: time.Now()})
	q.Push(ScheduledTask{AgentId: "b", Priority: runtime.PriorityNormal, ScheduledAt: time.Now()})

	removed, ok := q.Remove("a")
	assert.True(t, ok)
	assert.Equal(t, runtime.AgentId("a"), removed.AgentId)
	assert.Equal(t, 1, q.Len())

	_, ok = q.Find("a")
	assert.False(t, ok)

	_, ok = q.Remove("missing")
	assert.False(t, ok)
}

func TestPushReplacesExistingAgentId(t *testing.T) {
	q := New()
	now := time.Now()
	q.Push(ScheduledTask{AgentId: "a", Priority: runtime.PriorityLow, ScheduledAt: now})
	q.Push(ScheduledTask{AgentId: "a", Priority: runtime.PriorityCritical, ScheduledAt: now})

	assert.Equal(t, 1, q.Len())
	task, ok := q.Find("a")
	assert.True(t, ok)
	assert.Equal(t, runtime.PriorityCritical, task.Priority)
}

func TestClearAndToVec(t *testing.T) {
	q := New()
	q.Push(ScheduledTask{AgentId: "a", ScheduledAt: time.Now()})
	q.Push(ScheduledTask{AgentId: "b", ScheduledAt: time.Now()})

	snap := q.ToVec()
	assert.Len(t, snap, 2)

	q.Clear()
	assert.Equal(t, 0, q.Len())
}
