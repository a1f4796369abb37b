package modelcatalog

import (
	"testing"

	"github.com/agentrun/agentrun/runtime"
	"github.com/stretchr/testify/assert"
)

func TestFindByCapability(t *testing.T) {
	c := New()
	c.Register(Model{ID: "gpt-a", Capabilities: map[string]struct{}{"tools": {}}})
	c.Register(Model{ID: "gpt-b", Capabilities: map[string]struct{}{"vision": {}}})

	found := c.FindByCapability("tools")
	assert.Len(t, found, 1)
	assert.Equal(t, "gpt-a", found[0].ID)
}

func TestBestFitPrefersLargerContextThenCheaper(t *testing.T) {
	c := New()
	c.Register(Model{ID: "small", Capabilities: map[string]struct{}{"tools": {}}, ContextWindow: 4000, CostPerToken: 0.001})
	c.Register(Model{ID: "big-expensive", Capabilities: map[string]struct{}{"tools": {}}, ContextWindow: 128000, CostPerToken: 0.01})
	c.Register(Model{ID: "incapable", Capabilities: map[string]struct{}{}, ContextWindow: 1000000})

	best, ok := c.BestFit([]string{"tools"})
	assert.True(t, ok)
	assert.Equal(t, "big-expensive", best.ID)
}

func TestBindAgentAndLookup(t *testing.T) {
	c := New()
	c.Register(Model{ID: "gpt-a"})
	c.BindAgent(runtime.AgentId("agent-1"), "gpt-a")

	m, ok := c.ModelForAgent(runtime.AgentId("agent-1"))
	assert.True(t, ok)
	assert.Equal(t, "gpt-a", m.ID)
}

func TestBestFitNoMatch(t *testing.T) {
	c := New()
	c.Register(Model{ID: "gpt-a", Capabilities: map[string]struct{}{"vision": {}}})
	_, ok := c.BestFit([]string{"tools"})
	assert.False(t, ok)
}

func TestResolveModelAdaptsBoundModel(t *testing.T) {
	c := New()
	c.Register(Model{ID: "gpt-a", ContextWindow: 8192})
	c.BindAgent(runtime.AgentId("agent-1"), "gpt-a")

	model, contextWindow, ok := c.ResolveModel(runtime.AgentId("agent-1"))
	assert.True(t, ok)
	assert.Equal(t, "gpt-a", model)
	assert.Equal(t, 8192, contextWindow)
}

func TestResolveModelUnboundAgent(t *testing.T) {
	c := New()
	_, _, ok := c.ResolveModel(runtime.AgentId("unknown"))
	assert.False(t, ok)
}
