// Package modelcatalog implements the Model Catalog (spec §2 L3): a
// registry of models, agent->model maps, capability lookup, and a best-fit
// query. Grounded on the capability-indexed registry pattern in
// core/redis_registry.go and pkg/discovery/redis.go (SADD/SMEMBERS
// capability index), adapted from "service capability -> service name" to
// "model capability -> model id"; kept in-memory by default with an optional
// Redis-backed Store for sharing a catalog across processes.
package modelcatalog

import (
	"sync"

	"github.com/agentrun/agentrun/runtime"
)

// Model describes one available inference model.
type Model struct {
	ID           string
	Provider     string
	Capabilities map[string]struct{}
	ContextWindow int
	CostPerToken  float64
}

// Catalog is the in-memory Model Catalog. RedisCatalog in this package is a
// separate Redis-backed type with its own context-taking, error-returning
// methods; the two types do not share an interface.
type Catalog struct {
	mu             sync.RWMutex
	models         map[string]Model
	capabilityIdx  map[string]map[string]struct{} // capability -> set<modelID>
	agentModelMap  map[runtime.AgentId]string
}

func New() *Catalog {
	return &Catalog{
		models:        make(map[string]Model),
		capabilityIdx: make(map[string]map[string]struct{}),
		agentModelMap: make(map[runtime.AgentId]string),
	}
}

// Register adds or replaces a model and (re)builds its capability index
// entries, mirroring the teacher's Register-then-SAdd-per-capability idiom.
func (c *Catalog) Register(m Model) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.models[m.ID]; ok {
		for cap := range old.Capabilities {
			delete(c.capabilityIdx[cap], m.ID)
		}
	}
	c.models[m.ID] = m
	for cap := range m.Capabilities {
		set, ok := c.capabilityIdx[cap]
		if !ok {
			set = make(map[string]struct{})
			c.capabilityIdx[cap] = set
		}
		set[m.ID] = struct{}{}
	}
}

// Get returns a registered model by id.
func (c *Catalog) Get(id string) (Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.models[id]
	return m, ok
}

// FindByCapability returns every model advertising capability, mirroring
// FindByCapability in the teacher's discovery registry.
func (c *Catalog) FindByCapability(capability string) []Model {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := c.capabilityIdx[capability]
	out := make([]Model, 0, len(ids))
	for id := range ids {
		out = append(out, c.models[id])
	}
	return out
}

// BestFit returns the model with the largest context window among those
// advertising every capability in required, breaking ties by lowest
// cost-per-token. Implements the "best-fit query" named in spec §2.
func (c *Catalog) BestFit(required []string) (Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var best Model
	found := false
	for _, m := range c.models {
		if !hasAllCapabilities(m, required) {
			continue
		}
		if !found || m.ContextWindow > best.ContextWindow ||
			(m.ContextWindow == best.ContextWindow && m.CostPerToken < best.CostPerToken) {
			best = m
			found = true
		}
	}
	return best, found
}

func hasAllCapabilities(m Model, required []string) bool {
	for _, r := range required {
		if _, ok := m.Capabilities[r]; !ok {
			return false
		}
	}
	return true
}

// BindAgent records the model assigned to an agent (the "agent->model maps"
// of spec §2).
func (c *Catalog) BindAgent(agentID runtime.AgentId, modelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agentModelMap[agentID] = modelID
}

// ModelForAgent returns the model bound to agentID, if any.
func (c *Catalog) ModelForAgent(agentID runtime.AgentId) (Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.agentModelMap[agentID]
	if !ok {
		return Model{}, false
	}
	m, ok := c.models[id]
	return m, ok
}

// ResolveModel implements reasoning.ModelResolver: it adapts ModelForAgent's
// Model-typed result to the (modelID, contextWindow, ok) shape the Reasoning
// phase needs to populate CompleteOptions.Model and its token-limit check,
// without the reasoning package importing this package's Model type.
func (c *Catalog) ResolveModel(agentID runtime.AgentId) (string, int, bool) {
	m, ok := c.ModelForAgent(agentID)
	if !ok {
		return "", 0, false
	}
	return m.ID, m.ContextWindow, true
}
