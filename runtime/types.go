package runtime

import (
	"time"

	"github.com/google/uuid"
)

// Opaque 128-bit identifiers, comparable/hashable/serialisable as text,
// wrapped in named string types for compile-time distinction (spec §3).
type (
	AgentId     string
	SessionId   string
	ContextId   string
	KnowledgeId string
	VectorId    string
	CronJobId   string
)

func NewAgentId() AgentId         { return AgentId(uuid.New().String()) }
func NewSessionId() SessionId     { return SessionId(uuid.New().String()) }
func NewContextId() ContextId     { return ContextId(uuid.New().String()) }
func NewKnowledgeId() KnowledgeId { return KnowledgeId(uuid.New().String()) }
func NewVectorId() VectorId       { return VectorId(uuid.New().String()) }
func NewCronJobId() CronJobId     { return CronJobId(uuid.New().String()) }

// Priority orders ScheduledTask admission (spec §3, §4.1).
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ExecutionMode distinguishes how an agent run was admitted.
type ExecutionMode string

const (
	ExecutionModeInteractive   ExecutionMode = "interactive"
	ExecutionModeCronScheduled ExecutionMode = "cron_scheduled"
	ExecutionModeBatch         ExecutionMode = "batch"
)

// SecurityTier selects the sandbox profile an agent runs under.
type SecurityTier string

const (
	SecurityTierUntrusted SecurityTier = "untrusted"
	SecurityTierStandard  SecurityTier = "standard"
	SecurityTierTrusted   SecurityTier = "trusted"
)

// ResourceRequirements describes what a ScheduledTask asks for (spec §3).
type ResourceRequirements struct {
	MemoryMB   float64
	CPUCores   float64
	DiskBps    float64
	NetworkBps float64
	GPUs       float64
}

// ResourceLimits bounds what an agent, or the whole scheduler, may consume.
type ResourceLimits struct {
	MemoryMB   float64
	CPUCores   float64
	DiskBps    float64
	NetworkBps float64
	GPUs       float64
}

// ResourceAllocation is what the Load Balancer actually granted.
type ResourceAllocation struct {
	AgentId        AgentId
	AllocatedMB    float64
	AllocatedCPU   float64
	AllocatedDisk  float64
	AllocatedNet   float64
	AllocatedGPUs  float64
	AllocationTime time.Time
}

// CapabilityToken names a permission an agent is allowed to exercise.
type CapabilityToken string

// PolicyRef names a policy applied during the Reasoning Loop's PolicyCheck
// phase (resolved by the injected Policy Gate; opaque here).
type PolicyRef string

// AgentConfig is immutable after admission except via UpdateAgent's
// controlled path (name, dsl_source, priority only) (spec §3).
type AgentConfig struct {
	ID             AgentId
	Name           string
	DSLSource      string
	ExecutionMode  ExecutionMode
	SecurityTier   SecurityTier
	ResourceLimits ResourceLimits
	Capabilities   map[CapabilityToken]struct{}
	Policies       []PolicyRef
	Metadata       map[string]string
	Priority       Priority
}

// Clone returns a deep-enough copy for mutation via UpdateAgent.
func (c AgentConfig) Clone() AgentConfig {
	cp := c
	cp.Capabilities = make(map[CapabilityToken]struct{}, len(c.Capabilities))
	for k := range c.Capabilities {
		cp.Capabilities[k] = struct{}{}
	}
	cp.Policies = append([]PolicyRef(nil), c.Policies...)
	cp.Metadata = make(map[string]string, len(c.Metadata))
	for k, v := range c.Metadata {
		cp.Metadata[k] = v
	}
	return cp
}
