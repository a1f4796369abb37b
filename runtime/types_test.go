package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIDsAreUniqueAndNonEmpty(t *testing.T) {
	a, b := NewAgentId(), NewAgentId()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)

	assert.NotEqual(t, NewSessionId(), NewSessionId())
	assert.NotEqual(t, NewContextId(), NewContextId())
	assert.NotEqual(t, NewKnowledgeId(), NewKnowledgeId())
	assert.NotEqual(t, NewVectorId(), NewVectorId())
	assert.NotEqual(t, NewCronJobId(), NewCronJobId())
}

func TestPriorityStringCoversAllLevelsAndUnknown(t *testing.T) {
	assert.Equal(t, "low", PriorityLow.String())
	assert.Equal(t, "normal", PriorityNormal.String())
	assert.Equal(t, "high", PriorityHigh.String())
	assert.Equal(t, "critical", PriorityCritical.String())
	assert.Equal(t, "unknown", Priority(99).String())
}

func TestAgentConfigCloneIsIndependent(t *testing.T) {
	original := AgentConfig{
		ID:           NewAgentId(),
		Name:         "agent",
		Capabilities: map[CapabilityToken]struct{}{"read": {}},
		Policies:     []PolicyRef{"policy-a"},
		Metadata:     map[string]string{"k": "v"},
		Priority:     PriorityNormal,
	}

	clone := original.Clone()
	clone.Capabilities["write"] = struct{}{}
	clone.Policies[0] = "policy-b"
	clone.Metadata["k"] = "changed"

	_, hasWrite := original.Capabilities["write"]
	assert.False(t, hasWrite, "mutating the clone's capability set must not affect the original")
	assert.Equal(t, PolicyRef("policy-a"), original.Policies[0])
	assert.Equal(t, "v", original.Metadata["k"])
}
