package loadbalancer

import (
	"testing"

	"github.com/agentrun/agentrun/runtime"
	"github.com/stretchr/testify/assert"
)

func TestAllocateRefusesOverCapacity(t *testing.T) {
	lb := New(runtime.ResourceLimits{MemoryMB: 100, CPUCores: 1})

	_, ok := lb.Allocate("a", runtime.ResourceRequirements{MemoryMB: 60, CPUCores: 0.5})
	assert.True(t, ok)

	_, ok = lb.Allocate("b", runtime.ResourceRequirements{MemoryMB: 60, CPUCores: 0.5})
	assert.False(t, ok, "second allocation would exceed 100MB capacity")
}

func TestReleaseFreesCapacity(t *testing.T) {
	lb := New(runtime.ResourceLimits{MemoryMB: 100})
	lb.Allocate("a", runtime.ResourceRequirements{MemoryMB: 80})
	lb.Release("a")

	_, ok := lb.Allocate("b", runtime.ResourceRequirements{MemoryMB: 80})
	assert.True(t, ok)
}

func TestUnboundedDimensionNeverRefuses(t *testing.T) {
	lb := New(runtime.ResourceLimits{}) // zero == unbounded
	_, ok := lb.Allocate("a", runtime.ResourceRequirements{MemoryMB: 1e9})
	assert.True(t, ok)
}
