// Package loadbalancer implements the resource accounting and admission
// component referenced by the Agent Scheduler (spec §2 L3, §4.4). No
// teacher equivalent exists (the teacher assumes a Kubernetes scheduler
// handles this); implemented fresh as simple additive accounting over the
// ResourceLimits/ResourceRequirements/ResourceAllocation triad of spec §3.
package loadbalancer

import (
	"sync"
	"time"

	"github.com/agentrun/agentrun/runtime"
)

// LoadBalancer tracks total capacity and per-agent allocations, granting or
// refusing admission for a ScheduledTask's ResourceRequirements.
type LoadBalancer struct {
	mu          sync.Mutex
	capacity    runtime.ResourceLimits
	allocated   runtime.ResourceLimits
	allocations map[runtime.AgentId]runtime.ResourceAllocation
}

func New(capacity runtime.ResourceLimits) *LoadBalancer {
	return &LoadBalancer{
		capacity:    capacity,
		allocations: make(map[runtime.AgentId]runtime.ResourceAllocation),
	}
}

// Allocate grants req to agentId if capacity remains, recording the
// allocation. Returns ok=false without mutating state if any dimension
// would be exceeded (spec §4.4: "on resource failure push the task back").
func (lb *LoadBalancer) Allocate(agentId runtime.AgentId, req runtime.ResourceRequirements) (runtime.ResourceAllocation, bool) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if lb.capacity.MemoryMB > 0 && lb.allocated.MemoryMB+req.MemoryMB > lb.capacity.MemoryMB {
		return runtime.ResourceAllocation{}, false
	}
	if lb.capacity.CPUCores > 0 && lb.allocated.CPUCores+req.CPUCores > lb.capacity.CPUCores {
		return runtime.ResourceAllocation{}, false
	}
	if lb.capacity.DiskBps > 0 && lb.allocated.DiskBps+req.DiskBps > lb.capacity.DiskBps {
		return runtime.ResourceAllocation{}, false
	}
	if lb.capacity.NetworkBps > 0 && lb.allocated.NetworkBps+req.NetworkBps > lb.capacity.NetworkBps {
		return runtime.ResourceAllocation{}, false
	}
	if lb.capacity.GPUs > 0 && lb.allocated.GPUs+req.GPUs > lb.capacity.GPUs {
		return runtime.ResourceAllocation{}, false
	}

	lb.allocated.MemoryMB += req.MemoryMB
	lb.allocated.CPUCores += req.CPUCores
	lb.allocated.DiskBps += req.DiskBps
	lb.allocated.NetworkBps += req.NetworkBps
	lb.allocated.GPUs += req.GPUs

	alloc := runtime.ResourceAllocation{
		AgentId:        agentId,
		AllocatedMB:    req.MemoryMB,
		AllocatedCPU:   req.CPUCores,
		AllocatedDisk:  req.DiskBps,
		AllocatedNet:   req.NetworkBps,
		AllocatedGPUs:  req.GPUs,
		AllocationTime: time.Now(),
	}
	lb.allocations[agentId] = alloc
	return alloc, true
}

// Release returns agentId's allocation to the available pool.
func (lb *LoadBalancer) Release(agentId runtime.AgentId) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	alloc, ok := lb.allocations[agentId]
	if !ok {
		return
	}
	lb.allocated.MemoryMB -= alloc.AllocatedMB
	lb.allocated.CPUCores -= alloc.AllocatedCPU
	lb.allocated.DiskBps -= alloc.AllocatedDisk
	lb.allocated.NetworkBps -= alloc.AllocatedNet
	lb.allocated.GPUs -= alloc.AllocatedGPUs
	delete(lb.allocations, agentId)
}

// Allocation returns the current allocation for agentId, if any.
func (lb *LoadBalancer) Allocation(agentId runtime.AgentId) (runtime.ResourceAllocation, bool) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	a, ok := lb.allocations[agentId]
	return a, ok
}

// Utilization returns the fraction of memory capacity in use (0 when memory
// is unbounded); the other dimensions are not reported.
func (lb *LoadBalancer) Utilization() float64 {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if lb.capacity.MemoryMB <= 0 {
		return 0
	}
	return lb.allocated.MemoryMB / lb.capacity.MemoryMB
}
