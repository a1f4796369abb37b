// Package queue implements the Priority Queue (spec §4.1): an ordered
// container of ScheduledTask keyed by (priority desc, arrival asc), with an
// O(log n) remove-by-id. Built over container/heap the way the standard
// library expects a priority queue to be built; no blocking, the scheduler
// main loop polls it on its own cadence.
package queue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/agentrun/agentrun/runtime"
)

// ScheduledTask is the unit the queue orders (spec §3).
type ScheduledTask struct {
	AgentId               runtime.AgentId
	Config                runtime.AgentConfig
	Priority              runtime.Priority
	ScheduledAt           time.Time
	Deadline              *time.Time
	RetryCount            int
	ResourceRequirements  runtime.ResourceRequirements
}

type queueItem struct {
	task  ScheduledTask
	index int
}

// innerHeap implements heap.Interface over *queueItem, ordered by priority
// descending then ScheduledAt ascending, matching spec's ordering rule.
type innerHeap []*queueItem

func (h innerHeap) Len() int { return len(h) }

func (h innerHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].task.ScheduledAt.Before(h[j].task.ScheduledAt)
}

func (h innerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *innerHeap) Push(x interface{}) {
	item := x.(*queueItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *innerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// Queue is a concurrency-safe max-heap of ScheduledTask with a supplementary
// agent_id -> handle index for O(log n) Remove/Find.
type Queue struct {
	mu    sync.Mutex
	heap  innerHeap
	index map[runtime.AgentId]*queueItem
}

func New() *Queue {
	return &Queue{index: make(map[runtime.AgentId]*queueItem)}
}

// Push inserts a task. Equality is by AgentId (spec §3); pushing an AgentId
// already present replaces its queued task in place.
func (q *Queue) Push(task ScheduledTask) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.index[task.AgentId]; ok {
		existing.task = task
		heap.Fix(&q.heap, existing.index)
		return
	}

	item := &queueItem{task: task}
	heap.Push(&q.heap, item)
	q.index[task.AgentId] = item
}

// Pop removes and returns the highest-priority, earliest-arrived task.
func (q *Queue) Pop() (ScheduledTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.heap.Len() == 0 {
		return ScheduledTask{}, false
	}
	item := heap.Pop(&q.heap).(*queueItem)
	delete(q.index, item.task.AgentId)
	return item.task, true
}

// Remove deletes the task for agentId, if queued.
func (q *Queue) Remove(agentId runtime.AgentId) (ScheduledTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.index[agentId]
	if !ok {
		return ScheduledTask{}, false
	}
	heap.Remove(&q.heap, item.index)
	delete(q.index, agentId)
	return item.task, true
}

// Find returns a snapshot of the queued task for agentId without removing it.
func (q *Queue) Find(agentId runtime.AgentId) (ScheduledTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.index[agentId]
	if !ok {
		return ScheduledTask{}, false
	}
	return item.task, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// Clear empties the queue.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.heap = nil
	q.index = make(map[runtime.AgentId]*queueItem)
}

// ToVec returns an unordered snapshot of all queued tasks.
func (q *Queue) ToVec() []ScheduledTask {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]ScheduledTask, 0, len(q.heap))
	for _, item := range q.heap {
		out = append(out, item.task)
	}
	return out
}
