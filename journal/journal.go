// Package journal implements the append-only, sequenced event log for
// reasoning steps (spec §2 L2, referenced throughout §4.8). Journal
// discipline: ReasoningComplete is appended before policy evaluation,
// capturing raw model output, so a crash can be replayed without
// re-invoking the provider.
package journal

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentrun/agentrun/runtime"
)

// EventKind enumerates the journal's event vocabulary (spec §3).
type EventKind string

const (
	EventStarted               EventKind = "started"
	EventReasoningComplete     EventKind = "reasoning_complete"
	EventPolicyEvaluated       EventKind = "policy_evaluated"
	EventToolsDispatched       EventKind = "tools_dispatched"
	EventObservationsCollected EventKind = "observations_collected"
	EventTerminated            EventKind = "terminated"
)

// Entry is one append-only journal record (spec §3). Sequence is unique and
// strictly increasing per journal.
type Entry struct {
	Sequence  uint64
	Timestamp time.Time
	AgentId   runtime.AgentId
	Iteration int
	Event     EventKind
	Payload   map[string]interface{}
}

// Journal is a single agent run's append-only log, held in memory and
// optionally mirrored to an on-disk writer (spec §6: tab-separated
// sequence/timestamp/agent_id/iteration/event_json per line).
type Journal struct {
	agentId  runtime.AgentId
	sequence atomic.Uint64

	mu      sync.RWMutex
	entries []Entry

	writer Writer
}

// Writer persists journal entries as they are appended. A nil Writer means
// in-memory only.
type Writer interface {
	WriteEntry(Entry) error
}

func New(agentId runtime.AgentId, writer Writer) *Journal {
	return &Journal{agentId: agentId, writer: writer}
}

// Append assigns the next sequence number and records the entry. Errors from
// the on-disk writer are surfaced to the caller (infrastructure failures are
// not silently swallowed, spec §7) but the in-memory record always succeeds.
func (j *Journal) Append(iteration int, kind EventKind, payload map[string]interface{}) (Entry, error) {
	seq := j.sequence.Add(1)
	entry := Entry{
		Sequence:  seq,
		Timestamp: time.Now(),
		AgentId:   j.agentId,
		Iteration: iteration,
		Event:     kind,
		Payload:   payload,
	}

	j.mu.Lock()
	j.entries = append(j.entries, entry)
	j.mu.Unlock()

	if j.writer != nil {
		if err := j.writer.WriteEntry(entry); err != nil {
			return entry, runtime.NewOpError("journal.Append", "journal", err)
		}
	}
	return entry, nil
}

// Entries returns a snapshot of every recorded entry, in append order.
func (j *Journal) Entries() []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]Entry, len(j.entries))
	copy(out, j.entries)
	return out
}

// EntriesForIteration returns the entries recorded for one iteration, in
// the order they were appended (used to verify the per-iteration ordering
// invariant in spec §8).
func (j *Journal) EntriesForIteration(iteration int) []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var out []Entry
	for _, e := range j.entries {
		if e.Iteration == iteration {
			out = append(out, e)
		}
	}
	return out
}
