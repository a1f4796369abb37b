// Package reasoning implements the Reasoning Loop Runner (spec §4.8): the
// observe -> reason -> gate -> act -> observe cycle over an injected
// inference provider, modeled as a typestate machine (spec §9 design note)
// so the compiler refuses operations illegal for the loop's current phase.
package reasoning

import (
	"github.com/agentrun/agentrun/collab"
	"github.com/agentrun/agentrun/runtime"
)

// TerminationReason enumerates why a loop run ended (spec §4.8).
type TerminationReason string

const (
	TerminationCompleted    TerminationReason = "completed"
	TerminationMaxIterations TerminationReason = "max_iterations"
	TerminationTimeout      TerminationReason = "timeout"
	TerminationError        TerminationReason = "error"
	TerminationDenied       TerminationReason = "denied"
	TerminationTruncated    TerminationReason = "truncated"
)

// LoopResult is the Reasoning Loop Runner's outcome (spec §4.8).
type LoopResult struct {
	Termination TerminationReason
	Output      string
	ErrorDetail string
	DeniedReason string
	Iterations  int
	TotalUsage  collab.TokenUsage
}

// ContextManager is the narrow surface the Reasoning phase needs from the
// Context Manager (spec §4.8 "enforce the model's token limit ... compacts")
// without this package depending on the full context package.
type ContextManager interface {
	// CompactIfNeeded returns a possibly-shortened conversation when the
	// conversation's token count reaches a compaction tier's trigger ratio of
	// limit (a token limit); it returns the input unchanged otherwise.
	CompactIfNeeded(conversation []collab.Message, limit int) []collab.Message
}

// ModelResolver resolves which model an agent should reason with and that
// model's context window (spec §2 L3's model catalog, which "the reasoning
// loop could consult"), without this package depending on the catalog's
// storage or its Model type. ok is false when agentID has no bound model.
type ModelResolver interface {
	ResolveModel(agentID runtime.AgentId) (model string, contextWindow int, ok bool)
}

// KnowledgeBridge injects curated context before Reasoning and persists
// learnings back after completion (spec §4.8 "knowledge-bridge option").
type KnowledgeBridge interface {
	Inject(conversation []collab.Message) []collab.Message
	Persist(result LoopResult, conversation []collab.Message)
	// LocalTools advertises tool names this bridge intercepts; matching
	// ProposedActions are resolved locally instead of through the executor.
	LocalTools() map[string]struct{}
	Resolve(action collab.ProposedAction) (collab.Observation, bool)
}
