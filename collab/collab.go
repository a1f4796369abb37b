// Package collab defines the narrow external-collaborator interfaces (spec
// §6): inference provider, action executor, policy gate, embedding service,
// and vector database. Each is deliberately a small capability interface
// with a permissive/no-op default, the same "interface + NoOp default
// shipped alongside it" idiom core/interfaces.go uses for core.AIClient,
// core.Memory, and core.Discovery. No concrete LM provider, embedding
// provider, or vector-DB client is implemented here — those are explicitly
// out of scope (spec §1); only the boundary contracts and working no-op
// implementations are.
package collab

import "context"

// FinishReason enumerates why an InferenceResponse ended (spec §4.8).
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishLength    FinishReason = "length"
	FinishError     FinishReason = "error"
)

// ToolCall is one tool invocation proposed by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// TokenUsage accumulates prompt/completion/total token counts (spec §3).
type TokenUsage struct {
	Prompt     int
	Completion int
	Total      int
}

// Message mirrors ConversationMessage's shape for provider calls.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolDefinition describes one callable tool to the inference provider.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]interface{} // JSON schema
}

// CompleteOptions parameterizes one inference call (spec §6).
type CompleteOptions struct {
	Model          string
	Temperature    float64
	TopP           float64
	MaxTokens      int
	ToolDefinitions []ToolDefinition
}

// InferenceResponse is what the Reasoning phase produces (spec §4.8).
type InferenceResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason FinishReason
	Usage        TokenUsage
	Model        string
}

// InferenceProvider is the injected LM collaborator (spec §6).
type InferenceProvider interface {
	Complete(ctx context.Context, conversation []Message, opts CompleteOptions) (InferenceResponse, error)
	ProviderName() string
	DefaultModel() string
	SupportsNativeTools() bool
	SupportsStructuredOutput() bool
}

// ProposedAction is what PolicyCheck evaluates (spec §4.8).
type ProposedAction struct {
	ToolCall   *ToolCall
	FinalAnswer *string
}

// Observation is what ToolDispatching/Observing record per action
// (spec §4.8).
type Observation struct {
	ToolCallID string
	Content    string
	CircuitOpen bool
	TimedOut   bool
	Err        error
}

// ActionExecutor is the injected tool-dispatch collaborator (spec §6).
type ActionExecutor interface {
	ExecuteActions(ctx context.Context, actions []ProposedAction) ([]Observation, error)
	ToolDefinitions() []ToolDefinition
}

// LoopDecision is the Policy Gate's verdict on one ProposedAction (spec §6).
type LoopDecision struct {
	Kind      DecisionKind
	Reason    string
	NewAction *ProposedAction
}

type DecisionKind string

const (
	DecisionAllow  DecisionKind = "allow"
	DecisionDeny   DecisionKind = "deny"
	DecisionModify DecisionKind = "modify"
)

// PolicyGate is the injected capability/intent check (spec §6).
type PolicyGate interface {
	EvaluateAction(ctx context.Context, agentID string, action ProposedAction) (LoopDecision, error)
}

// EmbeddingService is the injected embedding collaborator (spec §6).
type EmbeddingService interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	EmbeddingDimension() int
	MaxTextLength() int
}

// VectorDatabase is the injected, optional vector-search collaborator
// (spec §6). The system ships only a working no-op implementation; a
// reference Qdrant-style implementation is explicitly out of scope here.
type VectorDatabase interface {
	Initialize(ctx context.Context) error
	StoreKnowledgeItem(ctx context.Context, id string, vector []float32, metadata map[string]interface{}) error
	StoreMemoryItem(ctx context.Context, id string, vector []float32, metadata map[string]interface{}) error
	SemanticSearch(ctx context.Context, vector []float32, limit int) ([]VectorSearchResult, error)
	DeleteKnowledgeItem(ctx context.Context, id string) error
	HealthCheck(ctx context.Context) error
}

// VectorSearchResult is one hit from a vector database query.
type VectorSearchResult struct {
	ID       string
	Score    float32
	Metadata map[string]interface{}
}
