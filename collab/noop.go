package collab

import "context"

// NoopPolicyGate allows every proposed action; it is the permissive default
// the Reasoning Loop builder falls back to when no policy gate is supplied
// (spec §4.8 "policy_gate ... default to permissive/in-memory variants").
type NoopPolicyGate struct{}

func (NoopPolicyGate) EvaluateAction(context.Context, string, ProposedAction) (LoopDecision, error) {
	return LoopDecision{Kind: DecisionAllow}, nil
}

// NoopEmbedder returns a zero vector of a fixed dimension; a working
// placeholder until a real embedding provider is injected.
type NoopEmbedder struct{ Dimension int }

func NewNoopEmbedder(dimension int) NoopEmbedder {
	if dimension <= 0 {
		dimension = 8
	}
	return NoopEmbedder{Dimension: dimension}
}

func (n NoopEmbedder) GenerateEmbedding(context.Context, string) ([]float32, error) {
	return make([]float32, n.Dimension), nil
}

func (n NoopEmbedder) GenerateBatchEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, n.Dimension)
	}
	return out, nil
}

func (n NoopEmbedder) EmbeddingDimension() int { return n.Dimension }
func (n NoopEmbedder) MaxTextLength() int       { return 8192 }

// NoopVectorDB is the vector database disabled state: every operation
// succeeds as a no-op and search returns no results, so callers fall back
// to in-memory embeddings per spec §4.10 "if the vector DB is disabled,
// fall back to in-memory embeddings on each MemoryItem."
type NoopVectorDB struct{}

func (NoopVectorDB) Initialize(context.Context) error { return nil }
func (NoopVectorDB) StoreKnowledgeItem(context.Context, string, []float32, map[string]interface{}) error {
	return nil
}
func (NoopVectorDB) StoreMemoryItem(context.Context, string, []float32, map[string]interface{}) error {
	return nil
}
func (NoopVectorDB) SemanticSearch(context.Context, []float32, int) ([]VectorSearchResult, error) {
	return nil, nil
}
func (NoopVectorDB) DeleteKnowledgeItem(context.Context, string) error { return nil }
func (NoopVectorDB) HealthCheck(context.Context) error                { return nil }

// NoopExecutor dispatches nothing and advertises no tools; a safe default
// when the caller has no tool surface configured yet.
type NoopExecutor struct{}

func (NoopExecutor) ExecuteActions(_ context.Context, actions []ProposedAction) ([]Observation, error) {
	out := make([]Observation, len(actions))
	for i, a := range actions {
		id := ""
		if a.ToolCall != nil {
			id = a.ToolCall.ID
		}
		out[i] = Observation{ToolCallID: id, Content: "no executor configured"}
	}
	return out, nil
}

func (NoopExecutor) ToolDefinitions() []ToolDefinition { return nil }
