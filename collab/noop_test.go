package collab

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopPolicyGateAllowsEverything(t *testing.T) {
	gate := NoopPolicyGate{}
	answer := "hello"
	decision, err := gate.EvaluateAction(context.Background(), "agent-1", ProposedAction{FinalAnswer: &answer})
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, decision.Kind)
}

func TestNoopEmbedderDimensionDefaultsWhenNonPositive(t *testing.T) {
	e := NewNoopEmbedder(0)
	assert.Equal(t, 8, e.Dimension)

	e2 := NewNoopEmbedder(16)
	vec, err := e2.GenerateEmbedding(context.Background(), "text")
	require.NoError(t, err)
	assert.Len(t, vec, 16)
}

func TestNoopEmbedderBatch(t *testing.T) {
	e := NewNoopEmbedder(4)
	vecs, err := e.GenerateBatchEmbeddings(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for _, v := range vecs {
		assert.Len(t, v, 4)
	}
}

func TestNoopVectorDBSearchReturnsNoResults(t *testing.T) {
	db := NoopVectorDB{}
	require.NoError(t, db.Initialize(context.Background()))
	require.NoError(t, db.StoreKnowledgeItem(context.Background(), "k1", []float32{1, 2}, nil))
	results, err := db.SemanticSearch(context.Background(), []float32{1, 2}, 5)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestNoopExecutorReportsNoExecutorConfigured(t *testing.T) {
	ex := NoopExecutor{}
	tc := ToolCall{ID: "c1", Name: "search"}
	obs, err := ex.ExecuteActions(context.Background(), []ProposedAction{{ToolCall: &tc}})
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, "c1", obs[0].ToolCallID)
	assert.Equal(t, "no executor configured", obs[0].Content)
	assert.Nil(t, ex.ToolDefinitions())
}
