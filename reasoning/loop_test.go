package reasoning

import (
	"context"
	"testing"

	"github.com/agentrun/agentrun/collab"
	"github.com/agentrun/agentrun/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	responses []collab.InferenceResponse
	calls     int
}

func (p *scriptedProvider) Complete(ctx context.Context, conversation []collab.Message, opts collab.CompleteOptions) (collab.InferenceResponse, error) {
	resp := p.responses[p.calls]
	p.calls++
	return resp, nil
}
func (p *scriptedProvider) ProviderName() string             { return "scripted" }
func (p *scriptedProvider) DefaultModel() string              { return "test-model" }
func (p *scriptedProvider) SupportsNativeTools() bool         { return true }
func (p *scriptedProvider) SupportsStructuredOutput() bool    { return false }

type scriptedExecutor struct {
	observations map[string]collab.Observation
}

func (e *scriptedExecutor) ExecuteActions(ctx context.Context, actions []collab.ProposedAction) ([]collab.Observation, error) {
	out := make([]collab.Observation, 0, len(actions))
	for _, a := range actions {
		out = append(out, e.observations[a.ToolCall.ID])
	}
	return out, nil
}
func (e *scriptedExecutor) ToolDefinitions() []collab.ToolDefinition { return nil }

// TestTextOnlyAnswerScenario1 implements spec §8 scenario 1.
func TestTextOnlyAnswerScenario1(t *testing.T) {
	provider := &scriptedProvider{responses: []collab.InferenceResponse{
		{Content: "The answer is 42.", FinishReason: collab.FinishStop, Usage: collab.TokenUsage{Prompt: 20, Completion: 10, Total: 30}},
	}}
	runner := NewBuilder().Provider(provider).Executor(&scriptedExecutor{}).Build()

	result, err := runner.Run(context.Background(), []collab.Message{{Role: "user", Content: "what is 6*7"}})
	require.NoError(t, err)
	assert.Equal(t, TerminationCompleted, result.Termination)
	assert.Equal(t, "The answer is 42.", result.Output)
	assert.Equal(t, 1, result.Iterations)
	assert.Equal(t, 30, result.TotalUsage.Total)
}

// TestToolCallThenAnswerScenario2 implements spec §8 scenario 2.
func TestToolCallThenAnswerScenario2(t *testing.T) {
	provider := &scriptedProvider{responses: []collab.InferenceResponse{
		{
			ToolCalls:    []collab.ToolCall{{ID: "c1", Name: "search", Arguments: `{"q":"weather"}`}},
			FinishReason: collab.FinishToolCalls,
			Usage:        collab.TokenUsage{Prompt: 20, Completion: 15, Total: 35},
		},
		{
			Content:      "The weather is sunny.",
			FinishReason: collab.FinishStop,
			Usage:        collab.TokenUsage{Prompt: 40, Completion: 10, Total: 50},
		},
	}}
	executor := &scriptedExecutor{observations: map[string]collab.Observation{
		"c1": {ToolCallID: "c1", Content: "sunny"},
	}}
	runner := NewBuilder().Provider(provider).Executor(executor).Build()

	result, err := runner.Run(context.Background(), []collab.Message{{Role: "user", Content: "what's the weather"}})
	require.NoError(t, err)
	assert.Equal(t, TerminationCompleted, result.Termination)
	assert.Equal(t, "The weather is sunny.", result.Output)
	assert.Equal(t, 2, result.Iterations)
	assert.Equal(t, 85, result.TotalUsage.Total)
}

type scriptedPolicyGate struct {
	calls int
}

func (g *scriptedPolicyGate) EvaluateAction(ctx context.Context, agentID string, action collab.ProposedAction) (collab.LoopDecision, error) {
	g.calls++
	if g.calls == 1 {
		return collab.LoopDecision{Kind: collab.DecisionDeny, Reason: "Not authorized"}, nil
	}
	return collab.LoopDecision{Kind: collab.DecisionAllow}, nil
}

// TestPolicyDenialFedBackScenario3 implements spec §8 scenario 3.
func TestPolicyDenialFedBackScenario3(t *testing.T) {
	provider := &scriptedProvider{responses: []collab.InferenceResponse{
		{
			ToolCalls:    []collab.ToolCall{{ID: "c1", Name: "danger_tool"}},
			FinishReason: collab.FinishToolCalls,
		},
		{
			ToolCalls:    []collab.ToolCall{{ID: "c2", Name: "danger_tool"}},
			FinishReason: collab.FinishToolCalls,
		},
		{
			Content:      "I couldn't use the tool.",
			FinishReason: collab.FinishStop,
		},
	}}
	executor := &scriptedExecutor{observations: map[string]collab.Observation{
		"c2": {ToolCallID: "c2", Content: "ok"},
	}}
	gate := &scriptedPolicyGate{}
	runner := NewBuilder().Provider(provider).Executor(executor).PolicyGate(gate).Build()

	result, err := runner.Run(context.Background(), []collab.Message{{Role: "user", Content: "do something risky"}})
	require.NoError(t, err)
	assert.Equal(t, TerminationCompleted, result.Termination)
	assert.Equal(t, "I couldn't use the tool.", result.Output)
}

type capturingProvider struct {
	response collab.InferenceResponse
	lastOpts collab.CompleteOptions
}

func (p *capturingProvider) Complete(ctx context.Context, conversation []collab.Message, opts collab.CompleteOptions) (collab.InferenceResponse, error) {
	p.lastOpts = opts
	return p.response, nil
}
func (p *capturingProvider) ProviderName() string          { return "capturing" }
func (p *capturingProvider) DefaultModel() string           { return "default-model" }
func (p *capturingProvider) SupportsNativeTools() bool      { return true }
func (p *capturingProvider) SupportsStructuredOutput() bool { return false }

type staticResolver struct {
	model         string
	contextWindow int
}

func (r staticResolver) ResolveModel(agentID runtime.AgentId) (string, int, bool) {
	return r.model, r.contextWindow, true
}

// TestModelResolverSetsCompletionModel verifies a wired ModelResolver
// populates CompleteOptions.Model (spec §2 L3's "the reasoning loop could
// consult" the model catalog).
func TestModelResolverSetsCompletionModel(t *testing.T) {
	provider := &capturingProvider{response: collab.InferenceResponse{Content: "ok", FinishReason: collab.FinishStop}}
	resolver := staticResolver{model: "gpt-5-mega", contextWindow: 128000}
	runner := NewBuilder().Provider(provider).Executor(&scriptedExecutor{}).ModelResolver(resolver).Build()

	_, err := runner.Run(context.Background(), []collab.Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "gpt-5-mega", provider.lastOpts.Model)
}

func TestMaxIterationsTermination(t *testing.T) {
	responses := make([]collab.InferenceResponse, 5)
	for i := range responses {
		responses[i] = collab.InferenceResponse{
			ToolCalls: []collab.ToolCall{{ID: "c", Name: "loop_tool"}}, FinishReason: collab.FinishToolCalls,
		}
	}
	provider := &scriptedProvider{responses: responses}
	executor := &scriptedExecutor{observations: map[string]collab.Observation{"c": {ToolCallID: "c", Content: "again"}}}

	cfg := runtime.DefaultLoopConfig()
	cfg.MaxIterations = 3
	runner := NewBuilder().Provider(provider).Executor(executor).Config(cfg).Build()

	result, err := runner.Run(context.Background(), []collab.Message{{Role: "user", Content: "keep going"}})
	require.NoError(t, err)
	assert.Equal(t, TerminationMaxIterations, result.Termination)
	assert.Equal(t, 3, result.Iterations)
}
