package reasoning

import (
	"context"
	"fmt"
	"time"

	"github.com/agentrun/agentrun/breaker"
	"github.com/agentrun/agentrun/collab"
	"github.com/agentrun/agentrun/journal"
	"github.com/agentrun/agentrun/runtime"
	"github.com/agentrun/agentrun/telemetry"
)

// The four phase interfaces below are the typestate contract (spec §9):
// each phase exposes only the one transition legal from it, so a caller
// holding a reasoningPhase value has no way to call Dispatch or Observe
// without first passing through Check.
type reasoningPhase interface {
	Reason(ctx context.Context) (policyCheckPhase, *LoopResult, error)
}

type policyCheckPhase interface {
	Check(ctx context.Context) (toolDispatchPhase, *LoopResult, error)
}

type toolDispatchPhase interface {
	Dispatch(ctx context.Context) (observingPhase, error)
}

type observingPhase interface {
	Observe(ctx context.Context) (reasoningPhase, *LoopResult, error)
}

// loopState is the single underlying mutable struct all phase wrappers
// share; what differs between phases is which interface a caller is handed,
// not the storage.
type loopState struct {
	agentID runtime.AgentId
	cfg     runtime.LoopConfig

	provider   collab.InferenceProvider
	executor   collab.ActionExecutor
	policyGate collab.PolicyGate
	breakers   *breaker.Registry
	jnl        *journal.Journal
	ctxMgr     ContextManager
	resolver   ModelResolver
	bridge     KnowledgeBridge

	conversation []collab.Message
	iteration    int
	usage        collab.TokenUsage

	lastResponse collab.InferenceResponse
	pendingActions []collab.ProposedAction
	deniedThisIter int
	observations   []collab.Observation
}

func (s *loopState) journalAppend(kind journal.EventKind, payload map[string]interface{}) {
	if s.jnl == nil {
		return
	}
	s.jnl.Append(s.iteration, kind, payload)
}

type reasoningStep struct{ s *loopState }
type policyCheckStep struct{ s *loopState }
type toolDispatchStep struct{ s *loopState }
type observingStep struct{ s *loopState }

func (r reasoningStep) Reason(ctx context.Context) (policyCheckPhase, *LoopResult, error) {
	s := r.s
	start := time.Now()
	s.iteration++
	if s.iteration > s.cfg.MaxIterations {
		return nil, &LoopResult{Termination: TerminationMaxIterations, Iterations: s.iteration - 1, TotalUsage: s.usage}, nil
	}

	conversation := s.conversation
	if s.bridge != nil {
		conversation = s.bridge.Inject(conversation)
	}

	tokenLimit := s.cfg.MaxTokens
	opts := collab.CompleteOptions{
		Temperature: s.cfg.Temperature,
		TopP:        s.cfg.TopP,
		MaxTokens:   s.cfg.MaxTokens,
	}
	if s.resolver != nil {
		if model, contextWindow, ok := s.resolver.ResolveModel(s.agentID); ok {
			opts.Model = model
			if contextWindow > 0 {
				tokenLimit = contextWindow
			}
		}
	}
	if s.ctxMgr != nil && tokenLimit > 0 {
		conversation = s.ctxMgr.CompactIfNeeded(conversation, tokenLimit)
	}
	if s.executor != nil {
		opts.ToolDefinitions = s.executor.ToolDefinitions()
	}

	resp, err := s.provider.Complete(ctx, conversation, opts)
	if err != nil {
		telemetry.RecordRun(telemetry.ModuleReasoning, "iterate", float64(time.Since(start).Milliseconds()), "error")
		return nil, &LoopResult{Termination: TerminationError, ErrorDetail: err.Error(), Iterations: s.iteration, TotalUsage: s.usage}, nil
	}

	s.conversation = append(conversation, collab.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})
	s.usage.Prompt += resp.Usage.Prompt
	s.usage.Completion += resp.Usage.Completion
	s.usage.Total += resp.Usage.Total
	s.lastResponse = resp

	telemetry.RecordRun(telemetry.ModuleReasoning, "iterate", float64(time.Since(start).Milliseconds()), "success")
	telemetry.Counter("reasoning.iteration.total", "model", opts.Model)
	telemetry.RecordTokens(s.provider.ProviderName(), "prompt", resp.Usage.Prompt)
	telemetry.RecordTokens(s.provider.ProviderName(), "completion", resp.Usage.Completion)

	s.journalAppend(journal.EventReasoningComplete, map[string]interface{}{
		"content":       resp.Content,
		"finish_reason": string(resp.FinishReason),
		"tool_calls":    len(resp.ToolCalls),
	})

	return policyCheckStep{s: s}, nil, nil
}

func (p policyCheckStep) Check(ctx context.Context) (toolDispatchPhase, *LoopResult, error) {
	s := p.s

	var actions []collab.ProposedAction
	if len(s.lastResponse.ToolCalls) == 0 {
		content := s.lastResponse.Content
		actions = []collab.ProposedAction{{FinalAnswer: &content}}
	} else {
		for i := range s.lastResponse.ToolCalls {
			tc := s.lastResponse.ToolCalls[i]
			actions = append(actions, collab.ProposedAction{ToolCall: &tc})
		}
	}

	denied := 0
	var kept []collab.ProposedAction
	for _, action := range actions {
		if s.policyGate == nil {
			kept = append(kept, action)
			continue
		}
		decision, err := s.policyGate.EvaluateAction(ctx, string(s.agentID), action)
		if err != nil {
			return nil, &LoopResult{Termination: TerminationError, ErrorDetail: err.Error(), Iterations: s.iteration, TotalUsage: s.usage}, nil
		}
		switch decision.Kind {
		case collab.DecisionDeny:
			denied++
			toolCallID := ""
			if action.ToolCall != nil {
				toolCallID = action.ToolCall.ID
			}
			s.conversation = append(s.conversation, collab.Message{
				Role: "tool", ToolCallID: toolCallID,
				Content: fmt.Sprintf("Action denied: %s", decision.Reason),
			})
		case collab.DecisionModify:
			if decision.NewAction != nil {
				kept = append(kept, *decision.NewAction)
			} else {
				kept = append(kept, action)
			}
		default: // Allow
			kept = append(kept, action)
		}
	}

	s.pendingActions = kept
	s.deniedThisIter = denied
	s.journalAppend(journal.EventPolicyEvaluated, map[string]interface{}{
		"action_count": len(actions), "denied_count": denied,
	})

	return toolDispatchStep{s: s}, nil, nil
}

func (t toolDispatchStep) Dispatch(ctx context.Context) (observingPhase, error) {
	s := t.s
	start := time.Now()

	var toExecute []collab.ProposedAction
	var observations []collab.Observation

	for _, action := range s.pendingActions {
		if action.FinalAnswer != nil {
			continue // nothing to dispatch; Observing reads lastResponse directly
		}
		if s.bridge != nil {
			if obs, handled := s.bridge.Resolve(action); handled {
				observations = append(observations, obs)
				continue
			}
		}
		if s.breakers != nil && action.ToolCall != nil && !s.breakers.For(action.ToolCall.Name).Allow() {
			observations = append(observations, collab.Observation{ToolCallID: action.ToolCall.ID, CircuitOpen: true})
			continue
		}
		toExecute = append(toExecute, action)
	}

	if len(toExecute) > 0 && s.executor != nil {
		dispatchCtx := ctx
		var cancel context.CancelFunc
		if s.cfg.PerToolTimeout > 0 {
			dispatchCtx, cancel = context.WithTimeout(ctx, s.cfg.PerToolTimeout)
			defer cancel()
		}

		results, err := s.executor.ExecuteActions(dispatchCtx, toExecute)
		if err != nil {
			for _, a := range toExecute {
				id := ""
				if a.ToolCall != nil {
					id = a.ToolCall.ID
				}
				timedOut := dispatchCtx.Err() != nil
				observations = append(observations, collab.Observation{ToolCallID: id, Err: err, TimedOut: timedOut})
				if s.breakers != nil && a.ToolCall != nil {
					s.breakers.For(a.ToolCall.Name).RecordFailure()
				}
			}
		} else {
			observations = append(observations, results...)
			for i, a := range toExecute {
				if s.breakers == nil || a.ToolCall == nil {
					continue
				}
				if i < len(results) && results[i].Err == nil && !results[i].TimedOut {
					s.breakers.For(a.ToolCall.Name).RecordSuccess()
				} else {
					s.breakers.For(a.ToolCall.Name).RecordFailure()
				}
			}
		}
	}

	s.observations = observations
	s.journalAppend(journal.EventToolsDispatched, map[string]interface{}{
		"tool_count": len(toExecute), "duration_ms": time.Since(start).Milliseconds(),
	})

	return observingStep{s: s}, nil
}

func (o observingStep) Observe(ctx context.Context) (reasoningPhase, *LoopResult, error) {
	s := o.s

	for _, obs := range s.observations {
		content := obs.Content
		if obs.CircuitOpen {
			content = "circuit open: tool temporarily unavailable"
		} else if obs.TimedOut {
			content = "tool call timed out"
		} else if obs.Err != nil {
			content = fmt.Sprintf("tool error: %v", obs.Err)
		}
		s.conversation = append(s.conversation, collab.Message{Role: "tool", ToolCallID: obs.ToolCallID, Content: content})
	}

	s.journalAppend(journal.EventObservationsCollected, map[string]interface{}{"count": len(s.observations)})

	if len(s.lastResponse.ToolCalls) == 0 && s.lastResponse.FinishReason == collab.FinishStop {
		return nil, &LoopResult{Termination: TerminationCompleted, Output: s.lastResponse.Content, Iterations: s.iteration, TotalUsage: s.usage}, nil
	}
	if s.lastResponse.FinishReason == collab.FinishLength {
		return nil, &LoopResult{Termination: TerminationTruncated, Output: s.lastResponse.Content, Iterations: s.iteration, TotalUsage: s.usage}, nil
	}

	return reasoningStep{s: s}, nil, nil
}
