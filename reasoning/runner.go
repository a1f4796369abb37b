package reasoning

import (
	"context"

	"github.com/agentrun/agentrun/breaker"
	"github.com/agentrun/agentrun/collab"
	"github.com/agentrun/agentrun/journal"
	"github.com/agentrun/agentrun/runtime"
	"github.com/agentrun/agentrun/telemetry"
)

// Runner drives one Reasoning Loop Runner invocation end to end (spec
// §4.8). It is reusable: each Run call starts a fresh loopState.
type Runner struct {
	agentID  runtime.AgentId
	cfg      runtime.LoopConfig
	provider collab.InferenceProvider
	executor collab.ActionExecutor
	policy   collab.PolicyGate
	breakers *breaker.Registry
	jnl      *journal.Journal
	ctxMgr   ContextManager
	resolver ModelResolver
	bridge   KnowledgeBridge
}

// Run executes the loop over the given starting conversation, wrapped in a
// wall-clock timeout (config.timeout); expiry yields a Timeout termination
// result rather than an error (spec §4.8).
func (r *Runner) Run(ctx context.Context, conversation []collab.Message) (*LoopResult, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if r.cfg.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	s := &loopState{
		agentID:      r.agentID,
		cfg:          r.cfg,
		provider:     r.provider,
		executor:     r.executor,
		policyGate:   r.policy,
		breakers:     r.breakers,
		jnl:          r.jnl,
		ctxMgr:       r.ctxMgr,
		resolver:     r.resolver,
		bridge:       r.bridge,
		conversation: append([]collab.Message(nil), conversation...),
	}
	s.journalAppend(journal.EventStarted, map[string]interface{}{"messages": len(conversation)})

	var phase reasoningPhase = reasoningStep{s: s}

	for {
		select {
		case <-runCtx.Done():
			telemetry.Counter("reasoning.termination.total", "reason", string(TerminationTimeout))
			return &LoopResult{Termination: TerminationTimeout, Iterations: s.iteration, TotalUsage: s.usage}, nil
		default:
		}

		policyPhase, result, err := phase.Reason(runCtx)
		if err != nil {
			return nil, err
		}
		if result != nil {
			r.finish(s, *result)
			return result, nil
		}

		toolPhase, result, err := policyPhase.Check(runCtx)
		if err != nil {
			return nil, err
		}
		if result != nil {
			r.finish(s, *result)
			return result, nil
		}

		obsPhase, err := toolPhase.Dispatch(runCtx)
		if err != nil {
			return nil, err
		}

		next, result, err := obsPhase.Observe(runCtx)
		if err != nil {
			return nil, err
		}
		if result != nil {
			r.finish(s, *result)
			return result, nil
		}
		phase = next
	}
}

func (r *Runner) finish(s *loopState, result LoopResult) {
	s.journalAppend(journal.EventTerminated, map[string]interface{}{"termination": string(result.Termination)})
	telemetry.Counter("reasoning.termination.total", "reason", string(result.Termination))
	if r.bridge != nil {
		r.bridge.Persist(result, s.conversation)
	}
}
