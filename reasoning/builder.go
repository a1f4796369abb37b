package reasoning

import (
	"github.com/agentrun/agentrun/breaker"
	"github.com/agentrun/agentrun/collab"
	"github.com/agentrun/agentrun/journal"
	"github.com/agentrun/agentrun/runtime"
	"github.com/agentrun/agentrun/telemetry"
)

// Builder is the entry point for constructing a Runner; Provider must be
// called before Executor becomes available, which must be called before
// Build becomes available — the required-field ordering is enforced at
// compile time via these three narrowing interface types (spec §4.8
// "provider(p).executor(e) are required (enforced at compile time via
// typestate)").
type Builder interface {
	Provider(p collab.InferenceProvider) ProviderSetBuilder
}

type ProviderSetBuilder interface {
	Executor(e collab.ActionExecutor) ReadyBuilder
}

// ReadyBuilder has both required collaborators set; every remaining setter
// is optional and defaults to a permissive/in-memory variant per spec §4.8.
type ReadyBuilder interface {
	PolicyGate(g collab.PolicyGate) ReadyBuilder
	CircuitBreakers(r *breaker.Registry) ReadyBuilder
	Journal(j *journal.Journal) ReadyBuilder
	ContextManager(cm ContextManager) ReadyBuilder
	ModelResolver(r ModelResolver) ReadyBuilder
	KnowledgeBridge(b KnowledgeBridge) ReadyBuilder
	Config(cfg runtime.LoopConfig) ReadyBuilder
	AgentID(id runtime.AgentId) ReadyBuilder
	Build() *Runner
}

type builder struct {
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

// NewBuilder starts a Runner builder.
func NewBuilder() Builder {
	return &builder{cfg: runtime.DefaultLoopConfig()}
}

func (b *builder) Provider(p collab.InferenceProvider) ProviderSetBuilder {
	b.provider = p
	return b
}

func (b *builder) Executor(e collab.ActionExecutor) ReadyBuilder {
	b.executor = e
	return b
}

func (b *builder) PolicyGate(g collab.PolicyGate) ReadyBuilder         { b.policy = g; return b }
func (b *builder) CircuitBreakers(r *breaker.Registry) ReadyBuilder    { b.breakers = r; return b }
func (b *builder) Journal(j *journal.Journal) ReadyBuilder             { b.jnl = j; return b }
func (b *builder) ContextManager(cm ContextManager) ReadyBuilder       { b.ctxMgr = cm; return b }
func (b *builder) ModelResolver(r ModelResolver) ReadyBuilder          { b.resolver = r; return b }
func (b *builder) KnowledgeBridge(k KnowledgeBridge) ReadyBuilder      { b.bridge = k; return b }
func (b *builder) Config(cfg runtime.LoopConfig) ReadyBuilder          { b.cfg = cfg; return b }
func (b *builder) AgentID(id runtime.AgentId) ReadyBuilder             { b.agentID = id; return b }

func (b *builder) Build() *Runner {
	policy := b.policy
	if policy == nil {
		policy = collab.NoopPolicyGate{}
	}
	breakers := b.breakers
	if breakers == nil {
		breakers = breaker.NewRegistry(breaker.DefaultConfig())
	}
	if b.cfg.Telemetry.Enabled {
		// Initialize is idempotent across Runners; the telemetry registry's
		// own logger reports init failures, so a failed attempt here just
		// means metrics are silently dropped, same as an uninitialized one.
		_ = telemetry.Initialize(telemetry.Config{
			Enabled:     true,
			ServiceName: b.cfg.Telemetry.ServiceName,
			Endpoint:    b.cfg.Telemetry.Endpoint,
			Provider:    "otel",
		})
	}
	return &Runner{
		agentID:  b.agentID,
		cfg:      b.cfg,
		provider: b.provider,
		executor: b.executor,
		policy:   policy,
		breakers: breakers,
		jnl:      b.jnl,
		ctxMgr:   b.ctxMgr,
		resolver: b.resolver,
		bridge:   b.bridge,
	}
}
