// Package breaker implements the Circuit Breaker Registry (spec §4.9):
// per-tool-name breakers with Closed/Open/HalfOpen states, cheap concurrent
// lookup, and atomic counters. Adapted from the teacher's single-client
// resilience.CircuitBreaker (sliding window, atomic.Value state, half-open
// token tracking) generalized into a registry keyed by tool name.
package breaker

import (
	"sync"
	"sync/atomic"
	"time"
)

// State is the breaker's current mode (spec §4.9).
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config parameterizes one breaker (spec §4.9).
type Config struct {
	FailureThreshold int
	OpenDuration     time.Duration
	HalfOpenTrials   int
}

func DefaultConfig() Config {
	return Config{FailureThreshold: 5, OpenDuration: 30 * time.Second, HalfOpenTrials: 2}
}

// ErrCircuitOpen is returned by Execute while the breaker is Open.
type circuitOpenError struct{}

func (circuitOpenError) Error() string { return "breaker: circuit open" }

var ErrCircuitOpen error = circuitOpenError{}

// Breaker tracks state for a single tool name. All fields touched from
// concurrent callers are atomics; state is never locked coarsely (spec §4.9,
// §5 "Circuit breakers: per-name atomic fields; no coarse-grained lock").
type Breaker struct {
	cfg Config

	state           atomic.Int32
	failureCount    atomic.Int64
	halfOpenSuccess atomic.Int64
	openUntilNanos  atomic.Int64
}

func newBreaker(cfg Config) *Breaker {
	b := &Breaker{cfg: cfg}
	b.state.Store(int32(StateClosed))
	return b
}

func (b *Breaker) State() State {
	b.maybeTransitionFromOpen()
	return State(b.state.Load())
}

func (b *Breaker) maybeTransitionFromOpen() {
	if State(b.state.Load()) != StateOpen {
		return
	}
	until := time.Unix(0, b.openUntilNanos.Load())
	if time.Now().After(until) {
		if b.state.CompareAndSwap(int32(StateOpen), int32(StateHalfOpen)) {
			b.halfOpenSuccess.Store(0)
		}
	}
}

// Allow reports whether a call should be attempted right now, without
// executing it. ToolDispatching (spec §4.8) uses this to synthesize a
// CircuitOpen observation instead of invoking the executor.
func (b *Breaker) Allow() bool {
	return b.State() != StateOpen
}

// RecordSuccess reports a successful call outcome.
func (b *Breaker) RecordSuccess() {
	switch State(b.state.Load()) {
	case StateHalfOpen:
		n := b.halfOpenSuccess.Add(1)
		if int(n) >= b.cfg.HalfOpenTrials {
			b.toClosed()
		}
	case StateClosed:
		b.failureCount.Store(0)
	}
}

// RecordFailure reports a failed call outcome.
func (b *Breaker) RecordFailure() {
	switch State(b.state.Load()) {
	case StateHalfOpen:
		b.toOpen()
	case StateClosed:
		n := b.failureCount.Add(1)
		if int(n) >= b.cfg.FailureThreshold {
			b.toOpen()
		}
	}
}

func (b *Breaker) toOpen() {
	b.openUntilNanos.Store(time.Now().Add(b.cfg.OpenDuration).UnixNano())
	b.state.Store(int32(StateOpen))
	b.failureCount.Store(0)
}

func (b *Breaker) toClosed() {
	b.state.Store(int32(StateClosed))
	b.failureCount.Store(0)
	b.halfOpenSuccess.Store(0)
}

// Execute runs fn, recording its outcome, unless the breaker is Open, in
// which case it returns ErrCircuitOpen without calling fn.
func (b *Breaker) Execute(fn func() error) error {
	if !b.Allow() {
		return ErrCircuitOpen
	}
	err := fn()
	if err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// Registry looks up or creates a Breaker per tool name. Lookup is lock-free
// on the hot path via sync.Map, matching the concurrency note in spec §4.9.
type Registry struct {
	cfg  Config
	tools sync.Map // tool name -> *Breaker
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg}
}

// For returns the breaker for toolName, creating it on first use.
func (r *Registry) For(toolName string) *Breaker {
	if v, ok := r.tools.Load(toolName); ok {
		return v.(*Breaker)
	}
	b := newBreaker(r.cfg)
	actual, _ := r.tools.LoadOrStore(toolName, b)
	return actual.(*Breaker)
}

// Snapshot returns the current state of every tool the registry has seen.
func (r *Registry) Snapshot() map[string]State {
	out := make(map[string]State)
	r.tools.Range(func(key, value interface{}) bool {
		out[key.(string)] = value.(*Breaker).State()
		return true
	})
	return out
}
