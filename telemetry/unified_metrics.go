// This file defines the unified metrics contract shared by this runtime's
// subsystems (scheduler, cron, reasoning, lifecycle). Using these helpers
// instead of ad hoc Counter/Histogram calls keeps a consistent
// duration/total/error shape across all four, so a dashboard built for one
// module's metrics works unmodified for another.
//
// Usage:
//
//	start := time.Now()
//	// ... admit an agent ...
//	telemetry.RecordRun(telemetry.ModuleScheduler, "admit", float64(time.Since(start).Milliseconds()), "success")
package telemetry

// Module label values identifying which subsystem emitted a metric.
const (
	// ModuleScheduler identifies metrics from the Agent Scheduler (spec §4.4).
	ModuleScheduler = "scheduler"

	// ModuleCron identifies metrics from the Cron Scheduler (spec §4.6).
	ModuleCron = "cron"

	// ModuleReasoning identifies metrics from the Reasoning Loop Runner (spec §4.8).
	ModuleReasoning = "reasoning"

	// ModuleLifecycle identifies metrics from the Lifecycle Controller (spec §4.3).
	ModuleLifecycle = "lifecycle"
)

// Unified metric names - use these constants to ensure consistent naming
// across the four modules above.
const (
	UnifiedRunDuration = "run.duration_ms"
	UnifiedRunTotal    = "run.total"
	UnifiedRunErrors   = "run.errors"

	UnifiedTokensUsed = "tokens.used"
)

// RecordRun records a unified run-outcome metric with module labeling. Call
// it once per admission decision, dispatched job, reasoning iteration, or
// lifecycle transition.
//
// Parameters:
//   - module: one of the Module* constants above
//   - operation: the operation performed (e.g. "admit", "dispatch", "iterate")
//   - durationMs: how long the operation took, in milliseconds
//   - status: "success" or "error"
func RecordRun(module string, operation string, durationMs float64, status string) {
	Histogram(UnifiedRunDuration, durationMs,
		"module", module,
		"operation", operation,
		"status", status,
	)
	Counter(UnifiedRunTotal,
		"module", module,
		"operation", operation,
		"status", status,
	)
}

// RecordRunError records a run failure with error type classification, in
// addition to whatever RecordRun call already logged the outcome.
func RecordRunError(module string, operation string, errorType string) {
	Counter(UnifiedRunErrors,
		"module", module,
		"operation", operation,
		"error_type", errorType,
	)
}

// RecordTokens records model token usage from a Reasoning Loop Runner
// iteration (spec §4.8's TokenUsage, spec §4.10's compaction trigger).
//
// Parameters:
//   - provider: the collab.InferenceProvider name that served the call
//   - tokenType: "prompt", "completion", or "total"
//   - count: number of tokens consumed
func RecordTokens(provider string, tokenType string, count int) {
	Emit(UnifiedTokensUsed, float64(count),
		"module", ModuleReasoning,
		"provider", provider,
		"type", tokenType,
	)
}

// init declares the unified metrics with appropriate types and buckets so
// they are pre-registered with the correct configuration before first use.
func init() {
	DeclareMetrics("unified", ModuleConfig{
		Metrics: []MetricDefinition{
			{
				Name:    UnifiedRunDuration,
				Type:    "histogram",
				Help:    "Operation duration in milliseconds, by module and operation",
				Labels:  []string{"module", "operation", "status"},
				Unit:    "ms",
				Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000, 60000},
			},
			{
				Name:   UnifiedRunTotal,
				Type:   "counter",
				Help:   "Total operations processed, by module and operation",
				Labels: []string{"module", "operation", "status"},
			},
			{
				Name:   UnifiedRunErrors,
				Type:   "counter",
				Help:   "Operation errors by type, by module and operation",
				Labels: []string{"module", "operation", "error_type"},
			},
			{
				Name:   UnifiedTokensUsed,
				Type:   "counter",
				Help:   "Model tokens consumed by the Reasoning Loop Runner",
				Labels: []string{"module", "provider", "type"},
			},
		},
	})
}
