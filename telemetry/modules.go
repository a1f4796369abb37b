package telemetry

// This file declares the metric definitions for this runtime's own
// subsystems. It lives in the telemetry package (rather than in scheduler,
// cron, reasoning, or lifecycle themselves) to avoid an import cycle: those
// packages call telemetry.Initialize/Counter/RecordRun, so telemetry cannot
// import them back just to learn their metric names.

func init() {
	// Agent Scheduler metrics (spec §4.4): admission outcomes and health
	// checks against running agents.
	DeclareMetrics("scheduler", ModuleConfig{
		Metrics: []MetricDefinition{
			{
				Name:    "scheduler.admission.duration_ms",
				Type:    "histogram",
				Help:    "Time from priority-queue pop to admitted-or-rejected",
				Labels:  []string{"status"},
				Unit:    "ms",
				Buckets: []float64{1, 5, 10, 50, 100, 500, 1000},
			},
			{
				Name:   "scheduler.admission.total",
				Type:   "counter",
				Help:   "Admission attempts by outcome",
				Labels: []string{"status"},
			},
			{
				Name:   "scheduler.running.count",
				Type:   "gauge",
				Help:   "Number of agents currently running",
				Labels: []string{},
			},
			{
				Name:   "scheduler.health_check.total",
				Type:   "counter",
				Help:   "Per-agent health check outcomes",
				Labels: []string{"outcome"},
			},
		},
	})

	// Cron Scheduler metrics (spec §4.6): tick throughput and dispatch
	// outcomes.
	DeclareMetrics("cron", ModuleConfig{
		Metrics: []MetricDefinition{
			{
				Name:   "cron.tick.total",
				Type:   "counter",
				Help:   "Tick loop iterations",
				Labels: []string{},
			},
			{
				Name:    "cron.job.duration_ms",
				Type:    "histogram",
				Help:    "Dispatched job execution time in milliseconds",
				Labels:  []string{"status"},
				Unit:    "ms",
				Buckets: []float64{10, 100, 1000, 10000, 60000},
			},
			{
				Name:   "cron.job.total",
				Type:   "counter",
				Help:   "Due jobs processed by outcome",
				Labels: []string{"status"},
			},
			{
				Name:   "cron.job.dead_lettered",
				Type:   "counter",
				Help:   "Jobs moved to dead_letter after exceeding max_retries",
				Labels: []string{},
			},
		},
	})

	// Reasoning Loop Runner metrics (spec §4.8): per-iteration model calls
	// and loop termination reasons.
	DeclareMetrics("reasoning", ModuleConfig{
		Metrics: []MetricDefinition{
			{
				Name:    "reasoning.iteration.duration_ms",
				Type:    "histogram",
				Help:    "Single reason-act-observe iteration duration",
				Labels:  []string{"model"},
				Unit:    "ms",
				Buckets: []float64{100, 500, 1000, 5000, 15000, 60000},
			},
			{
				Name:   "reasoning.iteration.total",
				Type:   "counter",
				Help:   "Reasoning loop iterations run",
				Labels: []string{"model"},
			},
			{
				Name:   "reasoning.termination.total",
				Type:   "counter",
				Help:   "Loop runs by termination reason",
				Labels: []string{"reason"},
			},
			{
				Name:   "reasoning.tokens.used",
				Type:   "counter",
				Help:   "Prompt and completion tokens consumed",
				Labels: []string{"kind"},
			},
			{
				Name:   "reasoning.compaction.total",
				Type:   "counter",
				Help:   "check_and_compact invocations that actually shortened a conversation",
				Labels: []string{"tier"},
			},
		},
	})

	// Lifecycle Controller metrics (spec §4.3): state transitions and
	// health-check/auto-recovery outcomes.
	DeclareMetrics("lifecycle", ModuleConfig{
		Metrics: []MetricDefinition{
			{
				Name:   "lifecycle.transition.total",
				Type:   "counter",
				Help:   "Agent state transitions",
				Labels: []string{"from", "to"},
			},
			{
				Name:   "lifecycle.health_check.total",
				Type:   "counter",
				Help:   "Lifecycle-driven health check outcomes",
				Labels: []string{"status"},
			},
			{
				Name:   "lifecycle.restart.total",
				Type:   "counter",
				Help:   "Auto-recovery restart attempts",
				Labels: []string{"outcome"},
			},
		},
	})
}
