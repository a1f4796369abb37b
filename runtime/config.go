package runtime

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TelemetryConfig governs whether a subsystem initializes the telemetry
// package's metrics pipeline on startup, and with what service identity. It
// holds no telemetry import so runtime stays leaf-level; the subsystem that
// embeds it (scheduler, cron, reasoning, lifecycle) is what actually calls
// telemetry.Initialize with these values.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	ServiceName string `json:"service_name" yaml:"service_name"`
	Endpoint    string `json:"endpoint" yaml:"endpoint"`
}

func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:     false,
		ServiceName: "agentrun",
		Endpoint:    "localhost:4318",
	}
}

// LifecycleConfig governs the Lifecycle Controller (spec §4.3 / §6).
type LifecycleConfig struct {
	MaxAgents            int           `json:"max_agents" yaml:"max_agents"`
	InitializationTimeout time.Duration `json:"initialization_timeout" yaml:"initialization_timeout"`
	TerminationTimeout    time.Duration `json:"termination_timeout" yaml:"termination_timeout"`
	StateCheckInterval    time.Duration `json:"state_check_interval" yaml:"state_check_interval"`
	EnableAutoRecovery    bool          `json:"enable_auto_recovery" yaml:"enable_auto_recovery"`
	MaxRestartAttempts    int           `json:"max_restart_attempts" yaml:"max_restart_attempts"`
	Telemetry             TelemetryConfig `json:"telemetry" yaml:"telemetry"`
}

func DefaultLifecycleConfig() LifecycleConfig {
	return LifecycleConfig{
		MaxAgents:             1000,
		InitializationTimeout: 30 * time.Second,
		TerminationTimeout:    10 * time.Second,
		StateCheckInterval:    5 * time.Second,
		EnableAutoRecovery:    true,
		MaxRestartAttempts:    3,
		Telemetry:             DefaultTelemetryConfig(),
	}
}

// SchedulingAlgorithm selects the Agent Scheduler's admission strategy.
type SchedulingAlgorithm string

const (
	SchedulingPriorityBased SchedulingAlgorithm = "priority_based"
	SchedulingRoundRobin    SchedulingAlgorithm = "round_robin"
	SchedulingFairShare     SchedulingAlgorithm = "fair_share"
)

// SchedulerConfig governs the Agent Scheduler (spec §4.4 / §6).
type SchedulerConfig struct {
	MaxConcurrentAgents   int                 `json:"max_concurrent_agents" yaml:"max_concurrent_agents"`
	PriorityLevels        int                 `json:"priority_levels" yaml:"priority_levels"`
	SchedulingAlgorithm   SchedulingAlgorithm `json:"scheduling_algorithm" yaml:"scheduling_algorithm"`
	LoadBalancingStrategy string              `json:"load_balancing_strategy" yaml:"load_balancing_strategy"`
	TaskTimeout           time.Duration       `json:"task_timeout" yaml:"task_timeout"`
	HealthCheckInterval   time.Duration       `json:"health_check_interval" yaml:"health_check_interval"`
	Telemetry             TelemetryConfig     `json:"telemetry" yaml:"telemetry"`
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxConcurrentAgents:   50,
		PriorityLevels:        4,
		SchedulingAlgorithm:   SchedulingPriorityBased,
		LoadBalancingStrategy: "best_fit",
		TaskTimeout:           5 * time.Minute,
		HealthCheckInterval:   10 * time.Second,
		Telemetry:             DefaultTelemetryConfig(),
	}
}

// CronSchedulerConfig governs the Cron Scheduler (spec §4.6 / §6).
type CronSchedulerConfig struct {
	TickInterval              time.Duration `json:"tick_interval" yaml:"tick_interval"`
	MaxConcurrentCronJobs     int           `json:"max_concurrent_cron_jobs" yaml:"max_concurrent_cron_jobs"`
	JobStorePath              string        `json:"job_store_path,omitempty" yaml:"job_store_path,omitempty"`
	EnableMissedRunCatchup    bool          `json:"enable_missed_run_catchup" yaml:"enable_missed_run_catchup"`
	Telemetry                 TelemetryConfig `json:"telemetry" yaml:"telemetry"`
}

func DefaultCronSchedulerConfig() CronSchedulerConfig {
	return CronSchedulerConfig{
		TickInterval:           time.Second,
		MaxConcurrentCronJobs:  20,
		JobStorePath:           "agentrun_cron.db",
		EnableMissedRunCatchup: false,
		Telemetry:              DefaultTelemetryConfig(),
	}
}

// LoopConfig governs one Reasoning Loop Runner invocation (spec §4.8 / §6).
type LoopConfig struct {
	MaxIterations   int           `json:"max_iterations" yaml:"max_iterations"`
	Timeout         time.Duration `json:"timeout" yaml:"timeout"`
	PerToolTimeout  time.Duration `json:"per_tool_timeout" yaml:"per_tool_timeout"`
	Temperature     float64       `json:"temperature" yaml:"temperature"`
	TopP            float64       `json:"top_p" yaml:"top_p"`
	MaxTokens       int           `json:"max_tokens" yaml:"max_tokens"`
	Telemetry       TelemetryConfig `json:"telemetry" yaml:"telemetry"`
}

func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		MaxIterations:  10,
		Timeout:        2 * time.Minute,
		PerToolTimeout: 30 * time.Second,
		Temperature:    0.7,
		TopP:           1.0,
		MaxTokens:      2048,
		Telemetry:      DefaultTelemetryConfig(),
	}
}

// ContextManagerConfig governs the Context Manager (spec §4.10 / §6).
type ContextManagerConfig struct {
	MaxContextsInMemory       int           `json:"max_contexts_in_memory" yaml:"max_contexts_in_memory"`
	EnableAutoArchiving       bool          `json:"enable_auto_archiving" yaml:"enable_auto_archiving"`
	ArchivingInterval         time.Duration `json:"archiving_interval" yaml:"archiving_interval"`
	MaxMemoryItemsPerAgent    int           `json:"max_memory_items_per_agent" yaml:"max_memory_items_per_agent"`
	MaxKnowledgeItemsPerAgent int           `json:"max_knowledge_items_per_agent" yaml:"max_knowledge_items_per_agent"`
	EnableVectorDB            bool          `json:"enable_vector_db" yaml:"enable_vector_db"`
	EnablePersistence         bool          `json:"enable_persistence" yaml:"enable_persistence"`
	PersistenceRoot           string        `json:"persistence_root" yaml:"persistence_root"`
	EnableCompression         bool          `json:"enable_compression" yaml:"enable_compression"`
	MaxBackups                int           `json:"max_backups" yaml:"max_backups"`
}

func DefaultContextManagerConfig() ContextManagerConfig {
	return ContextManagerConfig{
		MaxContextsInMemory:       10000,
		EnableAutoArchiving:       true,
		ArchivingInterval:         time.Hour,
		MaxMemoryItemsPerAgent:    5000,
		MaxKnowledgeItemsPerAgent: 2000,
		EnableVectorDB:            false,
		EnablePersistence:         true,
		PersistenceRoot:           "agent_contexts",
		EnableCompression:         false,
		MaxBackups:                3,
	}
}

// CompactionTier orders the reduction strategies applied by check_and_compact.
type CompactionTier string

const (
	TierTruncate         CompactionTier = "truncate"
	TierSummarize        CompactionTier = "summarize"
	TierCompressEpisodic CompactionTier = "compress_episodic"
	TierArchiveToMemory  CompactionTier = "archive_to_memory"
)

// CompactionTierConfig pairs a tier with the usage ratio that triggers it.
type CompactionTierConfig struct {
	Tier         CompactionTier `json:"tier" yaml:"tier"`
	TriggerRatio float64        `json:"trigger_ratio" yaml:"trigger_ratio"`
}

// CompactionConfig governs check_and_compact (spec §4.10 / §6).
type CompactionConfig struct {
	Enabled            bool                   `json:"enabled" yaml:"enabled"`
	Tiers              []CompactionTierConfig `json:"tiers" yaml:"tiers"`
	SummarizeThreshold int                    `json:"summarize_threshold" yaml:"summarize_threshold"`
}

func DefaultCompactionConfig() CompactionConfig {
	return CompactionConfig{
		Enabled: true,
		Tiers: []CompactionTierConfig{
			{Tier: TierTruncate, TriggerRatio: 0.7},
			{Tier: TierSummarize, TriggerRatio: 0.85},
			{Tier: TierCompressEpisodic, TriggerRatio: 0.93},
			{Tier: TierArchiveToMemory, TriggerRatio: 0.97},
		},
		SummarizeThreshold: 20,
	}
}

// Config is the top-level file-loadable configuration bundle, mirroring the
// teacher's Config-plus-functional-options shape in core/config.go, reduced
// to the sections this module actually has.
type Config struct {
	ServiceName string               `json:"service_name" yaml:"service_name"`
	Logging     LoggingConfig        `json:"logging" yaml:"logging"`
	Lifecycle   LifecycleConfig      `json:"lifecycle" yaml:"lifecycle"`
	Scheduler   SchedulerConfig      `json:"scheduler" yaml:"scheduler"`
	Cron        CronSchedulerConfig  `json:"cron" yaml:"cron"`
	Loop        LoopConfig           `json:"loop" yaml:"loop"`
	Context     ContextManagerConfig `json:"context" yaml:"context"`
	Compaction  CompactionConfig     `json:"compaction" yaml:"compaction"`
}

func DefaultConfig(serviceName string) *Config {
	return &Config{
		ServiceName: serviceName,
		Logging:     DefaultLoggingConfig(),
		Lifecycle:   DefaultLifecycleConfig(),
		Scheduler:   DefaultSchedulerConfig(),
		Cron:        DefaultCronSchedulerConfig(),
		Loop:        DefaultLoopConfig(),
		Context:     DefaultContextManagerConfig(),
		Compaction:  DefaultCompactionConfig(),
	}
}

// LoadConfig reads a YAML file and applies it over DefaultConfig(name).
func LoadConfig(path, serviceName string) (*Config, error) {
	cfg := DefaultConfig(serviceName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewOpError("runtime.LoadConfig", "config", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, NewOpError("runtime.LoadConfig", "config", err)
	}
	return cfg, nil
}
