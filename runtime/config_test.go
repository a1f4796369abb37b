package runtime

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigPopulatesEverySection(t *testing.T) {
	cfg := DefaultConfig("agentrun-test")
	assert.Equal(t, "agentrun-test", cfg.ServiceName)
	assert.Equal(t, 1000, cfg.Lifecycle.MaxAgents)
	assert.Equal(t, 50, cfg.Scheduler.MaxConcurrentAgents)
	assert.Equal(t, SchedulingPriorityBased, cfg.Scheduler.SchedulingAlgorithm)
	assert.Equal(t, 10, cfg.Loop.MaxIterations)
	assert.True(t, cfg.Context.EnablePersistence)
	assert.Len(t, cfg.Compaction.Tiers, 4)
}

func TestLoadConfigOverridesDefaultsFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
service_name: overridden
scheduler:
  max_concurrent_agents: 7
loop:
  max_iterations: 3
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadConfig(path, "fallback-name")
	require.NoError(t, err)
	assert.Equal(t, "overridden", cfg.ServiceName)
	assert.Equal(t, 7, cfg.Scheduler.MaxConcurrentAgents)
	assert.Equal(t, 3, cfg.Loop.MaxIterations)
	// Untouched sections keep their defaults.
	assert.Equal(t, 1000, cfg.Lifecycle.MaxAgents)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), "svc")
	require.Error(t, err)
}
