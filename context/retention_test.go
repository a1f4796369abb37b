package context

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentrun/agentrun/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestArchiveContextRetentionScenario5 implements spec §8 scenario 5: three
// short-term items created at now-2d, now-1d, now-1m with
// memory_retention=1h; after archive_context the newest item remains, the
// archive file exists, and the returned count is 2.
func TestArchiveContextRetentionScenario5(t *testing.T) {
	root := t.TempDir()
	store := NewFileStore(root, false, 3)
	cfg := runtime.DefaultContextManagerConfig()
	cfg.EnableAutoArchiving = false
	policy := RetentionPolicy{MemoryRetention: time.Hour, KnowledgeRetention: 90 * 24 * time.Hour, SessionRetention: 7 * 24 * time.Hour}
	m := New(cfg, policy, Collaborators{}, store, nil, runtime.DefaultCompactionConfig())

	agentID := runtime.NewAgentId()
	now := time.Now()
	_, err := m.StoreContext(context.Background(), agentID, runtime.NewSessionId())
	require.NoError(t, err)

	mkItem := func(id string, age time.Duration) MemoryUpdate {
		created := now.Add(-age)
		return MemoryUpdate{ID: id, Item: MemoryItem{
			Content: id, Type: MemoryEpisodic, Importance: 0.5,
			CreatedAt: created, LastAccessed: created,
		}}
	}

	require.NoError(t, m.UpdateMemory(agentID, []MemoryUpdate{
		mkItem("old-2d", 2*24*time.Hour),
		mkItem("old-1d", 24*time.Hour),
		mkItem("newest-1m", time.Minute),
	}))

	count, err := m.ArchiveContext(agentID, now)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	stats, err := m.GetContextStats(agentID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.MemoryCount)

	archiveDir := filepath.Join(root, "archives", string(agentID))
	entries, err := os.ReadDir(archiveDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileStoreSaveLoadRoundTrip(t *testing.T) {
	root := t.TempDir()
	store := NewFileStore(root, true, 2)

	agentID := runtime.NewAgentId()
	ctx := newAgentContext(agentID, runtime.NewSessionId())
	ctx.Memories["m1"] = &MemoryItem{ID: "m1", Content: "hello", Type: MemoryFactual, CreatedAt: time.Now(), LastAccessed: time.Now()}

	require.NoError(t, store.Save(ctx))
	loaded, err := store.Load(agentID)
	require.NoError(t, err)
	assert.Equal(t, "hello", loaded.Memories["m1"].Content)
}

func TestFileStoreBackupRotation(t *testing.T) {
	root := t.TempDir()
	store := NewFileStore(root, false, 2)
	agentID := runtime.NewAgentId()
	ctx := newAgentContext(agentID, runtime.NewSessionId())

	for i := 0; i < 4; i++ {
		require.NoError(t, store.Save(ctx))
		time.Sleep(1100 * time.Millisecond) // keep unix-second suffixes distinct
	}

	entries, err := os.ReadDir(store.contextsDir())
	require.NoError(t, err)
	backups := 0
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" {
			backups++
		}
	}
	assert.True(t, backups <= 2)
}
