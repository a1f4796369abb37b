package journal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceStrictlyIncreasing(t *testing.T) {
	j := New("agent-1", nil)

	for i := 0; i < 5; i++ {
		_, err := j.Append(0, EventStarted, nil)
		require.NoError(t, err)
	}

	entries := j.Entries()
	for i := 1; i < len(entries); i++ {
		assert.Greater(t, entries[i].Sequence, entries[i-1].Sequence)
	}
}

// Spec §8: every iteration contains at most one ReasoningComplete, followed
// by at most one PolicyEvaluated, ToolsDispatched, ObservationsCollected, in
// that order.
func TestPerIterationEventOrdering(t *testing.T) {
	j := New("agent-1", nil)

	_, _ = j.Append(1, EventReasoningComplete, nil)
	_, _ = j.Append(1, EventPolicyEvaluated, nil)
	_, _ = j.Append(1, EventToolsDispatched, nil)
	_, _ = j.Append(1, EventObservationsCollected, nil)

	entries := j.EntriesForIteration(1)
	require.Len(t, entries, 4)
	expected := []EventKind{EventReasoningComplete, EventPolicyEvaluated, EventToolsDispatched, EventObservationsCollected}
	for i, kind := range expected {
		assert.Equal(t, kind, entries[i].Event)
	}
}

func TestFileWriterAppendsLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.log")

	fw, err := NewFileWriter(path)
	require.NoError(t, err)
	defer fw.Close()

	j := New("agent-1", fw)
	_, err = j.Append(0, EventStarted, map[string]interface{}{"k": "v"})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "\n"))
	assert.Contains(t, string(data), `"event":"started"`)
}
