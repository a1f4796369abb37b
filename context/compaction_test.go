package context

import (
	"testing"
	"time"

	"github.com/agentrun/agentrun/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countWords(messages []ConversationMessage) int {
	total := 0
	for _, m := range messages {
		total += len(tokenize(m.Content))
	}
	return total
}

func TestCheckAndCompactNoTierBelowThreshold(t *testing.T) {
	cfg := runtime.DefaultCompactionConfig()
	messages := []ConversationMessage{{Role: "user", Content: "hi"}}
	out, result, err := CheckAndCompact(cfg, countWords, 1000, messages, nil)
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, messages, out)
}

func TestCheckAndCompactTruncatesOldestBeyondThreshold(t *testing.T) {
	cfg := runtime.DefaultCompactionConfig()
	cfg.SummarizeThreshold = 2

	var messages []ConversationMessage
	messages = append(messages, ConversationMessage{Role: "system", Content: "be helpful"})
	for i := 0; i < 20; i++ {
		messages = append(messages, ConversationMessage{Role: "user", Content: "filler word content here to inflate token count a lot", Timestamp: time.Now()})
	}

	out, result, err := CheckAndCompact(cfg, countWords, 50, messages, nil)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, runtime.TierTruncate, result.TierApplied)
	assert.True(t, result.TokensAfter <= result.TokensBefore)
	assert.True(t, len(out) < len(messages))
	assert.Equal(t, "system", out[0].Role)
}

type stubSummarizer struct{}

func (stubSummarizer) Summarize(messages []ConversationMessage) (string, error) {
	return "summary of prior turns", nil
}

func TestCheckAndCompactSummarizeTierUsesSummarizer(t *testing.T) {
	cfg := runtime.CompactionConfig{
		Enabled: true,
		Tiers: []runtime.CompactionTierConfig{
			{Tier: runtime.TierTruncate, TriggerRatio: 0.1},
			{Tier: runtime.TierSummarize, TriggerRatio: 0.2},
		},
		SummarizeThreshold: 1,
	}
	var messages []ConversationMessage
	for i := 0; i < 10; i++ {
		messages = append(messages, ConversationMessage{Role: "user", Content: "a fairly long filler message to push past the ratio threshold"})
	}

	out, result, err := CheckAndCompact(cfg, countWords, 20, messages, stubSummarizer{})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, runtime.TierSummarize, result.TierApplied)
	assert.True(t, result.SummaryGenerated)
	assert.Equal(t, "summary of prior turns", out[0].Content)
}
