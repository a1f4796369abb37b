package context

import (
	"time"

	"github.com/agentrun/agentrun/runtime"
)

// CompactionResult is check_and_compact's outcome (spec §4.10).
type CompactionResult struct {
	TierApplied      runtime.CompactionTier
	TokensBefore     int
	TokensAfter      int
	TokensSaved      int
	ItemsAffected    int
	DurationMs       int64
	SummaryGenerated bool
}

// Summarizer is the optional LLM collaborator check_and_compact uses for the
// Summarize tier; when nil, Summarize falls back to Truncate (spec §4.10
// step 4).
type Summarizer interface {
	Summarize(messages []ConversationMessage) (string, error)
}

// selectTier picks the highest tier whose trigger_ratio is exceeded by
// usageRatio, in ascending tier order (spec §4.10 step 2).
func selectTier(cfg runtime.CompactionConfig, usageRatio float64) (runtime.CompactionTier, bool) {
	var chosen runtime.CompactionTier
	found := false
	for _, t := range cfg.Tiers {
		if usageRatio >= t.TriggerRatio {
			chosen = t.Tier
			found = true
		}
	}
	return chosen, found
}

// truncate drops the oldest messages beyond keepRecent, preserving any
// leading system message and tool-call/tool-response pairing (spec §4.10
// step 3).
func truncate(messages []ConversationMessage, keepRecent int) ([]ConversationMessage, int) {
	if keepRecent <= 0 || len(messages) <= keepRecent {
		return messages, 0
	}

	var systemPrefix []ConversationMessage
	rest := messages
	if len(messages) > 0 && messages[0].Role == "system" {
		systemPrefix = messages[:1]
		rest = messages[1:]
	}

	if len(rest) <= keepRecent {
		return messages, 0
	}

	dropCount := len(rest) - keepRecent
	kept := rest[dropCount:]

	// Avoid splitting a tool-call/tool-response pair: if the new first kept
	// message is a tool response, pull its preceding assistant call back in.
	if len(kept) > 0 && kept[0].Role == "tool" && dropCount > 0 {
		kept = rest[dropCount-1:]
		dropCount--
	}

	out := append(append([]ConversationMessage{}, systemPrefix...), kept...)
	return out, len(messages) - len(out)
}

// CheckAndCompact implements check_and_compact (spec §4.10).
func CheckAndCompact(cfg runtime.CompactionConfig, countTokens func([]ConversationMessage) int, modelLimit int, messages []ConversationMessage, summarizer Summarizer) ([]ConversationMessage, *CompactionResult, error) {
	if !cfg.Enabled || modelLimit <= 0 {
		return messages, nil, nil
	}

	start := time.Now()
	tokensBefore := countTokens(messages)
	usageRatio := float64(tokensBefore) / float64(modelLimit)

	tier, ok := selectTier(cfg, usageRatio)
	if !ok {
		return messages, nil, nil
	}

	keepRecent := cfg.SummarizeThreshold
	truncated, affected := truncate(messages, keepRecent)
	applied := runtime.TierTruncate
	summaryGenerated := false

	if tier == runtime.TierSummarize {
		if summarizer != nil {
			prefix := 0
			if len(messages) > 0 && messages[0].Role == "system" {
				prefix = 1
			}
			dropped := messages[prefix : prefix+affected]
			summary, err := summarizer.Summarize(dropped)
			if err == nil {
				summaryMsg := ConversationMessage{Role: "system", Content: summary, Timestamp: time.Now()}
				truncated = append([]ConversationMessage{summaryMsg}, truncated...)
				applied = runtime.TierSummarize
				summaryGenerated = true
			}
		}
		// No summarizer, or it failed: applied stays Truncate per step 4.
	}
	// CompressEpisodic/ArchiveToMemory are extension points (spec §4.10 step
	// 5) and fall back to the truncate result computed above.

	tokensAfter := countTokens(truncated)
	result := &CompactionResult{
		TierApplied:      applied,
		TokensBefore:     tokensBefore,
		TokensAfter:      tokensAfter,
		TokensSaved:      tokensBefore - tokensAfter,
		ItemsAffected:    affected,
		DurationMs:       time.Since(start).Milliseconds(),
		SummaryGenerated: summaryGenerated,
	}
	return truncated, result, nil
}
