// Package tokencount implements the Token Counter (spec §2 L1): an
// approximate token count for messages with a parameterised limit, used by
// the Reasoning Loop (§4.8) to enforce a model's context window and by the
// Context Manager (§4.10) to compute compaction usage_ratio.
//
// No tokenizer library appears anywhere in the reference corpus this module
// is grounded on, so the estimate uses the common chars/4 heuristic rather
// than introducing an unsupported dependency (see DESIGN.md).
package tokencount

// Message is the minimal shape the counter needs from a conversation
// message; reasoning.Message and context.ConversationMessage both satisfy it
// via an adapter rather than importing this package's concrete type.
type Message struct {
	Role    string
	Content string
}

// CountFunc estimates the token count of a single string. Swappable so a
// real tokenizer can be substituted without changing callers.
type CountFunc func(s string) int

// DefaultCountFunc approximates tokens as ceil(len(s)/4), the conventional
// rough estimate for English text used across LM tooling absent an actual
// tokenizer.
func DefaultCountFunc(s string) int {
	if len(s) == 0 {
		return 0
	}
	return (len(s) + 3) / 4
}

// Counter counts tokens across a conversation using a pluggable CountFunc.
type Counter struct {
	count CountFunc
}

func New(count CountFunc) *Counter {
	if count == nil {
		count = DefaultCountFunc
	}
	return &Counter{count: count}
}

// CountMessage estimates one message's token cost, including a small
// per-message overhead for role/framing tokens.
func (c *Counter) CountMessage(m Message) int {
	const perMessageOverhead = 4
	return perMessageOverhead + c.count(m.Role) + c.count(m.Content)
}

// CountMessages sums CountMessage across a conversation.
func (c *Counter) CountMessages(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += c.CountMessage(m)
	}
	return total
}

// ExceedsLimit reports whether msgs' total token count exceeds limit,
// matching the Reasoning phase's pre-call check in spec §4.8: "if
// count_messages(conversation) > limit, the Context Manager compacts."
func (c *Counter) ExceedsLimit(msgs []Message, limit int) bool {
	return c.CountMessages(msgs) > limit
}

// UsageRatio computes current_tokens / model_limit for CompactionConfig's
// tier selection (spec §4.10 step 1). Returns 0 if limit <= 0.
func (c *Counter) UsageRatio(msgs []Message, limit int) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(c.CountMessages(msgs)) / float64(limit)
}
