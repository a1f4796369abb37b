package context

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentrun/agentrun/collab"
	"github.com/agentrun/agentrun/runtime"
	"github.com/agentrun/agentrun/telemetry"
	"github.com/agentrun/agentrun/tokencount"
)

// Manager is the Context Manager (spec §4.10): an in-memory authoritative
// cache of per-agent AgentContexts, backed optionally by a FileStore, plus
// a process-wide shared-knowledge store. All per-agent mutation goes
// through mu (write) or RLock (read); the nested-lock rule from spec §5
// forbids holding mu while taking sharedMu, and forbids holding either
// across a call into an external collaborator.
type Manager struct {
	mu       sync.RWMutex
	contexts map[runtime.AgentId]*AgentContext

	sharedMu sync.RWMutex
	shared   map[runtime.KnowledgeId]*SharedKnowledgeItem

	store  *FileStore // nil disables persistence
	coll   Collaborators
	cfg    runtime.ContextManagerConfig
	policy RetentionPolicy
	logger runtime.ComponentAwareLogger

	compaction runtime.CompactionConfig
	counter    *tokencount.Counter
	summarizer Summarizer // nil falls back to Truncate, per CheckAndCompact step 4

	shuttingDown atomic.Bool
	stopRetention chan struct{}
	retentionDone chan struct{}
}

// New builds a Context Manager. store may be nil to disable persistence.
// compaction governs CompactIfNeeded; pass runtime.CompactionConfig{} (Enabled
// false) to disable compaction entirely.
func New(cfg runtime.ContextManagerConfig, policy RetentionPolicy, coll Collaborators, store *FileStore, logger runtime.ComponentAwareLogger, compaction runtime.CompactionConfig) *Manager {
	if logger == nil {
		logger = runtime.NoOpLogger{}
	}
	m := &Manager{
		contexts:      make(map[runtime.AgentId]*AgentContext),
		shared:        make(map[runtime.KnowledgeId]*SharedKnowledgeItem),
		store:         store,
		coll:          coll,
		cfg:           cfg,
		policy:        policy,
		logger:        logger.WithComponent("context"),
		compaction:    compaction,
		counter:       tokencount.New(nil),
		stopRetention: make(chan struct{}),
		retentionDone: make(chan struct{}),
	}
	if store != nil {
		if loaded, err := store.LoadAll(); err == nil {
			m.contexts = loaded
		}
	}
	return m
}

// SetSummarizer installs the LLM collaborator CompactIfNeeded uses for the
// Summarize tier. Optional; without one, that tier falls back to Truncate.
func (m *Manager) SetSummarizer(s Summarizer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summarizer = s
}

func collabToConversation(msgs []collab.Message) []ConversationMessage {
	out := make([]ConversationMessage, len(msgs))
	now := time.Now()
	for i, m := range msgs {
		out[i] = ConversationMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID, Timestamp: now}
	}
	return out
}

func conversationToCollab(msgs []ConversationMessage) []collab.Message {
	out := make([]collab.Message, len(msgs))
	for i, m := range msgs {
		out[i] = collab.Message{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
	}
	return out
}

// CompactIfNeeded implements reasoning.ContextManager (spec §4.8 "enforce the
// model's token limit ... the Context Manager compacts"): when conversation's
// token count reaches the lowest configured tier's trigger ratio of limit
// (0.7 with the default tiers), it runs check_and_compact (spec §4.10) and
// returns the shortened conversation; otherwise it returns conversation
// unchanged. Compaction failures and a disabled config both fall back to the
// input unchanged rather than failing the caller's reasoning step.
func (m *Manager) CompactIfNeeded(conversation []collab.Message, limit int) []collab.Message {
	if !m.compaction.Enabled || limit <= 0 {
		return conversation
	}
	countTokens := func(msgs []ConversationMessage) int {
		tcMsgs := make([]tokencount.Message, len(msgs))
		for i, msg := range msgs {
			tcMsgs[i] = tokencount.Message{Role: msg.Role, Content: msg.Content}
		}
		return m.counter.CountMessages(tcMsgs)
	}

	m.mu.RLock()
	summarizer := m.summarizer
	m.mu.RUnlock()

	converted := collabToConversation(conversation)
	compacted, result, err := CheckAndCompact(m.compaction, countTokens, limit, converted, summarizer)
	if err != nil {
		m.logger.Warn("check_and_compact failed", map[string]interface{}{"error": err.Error()})
		return conversation
	}
	if result == nil {
		return conversation
	}
	telemetry.Counter("reasoning.compaction.total", "tier", string(result.TierApplied))
	m.logger.Info("compacted conversation", map[string]interface{}{
		"tier_applied": string(result.TierApplied),
		"tokens_before": result.TokensBefore,
		"tokens_after":  result.TokensAfter,
		"items_affected": result.ItemsAffected,
	})
	return conversationToCollab(compacted)
}

var ErrAccessDenied = runtime.ErrAccessDenied
var ErrNotFound = runtime.ErrNotFound
var ErrKnowledgeNotFound = fmt.Errorf("%w: knowledge item", runtime.ErrNotFound)

func (m *Manager) validateAccess() error {
	if m.shuttingDown.Load() {
		return runtime.NewOpError("context.validateAccess", "context", runtime.ErrShuttingDown)
	}
	return nil
}

// StoreContext upserts the AgentContext for agentID, creating it if absent.
func (m *Manager) StoreContext(ctx context.Context, agentID runtime.AgentId, sessionID runtime.SessionId) (*AgentContext, error) {
	if err := m.validateAccess(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	c, ok := m.contexts[agentID]
	if !ok {
		c = newAgentContext(agentID, sessionID)
		m.contexts[agentID] = c
	} else {
		c.SessionID = sessionID
		c.UpdatedAt = time.Now()
	}
	m.mu.Unlock()

	m.persistAsync(c)
	return c, nil
}

// RetrieveContext returns agentID's context, optionally validating sessionID
// (spec §4.10 "retrieve_context(agent_id, session_id?) -> option").
func (m *Manager) RetrieveContext(agentID runtime.AgentId, sessionID *runtime.SessionId) (*AgentContext, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contexts[agentID]
	if !ok {
		return nil, false
	}
	if sessionID != nil && c.SessionID != *sessionID {
		return nil, false
	}
	return c, true
}

// UpdateMemory applies a batch of MemoryUpdates under the contexts write
// lock (spec §4.10 "update_memory").
func (m *Manager) UpdateMemory(agentID runtime.AgentId, updates []MemoryUpdate) error {
	if err := m.validateAccess(); err != nil {
		return err
	}

	m.mu.Lock()
	c, ok := m.contexts[agentID]
	if !ok {
		m.mu.Unlock()
		return runtime.NewOpError("context.UpdateMemory", "context", ErrNotFound).WithID(string(agentID))
	}
	for _, u := range updates {
		if u.Delete {
			delete(c.Memories, u.ID)
			continue
		}
		item := u.Item
		if item.ID == "" {
			item.ID = u.ID
		}
		if item.CreatedAt.IsZero() {
			item.CreatedAt = time.Now()
		}
		item.LastAccessed = time.Now()
		stored := item
		c.Memories[item.ID] = &stored
	}
	c.UpdatedAt = time.Now()
	m.mu.Unlock()

	m.persistAsync(c)
	return nil
}

// AddKnowledge appends a KnowledgeItem to agentID's context.
func (m *Manager) AddKnowledge(agentID runtime.AgentId, item KnowledgeItem) (runtime.KnowledgeId, error) {
	if err := m.validateAccess(); err != nil {
		return "", err
	}
	if item.ID == "" {
		item.ID = runtime.NewKnowledgeId()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}

	m.mu.Lock()
	c, ok := m.contexts[agentID]
	if !ok {
		c = newAgentContext(agentID, "")
		m.contexts[agentID] = c
	}
	stored := item
	c.Knowledge[item.ID] = &stored
	c.UpdatedAt = time.Now()
	m.mu.Unlock()

	m.persistAsync(c)
	return item.ID, nil
}

// QueryContext implements query_context's five strategies (spec §4.10).
func (m *Manager) QueryContext(ctx context.Context, agentID runtime.AgentId, q ContextQuery) ([]ContextItem, error) {
	m.mu.RLock()
	c, ok := m.contexts[agentID]
	m.mu.RUnlock()
	if !ok {
		return nil, runtime.NewOpError("context.QueryContext", "context", ErrNotFound).WithID(string(agentID))
	}

	maxResults := q.MaxResults
	if maxResults <= 0 {
		maxResults = 20
	}

	var queryVec []float32
	if q.QueryType == QuerySemantic || q.QueryType == QueryHybrid || q.QueryType == QuerySimilarity {
		if m.coll.Embedder != nil && len(q.SearchTerms) > 0 {
			if v, err := m.coll.Embedder.GenerateEmbedding(ctx, joinTerms(q.SearchTerms)); err == nil {
				queryVec = v
			}
		}
	}

	m.mu.RLock()
	memories := make([]*MemoryItem, 0, len(c.Memories))
	for _, mem := range c.Memories {
		if len(q.MemoryTypes) > 0 {
			if _, wanted := q.MemoryTypes[mem.Type]; !wanted {
				continue
			}
		}
		if q.TimeRangeStart != nil && mem.CreatedAt.Before(*q.TimeRangeStart) {
			continue
		}
		if q.TimeRangeEnd != nil && mem.CreatedAt.After(*q.TimeRangeEnd) {
			continue
		}
		memories = append(memories, mem)
	}
	m.mu.RUnlock()

	now := time.Now()
	var results []ContextItem
	for _, mem := range memories {
		importance := ImportanceScore(*mem, now)
		var score float64
		switch q.QueryType {
		case QueryTemporal:
			score = importance
		case QuerySemantic, QuerySimilarity:
			score = cosineSimilarity(queryVec, mem.Embedding)
		case QueryHybrid:
			kw, _ := keywordScore(mem.Content, q.SearchTerms)
			sim := cosineSimilarity(queryVec, mem.Embedding)
			score = hybridScore(kw, sim)
		default: // QueryKeyword
			kw, _ := keywordScore(mem.Content, q.SearchTerms)
			if kw == 0 {
				continue // no search term matched
			}
			score = blendRelevance(kw, importance)
		}
		if score >= q.RelevanceThreshold {
			results = append(results, ContextItem{Type: ItemMemory, ID: mem.ID, Content: mem.Content, RelevanceScore: score})
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].RelevanceScore > results[j].RelevanceScore })
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}

func joinTerms(terms []string) string {
	out := ""
	for i, t := range terms {
		if i > 0 {
			out += " "
		}
		out += t
	}
	return out
}

// SearchKnowledge implements search_knowledge: keyword match across an
// agent's knowledge (and, per the spec's documented open question,
// conversation history is also scanned regardless of requested item
// types — preserved here as a deliberate compatibility choice, see
// DESIGN.md).
func (m *Manager) SearchKnowledge(agentID runtime.AgentId, query string, limit int) ([]ContextItem, error) {
	m.mu.RLock()
	c, ok := m.contexts[agentID]
	m.mu.RUnlock()
	if !ok {
		return nil, runtime.NewOpError("context.SearchKnowledge", "context", ErrNotFound).WithID(string(agentID))
	}
	if limit <= 0 {
		limit = 10
	}
	terms := tokenize(query)

	m.mu.RLock()
	var results []ContextItem
	for _, k := range c.Knowledge {
		score, _ := keywordScore(k.Content, terms)
		if score > 0 {
			results = append(results, ContextItem{Type: ItemKnowledge, ID: string(k.ID), Content: k.Content, RelevanceScore: score})
		}
	}
	for _, msg := range c.Conversation {
		score, _ := keywordScore(msg.Content, terms)
		if score > 0 {
			results = append(results, ContextItem{Type: ItemConversation, ID: msg.Role, Content: msg.Content, RelevanceScore: score})
		}
	}
	m.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool { return results[i].RelevanceScore > results[j].RelevanceScore })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// ShareKnowledge copies a knowledge item into the shared store (spec §4.10
// "share_knowledge"). Per the nested-lock rule, the contexts lock is
// released before sharedMu is taken.
func (m *Manager) ShareKnowledge(fromAgent, toAgent runtime.AgentId, id runtime.KnowledgeId, level AccessLevel) error {
	m.mu.RLock()
	c, ok := m.contexts[fromAgent]
	if !ok {
		m.mu.RUnlock()
		return runtime.NewOpError("context.ShareKnowledge", "context", ErrNotFound).WithID(string(fromAgent))
	}
	item, ok := c.Knowledge[id]
	m.mu.RUnlock()
	if !ok {
		return runtime.NewOpError("context.ShareKnowledge", "context", ErrKnowledgeNotFound).WithID(string(id))
	}

	m.sharedMu.Lock()
	m.shared[id] = &SharedKnowledgeItem{
		KnowledgeID: id, SourceAgent: fromAgent, Content: item.Content,
		AccessLevel: level, CreatedAt: time.Now(),
	}
	m.sharedMu.Unlock()
	_ = toAgent // visibility is enforced at read time in GetSharedKnowledge
	return nil
}

// SharedKnowledgeView is one result from get_shared_knowledge, with the
// derived trust score (spec §4.10).
type SharedKnowledgeView struct {
	Item       SharedKnowledgeItem
	TrustScore float64
}

// GetSharedKnowledge returns shared items visible to agentID: Public items
// to anyone, Restricted/Private items only to their source agent (spec
// §4.10 access-level gating).
func (m *Manager) GetSharedKnowledge(agentID runtime.AgentId) []SharedKnowledgeView {
	m.sharedMu.Lock()
	defer m.sharedMu.Unlock()

	var out []SharedKnowledgeView
	for _, item := range m.shared {
		visible := item.AccessLevel == AccessPublic || item.SourceAgent == agentID
		if !visible {
			continue
		}
		item.AccessCount++
		trust := clamp01(math.Log(float64(item.AccessCount)+1)/10 + 0.5 + sourceTrustBonus(item.AccessLevel))
		out = append(out, SharedKnowledgeView{Item: *item, TrustScore: trust})
	}
	return out
}

func sourceTrustBonus(level AccessLevel) float64 {
	switch level {
	case AccessPublic:
		return 0.1
	case AccessRestricted:
		return 0.05
	default:
		return 0
	}
}

// GetContextStats implements get_context_stats.
func (m *Manager) GetContextStats(agentID runtime.AgentId) (ContextStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contexts[agentID]
	if !ok {
		return ContextStats{}, runtime.NewOpError("context.GetContextStats", "context", ErrNotFound).WithID(string(agentID))
	}
	return ContextStats{
		MemoryCount:       len(c.Memories),
		KnowledgeCount:    len(c.Knowledge),
		ConversationCount: len(c.Conversation),
		ArchivedCount:     c.ArchivedCount,
	}, nil
}

func (m *Manager) persistAsync(c *AgentContext) {
	if m.store == nil {
		return
	}
	go func() {
		if err := m.store.Save(c); err != nil {
			m.logger.Error("failed to persist context", map[string]interface{}{
				"agent_id": c.AgentID, "error": err.Error(),
			})
		}
	}()
}

// StartRetentionLoop runs archive_context for every cached agent every
// archiving_interval, until StopRetentionLoop or the shutdown flag is set
// (spec §4.10 "Runs as a background task on archiving_interval; halts when
// the shutdown flag is set.").
func (m *Manager) StartRetentionLoop(ctx context.Context) {
	defer close(m.retentionDone)
	if !m.cfg.EnableAutoArchiving {
		return
	}
	ticker := time.NewTicker(m.cfg.ArchivingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopRetention:
			return
		case <-ticker.C:
			if m.shuttingDown.Load() {
				return
			}
			m.archiveAllDue()
		}
	}
}

func (m *Manager) archiveAllDue() {
	m.mu.RLock()
	ids := make([]runtime.AgentId, 0, len(m.contexts))
	for id := range m.contexts {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if _, err := m.ArchiveContext(id, time.Now()); err != nil {
			m.logger.Warn("archive_context failed", map[string]interface{}{"agent_id": id, "error": err.Error()})
		}
	}
}

// Shutdown is idempotent: it stops the retention loop, saves every cached
// context (logging but not aborting on save failure), and may be called any
// number of times (spec §4.10 "Shutdown").
func (m *Manager) Shutdown(ctx context.Context) error {
	if !m.shuttingDown.CompareAndSwap(false, true) {
		return nil // already shut down
	}
	close(m.stopRetention)

	budget := 5 * time.Second
	select {
	case <-m.retentionDone:
	case <-time.After(budget):
		m.logger.Warn("retention loop did not stop within shutdown budget", nil)
	}

	m.mu.RLock()
	toSave := make([]*AgentContext, 0, len(m.contexts))
	for _, c := range m.contexts {
		toSave = append(toSave, c)
	}
	m.mu.RUnlock()

	if m.store != nil {
		for _, c := range toSave {
			if err := m.store.Save(c); err != nil {
				m.logger.Error("failed to save context during shutdown", map[string]interface{}{
					"agent_id": c.AgentID, "error": err.Error(),
				})
			}
		}
	}
	return nil
}
