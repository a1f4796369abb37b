// Package context implements the Context Manager (spec §4.10): hierarchical
// per-agent memory (working/episodic/semantic/procedural), knowledge
// sharing, retention/archival, tiered compaction, and file persistence.
// Grounded on pkg/memory/implementations.go's Get/Set/Delete/TTL shape for
// the persistence-cache contract and on core/memory_store.go's atomic
// temp-file-then-rename write path.
package context

import (
	"time"

	"github.com/agentrun/agentrun/collab"
	"github.com/agentrun/agentrun/runtime"
)

// MemoryType classifies one MemoryItem (spec §4.10 importance algorithm).
type MemoryType string

const (
	MemoryWorking    MemoryType = "working"
	MemoryEpisodic   MemoryType = "episodic"
	MemorySemantic   MemoryType = "semantic"
	MemoryProcedural MemoryType = "procedural"
	MemoryFactual    MemoryType = "factual"
)

// MemoryItem is one unit of an agent's memory (spec §3/§4.10).
type MemoryItem struct {
	ID           string
	Type         MemoryType
	Content      string
	Importance   float64 // stored base importance, input to the formula
	AccessCount  int
	CreatedAt    time.Time
	LastAccessed time.Time
	Metadata     map[string]interface{}
	Embedding    []float32 // per-item fallback embedding when vector DB disabled

	// Procedural/pattern-specific fields used by archival eligibility rules.
	SuccessRate float64
	Confidence  float64
	Occurrences int
}

// KnowledgeItem is a durable fact attached to an agent (spec §3/§4.10).
type KnowledgeItem struct {
	ID         runtime.KnowledgeId
	Content    string
	Verified   bool
	CreatedAt  time.Time
	Metadata   map[string]interface{}
}

// ConversationMessage is one turn of an agent's session history.
type ConversationMessage struct {
	Role       string
	Content    string
	ToolCallID string
	Timestamp  time.Time
}

// ContextItemType selects what query_context/keyword search range over.
type ContextItemType string

const (
	ItemMemory       ContextItemType = "memory"
	ItemKnowledge    ContextItemType = "knowledge"
	ItemConversation ContextItemType = "conversation"
)

// ContextItem is one scored hit returned from query_context/search_knowledge.
type ContextItem struct {
	Type           ContextItemType
	ID             string
	Content        string
	RelevanceScore float64
}

// QueryType selects query_context's matching strategy (spec §4.10).
type QueryType string

const (
	QuerySemantic   QueryType = "semantic"
	QueryKeyword    QueryType = "keyword"
	QueryTemporal   QueryType = "temporal"
	QuerySimilarity QueryType = "similarity"
	QueryHybrid     QueryType = "hybrid"
)

// ContextQuery parameterizes query_context (spec §4.10).
type ContextQuery struct {
	SearchTerms       []string
	MemoryTypes       map[MemoryType]struct{}
	TimeRangeStart    *time.Time
	TimeRangeEnd      *time.Time
	QueryType         QueryType
	MaxResults        int
	RelevanceThreshold float64
}

// MemoryUpdate is one change applied by update_memory.
type MemoryUpdate struct {
	ID      string // key of the item to upsert or delete; Item.ID takes precedence when set. No ID is generated.
	Item    MemoryItem
	Delete  bool
}

// RetentionPolicy configures archive_context's cutoffs (spec §4.10).
type RetentionPolicy struct {
	MemoryRetention      time.Duration
	KnowledgeRetention   time.Duration
	SessionRetention     time.Duration
}

func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		MemoryRetention:    30 * 24 * time.Hour,
		KnowledgeRetention: 90 * 24 * time.Hour,
		SessionRetention:   7 * 24 * time.Hour,
	}
}

// AgentContext is the full per-agent memory bundle (spec §3).
type AgentContext struct {
	AgentID       runtime.AgentId
	SessionID     runtime.SessionId
	Memories      map[string]*MemoryItem
	Knowledge     map[runtime.KnowledgeId]*KnowledgeItem
	Conversation  []ConversationMessage
	Metadata      map[string]interface{}
	ArchivedCount int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func newAgentContext(agentID runtime.AgentId, sessionID runtime.SessionId) *AgentContext {
	now := time.Now()
	return &AgentContext{
		AgentID:      agentID,
		SessionID:    sessionID,
		Memories:     make(map[string]*MemoryItem),
		Knowledge:    make(map[runtime.KnowledgeId]*KnowledgeItem),
		Conversation: nil,
		Metadata:     make(map[string]interface{}),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// AccessLevel gates get_shared_knowledge visibility (spec §4.10).
type AccessLevel string

const (
	AccessPublic     AccessLevel = "public"
	AccessRestricted AccessLevel = "restricted"
	AccessPrivate    AccessLevel = "private"
)

// SharedKnowledgeItem is one entry in the process-wide shared-knowledge
// store (spec §4.10 "share_knowledge").
type SharedKnowledgeItem struct {
	KnowledgeID  runtime.KnowledgeId
	SourceAgent  runtime.AgentId
	Content      string
	AccessLevel  AccessLevel
	CreatedAt    time.Time
	AccessCount  int
}

// ContextStats summarizes one agent's context for get_context_stats.
type ContextStats struct {
	MemoryCount       int
	KnowledgeCount    int
	ConversationCount int
	ArchivedCount     int
}

// Collaborators bundles the two external-boundary interfaces this package
// consumes (spec §6): embedding generation and optional vector search.
type Collaborators struct {
	Embedder collab.EmbeddingService
	VectorDB collab.VectorDatabase
}
