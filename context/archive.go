package context

import (
	"time"

	"github.com/agentrun/agentrun/runtime"
)

// ArchiveContext moves items older than the retention cutoffs into an
// ArchivedContext, writes it to disk (if persistence is enabled), and
// returns the count of items archived (spec §4.10 "Retention/archival").
func (m *Manager) ArchiveContext(agentID runtime.AgentId, before time.Time) (int, error) {
	if err := m.validateAccess(); err != nil {
		return 0, err
	}

	memoryCutoff := before.Add(-m.policy.MemoryRetention)
	knowledgeCutoff := before.Add(-m.policy.KnowledgeRetention)
	conversationCutoff := before.Add(-m.policy.SessionRetention)

	m.mu.Lock()
	c, ok := m.contexts[agentID]
	if !ok {
		m.mu.Unlock()
		return 0, runtime.NewOpError("context.ArchiveContext", "context", ErrNotFound).WithID(string(agentID))
	}

	var archived ArchivedContext
	archived.AgentID = agentID
	archived.ArchivedAt = time.Now()

	for id, mem := range c.Memories {
		// spec §4.10: "archived on created_at OR last_accessed < cutoff"
		eligibleByAge := mem.CreatedAt.Before(memoryCutoff) || mem.LastAccessed.Before(memoryCutoff)
		eligibleProcedural := mem.Type == MemoryProcedural && mem.SuccessRate < 0.3
		eligiblePattern := mem.Confidence > 0 && (mem.Confidence < 0.4 || mem.Occurrences < 2)

		if eligibleByAge || eligibleProcedural || eligiblePattern {
			archived.Memories = append(archived.Memories, mem)
			delete(c.Memories, id)
		}
	}

	for id, k := range c.Knowledge {
		doubleCutoff := before.Add(-2 * m.policy.KnowledgeRetention)
		if !k.Verified && k.CreatedAt.Before(doubleCutoff) {
			archived.Knowledge = append(archived.Knowledge, k)
			delete(c.Knowledge, id)
		} else if k.CreatedAt.Before(knowledgeCutoff) {
			archived.Knowledge = append(archived.Knowledge, k)
			delete(c.Knowledge, id)
		}
	}

	var keptConversation []ConversationMessage
	for _, msg := range c.Conversation {
		if msg.Timestamp.Before(conversationCutoff) {
			archived.Conversation = append(archived.Conversation, msg)
		} else {
			keptConversation = append(keptConversation, msg)
		}
	}
	c.Conversation = keptConversation

	count := len(archived.Memories) + len(archived.Knowledge) + len(archived.Conversation)
	if count > 0 {
		c.ArchivedCount += count
		if c.Metadata == nil {
			c.Metadata = make(map[string]interface{})
		}
		c.Metadata["last_archived"] = archived.ArchivedAt
		c.Metadata["archived_count"] = c.ArchivedCount
		c.UpdatedAt = time.Now()
	}
	m.mu.Unlock()

	if count == 0 {
		return 0, nil
	}

	if m.store != nil {
		if err := m.store.SaveArchive(agentID, archived); err != nil {
			m.logger.Error("failed to write archive file", map[string]interface{}{
				"agent_id": agentID, "error": err.Error(),
			})
		}
		m.persistAsync(c)
	}

	return count, nil
}
