package context

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/agentrun/agentrun/runtime"
)

// persistedContext is the JSON-serializable shape written to
// agent_contexts/<agent_id>.json[.gz] (spec §4.10/§6).
type persistedContext struct {
	AgentID       runtime.AgentId                        `json:"agent_id"`
	SessionID     runtime.SessionId                      `json:"session_id"`
	Memories      map[string]*MemoryItem                 `json:"memories"`
	Knowledge     map[runtime.KnowledgeId]*KnowledgeItem  `json:"knowledge"`
	Conversation  []ConversationMessage                   `json:"conversation"`
	Metadata      map[string]interface{}                  `json:"metadata"`
	ArchivedCount int                                      `json:"archived_count"`
	CreatedAt     time.Time                                `json:"created_at"`
	UpdatedAt     time.Time                                `json:"updated_at"`
}

func toPersisted(c *AgentContext) persistedContext {
	return persistedContext{
		AgentID: c.AgentID, SessionID: c.SessionID, Memories: c.Memories, Knowledge: c.Knowledge,
		Conversation: c.Conversation, Metadata: c.Metadata, ArchivedCount: c.ArchivedCount,
		CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt,
	}
}

func fromPersisted(p persistedContext) *AgentContext {
	if p.Memories == nil {
		p.Memories = make(map[string]*MemoryItem)
	}
	if p.Knowledge == nil {
		p.Knowledge = make(map[runtime.KnowledgeId]*KnowledgeItem)
	}
	if p.Metadata == nil {
		p.Metadata = make(map[string]interface{})
	}
	return &AgentContext{
		AgentID: p.AgentID, SessionID: p.SessionID, Memories: p.Memories, Knowledge: p.Knowledge,
		Conversation: p.Conversation, Metadata: p.Metadata, ArchivedCount: p.ArchivedCount,
		CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt,
	}
}

// FileStore persists AgentContexts under root/agent_contexts/, with
// optional gzip and rotating numbered backups, using the teacher's
// temp-file-then-rename atomic write idiom (core/memory_store.go).
type FileStore struct {
	root       string
	compress   bool
	maxBackups int
}

func NewFileStore(root string, compress bool, maxBackups int) *FileStore {
	return &FileStore{root: root, compress: compress, maxBackups: maxBackups}
}

func (f *FileStore) contextsDir() string { return filepath.Join(f.root, "agent_contexts") }

func (f *FileStore) fileName(agentID runtime.AgentId) string {
	if f.compress {
		return string(agentID) + ".json.gz"
	}
	return string(agentID) + ".json"
}

func (f *FileStore) path(agentID runtime.AgentId) string {
	return filepath.Join(f.contextsDir(), f.fileName(agentID))
}

// Save atomically writes ctx to disk, backing up any prior file first.
func (f *FileStore) Save(ctx *AgentContext) error {
	dir := f.contextsDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return runtime.NewOpError("context.FileStore.Save", "context", err).WithID(string(ctx.AgentID))
	}

	target := f.path(ctx.AgentID)
	if _, err := os.Stat(target); err == nil {
		if err := f.backup(target); err != nil {
			return runtime.NewOpError("context.FileStore.Save", "context", err).WithID(string(ctx.AgentID))
		}
	}

	tmp, err := os.CreateTemp(dir, "."+string(ctx.AgentID)+".*.tmp")
	if err != nil {
		return runtime.NewOpError("context.FileStore.Save", "context", err).WithID(string(ctx.AgentID))
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	var w io.Writer = tmp
	var gz *gzip.Writer
	if f.compress {
		gz = gzip.NewWriter(tmp)
		w = gz
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(toPersisted(ctx)); err != nil {
		tmp.Close()
		return runtime.NewOpError("context.FileStore.Save", "context", err).WithID(string(ctx.AgentID))
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			tmp.Close()
			return runtime.NewOpError("context.FileStore.Save", "context", err).WithID(string(ctx.AgentID))
		}
	}
	if err := tmp.Close(); err != nil {
		return runtime.NewOpError("context.FileStore.Save", "context", err).WithID(string(ctx.AgentID))
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return runtime.NewOpError("context.FileStore.Save", "context", err).WithID(string(ctx.AgentID))
	}
	return nil
}

func (f *FileStore) backup(target string) error {
	backupPath := fmt.Sprintf("%s.backup.%d", target, time.Now().Unix())
	data, err := os.ReadFile(target)
	if err != nil {
		return err
	}
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return err
	}
	return f.pruneBackups(target)
}

func (f *FileStore) pruneBackups(target string) error {
	dir := filepath.Dir(target)
	base := filepath.Base(target)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var backups []string
	prefix := base + ".backup."
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), prefix) {
			backups = append(backups, e.Name())
		}
	}
	sort.Strings(backups) // unix-second suffix sorts chronologically as strings
	if f.maxBackups <= 0 || len(backups) <= f.maxBackups {
		return nil
	}
	for _, old := range backups[:len(backups)-f.maxBackups] {
		os.Remove(filepath.Join(dir, old))
	}
	return nil
}

// Load reads one agent's context back from disk.
func (f *FileStore) Load(agentID runtime.AgentId) (*AgentContext, error) {
	return f.loadPath(f.path(agentID))
}

func (f *FileStore) loadPath(path string) (*AgentContext, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var r io.Reader = file
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(file)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	}

	var p persistedContext
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return nil, err
	}
	return fromPersisted(p), nil
}

// LoadAll parses every <uuid>.json[.gz] file under agent_contexts/ at
// startup (spec §4.10 persistence).
func (f *FileStore) LoadAll() (map[runtime.AgentId]*AgentContext, error) {
	out := make(map[runtime.AgentId]*AgentContext)
	entries, err := os.ReadDir(f.contextsDir())
	if os.IsNotExist(err) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		name := e.Name()
		if strings.Contains(name, ".backup.") || !strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, ".json.gz") {
			continue
		}
		ctx, err := f.loadPath(filepath.Join(f.contextsDir(), name))
		if err != nil {
			continue
		}
		out[ctx.AgentID] = ctx
	}
	return out, nil
}

// SaveArchive writes one archive snapshot to
// archives/<agent_id>/archive_<unix_secs>.json (spec §6 file formats).
func (f *FileStore) SaveArchive(agentID runtime.AgentId, archived ArchivedContext) error {
	dir := filepath.Join(f.root, "archives", string(agentID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, "archive_"+strconv.FormatInt(time.Now().Unix(), 10)+".json")

	tmp, err := os.CreateTemp(dir, ".archive.*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(archived); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// ArchivedContext is the payload written by archive_context (spec §4.10).
type ArchivedContext struct {
	AgentID      runtime.AgentId                       `json:"agent_id"`
	ArchivedAt   time.Time                              `json:"archived_at"`
	Memories     []*MemoryItem                          `json:"memories"`
	Knowledge    []*KnowledgeItem                        `json:"knowledge"`
	Conversation []ConversationMessage                   `json:"conversation"`
}
