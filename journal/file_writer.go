package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// FileWriter appends entries to an on-disk log, one tab-separated line per
// entry (spec §6): sequence\ttimestamp\tagent_id\titeration\tevent_json.
type FileWriter struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileWriter(path string) (*FileWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileWriter{f: f}, nil
}

func (w *FileWriter) WriteEntry(e Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	eventJSON, err := json.Marshal(struct {
		Event   EventKind              `json:"event"`
		Payload map[string]interface{} `json:"payload,omitempty"`
	}{Event: e.Event, Payload: e.Payload})
	if err != nil {
		return err
	}

	line := fmt.Sprintf("%d\t%s\t%s\t%d\t%s\n",
		e.Sequence, e.Timestamp.Format("2006-01-02T15:04:05.000000000Z07:00"),
		e.AgentId, e.Iteration, eventJSON)
	_, err = w.f.WriteString(line)
	return err
}

func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}
