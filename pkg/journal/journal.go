package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Actions recorded by the refresh daemon.
const (
	ActionSweep  = "sweep"
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// RefreshRecord captures a config refresh outcome for audit and analysis.
type RefreshRecord struct {
	Timestamp    time.Time      `json:"timestamp"`
	EventID      string         `json:"event_id"`
	Sequence     int            `json:"sequence"`
	Action       string         `json:"action"`
	ChatbotID    string         `json:"chatbot_id,omitempty"`
	PipelineType string         `json:"pipeline_type,omitempty"`
	ModelKeys    []string       `json:"model_keys,omitempty"`
	ConfigDigest string         `json:"config_digest,omitempty"`
	Created      []string       `json:"created,omitempty"`
	Updated      []string       `json:"updated,omitempty"`
	Removed      []string       `json:"removed,omitempty"`
	Failed       []string       `json:"failed,omitempty"`
	Success      bool           `json:"success"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// Writer persists refresh records to a directory as JSON files (journal style).
type Writer struct {
	dir   string
	seq   int
	nowFn func() time.Time
}

// NewWriter constructs a journal writer.
func NewWriter(dir string) *Writer {
	if dir == "" {
		dir = "journal"
	}
	_ = os.MkdirAll(dir, 0o755)
	return &Writer{dir: dir, nowFn: time.Now}
}

// WriteRefresh writes a refresh record to a timestamped JSON file.
// The sequence number disambiguates writes within the same second.
func (w *Writer) WriteRefresh(rec *RefreshRecord) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("journal: nil record")
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = w.nowFn()
	}
	if rec.EventID == "" {
		rec.EventID = uuid.NewString()
	}
	w.seq++
	rec.Sequence = w.seq
	name := fmt.Sprintf("refresh_%s_%05d.json", rec.Timestamp.UTC().Format("20060102_150405"), w.seq)
	path := filepath.Join(w.dir, name)
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
