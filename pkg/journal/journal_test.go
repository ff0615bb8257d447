package journal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestWriteRefresh(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	w.nowFn = func() time.Time { return time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC) }

	path, err := w.WriteRefresh(&RefreshRecord{
		Action:    ActionCreate,
		ChatbotID: "support-bot",
		ModelKeys: []string{"openai/gpt-4o", "anthropic/claude-3-opus"},
		Success:   true,
	})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "refresh_20250314_093000_00001.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var rec RefreshRecord
	require.NoError(t, json.Unmarshal(data, &rec))
	require.Equal(t, ActionCreate, rec.Action)
	require.Equal(t, "support-bot", rec.ChatbotID)
	require.Equal(t, []string{"openai/gpt-4o", "anthropic/claude-3-opus"}, rec.ModelKeys)
	require.Equal(t, 1, rec.Sequence)
	require.True(t, rec.Success)

	_, err = uuid.Parse(rec.EventID)
	require.NoError(t, err, "event id should be a uuid")
}

func TestWriteRefreshSameSecond(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	w.nowFn = func() time.Time { return time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC) }

	first, err := w.WriteRefresh(&RefreshRecord{Action: ActionSweep, Success: true})
	require.NoError(t, err)
	second, err := w.WriteRefresh(&RefreshRecord{Action: ActionSweep, Success: true})
	require.NoError(t, err)

	require.NotEqual(t, first, second)
	require.Equal(t, filepath.Join(dir, "refresh_20250314_093000_00001.json"), first)
	require.Equal(t, filepath.Join(dir, "refresh_20250314_093000_00002.json"), second)
}

func TestWriteRefreshKeepsExplicitFields(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)

	ts := time.Date(2024, 12, 1, 18, 0, 0, 0, time.UTC)
	id := uuid.NewString()
	rec := &RefreshRecord{
		Timestamp: ts,
		EventID:   id,
		Action:    ActionUpdate,
		ChatbotID: "faq-bot",
		Success:   false,
	}
	rec.ErrorMessage = "build failed: base_url is required"

	_, err := w.WriteRefresh(rec)
	require.NoError(t, err)
	require.Equal(t, ts, rec.Timestamp)
	require.Equal(t, id, rec.EventID)
}

func TestWriteRefreshNilRecord(t *testing.T) {
	w := NewWriter(t.TempDir())
	_, err := w.WriteRefresh(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil record")
}
