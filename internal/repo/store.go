package repo

import (
	"context"
	"errors"
	"time"

	"chatpipe/pkg/pipeline"
)

// ErrReadOnly marks lifecycle operations on file-defined chatbots, which
// can only be changed by editing the pipeline config file.
var ErrReadOnly = errors.New("repo: file-defined chatbots are read-only")

// ChatbotSummary is the listing row for one chatbot. UpdateTime is zero for
// file-defined chatbots, which carry no store timestamps.
type ChatbotSummary struct {
	ChatbotID    string    `json:"chatbot_id"`
	PipelineType string    `json:"pipeline_type"`
	PresetID     string    `json:"preset_id,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	Enabled      bool      `json:"enabled"`
	UpdateTime   time.Time `json:"update_time"`
}

// Store is the chatbot config surface shared by the REST handlers and the
// refresh daemon. It extends the pipeline ConfigSource with the listing and
// lifecycle operations the service exposes.
type Store interface {
	pipeline.ConfigSource

	ChatbotIDs(ctx context.Context) ([]string, error)
	ListChatbots(ctx context.Context) ([]ChatbotSummary, error)
	ListChatbotsByTag(ctx context.Context, tag string) ([]ChatbotSummary, error)
	Summary(ctx context.Context, chatbotID string) (ChatbotSummary, error)
	DeleteChatbot(ctx context.Context, chatbotID string) error
}
