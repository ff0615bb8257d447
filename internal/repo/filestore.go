package repo

import (
	"context"
	"fmt"

	"chatpipe/pkg/catalog"
	"chatpipe/pkg/pipeline"
)

var _ Store = (*FileStore)(nil)

// FileStore serves chatbot configs straight from the pipeline config file.
// It backs test and dev deployments that run without Postgres and acts as
// the fallback behind the DB-backed repo everywhere else.
type FileStore struct {
	cfg    *pipeline.Config
	source *pipeline.FileSource
}

// NewFileStore wraps the pipeline config in the Store interface, binding the
// given request processors to every config it serves.
func NewFileStore(cfg *pipeline.Config, processors map[string]catalog.RequestProcessorCatalog) (*FileStore, error) {
	source, err := pipeline.NewFileSource(cfg, processors)
	if err != nil {
		return nil, err
	}
	return &FileStore{cfg: cfg, source: source}, nil
}

func (s *FileStore) Config(ctx context.Context, chatbotID string) (pipeline.ChatbotConfig, error) {
	return s.source.Config(ctx, chatbotID)
}

func (s *FileStore) ChatbotIDs(_ context.Context) ([]string, error) {
	return s.source.ChatbotIDs(), nil
}

func (s *FileStore) ListChatbots(_ context.Context) ([]ChatbotSummary, error) {
	ids := s.source.ChatbotIDs()
	summaries := make([]ChatbotSummary, 0, len(ids))
	for _, id := range ids {
		summaries = append(summaries, s.summaryFor(id, s.cfg.Chatbots[id]))
	}
	return summaries, nil
}

func (s *FileStore) ListChatbotsByTag(_ context.Context, tag string) ([]ChatbotSummary, error) {
	ids := s.source.ChatbotIDs()
	summaries := make([]ChatbotSummary, 0, len(ids))
	for _, id := range ids {
		spec := s.cfg.Chatbots[id]
		if !hasTag(spec.Tags, tag) {
			continue
		}
		summaries = append(summaries, s.summaryFor(id, spec))
	}
	return summaries, nil
}

func (s *FileStore) Summary(_ context.Context, chatbotID string) (ChatbotSummary, error) {
	spec, ok := s.cfg.Chatbots[chatbotID]
	if !ok || spec.Disabled {
		return ChatbotSummary{}, fmt.Errorf("%w: chatbot %q", pipeline.ErrNotFound, chatbotID)
	}
	return s.summaryFor(chatbotID, spec), nil
}

// DeleteChatbot always fails for known chatbots: file-defined entries are
// edited on disk, not through the API.
func (s *FileStore) DeleteChatbot(_ context.Context, chatbotID string) error {
	if _, ok := s.cfg.Chatbots[chatbotID]; !ok {
		return fmt.Errorf("%w: chatbot %q", pipeline.ErrNotFound, chatbotID)
	}
	return fmt.Errorf("%w: chatbot %q", ErrReadOnly, chatbotID)
}

func (s *FileStore) summaryFor(id string, spec *pipeline.ChatbotSpec) ChatbotSummary {
	return ChatbotSummary{
		ChatbotID:    id,
		PipelineType: spec.PipelineType,
		PresetID:     spec.PresetID,
		Tags:         append([]string(nil), spec.Tags...),
		Enabled:      !spec.Disabled,
	}
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
