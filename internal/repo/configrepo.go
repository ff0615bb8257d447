package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/cache"

	cachekeys "chatpipe/internal/cache"
	"chatpipe/internal/model"
	"chatpipe/pkg/catalog"
	"chatpipe/pkg/pipeline"
)

var _ Store = (*ConfigRepo)(nil)

// ConfigRepo serves chatbot configs from Postgres with a Redis response
// cache in front. On database misses and failures it defers to the file
// fallback when one is configured, so file-defined chatbots keep working
// alongside stored ones.
type ConfigRepo struct {
	model      model.ChatbotConfigsModel
	cache      cache.Cache
	fallback   *FileStore
	ttl        cachekeys.TTLSet
	prompts    map[string]catalog.PromptBuilderCatalog
	processors map[string]catalog.RequestProcessorCatalog
}

func newConfigRepo(deps Dependencies) *ConfigRepo {
	return &ConfigRepo{
		model:      deps.ChatbotConfigsModel,
		cache:      deps.Cache,
		fallback:   deps.Fallback,
		ttl:        deps.TTL,
		prompts:    deps.Prompts,
		processors: deps.Processors,
	}
}

// helper: get from redis into v
func (r *ConfigRepo) getCache(ctx context.Context, key string, v any) (bool, error) {
	if r.cache == nil {
		return false, nil
	}
	if err := r.cache.GetCtx(ctx, key, v); err != nil {
		if r.cache.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// helper: set redis from v
func (r *ConfigRepo) setCache(ctx context.Context, key string, ttl time.Duration, v any) {
	if r.cache == nil || ttl <= 0 {
		return
	}
	if err := r.cache.SetWithExpireCtx(ctx, key, v, ttl); err != nil {
		logx.WithContext(ctx).Errorf("set cache %s: %v", key, err)
	}
}

// storedChatbot is the cacheable projection of one chatbot_configs row.
type storedChatbot struct {
	ChatbotID       string                   `json:"chatbot_id"`
	PipelineType    string                   `json:"pipeline_type"`
	PresetID        string                   `json:"preset_id,omitempty"`
	Params          map[string]any           `json:"params,omitempty"`
	SupportedModels []pipeline.ModelSettings `json:"supported_models"`
	Tags            []string                 `json:"tags,omitempty"`
	Enabled         bool                     `json:"enabled"`
	UpdateTime      time.Time                `json:"update_time"`
}

// Config implements pipeline.ConfigSource.
func (r *ConfigRepo) Config(ctx context.Context, chatbotID string) (pipeline.ChatbotConfig, error) {
	key := cachekeys.ChatbotConfigKey(chatbotID)
	var cached storedChatbot
	if ok, _ := r.getCache(ctx, key, &cached); ok {
		return r.toChatbotConfig(cached), nil
	}

	row, err := r.model.FindOneByChatbotId(ctx, chatbotID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			if r.fallback != nil {
				return r.fallback.Config(ctx, chatbotID)
			}
			return pipeline.ChatbotConfig{}, fmt.Errorf("%w: chatbot %q", pipeline.ErrNotFound, chatbotID)
		}
		logx.WithContext(ctx).Errorf("db chatbot config %s failed, falling back: %v", chatbotID, err)
		if r.fallback != nil {
			return r.fallback.Config(ctx, chatbotID)
		}
		return pipeline.ChatbotConfig{}, err
	}
	if !row.Enabled {
		return pipeline.ChatbotConfig{}, fmt.Errorf("%w: chatbot %q", pipeline.ErrNotFound, chatbotID)
	}

	stored, err := rowToStored(row)
	if err != nil {
		return pipeline.ChatbotConfig{}, err
	}
	r.setCache(ctx, key, cachekeys.ChatbotConfigTTL(r.ttl), stored)
	return r.toChatbotConfig(stored), nil
}

func (r *ConfigRepo) toChatbotConfig(stored storedChatbot) pipeline.ChatbotConfig {
	return pipeline.ChatbotConfig{
		ChatbotID:         stored.ChatbotID,
		PipelineType:      stored.PipelineType,
		PresetID:          stored.PresetID,
		Params:            stored.Params,
		SupportedModels:   stored.SupportedModels,
		PromptCatalogs:    r.prompts,
		ProcessorCatalogs: r.processors,
	}
}

func (r *ConfigRepo) ChatbotIDs(ctx context.Context) ([]string, error) {
	key := cachekeys.ChatbotIDsKey()
	var cached []string
	if ok, _ := r.getCache(ctx, key, &cached); ok {
		return cached, nil
	}

	rows, err := r.model.FindEnabled(ctx)
	if err != nil {
		logx.WithContext(ctx).Errorf("db chatbot ids failed, falling back: %v", err)
		if r.fallback != nil {
			return r.fallback.ChatbotIDs(ctx)
		}
		return nil, err
	}

	ids := make([]string, 0, len(rows))
	for i := range rows {
		ids = append(ids, rows[i].ChatbotId)
	}
	if r.fallback != nil {
		fileIDs, _ := r.fallback.ChatbotIDs(ctx)
		ids = mergeIDs(ids, fileIDs)
	}
	r.setCache(ctx, key, cachekeys.ChatbotIDsTTL(r.ttl), ids)
	return ids, nil
}

func (r *ConfigRepo) ListChatbots(ctx context.Context) ([]ChatbotSummary, error) {
	key := cachekeys.ChatbotSummariesKey()
	var cached []ChatbotSummary
	if ok, _ := r.getCache(ctx, key, &cached); ok {
		return cached, nil
	}

	rows, err := r.model.FindEnabled(ctx)
	if err != nil {
		logx.WithContext(ctx).Errorf("db chatbot listing failed, falling back: %v", err)
		if r.fallback != nil {
			return r.fallback.ListChatbots(ctx)
		}
		return nil, err
	}

	summaries, err := rowsToSummaries(rows)
	if err != nil {
		return nil, err
	}
	if r.fallback != nil {
		fileSummaries, _ := r.fallback.ListChatbots(ctx)
		summaries = mergeSummaries(summaries, fileSummaries)
	}
	r.setCache(ctx, key, cachekeys.ChatbotSummariesTTL(r.ttl), summaries)
	return summaries, nil
}

func (r *ConfigRepo) ListChatbotsByTag(ctx context.Context, tag string) ([]ChatbotSummary, error) {
	key := cachekeys.ChatbotSummariesByTagKey(tag)
	var cached []ChatbotSummary
	if ok, _ := r.getCache(ctx, key, &cached); ok {
		return cached, nil
	}

	rows, err := r.model.FindByTags(ctx, []string{tag})
	if err != nil {
		logx.WithContext(ctx).Errorf("db chatbot listing by tag %s failed, falling back: %v", tag, err)
		if r.fallback != nil {
			return r.fallback.ListChatbotsByTag(ctx, tag)
		}
		return nil, err
	}

	summaries, err := rowsToSummaries(rows)
	if err != nil {
		return nil, err
	}
	if r.fallback != nil {
		fileSummaries, _ := r.fallback.ListChatbotsByTag(ctx, tag)
		summaries = mergeSummaries(summaries, fileSummaries)
	}
	r.setCache(ctx, key, cachekeys.ChatbotSummariesTTL(r.ttl), summaries)
	return summaries, nil
}

func (r *ConfigRepo) Summary(ctx context.Context, chatbotID string) (ChatbotSummary, error) {
	row, err := r.model.FindOneByChatbotId(ctx, chatbotID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) && r.fallback != nil {
			return r.fallback.Summary(ctx, chatbotID)
		}
		if errors.Is(err, model.ErrNotFound) {
			return ChatbotSummary{}, fmt.Errorf("%w: chatbot %q", pipeline.ErrNotFound, chatbotID)
		}
		return ChatbotSummary{}, err
	}
	return rowToSummary(row)
}

func (r *ConfigRepo) DeleteChatbot(ctx context.Context, chatbotID string) error {
	row, err := r.model.FindOneByChatbotId(ctx, chatbotID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			if r.fallback != nil {
				return r.fallback.DeleteChatbot(ctx, chatbotID)
			}
			return fmt.Errorf("%w: chatbot %q", pipeline.ErrNotFound, chatbotID)
		}
		return err
	}
	if err := r.model.Delete(ctx, row.Id); err != nil {
		return fmt.Errorf("chatbot_configs delete %s: %w", chatbotID, err)
	}
	r.evictListings(ctx, chatbotID)
	return nil
}

// evictListings drops the response-cache entries that embed the chatbot.
// Tag-scoped listings are left to expire on their own TTL.
func (r *ConfigRepo) evictListings(ctx context.Context, chatbotID string) {
	if r.cache == nil {
		return
	}
	keys := []string{
		cachekeys.ChatbotConfigKey(chatbotID),
		cachekeys.ChatbotIDsKey(),
		cachekeys.ChatbotSummariesKey(),
	}
	if err := r.cache.DelCtx(ctx, keys...); err != nil {
		logx.WithContext(ctx).Errorf("evict cache %v: %v", keys, err)
	}
}

func rowToStored(row *model.ChatbotConfigs) (storedChatbot, error) {
	stored := storedChatbot{
		ChatbotID:    row.ChatbotId,
		PipelineType: row.PipelineType,
		Enabled:      row.Enabled,
		UpdateTime:   row.UpdateTime,
	}
	if row.PresetId.Valid {
		stored.PresetID = row.PresetId.String
	}
	if row.Params.Valid && strings.TrimSpace(row.Params.String) != "" {
		if err := json.Unmarshal([]byte(row.Params.String), &stored.Params); err != nil {
			return storedChatbot{}, fmt.Errorf("chatbot %s: decode params: %w", row.ChatbotId, err)
		}
	}
	if strings.TrimSpace(row.SupportedModels) != "" {
		if err := json.Unmarshal([]byte(row.SupportedModels), &stored.SupportedModels); err != nil {
			return storedChatbot{}, fmt.Errorf("chatbot %s: decode supported_models: %w", row.ChatbotId, err)
		}
	}
	if strings.TrimSpace(row.Tags) != "" {
		if err := json.Unmarshal([]byte(row.Tags), &stored.Tags); err != nil {
			return storedChatbot{}, fmt.Errorf("chatbot %s: decode tags: %w", row.ChatbotId, err)
		}
	}
	return stored, nil
}

func rowToSummary(row *model.ChatbotConfigs) (ChatbotSummary, error) {
	summary := ChatbotSummary{
		ChatbotID:    row.ChatbotId,
		PipelineType: row.PipelineType,
		Enabled:      row.Enabled,
		UpdateTime:   row.UpdateTime,
	}
	if row.PresetId.Valid {
		summary.PresetID = row.PresetId.String
	}
	if strings.TrimSpace(row.Tags) != "" {
		if err := json.Unmarshal([]byte(row.Tags), &summary.Tags); err != nil {
			return ChatbotSummary{}, fmt.Errorf("chatbot %s: decode tags: %w", row.ChatbotId, err)
		}
	}
	return summary, nil
}

func rowsToSummaries(rows []model.ChatbotConfigs) ([]ChatbotSummary, error) {
	summaries := make([]ChatbotSummary, 0, len(rows))
	for i := range rows {
		summary, err := rowToSummary(&rows[i])
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// mergeIDs unions the id lists, database entries winning on conflict.
func mergeIDs(dbIDs, fileIDs []string) []string {
	seen := make(map[string]struct{}, len(dbIDs))
	for _, id := range dbIDs {
		seen[id] = struct{}{}
	}
	merged := append([]string(nil), dbIDs...)
	for _, id := range fileIDs {
		if _, ok := seen[id]; !ok {
			merged = append(merged, id)
		}
	}
	sort.Strings(merged)
	return merged
}

// mergeSummaries unions the listings, database entries winning on conflict.
func mergeSummaries(db, file []ChatbotSummary) []ChatbotSummary {
	seen := make(map[string]struct{}, len(db))
	for i := range db {
		seen[db[i].ChatbotID] = struct{}{}
	}
	merged := append([]ChatbotSummary(nil), db...)
	for i := range file {
		if _, ok := seen[file[i].ChatbotID]; !ok {
			merged = append(merged, file[i])
		}
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ChatbotID < merged[j].ChatbotID })
	return merged
}
