package repo_test

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"github.com/zeromicro/go-zero/core/stores/cache"
	"github.com/zeromicro/go-zero/core/stores/redis"
	"github.com/zeromicro/go-zero/core/syncx"

	cachekeys "chatpipe/internal/cache"
	"chatpipe/internal/config"
	"chatpipe/internal/model"
	"chatpipe/internal/repo"
	"chatpipe/pkg/pipeline"
)

const fallbackPipelineYAML = `
default_type: lm-invoker
prompts:
  "":
    greeting: "Hi {{.name}}"
chatbots:
  file-bot:
    params:
      system_prompt: greeting
    tags: [file]
    supported_models:
      - name: openai/gpt-4o-mini
  shared-bot:
    params:
      origin: file
    supported_models:
      - name: openai/gpt-4o-mini
`

// fakeChatbotConfigsModel backs the repo with an in-memory row set.
type fakeChatbotConfigsModel struct {
	rows      map[string]*model.ChatbotConfigs
	nextID    int64
	findCalls int
	failAll   bool
}

func newFakeModel() *fakeChatbotConfigsModel {
	return &fakeChatbotConfigsModel{rows: make(map[string]*model.ChatbotConfigs)}
}

func (f *fakeChatbotConfigsModel) add(row *model.ChatbotConfigs) {
	f.nextID++
	row.Id = f.nextID
	f.rows[row.ChatbotId] = row
}

func (f *fakeChatbotConfigsModel) Insert(_ context.Context, data *model.ChatbotConfigs) (sql.Result, error) {
	f.add(data)
	return driver.RowsAffected(1), nil
}

func (f *fakeChatbotConfigsModel) FindOne(_ context.Context, id int64) (*model.ChatbotConfigs, error) {
	for _, row := range f.rows {
		if row.Id == id {
			return row, nil
		}
	}
	return nil, model.ErrNotFound
}

func (f *fakeChatbotConfigsModel) FindOneByChatbotId(_ context.Context, chatbotId string) (*model.ChatbotConfigs, error) {
	f.findCalls++
	if f.failAll {
		return nil, errors.New("db down")
	}
	row, ok := f.rows[chatbotId]
	if !ok {
		return nil, model.ErrNotFound
	}
	return row, nil
}

func (f *fakeChatbotConfigsModel) Update(_ context.Context, data *model.ChatbotConfigs) error {
	f.rows[data.ChatbotId] = data
	return nil
}

func (f *fakeChatbotConfigsModel) Delete(_ context.Context, id int64) error {
	for key, row := range f.rows {
		if row.Id == id {
			delete(f.rows, key)
			return nil
		}
	}
	return model.ErrNotFound
}

func (f *fakeChatbotConfigsModel) FindEnabled(_ context.Context) ([]model.ChatbotConfigs, error) {
	if f.failAll {
		return nil, errors.New("db down")
	}
	var out []model.ChatbotConfigs
	for _, row := range f.rows {
		if row.Enabled {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (f *fakeChatbotConfigsModel) FindByChatbotIds(_ context.Context, chatbotIds []string) ([]model.ChatbotConfigs, error) {
	var out []model.ChatbotConfigs
	for _, id := range chatbotIds {
		if row, ok := f.rows[id]; ok {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (f *fakeChatbotConfigsModel) FindByTags(_ context.Context, tags []string) ([]model.ChatbotConfigs, error) {
	if f.failAll {
		return nil, errors.New("db down")
	}
	var out []model.ChatbotConfigs
	for _, row := range f.rows {
		if !row.Enabled {
			continue
		}
		var rowTags []string
		if row.Tags != "" {
			if err := json.Unmarshal([]byte(row.Tags), &rowTags); err != nil {
				return nil, err
			}
		}
		matched := true
		for _, want := range tags {
			found := false
			for _, got := range rowTags {
				if got == want {
					found = true
					break
				}
			}
			if !found {
				matched = false
				break
			}
		}
		if matched {
			out = append(out, *row)
		}
	}
	return out, nil
}

func newTestCache(t *testing.T) cache.Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	conf := cache.CacheConf{{
		RedisConf: redis.RedisConf{Host: mr.Addr(), Type: redis.NodeType},
		Weight:    100,
	}}
	return cache.New(conf, syncx.NewSingleFlight(), cache.NewStat("chatpipe-test"), model.ErrNotFound)
}

func newFallbackStore(t *testing.T) (*repo.FileStore, *pipeline.Config) {
	t.Helper()
	cfg, err := pipeline.LoadConfigFromReader(strings.NewReader(fallbackPipelineYAML))
	require.NoError(t, err)
	store, err := repo.NewFileStore(cfg, nil)
	require.NoError(t, err)
	return store, cfg
}

func dbRow(t *testing.T, chatbotID string, params map[string]any, tags []string, enabled bool) *model.ChatbotConfigs {
	t.Helper()
	models, err := json.Marshal([]pipeline.ModelSettings{{Name: "openai/gpt-4o"}})
	require.NoError(t, err)

	row := &model.ChatbotConfigs{
		ChatbotId:       chatbotID,
		PipelineType:    "lm-invoker",
		PresetId:        sql.NullString{String: "general", Valid: true},
		SupportedModels: string(models),
		Enabled:         enabled,
		UpdateTime:      time.Now().UTC(),
	}
	if params != nil {
		raw, err := json.Marshal(params)
		require.NoError(t, err)
		row.Params = sql.NullString{String: string(raw), Valid: true}
	}
	if tags != nil {
		raw, err := json.Marshal(tags)
		require.NoError(t, err)
		row.Tags = string(raw)
	}
	return row
}

func testTTL() cachekeys.TTLSet {
	return cachekeys.NewTTLSet(config.CacheTTL{Short: 10, Medium: 60, Long: 300})
}

func TestConfigRepoConfigCachesRow(t *testing.T) {
	fake := newFakeModel()
	fake.add(dbRow(t, "db-bot", map[string]any{"system_prompt": "greeting"}, []string{"prod"}, true))

	fallback, cfg := newFallbackStore(t)
	prompts, err := cfg.PromptCatalogs()
	require.NoError(t, err)

	store, err := repo.NewStore(repo.Dependencies{
		Cache:               newTestCache(t),
		TTL:                 testTTL(),
		ChatbotConfigsModel: fake,
		Fallback:            fallback,
		Prompts:             prompts,
	})
	require.NoError(t, err)

	ctx := context.Background()
	got, err := store.Config(ctx, "db-bot")
	require.NoError(t, err)
	require.Equal(t, "db-bot", got.ChatbotID)
	require.Equal(t, "lm-invoker", got.PipelineType)
	require.Equal(t, "general", got.PresetID)
	require.Equal(t, "greeting", got.Params["system_prompt"])
	require.NotNil(t, got.PromptCatalogs, "prompt catalogs should be stamped onto db configs")
	require.Len(t, got.SupportedModels, 1)

	require.Equal(t, 1, fake.findCalls)
	again, err := store.Config(ctx, "db-bot")
	require.NoError(t, err)
	require.Equal(t, got.ChatbotID, again.ChatbotID)
	require.Equal(t, 1, fake.findCalls, "second lookup should be served from cache")
}

func TestConfigRepoFallsBackToFile(t *testing.T) {
	fallback, _ := newFallbackStore(t)
	store, err := repo.NewStore(repo.Dependencies{
		Cache:               newTestCache(t),
		TTL:                 testTTL(),
		ChatbotConfigsModel: newFakeModel(),
		Fallback:            fallback,
	})
	require.NoError(t, err)

	ctx := context.Background()

	got, err := store.Config(ctx, "file-bot")
	require.NoError(t, err)
	require.Equal(t, "file-bot", got.ChatbotID)
	require.Equal(t, "lm-invoker", got.PipelineType)

	_, err = store.Config(ctx, "nope")
	require.ErrorIs(t, err, pipeline.ErrNotFound)
}

func TestConfigRepoFallsBackOnDBError(t *testing.T) {
	fake := newFakeModel()
	fake.failAll = true
	fallback, _ := newFallbackStore(t)

	store, err := repo.NewStore(repo.Dependencies{
		Cache:               newTestCache(t),
		TTL:                 testTTL(),
		ChatbotConfigsModel: fake,
		Fallback:            fallback,
	})
	require.NoError(t, err)

	got, err := store.Config(context.Background(), "file-bot")
	require.NoError(t, err)
	require.Equal(t, "file-bot", got.ChatbotID)

	ids, err := store.ChatbotIDs(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"file-bot", "shared-bot"}, ids)
}

func TestConfigRepoDisabledRowNotFound(t *testing.T) {
	fake := newFakeModel()
	fake.add(dbRow(t, "off-bot", nil, nil, false))

	store, err := repo.NewStore(repo.Dependencies{
		Cache:               newTestCache(t),
		TTL:                 testTTL(),
		ChatbotConfigsModel: fake,
	})
	require.NoError(t, err)

	_, err = store.Config(context.Background(), "off-bot")
	require.ErrorIs(t, err, pipeline.ErrNotFound)
}

func TestConfigRepoListMergesFallback(t *testing.T) {
	fake := newFakeModel()
	fake.add(dbRow(t, "db-bot", nil, []string{"prod"}, true))
	fake.add(dbRow(t, "shared-bot", nil, []string{"prod"}, true))
	fallback, _ := newFallbackStore(t)

	store, err := repo.NewStore(repo.Dependencies{
		Cache:               newTestCache(t),
		TTL:                 testTTL(),
		ChatbotConfigsModel: fake,
		Fallback:            fallback,
	})
	require.NoError(t, err)

	ctx := context.Background()

	ids, err := store.ChatbotIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"db-bot", "file-bot", "shared-bot"}, ids)

	summaries, err := store.ListChatbots(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 3)

	byID := make(map[string]repo.ChatbotSummary, len(summaries))
	for _, s := range summaries {
		byID[s.ChatbotID] = s
	}
	require.Equal(t, []string{"prod"}, byID["shared-bot"].Tags, "database row should win over the file entry")
	require.False(t, byID["shared-bot"].UpdateTime.IsZero())
	require.True(t, byID["file-bot"].UpdateTime.IsZero())

	tagged, err := store.ListChatbotsByTag(ctx, "prod")
	require.NoError(t, err)
	require.Len(t, tagged, 2)

	tagged, err = store.ListChatbotsByTag(ctx, "file")
	require.NoError(t, err)
	require.Len(t, tagged, 1)
	require.Equal(t, "file-bot", tagged[0].ChatbotID)
}

func TestConfigRepoDeleteEvictsCache(t *testing.T) {
	fake := newFakeModel()
	fake.add(dbRow(t, "db-bot", nil, nil, true))

	store, err := repo.NewStore(repo.Dependencies{
		Cache:               newTestCache(t),
		TTL:                 testTTL(),
		ChatbotConfigsModel: fake,
	})
	require.NoError(t, err)

	ctx := context.Background()

	_, err = store.Config(ctx, "db-bot")
	require.NoError(t, err)

	require.NoError(t, store.DeleteChatbot(ctx, "db-bot"))
	require.Empty(t, fake.rows)

	_, err = store.Config(ctx, "db-bot")
	require.ErrorIs(t, err, pipeline.ErrNotFound, "deleted chatbot must not be served from a stale cache entry")

	err = store.DeleteChatbot(ctx, "db-bot")
	require.ErrorIs(t, err, pipeline.ErrNotFound)
}
