package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"chatpipe/pkg/modelid"
)

type cacheKey struct {
	ChatbotID string
	ModelKey  string
}

// Handler owns the pipeline cache and keeps it coherent across plugin
// registration, config creation, update, and deletion. One mutex guards
// all maps; builder.Build always runs outside it.
type Handler struct {
	mu       sync.Mutex
	configs  map[string]ChatbotConfig
	presets  map[string]PresetMapping
	cache    map[cacheKey]Pipeline
	keys     map[string]map[cacheKey]struct{}
	builders map[string]Builder
	plugins  map[string]Builder

	logger Logger
}

// HandlerOption customises a Handler.
type HandlerOption func(*Handler)

// WithLogger overrides the default logx-backed logger.
func WithLogger(logger Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler returns an empty Handler.
func NewHandler(opts ...HandlerOption) *Handler {
	h := &Handler{
		configs:  make(map[string]ChatbotConfig),
		presets:  make(map[string]PresetMapping),
		cache:    make(map[cacheKey]Pipeline),
		keys:     make(map[string]map[cacheKey]struct{}),
		builders: make(map[string]Builder),
		plugins:  make(map[string]Builder),
		logger:   NewLogger("info"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterConfig stores or replaces a chatbot config and its activation
// entry in the preset mapping for the config's pipeline type.
func (h *Handler) RegisterConfig(cfg ChatbotConfig) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.registerLocked(cfg)
}

func (h *Handler) registerLocked(cfg ChatbotConfig) {
	h.configs[cfg.ChatbotID] = cfg

	mapping, ok := h.presets[cfg.PipelineType]
	if !ok {
		mapping = PresetMapping{
			PipelineType: cfg.PipelineType,
			Chatbots:     make(map[string]PresetConfig),
		}
	}
	mapping.Chatbots[cfg.ChatbotID] = PresetConfig{
		PresetID:        cfg.PresetID,
		SupportedModels: cfg.SupportedModels,
	}
	h.presets[cfg.PipelineType] = mapping
}

// OnPluginReady registers a builder under its pipeline type and builds
// pipelines for every chatbot activated for that type. The plugin is kept
// even when no chatbot is activated yet. Per-chatbot failures are logged
// and collected; they never stop the remaining chatbots.
func (h *Handler) OnPluginReady(ctx context.Context, plugin Builder) error {
	pipelineType := plugin.Name()

	h.mu.Lock()
	h.plugins[pipelineType] = plugin
	mapping, activated := h.presets[pipelineType]
	chatbotIDs := make([]string, 0, len(mapping.Chatbots))
	for id := range mapping.Chatbots {
		chatbotIDs = append(chatbotIDs, id)
	}
	h.mu.Unlock()

	if !activated {
		return nil
	}
	sort.Strings(chatbotIDs)

	var errs []error
	for _, chatbotID := range chatbotIDs {
		h.mu.Lock()
		cfg, ok := h.configs[chatbotID]
		h.mu.Unlock()
		if !ok || cfg.PipelineType != pipelineType {
			continue
		}
		if err := h.buildChatbot(ctx, plugin, cfg, cfg.SupportedModels); err != nil {
			h.logger.Error(ctx, fmt.Errorf("error initializing plugin for chatbot %q: %w", chatbotID, err), Fields{
				"pipeline_type": pipelineType,
			})
			errs = append(errs, fmt.Errorf("chatbot %q: %w", chatbotID, err))
		}
	}
	return errors.Join(errs...)
}

// buildChatbot binds the builder to the chatbot, then builds one pipeline
// per model entry. Invalid entries are skipped with a warning so a single
// bad model never blocks the rest.
func (h *Handler) buildChatbot(ctx context.Context, builder Builder, cfg ChatbotConfig, models []ModelSettings) error {
	builder.SetCatalogs(cfg.PromptCatalogs, cfg.ProcessorCatalogs)

	h.mu.Lock()
	h.builders[cfg.ChatbotID] = builder
	h.mu.Unlock()

	var errs []error
	for _, settings := range models {
		if settings.Name == "" {
			continue
		}
		if err := h.buildModel(ctx, builder, cfg, settings); err != nil {
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			h.logger.Warn(ctx, "skipping model after failed pipeline build", Fields{
				"chatbot_id": cfg.ChatbotID,
				"model":      settings.Key(),
				"error":      err,
			})
		}
	}
	return errors.Join(errs...)
}

func (h *Handler) buildModel(ctx context.Context, builder Builder, cfg ChatbotConfig, settings ModelSettings) error {
	req, err := newBuildRequest(cfg, settings)
	if err != nil {
		return err
	}

	built, err := builder.Build(ctx, req)
	if err != nil {
		return fmt.Errorf("build pipeline for model %q: %w", settings.Key(), err)
	}
	// A cancelled build must not leave a partial entry behind.
	if err := ctx.Err(); err != nil {
		return err
	}

	key := cacheKey{ChatbotID: cfg.ChatbotID, ModelKey: settings.Key()}
	h.mu.Lock()
	h.cache[key] = built
	owned := h.keys[cfg.ChatbotID]
	if owned == nil {
		owned = make(map[cacheKey]struct{})
		h.keys[cfg.ChatbotID] = owned
	}
	owned[key] = struct{}{}
	h.mu.Unlock()
	return nil
}

func newBuildRequest(cfg ChatbotConfig, settings ModelSettings) (BuildRequest, error) {
	model, err := modelid.Parse(settings.Name)
	if err != nil {
		return BuildRequest{}, err
	}
	credentials, err := ResolveCredentials(settings.Kwargs, settings.EnvKwargs)
	if err != nil {
		return BuildRequest{}, err
	}
	return BuildRequest{
		ChatbotID:    cfg.ChatbotID,
		PipelineType: cfg.PipelineType,
		Model:        model,
		ModelKey:     settings.Key(),
		Credentials:  credentials,
		Kwargs:       settings.Kwargs,
		EnvKwargs:    settings.EnvKwargs,
		Params:       copyParams(cfg.Params),
	}, nil
}

func copyParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

// GetPipeline returns the cached pipeline for the chatbot and model. The
// model is stringified, so callers may pass the configured key, a numeric
// ID, or a modelid.ModelID. On a miss the handler attempts a targeted
// rebuild before giving up.
func (h *Handler) GetPipeline(ctx context.Context, chatbotID string, model any) (Pipeline, error) {
	modelKey := fmt.Sprint(model)
	key := cacheKey{ChatbotID: chatbotID, ModelKey: modelKey}

	h.mu.Lock()
	built, ok := h.cache[key]
	h.mu.Unlock()
	if ok {
		return built, nil
	}

	h.rebuildPipeline(ctx, chatbotID, modelKey)

	h.mu.Lock()
	built, ok = h.cache[key]
	h.mu.Unlock()
	if ok {
		return built, nil
	}
	return nil, fmt.Errorf("%w: pipeline for chatbot %q model %q not found and could not be rebuilt",
		ErrNotFound, chatbotID, modelKey)
}

// rebuildPipeline attempts to rebuild a single chatbot/model pair after a
// cache miss. Every dead end is logged rather than returned; the caller
// re-checks the cache afterwards.
func (h *Handler) rebuildPipeline(ctx context.Context, chatbotID, modelKey string) {
	h.mu.Lock()
	builder, bound := h.builders[chatbotID]
	h.mu.Unlock()

	if !bound {
		h.rebindBuilder(ctx, chatbotID)
		h.mu.Lock()
		builder, bound = h.builders[chatbotID]
		h.mu.Unlock()
		if !bound {
			h.logger.Warn(ctx, "no pipeline builder bound for chatbot", Fields{"chatbot_id": chatbotID})
			return
		}
	}

	h.mu.Lock()
	cfg, ok := h.configs[chatbotID]
	h.mu.Unlock()
	if !ok {
		h.logger.Warn(ctx, "no pipeline config registered for chatbot", Fields{"chatbot_id": chatbotID})
		return
	}

	settings, found := findModel(cfg.SupportedModels, modelKey)
	if !found {
		h.logger.Warn(ctx, "model not supported by chatbot", Fields{
			"chatbot_id": chatbotID,
			"model":      modelKey,
		})
		return
	}

	if err := h.buildChatbot(ctx, builder, cfg, []ModelSettings{settings}); err != nil {
		h.logger.Warn(ctx, "pipeline rebuild failed", Fields{
			"chatbot_id": chatbotID,
			"model":      modelKey,
			"error":      err,
		})
		return
	}
	h.logger.Info(ctx, "pipeline rebuilt", Fields{
		"chatbot_id": chatbotID,
		"model":      modelKey,
	})
}

func findModel(models []ModelSettings, modelKey string) (ModelSettings, bool) {
	for _, settings := range models {
		if settings.Name == "" {
			continue
		}
		if settings.ModelID == modelKey || settings.Name == modelKey {
			return settings, true
		}
	}
	return ModelSettings{}, false
}

// rebindBuilder points the chatbot at its type's registered plugin without
// building anything. Used when a builder binding went missing.
func (h *Handler) rebindBuilder(ctx context.Context, chatbotID string) {
	h.mu.Lock()
	cfg, ok := h.configs[chatbotID]
	var plugin Builder
	if ok {
		plugin = h.plugins[cfg.PipelineType]
	}
	h.mu.Unlock()

	if !ok {
		h.logger.Warn(ctx, "no pipeline config registered for chatbot", Fields{"chatbot_id": chatbotID})
		return
	}
	if plugin == nil {
		h.logger.Warn(ctx, "pipeline plugin not registered for type", Fields{
			"chatbot_id":    chatbotID,
			"pipeline_type": cfg.PipelineType,
		})
		return
	}
	if len(cfg.SupportedModels) == 0 {
		h.logger.Warn(ctx, "chatbot has no supported models", Fields{"chatbot_id": chatbotID})
		return
	}

	plugin.SetCatalogs(cfg.PromptCatalogs, cfg.ProcessorCatalogs)
	h.mu.Lock()
	h.builders[chatbotID] = plugin
	h.mu.Unlock()
}

// GetBuilder returns the builder bound to the chatbot, rebinding it from
// the plugin index when the binding is missing.
func (h *Handler) GetBuilder(ctx context.Context, chatbotID string) (Builder, error) {
	h.mu.Lock()
	builder, ok := h.builders[chatbotID]
	h.mu.Unlock()
	if ok {
		return builder, nil
	}

	h.logger.Warn(ctx, "pipeline builder not bound, attempting rebind", Fields{"chatbot_id": chatbotID})
	h.rebindBuilder(ctx, chatbotID)

	h.mu.Lock()
	builder, ok = h.builders[chatbotID]
	h.mu.Unlock()
	if ok {
		return builder, nil
	}
	return nil, fmt.Errorf("%w: pipeline builder for chatbot %q not found and could not be rebuilt",
		ErrNotFound, chatbotID)
}

// DeleteChatbot evicts every pipeline the chatbot owns and forgets its
// config, activation entry, and builder binding. Unknown IDs are a no-op.
func (h *Handler) DeleteChatbot(chatbotID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for key := range h.keys[chatbotID] {
		delete(h.cache, key)
	}
	delete(h.keys, chatbotID)

	if cfg, ok := h.configs[chatbotID]; ok {
		if mapping, ok := h.presets[cfg.PipelineType]; ok {
			delete(mapping.Chatbots, chatbotID)
		}
		delete(h.configs, chatbotID)
	}
	delete(h.builders, chatbotID)
}

// UpdateChatbots refreshes the listed chatbots from the source: the stored
// config is replaced, cache entries for models no longer supported are
// evicted, and the remaining models are rebuilt. Chatbots missing from the
// source are skipped with a warning. Per-chatbot failures are collected
// and never stop the batch.
func (h *Handler) UpdateChatbots(ctx context.Context, source ConfigSource, chatbotIDs []string) error {
	var errs []error
	for _, chatbotID := range chatbotIDs {
		if err := h.updateChatbot(ctx, source, chatbotID); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			errs = append(errs, fmt.Errorf("update chatbot %q: %w", chatbotID, err))
		}
	}
	return errors.Join(errs...)
}

func (h *Handler) updateChatbot(ctx context.Context, source ConfigSource, chatbotID string) error {
	cfg, err := source.Config(ctx, chatbotID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.logger.Warn(ctx, "pipeline config not found for chatbot", Fields{"chatbot_id": chatbotID})
		}
		return err
	}

	h.mu.Lock()
	h.registerLocked(cfg)

	wanted := make(map[cacheKey]struct{}, len(cfg.SupportedModels))
	for _, settings := range cfg.SupportedModels {
		if settings.Name == "" {
			continue
		}
		wanted[cacheKey{ChatbotID: chatbotID, ModelKey: settings.Key()}] = struct{}{}
	}
	for key := range h.keys[chatbotID] {
		if _, keep := wanted[key]; !keep {
			delete(h.cache, key)
			delete(h.keys[chatbotID], key)
		}
	}

	builder := h.builders[chatbotID]
	if builder == nil {
		builder = h.plugins[cfg.PipelineType]
	}
	h.mu.Unlock()

	if builder == nil {
		h.logger.Warn(ctx, "pipeline plugin not found for chatbot", Fields{
			"chatbot_id":    chatbotID,
			"pipeline_type": cfg.PipelineType,
		})
		return fmt.Errorf("%w: plugin for pipeline type %q", ErrNotFound, cfg.PipelineType)
	}
	return h.buildChatbot(ctx, builder, cfg, cfg.SupportedModels)
}

// CreateChatbot registers a new chatbot from the source and builds its
// pipelines. Nothing is stored when the source has no config for the
// chatbot or no plugin is registered for its pipeline type.
func (h *Handler) CreateChatbot(ctx context.Context, source ConfigSource, chatbotID string) error {
	cfg, err := source.Config(ctx, chatbotID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.logger.Warn(ctx, "pipeline config not found for chatbot", Fields{"chatbot_id": chatbotID})
			return nil
		}
		return err
	}

	h.mu.Lock()
	plugin := h.plugins[cfg.PipelineType]
	if plugin != nil {
		h.registerLocked(cfg)
	}
	h.mu.Unlock()

	if plugin == nil {
		h.logger.Warn(ctx, "pipeline plugin not found for chatbot", Fields{
			"chatbot_id":    chatbotID,
			"pipeline_type": cfg.PipelineType,
		})
		return nil
	}
	return h.buildChatbot(ctx, plugin, cfg, cfg.SupportedModels)
}

// CleanupAll runs Cleanup on every registered plugin and clears all state.
// Cleanup failures are collected; every plugin gets its turn.
func (h *Handler) CleanupAll(ctx context.Context) error {
	h.mu.Lock()
	pipelineTypes := make([]string, 0, len(h.plugins))
	for pipelineType := range h.plugins {
		pipelineTypes = append(pipelineTypes, pipelineType)
	}
	sort.Strings(pipelineTypes)
	plugins := make([]Builder, 0, len(pipelineTypes))
	for _, pipelineType := range pipelineTypes {
		plugins = append(plugins, h.plugins[pipelineType])
	}
	h.mu.Unlock()

	var errs []error
	for _, plugin := range plugins {
		if err := plugin.Cleanup(ctx); err != nil {
			h.logger.Warn(ctx, "plugin cleanup failed", Fields{
				"pipeline_type": plugin.Name(),
				"error":         err,
			})
			errs = append(errs, fmt.Errorf("cleanup plugin %q: %w", plugin.Name(), err))
		}
	}

	h.mu.Lock()
	h.configs = make(map[string]ChatbotConfig)
	h.presets = make(map[string]PresetMapping)
	h.cache = make(map[cacheKey]Pipeline)
	h.keys = make(map[string]map[cacheKey]struct{})
	h.builders = make(map[string]Builder)
	h.plugins = make(map[string]Builder)
	h.mu.Unlock()

	return errors.Join(errs...)
}

// Chatbots returns the registered chatbot IDs in sorted order.
func (h *Handler) Chatbots() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.configs))
	for id := range h.configs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ModelKeys returns the model keys with a cached pipeline for the chatbot,
// in sorted order.
func (h *Handler) ModelKeys(chatbotID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	owned := h.keys[chatbotID]
	keys := make([]string, 0, len(owned))
	for key := range owned {
		keys = append(keys, key.ModelKey)
	}
	sort.Strings(keys)
	return keys
}

// PipelineConfig returns a copy of the chatbot's pipeline parameters.
func (h *Handler) PipelineConfig(chatbotID string) (map[string]any, error) {
	cfg, err := h.configFor(chatbotID)
	if err != nil {
		return nil, err
	}
	return copyParams(cfg.Params), nil
}

// PipelineType returns the chatbot's pipeline type.
func (h *Handler) PipelineType(chatbotID string) (string, error) {
	cfg, err := h.configFor(chatbotID)
	if err != nil {
		return "", err
	}
	return cfg.PipelineType, nil
}

// UseDocproc reports whether document processing is enabled for the
// chatbot. Absent or mistyped values read as false.
func (h *Handler) UseDocproc(chatbotID string) (bool, error) {
	cfg, err := h.configFor(chatbotID)
	if err != nil {
		return false, err
	}
	enabled, _ := cfg.Params["use_docproc"].(bool)
	return enabled, nil
}

// MaxFileSize returns the chatbot's upload size limit in bytes. Absent or
// mistyped values read as zero.
func (h *Handler) MaxFileSize(chatbotID string) (int64, error) {
	cfg, err := h.configFor(chatbotID)
	if err != nil {
		return 0, err
	}
	return toInt64(cfg.Params["max_file_size"]), nil
}

func (h *Handler) configFor(chatbotID string) (ChatbotConfig, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cfg, ok := h.configs[chatbotID]
	if !ok {
		return ChatbotConfig{}, fmt.Errorf("%w: pipeline configuration for chatbot %q", ErrNotFound, chatbotID)
	}
	return cfg, nil
}

// toInt64 tolerates the numeric types produced by yaml and json decoding.
func toInt64(raw any) int64 {
	switch v := raw.(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case uint64:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}
