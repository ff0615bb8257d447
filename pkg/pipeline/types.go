package pipeline

import (
	"context"

	"chatpipe/pkg/catalog"
	"chatpipe/pkg/modelid"
)

// Pipeline is an opaque handle to a built unit of work. The handler caches
// and evicts pipelines without ever looking inside them.
type Pipeline interface{}

// ModelSettings describes one model a chatbot supports. The cache key for
// the model is ModelID when set, otherwise Name. Entries with an empty
// Name are ignored everywhere.
type ModelSettings struct {
	ModelID   string            `json:"model_id,omitempty" yaml:"model_id,omitempty"`
	Name      string            `json:"name" yaml:"name"`
	Kwargs    map[string]any    `json:"model_kwargs,omitempty" yaml:"model_kwargs,omitempty"`
	EnvKwargs map[string]string `json:"model_env_kwargs,omitempty" yaml:"model_env_kwargs,omitempty"`
}

// Key returns the cache key component for the model.
func (s ModelSettings) Key() string {
	if s.ModelID != "" {
		return s.ModelID
	}
	return s.Name
}

// ChatbotConfig is one chatbot's pipeline configuration.
type ChatbotConfig struct {
	ChatbotID       string
	PipelineType    string
	PresetID        string
	Params          map[string]any
	SupportedModels []ModelSettings

	PromptCatalogs    map[string]catalog.PromptBuilderCatalog
	ProcessorCatalogs map[string]catalog.RequestProcessorCatalog
}

// PresetConfig ties a chatbot to its preset and the models it may use.
type PresetConfig struct {
	PresetID        string
	SupportedModels []ModelSettings
}

// PresetMapping indexes the chatbots activated for one pipeline type.
type PresetMapping struct {
	PipelineType string
	Chatbots     map[string]PresetConfig
}

// BuildRequest carries everything a builder needs to assemble a pipeline
// for one chatbot and model pair. Params is a copy of the chatbot's
// pipeline parameters; builders may mutate it freely.
type BuildRequest struct {
	ChatbotID    string
	PipelineType string
	Model        modelid.ModelID
	ModelKey     string
	Credentials  map[string]string
	Kwargs       map[string]any
	EnvKwargs    map[string]string
	Params       map[string]any
}

// Builder constructs pipelines for one pipeline type. Implementations are
// registered with the handler through OnPluginReady and are expected to
// honour ctx cancellation in Build.
type Builder interface {
	Name() string
	Build(ctx context.Context, req BuildRequest) (Pipeline, error)
	Cleanup(ctx context.Context) error
	SetCatalogs(prompts map[string]catalog.PromptBuilderCatalog, processors map[string]catalog.RequestProcessorCatalog)
}

// ConfigSource yields chatbot configs by ID, typically backed by the
// config store. Missing chatbots are reported via ErrNotFound.
type ConfigSource interface {
	Config(ctx context.Context, chatbotID string) (ChatbotConfig, error)
}
