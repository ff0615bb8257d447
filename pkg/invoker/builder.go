package invoker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"
	"resty.dev/v3"

	"chatpipe/pkg/catalog"
	"chatpipe/pkg/modelid"
	"chatpipe/pkg/pipeline"
)

// PipelineType is the pipeline type the default builder registers under.
const PipelineType = "lm-invoker"

// pluginVersion is reported through the plugin registry.
const pluginVersion = "1.0.0"

// Pipeline params understood by the builder.
const (
	paramPromptBuilder    = "prompt_builder"
	paramRequestProcessor = "request_processor"
	paramSystemPrompt     = "system_prompt"
)

// Model kwargs resolved per model, via direct value or env indirection.
const (
	kwargBaseURL         = "base_url"
	kwargAzureEndpoint   = "azure_endpoint"
	kwargAzureDeployment = "azure_deployment"
	kwargAPIVersion      = "api_version"
)

const defaultAzureAPIVersion = "2024-06-01"

// ErrMissingBaseURL reports a provider with no public endpoint and no
// configured base_url.
var ErrMissingBaseURL = errors.New("invoker: base_url is required")

var _ pipeline.Builder = (*Builder)(nil)

// Builder assembles LM invoker pipelines.
type Builder struct {
	cfg          *Config
	logger       pipeline.Logger
	retry        *RetryHandler
	httpClient   *http.Client
	openaiClient *openai.Client

	mu         sync.Mutex
	prompts    map[string]catalog.PromptBuilderCatalog
	processors map[string]catalog.RequestProcessorCatalog
	built      []Invoker
}

// BuilderOption configures optional builder behaviour.
type BuilderOption func(*builderOptions)

type builderOptions struct {
	logger       pipeline.Logger
	retry        *RetryHandler
	httpClient   *http.Client
	openaiClient *openai.Client
}

// WithLogger injects a custom logger implementation.
func WithLogger(logger pipeline.Logger) BuilderOption {
	return func(opts *builderOptions) {
		opts.logger = logger
	}
}

// WithRetryHandler injects a custom retry handler.
func WithRetryHandler(handler *RetryHandler) BuilderOption {
	return func(opts *builderOptions) {
		opts.retry = handler
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) BuilderOption {
	return func(opts *builderOptions) {
		opts.httpClient = client
	}
}

// WithOpenAIClient injects a pre-configured OpenAI client (primarily for testing).
func WithOpenAIClient(client *openai.Client) BuilderOption {
	return func(opts *builderOptions) {
		opts.openaiClient = client
	}
}

// NewBuilder constructs a builder. A nil cfg uses the package defaults.
func NewBuilder(cfg *Config, opts ...BuilderOption) (*Builder, error) {
	if cfg == nil {
		var err error
		cfg, err = DefaultConfig()
		if err != nil {
			return nil, err
		}
	} else {
		cfg = cfg.Clone()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	optState := builderOptions{}
	for _, opt := range opts {
		opt(&optState)
	}

	logger := optState.logger
	if logger == nil {
		logger = pipeline.NewLogger(cfg.LogLevel)
	}

	retry := optState.retry
	if retry == nil {
		retry = NewRetryHandler(RetryConfig{MaxRetries: cfg.MaxRetries})
	}

	return &Builder{
		cfg:          cfg,
		logger:       logger,
		retry:        retry,
		httpClient:   optState.httpClient,
		openaiClient: optState.openaiClient,
	}, nil
}

// Name returns the pipeline type.
func (b *Builder) Name() string { return PipelineType }

// PluginInfo describes this builder for plugin registries.
func (b *Builder) PluginInfo() pipeline.PluginInfo {
	return pipeline.PluginInfo{
		Name:        PipelineType,
		Description: "chat and embedding pipelines over OpenAI-compatible and TEI endpoints",
		Version:     pluginVersion,
	}
}

// SetCatalogs installs the prompt and request processor catalogs used when
// resolving pipeline params.
func (b *Builder) SetCatalogs(prompts map[string]catalog.PromptBuilderCatalog, processors map[string]catalog.RequestProcessorCatalog) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prompts = prompts
	b.processors = processors
}

// Build assembles one pipeline for the requested chatbot and model.
func (b *Builder) Build(ctx context.Context, req pipeline.BuildRequest) (pipeline.Pipeline, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inv, err := b.buildInvoker(req)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		ChatbotID: req.ChatbotID,
		ModelKey:  req.ModelKey,
		invoker:   inv,
		params:    req.Params,
	}
	if err := b.resolveCatalogs(p, req); err != nil {
		_ = inv.Close()
		return nil, err
	}

	b.mu.Lock()
	b.built = append(b.built, inv)
	b.mu.Unlock()

	b.logger.Debug(ctx, "invoker built", pipeline.Fields{
		"chatbot": req.ChatbotID,
		"model":   req.ModelKey,
		"kind":    inv.Kind(),
	})
	return p, nil
}

// Cleanup closes every invoker built since the last cleanup.
func (b *Builder) Cleanup(ctx context.Context) error {
	b.mu.Lock()
	built := b.built
	b.built = nil
	b.mu.Unlock()

	var errs []error
	for _, inv := range built {
		if err := inv.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if b.httpClient != nil {
		b.httpClient.CloseIdleConnections()
	}
	return errors.Join(errs...)
}

func (b *Builder) resolveCatalogs(p *Pipeline, req pipeline.BuildRequest) error {
	b.mu.Lock()
	prompts, processors := b.prompts, b.processors
	b.mu.Unlock()

	if name := stringParam(req.Params, paramPromptBuilder); name != "" {
		builder, err := catalog.Resolve(prompts, req.ModelKey, name)
		if err != nil {
			return err
		}
		p.prompt = builder
	}
	if name := stringParam(req.Params, paramRequestProcessor); name != "" {
		proc, err := catalog.Resolve(processors, req.ModelKey, name)
		if err != nil {
			return err
		}
		p.processor = proc
	}
	return nil
}

func (b *Builder) buildInvoker(req pipeline.BuildRequest) (Invoker, error) {
	if req.Model.Provider == modelid.ProviderTEI {
		return b.newTEIEmbedder(req)
	}

	client, wireName, err := b.newOpenAIClient(req)
	if err != nil {
		return nil, err
	}

	if isEmbeddingModel(req.Model) {
		return &EmbeddingInvoker{
			model:      req.Model,
			wireName:   wireName,
			logger:     b.logger,
			retry:      b.retry,
			client:     client,
			httpClient: b.httpClient,
		}, nil
	}

	return &ChatInvoker{
		model:      req.Model,
		wireName:   wireName,
		client:     client,
		logger:     b.logger,
		retry:      b.retry,
		defaults:   hyperparamsFrom(req.Kwargs),
		httpClient: b.httpClient,
	}, nil
}

func (b *Builder) newOpenAIClient(req pipeline.BuildRequest) (*openai.Client, string, error) {
	model := req.Model
	wireName := wireNameFor(model)

	if b.openaiClient != nil {
		if model.Provider == modelid.ProviderAzureOpenAI {
			deployment, err := requiredValue(req, kwargAzureDeployment)
			if err != nil {
				return nil, "", err
			}
			wireName = deployment
		}
		return b.openaiClient, wireName, nil
	}

	opts := []option.RequestOption{option.WithRequestTimeout(b.cfg.Timeout)}
	if b.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(b.httpClient))
	}
	apiKey := req.Credentials["api_key"]

	switch model.Provider {
	case modelid.ProviderAzureOpenAI:
		endpoint, err := requiredValue(req, kwargAzureEndpoint)
		if err != nil {
			return nil, "", err
		}
		deployment, err := requiredValue(req, kwargAzureDeployment)
		if err != nil {
			return nil, "", err
		}
		apiVersion, err := pipeline.ResolveValue(req.Kwargs, req.EnvKwargs, kwargAPIVersion)
		if err != nil {
			return nil, "", err
		}
		if apiVersion == "" {
			apiVersion = defaultAzureAPIVersion
		}
		opts = append(opts, azure.WithEndpoint(endpoint, apiVersion))
		if apiKey != "" {
			opts = append(opts, azure.WithAPIKey(apiKey))
		}
		wireName = deployment

	case modelid.ProviderTGI, modelid.ProviderVLLM:
		opts = append(opts, option.WithBaseURL(openAICompatPath(model.URL)))
		if apiKey != "" {
			opts = append(opts, option.WithAPIKey(apiKey))
		}

	default:
		base, err := b.baseURLFor(req)
		if err != nil {
			return nil, "", err
		}
		if base != "" {
			opts = append(opts, option.WithBaseURL(base))
		}
		if apiKey != "" {
			opts = append(opts, option.WithAPIKey(apiKey))
		}
	}

	client := openai.NewClient(opts...)
	return &client, wireName, nil
}

func (b *Builder) newTEIEmbedder(req pipeline.BuildRequest) (Invoker, error) {
	model := req.Model
	if model.URL == "" {
		return nil, fmt.Errorf("%w: provider %q", ErrMissingBaseURL, model.Provider)
	}

	client := resty.New()
	if b.httpClient != nil && b.httpClient.Transport != nil {
		client.SetTransport(b.httpClient.Transport)
	}
	client.SetBaseURL(strings.TrimRight(model.URL, "/"))
	client.SetTimeout(b.cfg.Timeout)
	client.SetHeader("Content-Type", "application/json")
	if apiKey := req.Credentials["api_key"]; apiKey != "" {
		client.SetHeader("Authorization", "Bearer "+apiKey)
	}

	return &EmbeddingInvoker{
		model:    model,
		wireName: model.Name,
		logger:   b.logger,
		retry:    b.retry,
		tei:      client,
	}, nil
}

// baseURLFor picks the endpoint for an OpenAI-compatible provider: the
// base_url kwarg wins, then the config override, then the public default.
func (b *Builder) baseURLFor(req pipeline.BuildRequest) (string, error) {
	base, err := pipeline.ResolveValue(req.Kwargs, req.EnvKwargs, kwargBaseURL)
	if err != nil {
		return "", err
	}
	if base != "" {
		return base, nil
	}
	if base, ok := b.cfg.BaseURLFor(req.Model.Provider); ok {
		return base, nil
	}
	return "", fmt.Errorf("%w: provider %q", ErrMissingBaseURL, req.Model.Provider)
}

func wireNameFor(model modelid.ModelID) string {
	switch model.Provider {
	case modelid.ProviderTGI:
		// TGI ignores the model field; its OpenAI-compatible API expects the literal "tgi".
		return "tgi"
	case modelid.ProviderTEI, modelid.ProviderVLLM:
		return model.Name
	default:
		name, err := model.FullName()
		if err != nil {
			return model.Name
		}
		return name
	}
}

func isEmbeddingModel(model modelid.ModelID) bool {
	switch model.Provider {
	case modelid.ProviderTEI, modelid.ProviderVoyage:
		return true
	}
	return strings.Contains(strings.ToLower(model.Name), "embed")
}

// openAICompatPath appends the /v1 route prefix self-hosted servers expose.
func openAICompatPath(base string) string {
	base = strings.TrimRight(base, "/")
	if strings.HasSuffix(base, "/v1") {
		return base
	}
	return base + "/v1"
}

func requiredValue(req pipeline.BuildRequest, key string) (string, error) {
	value, err := pipeline.ResolveValue(req.Kwargs, req.EnvKwargs, key)
	if err != nil {
		return "", err
	}
	if value == "" {
		return "", fmt.Errorf("invoker: %s is required for provider %q", key, req.Model.Provider)
	}
	return value, nil
}

func stringParam(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

func hyperparamsFrom(kwargs map[string]any) hyperparams {
	var h hyperparams
	if v, ok := floatKwarg(kwargs, "temperature"); ok {
		h.temperature = &v
	}
	if v, ok := intKwarg(kwargs, "max_completion_tokens"); ok {
		h.maxTokens = &v
	} else if v, ok := intKwarg(kwargs, "max_tokens"); ok {
		h.maxTokens = &v
	}
	if v, ok := floatKwarg(kwargs, "top_p"); ok {
		h.topP = &v
	}
	return h
}

func floatKwarg(kwargs map[string]any, key string) (float64, bool) {
	switch v := kwargs[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

func intKwarg(kwargs map[string]any, key string) (int, bool) {
	switch v := kwargs[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}
