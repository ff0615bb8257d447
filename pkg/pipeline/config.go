package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"chatpipe/pkg/catalog"
	"chatpipe/pkg/confkit"
	"chatpipe/pkg/modelid"
	"chatpipe/pkg/prompt"
)

// Config is the file-backed pipeline platform configuration: shared prompt
// catalogs plus inline chatbot definitions for deployments that run without
// a config store.
type Config struct {
	// DefaultType is applied to chatbots that omit pipeline_type.
	DefaultType string `yaml:"default_type"`
	// Prompts maps scope -> entry name -> template body (text/template).
	Prompts  map[string]map[string]string `yaml:"prompts"`
	Chatbots map[string]*ChatbotSpec      `yaml:"chatbots"`
}

// ChatbotSpec is one chatbot definition as written in the config file.
type ChatbotSpec struct {
	PipelineType    string          `yaml:"pipeline_type"`
	PresetID        string          `yaml:"preset_id"`
	Params          map[string]any  `yaml:"params"`
	SupportedModels []ModelSettings `yaml:"supported_models"`
	Tags            []string        `yaml:"tags"`
	Disabled        bool            `yaml:"disabled"`
}

// LoadConfig reads pipeline configuration from disk.
func LoadConfig(path string) (*Config, error) {
	confkit.LoadDotenvOnce()
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pipeline config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// MustLoad reads pipeline configuration from the default project location and panics on error.
func MustLoad() *Config {
	path := confkit.MustProjectPath("etc/pipeline.yaml")
	cfg, err := LoadConfig(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadConfigFromReader constructs a Config from an io.Reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	confkit.LoadDotenvOnce()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read pipeline config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal pipeline config: %w", err)
	}
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalise() {
	c.DefaultType = strings.TrimSpace(os.ExpandEnv(c.DefaultType))
	if c.Chatbots == nil {
		c.Chatbots = make(map[string]*ChatbotSpec)
	}
	for id, spec := range c.Chatbots {
		if spec == nil {
			spec = &ChatbotSpec{}
			c.Chatbots[id] = spec
		}
		spec.PipelineType = strings.TrimSpace(os.ExpandEnv(spec.PipelineType))
		if spec.PipelineType == "" {
			spec.PipelineType = c.DefaultType
		}
		spec.PresetID = strings.TrimSpace(spec.PresetID)
		for i := range spec.SupportedModels {
			expandModelSettings(&spec.SupportedModels[i])
		}
		tags := spec.Tags[:0]
		for _, tag := range spec.Tags {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
		spec.Tags = tags
	}
}

// expandModelSettings expands environment placeholders in string kwargs so
// file-defined models behave like their store-defined counterparts.
func expandModelSettings(settings *ModelSettings) {
	settings.ModelID = strings.TrimSpace(settings.ModelID)
	settings.Name = strings.TrimSpace(settings.Name)
	for key, value := range settings.Kwargs {
		if s, ok := value.(string); ok {
			settings.Kwargs[key] = os.ExpandEnv(s)
		}
	}
}

// Validate ensures the configuration is structurally sound. Unlike the
// runtime handler, which skips broken model entries, file validation is
// strict so authoring mistakes surface before deployment.
func (c *Config) Validate() error {
	for scope, entries := range c.Prompts {
		for name, body := range entries {
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("pipeline config: prompt in scope %q has an empty name", scope)
			}
			if _, err := prompt.NewTemplateString(name, body, nil); err != nil {
				return fmt.Errorf("pipeline config: prompt %q in scope %q: %w", name, scope, err)
			}
		}
	}

	for id, spec := range c.Chatbots {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("pipeline config: chatbot id cannot be empty")
		}
		if err := spec.validate(id); err != nil {
			return err
		}
	}
	return nil
}

func (s *ChatbotSpec) validate(id string) error {
	if s.PipelineType == "" {
		return fmt.Errorf("pipeline config: chatbot %s must specify pipeline_type (or set default_type)", id)
	}
	if len(s.SupportedModels) == 0 {
		return fmt.Errorf("pipeline config: chatbot %s has no supported models", id)
	}
	seen := make(map[string]struct{}, len(s.SupportedModels))
	for i := range s.SupportedModels {
		settings := &s.SupportedModels[i]
		if settings.Name == "" {
			return fmt.Errorf("pipeline config: chatbot %s model entry %d is missing name", id, i)
		}
		if _, err := modelid.Parse(settings.Name); err != nil {
			return fmt.Errorf("pipeline config: chatbot %s model %q: %w", id, settings.Name, err)
		}
		key := settings.Key()
		if _, dup := seen[key]; dup {
			return fmt.Errorf("pipeline config: chatbot %s has duplicate model key %q", id, key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// PromptCatalogs materialises the configured prompt templates into catalog
// form, one prompt builder per entry.
func (c *Config) PromptCatalogs() (map[string]catalog.PromptBuilderCatalog, error) {
	if len(c.Prompts) == 0 {
		return nil, nil
	}
	catalogs := make(map[string]catalog.PromptBuilderCatalog, len(c.Prompts))
	for scope, entries := range c.Prompts {
		built := make(catalog.PromptBuilderCatalog, len(entries))
		for name, body := range entries {
			tmpl, err := prompt.NewTemplateString(name, body, nil)
			if err != nil {
				return nil, fmt.Errorf("pipeline config: prompt %q in scope %q: %w", name, scope, err)
			}
			built[name] = templateBuilder{tmpl: tmpl}
		}
		catalogs[scope] = built
	}
	return catalogs, nil
}

// templateBuilder adapts a prompt template to the catalog interface.
type templateBuilder struct {
	tmpl *prompt.Template
}

func (b templateBuilder) BuildPrompt(_ context.Context, vars map[string]any) (string, error) {
	return b.tmpl.Render(vars)
}

var _ ConfigSource = (*FileSource)(nil)

// FileSource serves the chatbot configs defined inline in the pipeline
// config file. Deployments without a config store use it as their
// ConfigSource; deployments with one use it as a fallback.
type FileSource struct {
	cfg        *Config
	prompts    map[string]catalog.PromptBuilderCatalog
	processors map[string]catalog.RequestProcessorCatalog
}

// NewFileSource materialises the config's prompt catalogs once and binds
// the given request processors to every config it serves.
func NewFileSource(cfg *Config, processors map[string]catalog.RequestProcessorCatalog) (*FileSource, error) {
	if cfg == nil {
		return nil, fmt.Errorf("pipeline config: nil config")
	}
	prompts, err := cfg.PromptCatalogs()
	if err != nil {
		return nil, err
	}
	return &FileSource{cfg: cfg, prompts: prompts, processors: processors}, nil
}

// Config returns the chatbot's config. Disabled and unknown chatbots are
// reported via ErrNotFound.
func (s *FileSource) Config(_ context.Context, chatbotID string) (ChatbotConfig, error) {
	spec, ok := s.cfg.Chatbots[chatbotID]
	if !ok || spec.Disabled {
		return ChatbotConfig{}, fmt.Errorf("%w: chatbot %q", ErrNotFound, chatbotID)
	}
	return ChatbotConfig{
		ChatbotID:         chatbotID,
		PipelineType:      spec.PipelineType,
		PresetID:          spec.PresetID,
		Params:            copyParams(spec.Params),
		SupportedModels:   append([]ModelSettings(nil), spec.SupportedModels...),
		PromptCatalogs:    s.prompts,
		ProcessorCatalogs: s.processors,
	}, nil
}

// ChatbotIDs returns the enabled chatbot IDs in sorted order.
func (s *FileSource) ChatbotIDs() []string {
	ids := make([]string, 0, len(s.cfg.Chatbots))
	for id, spec := range s.cfg.Chatbots {
		if spec.Disabled {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
