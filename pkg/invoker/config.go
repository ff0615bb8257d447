package invoker

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"chatpipe/pkg/confkit"
	"chatpipe/pkg/modelid"
)

const (
	defaultTimeout    = 300 * time.Second
	defaultMaxRetries = 2
	defaultLogLevel   = "info"

	envTimeout    = "CHATPIPE_INVOKER_TIMEOUT"
	envMaxRetries = "CHATPIPE_INVOKER_MAX_RETRIES"
)

// Config holds runtime settings shared by every invoker a builder makes.
type Config struct {
	Timeout    time.Duration     `yaml:"-"`
	MaxRetries int               `yaml:"max_retries"`
	LogLevel   string            `yaml:"log_level"`
	BaseURLs   map[string]string `yaml:"base_urls"`

	// raw timeout text, parsed after env overrides so both "30s" and bare
	// seconds work. See parseTimeout.
	timeoutRaw string
}

// defaultBaseURLs lists the public OpenAI-compatible endpoint per provider.
// An empty value means the SDK default. Providers absent here (bedrock,
// routable) have no public surface and need an explicit base_url.
var defaultBaseURLs = map[modelid.Provider]string{
	modelid.ProviderOpenAI:     "",
	modelid.ProviderAnthropic:  "https://api.anthropic.com/v1",
	modelid.ProviderGoogle:     "https://generativelanguage.googleapis.com/v1beta/openai",
	modelid.ProviderDeepSeek:   "https://api.deepseek.com/v1",
	modelid.ProviderGroq:       "https://api.groq.com/openai/v1",
	modelid.ProviderTogetherAI: "https://api.together.xyz/v1",
	modelid.ProviderDeepInfra:  "https://api.deepinfra.com/v1/openai",
	modelid.ProviderVoyage:     "https://api.voyageai.com/v1",
}

// DefaultConfig returns the package defaults with env overrides applied.
func DefaultConfig() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	if err := cfg.parseTimeout(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig reads configuration from disk.
func LoadConfig(path string) (*Config, error) {
	confkit.LoadDotenvOnce()
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open invoker config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// MustLoad reads invoker configuration from the default project location and panics on error.
func MustLoad() *Config {
	path := confkit.MustProjectPath("etc/invoker.yaml")
	cfg, err := LoadConfig(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadConfigFromReader constructs a Config from a reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	var raw struct {
		Timeout    string            `yaml:"timeout"`
		MaxRetries int               `yaml:"max_retries"`
		LogLevel   string            `yaml:"log_level"`
		BaseURLs   map[string]string `yaml:"base_urls"`
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read invoker config: %w", err)
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal invoker config: %w", err)
	}

	cfg := &Config{
		MaxRetries: raw.MaxRetries,
		LogLevel:   raw.LogLevel,
		BaseURLs:   raw.BaseURLs,
		timeoutRaw: raw.Timeout,
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	if err := cfg.parseTimeout(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return errors.New("invoker config: timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return errors.New("invoker config: max_retries cannot be negative")
	}
	for provider, base := range c.BaseURLs {
		if strings.TrimSpace(base) == "" {
			return fmt.Errorf("invoker config: base_urls[%s] is empty", provider)
		}
	}
	return nil
}

// BaseURLFor returns the configured endpoint override for a provider, or
// the public default. The second return reports whether any endpoint is
// known at all.
func (c *Config) BaseURLFor(p modelid.Provider) (string, bool) {
	if c.BaseURLs != nil {
		if base, ok := c.BaseURLs[string(p)]; ok {
			return base, true
		}
	}
	base, ok := defaultBaseURLs[p]
	return base, ok
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	cp := *c
	if c.BaseURLs != nil {
		cp.BaseURLs = make(map[string]string, len(c.BaseURLs))
		for k, v := range c.BaseURLs {
			cp.BaseURLs[k] = v
		}
	}
	return &cp
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
}

func (c *Config) applyEnvOverrides() {
	if raw := os.Getenv(envTimeout); raw != "" {
		c.timeoutRaw = raw
	} else {
		c.timeoutRaw = os.ExpandEnv(c.timeoutRaw)
	}

	if raw := os.Getenv(envMaxRetries); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			c.MaxRetries = v
		}
	}

	for provider, base := range c.BaseURLs {
		c.BaseURLs[provider] = os.ExpandEnv(base)
	}
}

// parseTimeout accepts Go durations; bare integers are seconds.
func (c *Config) parseTimeout() error {
	raw := strings.TrimSpace(c.timeoutRaw)
	if raw == "" {
		c.Timeout = defaultTimeout
		return nil
	}

	if secs, err := strconv.Atoi(raw); err == nil {
		if secs <= 0 {
			return fmt.Errorf("invoker config: timeout must be positive, got %ds", secs)
		}
		c.Timeout = time.Duration(secs) * time.Second
		return nil
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invoker config: invalid timeout %q: %w", raw, err)
	}
	if d <= 0 {
		return fmt.Errorf("invoker config: timeout must be positive, got %s", d)
	}
	c.Timeout = d
	return nil
}
