package invoker

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatpipe/pkg/modelid"
)

func TestDefaultConfig(t *testing.T) {
	t.Run("package defaults", func(t *testing.T) {
		cfg, err := DefaultConfig()
		require.NoError(t, err)
		require.Equal(t, 300*time.Second, cfg.Timeout)
		require.Equal(t, 2, cfg.MaxRetries)
		require.Equal(t, "info", cfg.LogLevel)
	})

	t.Run("env overrides duration", func(t *testing.T) {
		t.Setenv(envTimeout, "45s")
		t.Setenv(envMaxRetries, "5")

		cfg, err := DefaultConfig()
		require.NoError(t, err)
		require.Equal(t, 45*time.Second, cfg.Timeout)
		require.Equal(t, 5, cfg.MaxRetries)
	})

	t.Run("env timeout accepts bare seconds", func(t *testing.T) {
		t.Setenv(envTimeout, "120")

		cfg, err := DefaultConfig()
		require.NoError(t, err)
		require.Equal(t, 120*time.Second, cfg.Timeout)
	})

	t.Run("invalid env timeout errors", func(t *testing.T) {
		t.Setenv(envTimeout, "soon")

		_, err := DefaultConfig()
		require.Error(t, err)
		require.Contains(t, err.Error(), "invalid timeout")
	})
}

func TestLoadConfig(t *testing.T) {
	t.Run("load from valid file", func(t *testing.T) {
		content := `
timeout: "2m"
max_retries: 4
log_level: "debug"

base_urls:
  groq: "https://groq.internal.example.com/v1"
`
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "invoker.yaml")
		err := os.WriteFile(configPath, []byte(content), 0644)
		require.NoError(t, err)

		cfg, err := LoadConfig(configPath)
		require.NoError(t, err)
		require.Equal(t, 2*time.Minute, cfg.Timeout)
		require.Equal(t, 4, cfg.MaxRetries)
		require.Equal(t, "debug", cfg.LogLevel)
		require.Equal(t, "https://groq.internal.example.com/v1", cfg.BaseURLs["groq"])
	})

	t.Run("file not found", func(t *testing.T) {
		_, err := LoadConfig("/nonexistent/path/invoker.yaml")
		require.Error(t, err)
		require.Contains(t, err.Error(), "open invoker config")
	})

	t.Run("invalid yaml", func(t *testing.T) {
		content := `
timeout: "30s"
  base_urls: broken
`
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "invalid.yaml")
		err := os.WriteFile(configPath, []byte(content), 0644)
		require.NoError(t, err)

		_, err = LoadConfig(configPath)
		require.Error(t, err)
		require.Contains(t, err.Error(), "unmarshal invoker config")
	})
}

func TestLoadConfigFromReaderWithEnvExpansion(t *testing.T) {
	t.Setenv("TEST_GATEWAY_URL", "https://gateway.example.com/v1")

	data := `
timeout: "30s"
base_urls:
  bedrock: "${TEST_GATEWAY_URL}"
`

	cfg, err := LoadConfigFromReader(strings.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, cfg.Timeout)
	require.Equal(t, "https://gateway.example.com/v1", cfg.BaseURLs["bedrock"])
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		cfg       *Config
		expectErr bool
		errMsg    string
	}{
		{
			name: "valid config",
			cfg: &Config{
				Timeout:    30 * time.Second,
				MaxRetries: 2,
			},
			expectErr: false,
		},
		{
			name: "zero timeout",
			cfg: &Config{
				Timeout:    0,
				MaxRetries: 2,
			},
			expectErr: true,
			errMsg:    "timeout must be positive",
		},
		{
			name: "negative max retries",
			cfg: &Config{
				Timeout:    30 * time.Second,
				MaxRetries: -1,
			},
			expectErr: true,
			errMsg:    "max_retries cannot be negative",
		},
		{
			name: "blank base url entry",
			cfg: &Config{
				Timeout:    30 * time.Second,
				MaxRetries: 2,
				BaseURLs:   map[string]string{"groq": "   "},
			},
			expectErr: true,
			errMsg:    "base_urls[groq] is empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.expectErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), tt.errMsg)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfigParseTimeout(t *testing.T) {
	tests := []struct {
		name        string
		timeoutRaw  string
		expected    time.Duration
		expectError bool
	}{
		{
			name:       "valid duration",
			timeoutRaw: "30s",
			expected:   30 * time.Second,
		},
		{
			name:       "bare integer is seconds",
			timeoutRaw: "300",
			expected:   300 * time.Second,
		},
		{
			name:       "empty timeout uses default",
			timeoutRaw: "",
			expected:   defaultTimeout,
		},
		{
			name:        "invalid duration format",
			timeoutRaw:  "soon",
			expectError: true,
		},
		{
			name:        "zero duration",
			timeoutRaw:  "0s",
			expectError: true,
		},
		{
			name:        "zero seconds",
			timeoutRaw:  "0",
			expectError: true,
		},
		{
			name:        "negative duration",
			timeoutRaw:  "-10s",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{timeoutRaw: tt.timeoutRaw}
			err := cfg.parseTimeout()

			if tt.expectError {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				require.Equal(t, tt.expected, cfg.Timeout)
			}
		})
	}
}

func TestConfigClone(t *testing.T) {
	original := &Config{
		Timeout:    30 * time.Second,
		MaxRetries: 2,
		LogLevel:   "info",
		BaseURLs:   map[string]string{"groq": "https://groq.internal.example.com/v1"},
	}

	cloned := original.Clone()
	require.NotNil(t, cloned)
	require.Equal(t, original.Timeout, cloned.Timeout)
	require.Equal(t, original.MaxRetries, cloned.MaxRetries)
	require.Equal(t, original.BaseURLs, cloned.BaseURLs)

	cloned.BaseURLs["openai"] = "https://proxy.example.com/v1"
	_, ok := original.BaseURLs["openai"]
	require.False(t, ok, "original should not be affected by changes to clone")
}

func TestConfigCloneNil(t *testing.T) {
	var cfg *Config
	require.Nil(t, cfg.Clone())
}

func TestConfigBaseURLFor(t *testing.T) {
	cfg := &Config{
		Timeout:    30 * time.Second,
		MaxRetries: 2,
		BaseURLs:   map[string]string{"deepseek": "https://deepseek.internal.example.com/v1"},
	}

	t.Run("override wins over default", func(t *testing.T) {
		base, ok := cfg.BaseURLFor(modelid.ProviderDeepSeek)
		require.True(t, ok)
		require.Equal(t, "https://deepseek.internal.example.com/v1", base)
	})

	t.Run("public default", func(t *testing.T) {
		base, ok := cfg.BaseURLFor(modelid.ProviderGroq)
		require.True(t, ok)
		require.Equal(t, "https://api.groq.com/openai/v1", base)
	})

	t.Run("openai uses sdk default", func(t *testing.T) {
		base, ok := cfg.BaseURLFor(modelid.ProviderOpenAI)
		require.True(t, ok)
		require.Empty(t, base)
	})

	t.Run("no endpoint known", func(t *testing.T) {
		_, ok := cfg.BaseURLFor(modelid.ProviderBedrock)
		require.False(t, ok)
	})
}
