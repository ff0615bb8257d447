package invoker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatpipe/pkg/catalog"
	"chatpipe/pkg/modelid"
	"chatpipe/pkg/pipeline"
)

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, pipeline.Fields) {}
func (nopLogger) Info(context.Context, string, pipeline.Fields)  {}
func (nopLogger) Warn(context.Context, string, pipeline.Fields)  {}
func (nopLogger) Error(context.Context, error, pipeline.Fields)  {}

const completionBody = `{
	"id":"chatcmpl-1",
	"object":"chat.completion",
	"created":1730366400,
	"model":"gpt-4o",
	"choices":[
		{
			"index":0,
			"finish_reason":"stop",
			"logprobs":null,
			"message":{
				"role":"assistant",
				"content":"Hello from test",
				"tool_calls":[]
			}
		}
	],
	"usage":{
		"prompt_tokens":10,
		"completion_tokens":12,
		"total_tokens":22
	}
}`

const embeddingsBody = `{
	"object":"list",
	"data":[
		{"object":"embedding","index":0,"embedding":[0.1,0.2]},
		{"object":"embedding","index":1,"embedding":[0.3,0.4]}
	],
	"model":"text-embedding-3-small",
	"usage":{"prompt_tokens":8,"total_tokens":8}
}`

// wireRecorder keeps the most recent request the fake provider saw.
type wireRecorder struct {
	mu    sync.Mutex
	path  string
	query url.Values
	auth  string
	body  map[string]any
}

func (w *wireRecorder) snapshot() (string, url.Values, string, map[string]any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path, w.query, w.auth, w.body
}

func newProviderServer(t *testing.T) (*httptest.Server, *wireRecorder) {
	t.Helper()
	rec := &wireRecorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, _ := io.ReadAll(r.Body)

		rec.mu.Lock()
		rec.path = r.URL.Path
		rec.query = r.URL.Query()
		rec.auth = r.Header.Get("Authorization")
		rec.body = nil
		_ = json.Unmarshal(payload, &rec.body)
		rec.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, "/embeddings") {
			_, _ = w.Write([]byte(embeddingsBody))
			return
		}
		_, _ = w.Write([]byte(completionBody))
	}))
	t.Cleanup(server.Close)
	return server, rec
}

func newTestBuilder(t *testing.T, httpClient *http.Client) *Builder {
	t.Helper()
	cfg := &Config{Timeout: 5 * time.Second, MaxRetries: 1}
	opts := []BuilderOption{WithLogger(nopLogger{})}
	if httpClient != nil {
		opts = append(opts, WithHTTPClient(httpClient))
	}
	b, err := NewBuilder(cfg, opts...)
	require.NoError(t, err)
	return b
}

func mustParse(t *testing.T, id string) modelid.ModelID {
	t.Helper()
	model, err := modelid.Parse(id)
	require.NoError(t, err)
	return model
}

func buildRequest(t *testing.T, id string, kwargs map[string]any) pipeline.BuildRequest {
	t.Helper()
	return pipeline.BuildRequest{
		ChatbotID:    "support-bot",
		PipelineType: PipelineType,
		Model:        mustParse(t, id),
		ModelKey:     id,
		Credentials:  map[string]string{"api_key": "sk-test"},
		Kwargs:       kwargs,
	}
}

func encodeURL(u string) string {
	return base64.StdEncoding.EncodeToString([]byte(u))
}

func TestBuildChatPipeline(t *testing.T) {
	server, rec := newProviderServer(t)
	b := newTestBuilder(t, server.Client())

	built, err := b.Build(context.Background(), buildRequest(t, "openai/gpt-4o", map[string]any{
		"base_url": server.URL,
	}))
	require.NoError(t, err)

	p, ok := built.(*Pipeline)
	require.True(t, ok)
	require.Equal(t, KindChat, p.Invoker().Kind())

	out, err := p.Run(context.Background(), map[string]any{"prompt": "hi"})
	require.NoError(t, err)
	require.Equal(t, "Hello from test", out)

	path, _, auth, body := rec.snapshot()
	require.Equal(t, "/chat/completions", path)
	require.Equal(t, "Bearer sk-test", auth)
	require.Equal(t, "gpt-4o", body["model"])
}

func TestBuildAppliesKwargHyperparams(t *testing.T) {
	server, rec := newProviderServer(t)
	b := newTestBuilder(t, server.Client())

	built, err := b.Build(context.Background(), buildRequest(t, "openai/gpt-4o", map[string]any{
		"base_url":    server.URL,
		"temperature": 0.2,
		"max_tokens":  512,
		"top_p":       0.9,
	}))
	require.NoError(t, err)

	_, err = built.(*Pipeline).Run(context.Background(), map[string]any{"prompt": "hi"})
	require.NoError(t, err)

	_, _, _, body := rec.snapshot()
	require.InDelta(t, 0.2, body["temperature"], 0.0001)
	require.InDelta(t, 512, body["max_completion_tokens"], 0.0001)
	require.InDelta(t, 0.9, body["top_p"], 0.0001)
}

func TestBuildSelfHosted(t *testing.T) {
	t.Run("vllm", func(t *testing.T) {
		server, rec := newProviderServer(t)
		b := newTestBuilder(t, server.Client())

		id := "vllm/llama2-7b@" + encodeURL(server.URL)
		built, err := b.Build(context.Background(), buildRequest(t, id, nil))
		require.NoError(t, err)

		_, err = built.(*Pipeline).Run(context.Background(), map[string]any{"prompt": "hi"})
		require.NoError(t, err)

		path, _, _, body := rec.snapshot()
		require.Equal(t, "/v1/chat/completions", path)
		require.Equal(t, "llama2-7b", body["model"])
	})

	t.Run("tgi", func(t *testing.T) {
		server, rec := newProviderServer(t)
		b := newTestBuilder(t, server.Client())

		id := "tgi/" + encodeURL(server.URL)
		built, err := b.Build(context.Background(), buildRequest(t, id, nil))
		require.NoError(t, err)

		_, err = built.(*Pipeline).Run(context.Background(), map[string]any{"prompt": "hi"})
		require.NoError(t, err)

		path, _, _, body := rec.snapshot()
		require.Equal(t, "/v1/chat/completions", path)
		require.Equal(t, "tgi", body["model"])
	})
}

func TestBuildBedrockRequiresBaseURL(t *testing.T) {
	b := newTestBuilder(t, nil)

	_, err := b.Build(context.Background(), buildRequest(t, "bedrock/us.anthropic.claude-3-5-sonnet-v2:0", nil))
	require.Error(t, err)
	require.ErrorIs(t, err, ErrMissingBaseURL)

	server, rec := newProviderServer(t)
	b = newTestBuilder(t, server.Client())

	built, err := b.Build(context.Background(), buildRequest(t, "bedrock/us.anthropic.claude-3-5-sonnet-v2:0", map[string]any{
		"base_url": server.URL,
	}))
	require.NoError(t, err)

	_, err = built.(*Pipeline).Run(context.Background(), map[string]any{"prompt": "hi"})
	require.NoError(t, err)

	_, _, _, body := rec.snapshot()
	require.Equal(t, "us.anthropic.claude-3-5-sonnet-v2:0", body["model"])
}

func TestBuildAzure(t *testing.T) {
	t.Run("requires endpoint", func(t *testing.T) {
		b := newTestBuilder(t, nil)
		_, err := b.Build(context.Background(), buildRequest(t, "azure-openai/gpt-4o", nil))
		require.Error(t, err)
		require.Contains(t, err.Error(), "azure_endpoint is required")
	})

	t.Run("requires deployment", func(t *testing.T) {
		b := newTestBuilder(t, nil)
		_, err := b.Build(context.Background(), buildRequest(t, "azure-openai/gpt-4o", map[string]any{
			"azure_endpoint": "https://example.openai.azure.com",
		}))
		require.Error(t, err)
		require.Contains(t, err.Error(), "azure_deployment is required")
	})

	t.Run("env kwargs resolve endpoint and deployment", func(t *testing.T) {
		server, rec := newProviderServer(t)
		b := newTestBuilder(t, server.Client())

		t.Setenv("CHATPIPE_TEST_AZURE_ENDPOINT", server.URL)
		t.Setenv("CHATPIPE_TEST_AZURE_DEPLOYMENT", "gpt4o-prod")

		req := buildRequest(t, "azure-openai/gpt-4o", nil)
		req.EnvKwargs = map[string]string{
			"azure_endpoint":   "CHATPIPE_TEST_AZURE_ENDPOINT",
			"azure_deployment": "CHATPIPE_TEST_AZURE_DEPLOYMENT",
		}

		built, err := b.Build(context.Background(), req)
		require.NoError(t, err)

		_, err = built.(*Pipeline).Run(context.Background(), map[string]any{"prompt": "hi"})
		require.NoError(t, err)

		path, query, _, body := rec.snapshot()
		require.Contains(t, path, "gpt4o-prod")
		require.Equal(t, defaultAzureAPIVersion, query.Get("api-version"))
		require.Equal(t, "gpt4o-prod", body["model"])
	})

	t.Run("unset env var fails the build", func(t *testing.T) {
		b := newTestBuilder(t, nil)

		req := buildRequest(t, "azure-openai/gpt-4o", nil)
		req.EnvKwargs = map[string]string{
			"azure_endpoint": "CHATPIPE_TEST_AZURE_ENDPOINT_UNSET",
		}

		_, err := b.Build(context.Background(), req)
		require.Error(t, err)
		require.ErrorIs(t, err, pipeline.ErrMissingEnvVar)
	})
}

func TestBuildEmbeddingPipeline(t *testing.T) {
	server, rec := newProviderServer(t)
	b := newTestBuilder(t, server.Client())

	built, err := b.Build(context.Background(), buildRequest(t, "openai/text-embedding-3-small", map[string]any{
		"base_url": server.URL,
	}))
	require.NoError(t, err)

	p := built.(*Pipeline)
	require.Equal(t, KindEmbedding, p.Invoker().Kind())

	vectors, err := p.Embed(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Equal(t, [][]float64{{0.1, 0.2}, {0.3, 0.4}}, vectors)

	path, _, _, _ := rec.snapshot()
	require.Equal(t, "/embeddings", path)

	_, err = p.Run(context.Background(), map[string]any{"prompt": "hi"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "not a chat pipeline")
}

func TestBuildTEIEmbedder(t *testing.T) {
	var (
		mu       sync.Mutex
		lastPath string
		lastBody map[string]any
		lastAuth string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, _ := io.ReadAll(r.Body)
		mu.Lock()
		lastPath = r.URL.Path
		lastAuth = r.Header.Get("Authorization")
		lastBody = nil
		_ = json.Unmarshal(payload, &lastBody)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[[0.1,0.2],[0.3,0.4]]`))
	}))
	defer server.Close()

	b := newTestBuilder(t, server.Client())

	id := "tei/" + encodeURL(server.URL)
	built, err := b.Build(context.Background(), buildRequest(t, id, nil))
	require.NoError(t, err)

	p := built.(*Pipeline)
	require.Equal(t, KindEmbedding, p.Invoker().Kind())

	vectors, err := p.Embed(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Equal(t, [][]float64{{0.1, 0.2}, {0.3, 0.4}}, vectors)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "/embed", lastPath)
	require.Equal(t, "Bearer sk-test", lastAuth)
	require.Equal(t, true, lastBody["truncate"])

	_, err = p.Embed(context.Background(), nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "at least one input")
}

func TestBuildResolvesCatalogEntries(t *testing.T) {
	server, rec := newProviderServer(t)
	b := newTestBuilder(t, server.Client())

	b.SetCatalogs(
		map[string]catalog.PromptBuilderCatalog{
			"openai": {
				"greeting": catalog.PromptBuilderFunc(func(ctx context.Context, vars map[string]any) (string, error) {
					return "Hello, " + vars["name"].(string), nil
				}),
			},
		},
		map[string]catalog.RequestProcessorCatalog{
			"": {
				"shout": catalog.RequestProcessorFunc(func(ctx context.Context, vars map[string]any) (string, error) {
					return strings.ToUpper(vars["prompt"].(string)), nil
				}),
			},
		},
	)

	req := buildRequest(t, "openai/gpt-4o", map[string]any{"base_url": server.URL})
	req.Params = map[string]any{
		"prompt_builder":    "greeting",
		"request_processor": "shout",
		"system_prompt":     "be brief",
	}

	built, err := b.Build(context.Background(), req)
	require.NoError(t, err)

	out, err := built.(*Pipeline).Run(context.Background(), map[string]any{"name": "Ada"})
	require.NoError(t, err)
	require.Equal(t, "Hello from test", out)

	_, _, _, body := rec.snapshot()
	messages, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)

	system := messages[0].(map[string]any)
	require.Equal(t, "system", system["role"])
	require.Equal(t, "be brief", system["content"])

	user := messages[1].(map[string]any)
	require.Equal(t, "user", user["role"])
	require.Equal(t, "HELLO, ADA", user["content"])
}

func TestBuildUnknownCatalogEntry(t *testing.T) {
	server, _ := newProviderServer(t)
	b := newTestBuilder(t, server.Client())

	req := buildRequest(t, "openai/gpt-4o", map[string]any{"base_url": server.URL})
	req.Params = map[string]any{"prompt_builder": "missing"}

	_, err := b.Build(context.Background(), req)
	require.Error(t, err)
	require.ErrorIs(t, err, catalog.ErrNotFound)
	require.Empty(t, b.built)
}

func TestBuildCancelledContext(t *testing.T) {
	b := newTestBuilder(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Build(ctx, buildRequest(t, "openai/gpt-4o", nil))
	require.ErrorIs(t, err, context.Canceled)
}

func TestBuilderCleanup(t *testing.T) {
	server, _ := newProviderServer(t)
	b := newTestBuilder(t, server.Client())

	for _, id := range []string{"openai/gpt-4o", "openai/gpt-4o-mini"} {
		_, err := b.Build(context.Background(), buildRequest(t, id, map[string]any{"base_url": server.URL}))
		require.NoError(t, err)
	}
	require.Len(t, b.built, 2)

	require.NoError(t, b.Cleanup(context.Background()))
	require.Empty(t, b.built)
}

func TestPipelineRunRequiresPrompt(t *testing.T) {
	server, _ := newProviderServer(t)
	b := newTestBuilder(t, server.Client())

	built, err := b.Build(context.Background(), buildRequest(t, "openai/gpt-4o", map[string]any{"base_url": server.URL}))
	require.NoError(t, err)

	_, err = built.(*Pipeline).Run(context.Background(), map[string]any{})
	require.Error(t, err)
	require.Contains(t, err.Error(), `vars["prompt"] is required`)

	_, err = built.(*Pipeline).Run(context.Background(), map[string]any{"prompt": 42})
	require.Error(t, err)
	require.Contains(t, err.Error(), "prompt must be a string")
}

func TestWireNameFor(t *testing.T) {
	tests := []struct {
		id       string
		expected string
	}{
		{id: "openai/gpt-4o-mini-0125", expected: "gpt-4o-mini-0125"},
		{id: "openai/gpt-4o", expected: "gpt-4o"},
		{id: "anthropic/claude-3-opus", expected: "claude-3-opus-latest"},
		{id: "bedrock/us.anthropic.claude-3-5-sonnet-v2:0", expected: "us.anthropic.claude-3-5-sonnet-v2:0"},
		{id: "vllm/llama2-7b@aHR0cHM6Ly9leGFtcGxlLmNvbS9tb2RlbA==", expected: "llama2-7b"},
		{id: "tgi/aHR0cHM6Ly9leGFtcGxlLmNvbS9tb2RlbA==", expected: "tgi"},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			model, err := modelid.Parse(tt.id)
			require.NoError(t, err)
			require.Equal(t, tt.expected, wireNameFor(model))
		})
	}
}

func TestIsEmbeddingModel(t *testing.T) {
	tests := []struct {
		id       string
		expected bool
	}{
		{id: "openai/text-embedding-3-small", expected: true},
		{id: "google/textembedding-gecko@001", expected: true},
		{id: "bedrock/cohere.embed-multilingual", expected: true},
		{id: "voyage/voyage-3", expected: true},
		{id: "tei/aHR0cHM6Ly9leGFtcGxlLmNvbS9tb2RlbA==", expected: true},
		{id: "openai/gpt-4o", expected: false},
		{id: "anthropic/claude-3-opus", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			model, err := modelid.Parse(tt.id)
			require.NoError(t, err)
			require.Equal(t, tt.expected, isEmbeddingModel(model))
		})
	}
}
