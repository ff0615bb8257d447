package invoker

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/dnaeon/go-vcr/recorder"
	"github.com/stretchr/testify/assert"

	_ "chatpipe/internal/bootstrap/dotenv" // auto-load .env for recording
)

// This test uses go-vcr to record/replay a real chat completion call.
// It skips by default if the cassette is absent and RECORD_CASSETTES != 1.
func TestBuildChatPipeline_Recorded(t *testing.T) {
	cassette := filepath.Join("testdata", "cassettes", "openai_chat.yaml")
	if _, err := os.Stat(cassette); os.IsNotExist(err) {
		if os.Getenv("RECORD_CASSETTES") != "1" {
			t.Skipf("cassette missing; set RECORD_CASSETTES=1 to record: %s", cassette)
		}
		// Ensure parent directory exists for recording
		err := os.MkdirAll(filepath.Dir(cassette), 0o755)
		assert.NoError(t, err, "mkdir cassettes dir should succeed")
	}

	r, err := recorder.New(cassette)
	assert.NoError(t, err, "recorder.New should not error")
	assert.NotNil(t, r, "recorder should not be nil")
	defer func() { _ = r.Stop() }()

	httpClient := &http.Client{Transport: r}
	b, err := NewBuilder(nil, WithHTTPClient(httpClient), WithLogger(nopLogger{}))
	assert.NoError(t, err, "NewBuilder should not error")

	req := buildRequest(t, "openai/gpt-4o-mini", nil)
	req.Credentials = map[string]string{"api_key": os.Getenv("OPENAI_API_KEY")}

	built, err := b.Build(context.Background(), req)
	assert.NoError(t, err, "Build should not error")

	p, ok := built.(*Pipeline)
	assert.True(t, ok, "built pipeline should be an invoker pipeline")

	out, err := p.Run(context.Background(), map[string]any{"prompt": "Say a short hello."})
	assert.NoError(t, err, "Run should not error")
	assert.NotEmpty(t, out, "completion should not be empty")
}
