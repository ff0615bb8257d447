package invoker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"resty.dev/v3"

	"chatpipe/pkg/modelid"
	"chatpipe/pkg/pipeline"
)

// EmbeddingInvoker computes embeddings for one model, either through the
// OpenAI-compatible API or a text-embeddings-inference server. Exactly one
// of client and tei is set.
type EmbeddingInvoker struct {
	model      modelid.ModelID
	wireName   string
	logger     pipeline.Logger
	retry      *RetryHandler
	client     *openai.Client
	tei        *resty.Client
	httpClient *http.Client
}

// Kind reports KindEmbedding.
func (e *EmbeddingInvoker) Kind() string { return KindEmbedding }

// Model returns the identifier the invoker was built for.
func (e *EmbeddingInvoker) Model() modelid.ModelID { return e.model }

// Embed computes one vector per input, in input order.
func (e *EmbeddingInvoker) Embed(ctx context.Context, inputs []string) ([][]float64, error) {
	if len(inputs) == 0 {
		return nil, errors.New("invoker: embed requires at least one input")
	}

	start := time.Now()
	e.logger.Info(ctx, "embedding invocation", pipeline.Fields{
		"model":  e.wireName,
		"inputs": len(inputs),
	})

	var vectors [][]float64
	var err error
	if e.tei != nil {
		vectors, err = e.embedTEI(ctx, inputs)
	} else {
		vectors, err = e.embedOpenAI(ctx, inputs)
	}
	if err != nil {
		return nil, err
	}

	e.logger.Info(ctx, "embedding invocation done", pipeline.Fields{
		"model":       e.wireName,
		"vectors":     len(vectors),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return vectors, nil
}

// Close releases resources associated with the invoker.
func (e *EmbeddingInvoker) Close() error {
	if e.tei != nil {
		return e.tei.Close()
	}
	if e.httpClient != nil {
		e.httpClient.CloseIdleConnections()
	}
	return nil
}

func (e *EmbeddingInvoker) embedOpenAI(ctx context.Context, inputs []string) ([][]float64, error) {
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.wireName),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: inputs,
		},
	}

	var resp *openai.CreateEmbeddingResponse
	err := e.retry.Do(ctx, func() error {
		r, callErr := e.client.Embeddings.New(ctx, params)
		if callErr != nil {
			e.logger.Error(ctx, fmt.Errorf("embedding failed: %w", callErr), pipeline.Fields{
				"model": e.wireName,
			})
			return callErr
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	vectors := make([][]float64, 0, len(resp.Data))
	for _, item := range resp.Data {
		vectors = append(vectors, item.Embedding)
	}
	return vectors, nil
}

func (e *EmbeddingInvoker) embedTEI(ctx context.Context, inputs []string) ([][]float64, error) {
	body := map[string]any{
		"inputs":   inputs,
		"truncate": true,
	}

	var vectors [][]float64
	err := e.retry.Do(ctx, func() error {
		var out [][]float64
		resp, callErr := e.tei.R().
			SetContext(ctx).
			SetBody(body).
			SetResult(&out).
			Post("/embed")
		if callErr != nil {
			return callErr
		}
		if resp.IsError() {
			// Wrap as openai.Error so the retry policy recognizes retriable status codes.
			return &openai.Error{StatusCode: resp.StatusCode()}
		}
		vectors = out
		return nil
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("invoker: tei embed failed with status %d", apiErr.StatusCode)
		}
		return nil, err
	}
	return vectors, nil
}
