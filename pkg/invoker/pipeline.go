package invoker

import (
	"context"
	"errors"
	"fmt"

	"chatpipe/pkg/catalog"
)

// Pipeline pairs a built invoker with the prompt builder and request
// processor resolved for its chatbot and model scope.
type Pipeline struct {
	ChatbotID string
	ModelKey  string

	invoker   Invoker
	prompt    catalog.PromptBuilder
	processor catalog.RequestProcessor
	params    map[string]any
}

// Invoker exposes the underlying model client.
func (p *Pipeline) Invoker() Invoker { return p.invoker }

// Run renders the prompt, applies the request processor, and invokes the
// model. vars feed the prompt builder; with no builder bound vars["prompt"]
// is sent as-is.
func (p *Pipeline) Run(ctx context.Context, vars map[string]any) (string, error) {
	chat, ok := p.invoker.(*ChatInvoker)
	if !ok {
		return "", fmt.Errorf("invoker: pipeline for model %q is not a chat pipeline", p.ModelKey)
	}

	prompt, err := p.renderPrompt(ctx, vars)
	if err != nil {
		return "", err
	}

	if p.processor != nil {
		merged := make(map[string]any, len(vars)+1)
		for k, v := range vars {
			merged[k] = v
		}
		merged["prompt"] = prompt
		prompt, err = p.processor.Process(ctx, merged)
		if err != nil {
			return "", err
		}
	}

	var messages []Message
	if system := stringParam(p.params, paramSystemPrompt); system != "" {
		messages = append(messages, Message{Role: "system", Content: system})
	}
	messages = append(messages, Message{Role: "user", Content: prompt})

	resp, err := chat.Invoke(ctx, &ChatRequest{Messages: messages})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("invoker: empty completion")
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed computes embeddings through an embedding pipeline.
func (p *Pipeline) Embed(ctx context.Context, inputs []string) ([][]float64, error) {
	embed, ok := p.invoker.(*EmbeddingInvoker)
	if !ok {
		return nil, fmt.Errorf("invoker: pipeline for model %q is not an embedding pipeline", p.ModelKey)
	}
	return embed.Embed(ctx, inputs)
}

// Close releases the pipeline's invoker.
func (p *Pipeline) Close() error { return p.invoker.Close() }

func (p *Pipeline) renderPrompt(ctx context.Context, vars map[string]any) (string, error) {
	if p.prompt != nil {
		return p.prompt.BuildPrompt(ctx, vars)
	}
	raw, ok := vars["prompt"]
	if !ok {
		return "", errors.New(`invoker: vars["prompt"] is required without a prompt builder`)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("invoker: prompt must be a string, got %T", raw)
	}
	return s, nil
}
