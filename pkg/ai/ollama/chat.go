package ollama

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/OFFIS-RIT/ctilinker/pkg/ai"

	"github.com/ollama/ollama/api"
	"github.com/pkoukk/tiktoken-go"
)

const (
	defaultContext  = 4096
	reservedTokens  = 200
	contextEncoding = "o200k_base"
)

// GenerateCompletionWithFormat enforces the JSON schema reflected from schema
// and returns the raw answer text.
func (c *GraphOllamaClient) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	schema any,
	opts ...ai.GenerateOption,
) (ai.Completion, error) {
	if schema == nil {
		return ai.Completion{}, fmt.Errorf("schema must not be nil")
	}
	formatBytes, err := json.Marshal(ai.GenerateSchema(schema))
	if err != nil {
		return ai.Completion{}, err
	}

	options := ai.GenerateOptions{
		Model:       c.model,
		Temperature: 0.1,
		Thinking:    "",
	}
	for _, o := range opts {
		o(&options)
	}

	return c.chat(ctx, options, prompt, json.RawMessage(formatBytes))
}

func (c *GraphOllamaClient) chat(
	ctx context.Context,
	options ai.GenerateOptions,
	prompt string,
	format json.RawMessage,
) (ai.Completion, error) {
	msgs := make([]api.Message, 0, len(options.SystemPrompts)+1)
	for _, sp := range options.SystemPrompts {
		msgs = append(msgs, api.Message{Role: "system", Content: sp})
	}
	msgs = append(msgs, api.Message{Role: "user", Content: prompt})

	stream := false
	req := &api.ChatRequest{
		Model:    options.Model,
		Messages: msgs,
		Stream:   &stream,
		Format:   format,
		Options:  map[string]any{"temperature": options.Temperature},
	}

	if options.Thinking != "" {
		req.Think = &api.ThinkValue{
			Value: options.Thinking,
		}
	}

	if tokens := estimateTokens(msgs); tokens > defaultContext {
		req.Options["num_ctx"] = tokens
	}

	if err := c.reqLock.Acquire(ctx, 1); err != nil {
		return ai.Completion{}, err
	}
	defer c.reqLock.Release(1)

	var final api.ChatResponse
	if err := c.Client.Chat(ctx, req, func(cr api.ChatResponse) error {
		final.Message.Content += cr.Message.Content
		if cr.Done {
			final.Done = true
			final.Model = cr.Model
			final.Metrics = cr.Metrics
		}
		return nil
	}); err != nil {
		return ai.Completion{}, err
	}

	metrics := ai.ModelMetrics{
		InputTokens:  final.Metrics.PromptEvalCount,
		OutputTokens: final.Metrics.EvalCount,
		TotalTokens:  final.Metrics.PromptEvalCount + final.Metrics.EvalCount,
		DurationMs:   final.Metrics.TotalDuration.Milliseconds(),
	}
	c.modifyMetrics(metrics)

	model := final.Model
	if model == "" {
		model = options.Model
	}
	completion := ai.Completion{Content: final.Message.Content, Model: model, Metrics: metrics}
	if completion.Content == "" {
		return completion, fmt.Errorf("empty response from model %s", options.Model)
	}
	return completion, nil
}

// estimateTokens sizes the context window so long reports are not truncated.
// Without the encoding (it is fetched on first use) four bytes count as one token.
func estimateTokens(msgs []api.Message) int {
	tokens := reservedTokens
	enc, err := tiktoken.GetEncoding(contextEncoding)
	for _, m := range msgs {
		if err != nil {
			tokens += len(m.Content)/4 + 1
			continue
		}
		tokens += len(enc.Encode(m.Content, nil, nil))
	}
	return tokens
}
