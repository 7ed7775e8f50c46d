package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/ctilinker/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared"
)

// GenerateCompletionWithFormat sends a prompt to the chat model and enforces
// a strict JSON schema reflected from schema on the answer. The raw answer
// text is returned; decoding is left to the caller.
//
// Example:
//
//	c, err := client.GenerateCompletionWithFormat(ctx, "link_prediction",
//		"Relation between two entities", prompt, &ai.LinkAnswer{})
//	if err != nil {
//		log.Fatal(err)
//	}
//	answer, err := ai.ParseAnswer(c.Content)
func (c *GraphOpenAIClient) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	schema any,
	opts ...ai.GenerateOption,
) (ai.Completion, error) {
	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        name,
		Description: openai.String(description),
		Schema:      ai.GenerateSchema(schema),
		Strict:      openai.Bool(true),
	}

	options := ai.GenerateOptions{
		Model:       c.model,
		Temperature: 0.1,
		Thinking:    "",
	}
	for _, o := range opts {
		o(&options)
	}

	body := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(options.Model),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: schemaParam,
			},
		},
		Messages:    buildMessages(options, prompt),
		Temperature: openai.Float(options.Temperature),
	}
	c.applyThinking(&body, options)

	return c.complete(ctx, body)
}

func buildMessages(options ai.GenerateOptions, prompt string) []openai.ChatCompletionMessageParamUnion {
	msgs := []openai.ChatCompletionMessageParamUnion{}
	for _, sp := range options.SystemPrompts {
		msgs = append(msgs, openai.SystemMessage(sp))
	}
	return append(msgs, openai.UserMessage(prompt))
}

func (c *GraphOpenAIClient) applyThinking(body *openai.ChatCompletionNewParams, options ai.GenerateOptions) {
	if options.Thinking == "" {
		return
	}
	// Needed fix for gpt-5 models as they dont support temperature other than 1.0 when reasoning is enabled
	if c.chatURL == "" {
		body.Temperature = openai.Float(1.0)
	}
	body.ReasoningEffort = shared.ReasoningEffort(options.Thinking)
}

func (c *GraphOpenAIClient) complete(ctx context.Context, body openai.ChatCompletionNewParams) (ai.Completion, error) {
	start := time.Now()
	response, err := c.ChatClient.Chat.Completions.New(ctx, body)
	if err != nil {
		return ai.Completion{}, err
	}
	duration := time.Since(start).Milliseconds()

	metrics := ai.ModelMetrics{
		InputTokens:  int(response.Usage.PromptTokens),
		OutputTokens: int(response.Usage.CompletionTokens),
		TotalTokens:  int(response.Usage.TotalTokens),
		DurationMs:   duration,
	}
	c.modifyMetrics(metrics)

	model := response.Model
	if model == "" {
		model = string(body.Model)
	}
	// The tokens were billed even when there is no usable answer.
	completion := ai.Completion{Model: model, Metrics: metrics}

	if len(response.Choices) == 0 {
		return completion, fmt.Errorf("no choices in response from model")
	}
	completion.Content = response.Choices[0].Message.Content
	if completion.Content == "" {
		return completion, fmt.Errorf("empty response from model (finish_reason: %s)", response.Choices[0].FinishReason)
	}
	return completion, nil
}
