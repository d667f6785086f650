package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"

	"github.com/tesselab/ariadne/pkg/ai"
)

// GenerateCompletion sends a single-turn prompt to the chat model and
// returns the generated completion as plain text.
func (c *GraphOpenAIClient) GenerateCompletion(
	ctx context.Context,
	prompt string,
	opts ...ai.GenerateOption,
) (string, error) {
	options := ai.GenerateOptions{
		Model:       c.chatModel,
		Temperature: 0.3,
	}
	for _, o := range opts {
		o(&options)
	}

	body := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(options.Model),
		Messages:    buildMessages(options.SystemPrompts, []ai.ChatMessage{{Role: "user", Message: prompt}}),
		Temperature: openai.Float(options.Temperature),
	}

	return c.complete(ctx, body)
}

// GenerateChat sends a multi-turn conversation to the chat model and returns
// the generated reply as plain text.
func (c *GraphOpenAIClient) GenerateChat(
	ctx context.Context,
	messages []ai.ChatMessage,
	opts ...ai.GenerateOption,
) (string, error) {
	options := ai.GenerateOptions{
		Model:       c.chatModel,
		Temperature: 0.3,
	}
	for _, o := range opts {
		o(&options)
	}

	body := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(options.Model),
		Messages:    buildMessages(options.SystemPrompts, messages),
		Temperature: openai.Float(options.Temperature),
	}

	return c.complete(ctx, body)
}

// GenerateCompletionWithFormat sends a prompt to the chat model and
// unmarshals the response into the provided output struct, using a JSON
// schema derived from the struct to enforce structure.
//
// Example:
//
//	var out subQuestions
//	err := client.GenerateCompletionWithFormat(ctx, "decompose", "Break a question into sub-questions.", prompt, &out)
func (c *GraphOpenAIClient) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) error {
	schema := ai.GenerateSchema(out)
	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        name,
		Description: openai.String(description),
		Schema:      schema,
		Strict:      openai.Bool(true),
	}

	options := ai.GenerateOptions{
		Model:       c.chatModel,
		Temperature: 0.1,
	}
	for _, o := range opts {
		o(&options)
	}

	body := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(options.Model),
		Messages: buildMessages(options.SystemPrompts, []ai.ChatMessage{{Role: "user", Message: prompt}}),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: schemaParam,
			},
		},
		Temperature: openai.Float(options.Temperature),
	}

	content, err := c.complete(ctx, body)
	if err != nil {
		return err
	}

	if err := ai.UnmarshalFlexible(content, out); err != nil {
		return fmt.Errorf("failed to parse structured output %q: %w", name, err)
	}
	return nil
}

func (c *GraphOpenAIClient) complete(ctx context.Context, body openai.ChatCompletionNewParams) (string, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	start := time.Now()
	response, err := c.ChatClient.Chat.Completions.New(callCtx, body)
	if err != nil {
		return "", classifyError(err)
	}

	c.modifyMetrics(ai.ModelMetrics{
		InputTokens:  int(response.Usage.PromptTokens),
		OutputTokens: int(response.Usage.CompletionTokens),
		TotalTokens:  int(response.Usage.TotalTokens),
		DurationMs:   time.Since(start).Milliseconds(),
	})

	if len(response.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return response.Choices[0].Message.Content, nil
}

func buildMessages(systemPrompts []string, messages []ai.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(systemPrompts)+len(messages))
	for _, sp := range systemPrompts {
		msgs = append(msgs, openai.SystemMessage(sp))
	}
	for _, m := range messages {
		if m.Role == "assistant" {
			msgs = append(msgs, openai.AssistantMessage(m.Message))
			continue
		}
		msgs = append(msgs, openai.UserMessage(m.Message))
	}
	return msgs
}
