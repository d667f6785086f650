package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"

	"github.com/tesselab/ariadne/pkg/ai"
)

// GenerateEmbedding creates a vector embedding for the given input text
// using the configured embedding model.
func (c *GraphOpenAIClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	res, err := c.GenerateEmbeddings(ctx, [][]byte{input})
	if err != nil {
		return nil, err
	}
	if len(res) != 1 {
		return nil, fmt.Errorf("unexpected embedding result size: got %d want 1", len(res))
	}
	return res[0], nil
}

// GenerateEmbeddings creates embeddings for multiple inputs in a single
// request. Blank inputs yield nil vectors without being sent upstream, so
// callers can detect and exclude them.
func (c *GraphOpenAIClient) GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(inputs))
	idxMap := make([]int, 0, len(inputs))
	texts := make([]string, 0, len(inputs))
	for i, input := range inputs {
		text := strings.TrimSpace(string(input))
		if text == "" {
			continue
		}
		idxMap = append(idxMap, i)
		texts = append(texts, text)
	}
	if len(texts) == 0 {
		return out, nil
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	start := time.Now()
	response, err := c.EmbeddingClient.Embeddings.New(callCtx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(c.embeddingModel),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	})
	if err != nil {
		return nil, classifyError(err)
	}

	c.modifyMetrics(ai.ModelMetrics{
		InputTokens: int(response.Usage.PromptTokens),
		TotalTokens: int(response.Usage.TotalTokens),
		DurationMs:  time.Since(start).Milliseconds(),
	})

	if len(response.Data) != len(texts) {
		return nil, fmt.Errorf("unexpected embedding count: got %d want %d", len(response.Data), len(texts))
	}

	for i, data := range response.Data {
		vec := make([]float32, len(data.Embedding))
		for j, v := range data.Embedding {
			vec[j] = float32(v)
		}
		out[idxMap[i]] = vec
	}

	return out, nil
}
