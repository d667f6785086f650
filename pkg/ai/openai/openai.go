package openai

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/tesselab/ariadne/pkg/ai"
)

// GraphOpenAIClient talks to OpenAI-compatible endpoints (including local
// servers exposing the /v1 API). It manages separate clients for embeddings
// and chat tasks so the two can point at different backends.
//
// A GraphOpenAIClient should be created using NewGraphOpenAIClient.
type GraphOpenAIClient struct {
	embeddingModel string
	chatModel      string

	callTimeout time.Duration

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	ChatClient      *openai.Client
	EmbeddingClient *openai.Client
}

// NewGraphOpenAIClientParams defines the configuration parameters for
// creating a new GraphOpenAIClient.
//
// EmbeddingURL/EmbeddingKey and ChatURL/ChatKey configure the two API
// endpoints. CallTimeout bounds every single model call; zero selects the
// one-minute default.
type NewGraphOpenAIClientParams struct {
	EmbeddingModel string
	ChatModel      string

	EmbeddingURL string
	EmbeddingKey string
	ChatURL      string
	ChatKey      string

	CallTimeout time.Duration
}

// NewGraphOpenAIClient creates and returns a new client configured with the
// provided parameters.
func NewGraphOpenAIClient(params NewGraphOpenAIClientParams) *GraphOpenAIClient {
	timeout := params.CallTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}

	chatClient := newOpenaiClient(params.ChatURL, params.ChatKey)
	embedClient := newOpenaiClient(params.EmbeddingURL, params.EmbeddingKey)

	return &GraphOpenAIClient{
		embeddingModel: params.EmbeddingModel,
		chatModel:      params.ChatModel,
		callTimeout:    timeout,

		ChatClient:      chatClient,
		EmbeddingClient: embedClient,
	}
}

func newOpenaiClient(baseURL, apiKey string) *openai.Client {
	opts := []option.RequestOption{}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := openai.NewClient(opts...)
	return &client
}

// callContext derives the per-call timeout context for one model request.
func (c *GraphOpenAIClient) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.callTimeout)
}

// classifyError maps transport and API failures onto the ai error kinds so
// call sites can decide between retrying and failing fast.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ai.ErrTimeout, err)
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests:
			return errors.Join(ai.ErrRateLimited, err)
		case http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return errors.Join(ai.ErrUnavailable, err)
		}
		return err
	}

	// Anything that never produced an API response is a connectivity failure.
	return errors.Join(ai.ErrUnavailable, err)
}

func (c *GraphOpenAIClient) modifyMetrics(m ai.ModelMetrics) {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()

	c.metrics.InputTokens += m.InputTokens
	c.metrics.OutputTokens += m.OutputTokens
	c.metrics.TotalTokens += m.TotalTokens
	c.metrics.DurationMs += m.DurationMs
}

// ResetMetrics clears the accumulated usage metrics.
func (c *GraphOpenAIClient) ResetMetrics() {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	c.metrics = ai.ModelMetrics{}
}

// GetMetrics returns the usage metrics accumulated since the last reset.
func (c *GraphOpenAIClient) GetMetrics() ai.ModelMetrics {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	return c.metrics
}
