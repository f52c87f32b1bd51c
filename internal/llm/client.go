// Package llm wraps the external completion and embedding capability behind
// timeouts, bounded retries and a circuit breaker.
package llm

import (
	"context"
	"fmt"
	"math"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/docpilot/backend/pkg/circuitbreaker"
	"github.com/docpilot/backend/pkg/logger"
	"github.com/docpilot/backend/pkg/retry"
)

type Client struct {
	client         *openai.Client
	model          string
	embeddingModel string
	temperature    float32
	maxTokens      int
	timeout        time.Duration
	breaker        *circuitbreaker.Breaker
	retryConfig    retry.Config
}

// CompletionRequest describes one completion call. Temperature is a pointer
// so an explicit zero is distinguishable from "use the configured default".
type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  *float32
	MaxTokens    int
	JSONMode     bool
}

// Temp builds a temperature override, explicit zero included.
func Temp(v float32) *float32 {
	return &v
}

type CompletionResponse struct {
	Content string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// NewClient builds the shared completion/embedding client. baseURL overrides
// the API endpoint for OpenAI-compatible backends; empty keeps the default.
func NewClient(apiKey, baseURL, model, embeddingModel string, temperature float32, maxTokens, timeoutSec int) *Client {
	timeout := time.Duration(timeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	apiConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		apiConfig.BaseURL = baseURL
	}

	logger.Info("llm client initialized",
		zap.String("model", model),
		zap.String("embedding_model", embeddingModel),
	)

	return &Client{
		client:         openai.NewClientWithConfig(apiConfig),
		model:          model,
		embeddingModel: embeddingModel,
		temperature:    temperature,
		maxTokens:      maxTokens,
		timeout:        timeout,
		breaker:        circuitbreaker.New("llm", 5, 30*time.Second, logger.GetLogger()),
		retryConfig: retry.Config{
			MaxAttempts:  3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     5 * time.Second,
		},
	}
}

// Complete issues a completion with the client's internal retry policy.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	return c.complete(ctx, req, true)
}

// CompleteOnce issues a single upstream attempt with no internal retry, for
// callers that own the retry budget themselves.
func (c *Client) CompleteOnce(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	return c.complete(ctx, req, false)
}

// Direct is the client view handed to the answer generator: its Complete
// performs exactly one upstream attempt, so the generator's bound is the
// only retry on the answer path.
type Direct struct {
	c *Client
}

func (c *Client) Direct() *Direct {
	return &Direct{c: c}
}

func (d *Direct) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	return d.c.CompleteOnce(ctx, req)
}

func (c *Client) complete(ctx context.Context, req CompletionRequest, withRetry bool) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	temperature := c.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	if temperature == 0 {
		// The SDK marshals temperature with omitempty; a denormal keeps an
		// explicit zero on the wire instead of the API's own default.
		temperature = math.SmallestNonzeroFloat32
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	chatReq := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
	if req.JSONMode {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	var result *CompletionResponse
	call := func() error {
		resp, err := c.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return fmt.Errorf("create completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("completion returned no choices")
		}
		result = &CompletionResponse{
			Content: resp.Choices[0].Message.Content,
			Usage: Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			},
		}
		return nil
	}
	op := call
	if withRetry {
		op = func() error {
			return retry.Do(ctx, c.retryConfig, call)
		}
	}

	if err := c.breaker.Execute(ctx, op); err != nil {
		return nil, err
	}

	logger.Debug("completion generated",
		zap.Int("prompt_tokens", result.Usage.PromptTokens),
		zap.Int("completion_tokens", result.Usage.CompletionTokens),
	)
	return result, nil
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var vectors [][]float32
	err := c.breaker.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
				Input: texts,
				Model: openai.EmbeddingModel(c.embeddingModel),
			})
			if err != nil {
				return fmt.Errorf("create embeddings: %w", err)
			}
			if len(resp.Data) != len(texts) {
				return fmt.Errorf("embedding count mismatch: got %d, expected %d", len(resp.Data), len(texts))
			}
			vectors = make([][]float32, len(resp.Data))
			for i, data := range resp.Data {
				vec := make([]float32, len(data.Embedding))
				copy(vec, data.Embedding)
				vectors[i] = vec
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return vectors, nil
}
