// Package generation holds the completion-backed pipeline stages: the answer
// generator, the query planner and the follow-up suggester.
package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docpilot/backend/internal/llm"
	"github.com/docpilot/backend/pkg/retry"
)

// ErrUnavailable marks the completion backend as down after the bounded
// retry is exhausted. The HTTP layer maps it to a 503.
var ErrUnavailable = errors.New("generation unavailable")

// CompletionClient is the slice of the LLM client this package needs.
type CompletionClient interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

type Answer struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

type Generator struct {
	completer   CompletionClient
	maxTokens   int
	temperature float32
	retryConfig retry.Config
}

// NewGenerator builds the answer generator. The completer must not retry
// internally (wire llm.Client.Direct, not the retrying client): the bounded
// retry here is the only one on the answer path.
func NewGenerator(completer CompletionClient, maxTokens int, temperature float32) *Generator {
	if maxTokens <= 0 {
		maxTokens = 300
	}
	return &Generator{
		completer:   completer,
		maxTokens:   maxTokens,
		temperature: temperature,
		retryConfig: retry.Config{
			MaxAttempts:  2,
			InitialDelay: 300 * time.Millisecond,
			MaxDelay:     2 * time.Second,
		},
	}
}

const answerSystemPrompt = "You are an enterprise document assistant. Answer strictly from " +
	"the provided context and cite sources with their [source#index] labels. " +
	"Say so when the context does not cover the question."

// Generate answers the query from the assembled context, grounding on the
// tool output when a tool fired. Retries are bounded; exhaustion surfaces as
// ErrUnavailable with no partial answer.
func (g *Generator) Generate(ctx context.Context, query, contextText, toolName, toolOutput string) (Answer, error) {
	prompt := contextText
	if toolName != "" && toolOutput != "" {
		prompt += fmt.Sprintf("\n\nTool output (%s):\n%s\n", toolName, toolOutput)
	}
	prompt += "\n\nQuestion: " + query

	resp, err := retry.DoWithResult(ctx, g.retryConfig, func() (*llm.CompletionResponse, error) {
		return g.completer.Complete(ctx, llm.CompletionRequest{
			SystemPrompt: answerSystemPrompt,
			UserPrompt:   prompt,
			Temperature:  llm.Temp(g.temperature),
			MaxTokens:    g.maxTokens,
		})
	})
	if err != nil {
		return Answer{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return Answer{
		Text:             resp.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}
