package generation

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/docpilot/backend/internal/llm"
	"github.com/docpilot/backend/pkg/logger"
)

const plannerSystemPrompt = "You decompose a user question into at most three focused " +
	"retrieval sub-queries. Respond with JSON: {\"queries\": [\"...\"]}. " +
	"Return the question unchanged as a single query when it is already focused."

// Planner breaks a compound question into sub-queries for retrieval fan-out.
// Planning never fails a request: any error or malformed response collapses
// back to the original query.
type Planner struct {
	completer CompletionClient
	maxFanOut int
}

func NewPlanner(completer CompletionClient, maxFanOut int) *Planner {
	if maxFanOut <= 0 {
		maxFanOut = 3
	}
	return &Planner{completer: completer, maxFanOut: maxFanOut}
}

func (p *Planner) Plan(ctx context.Context, query string) []string {
	resp, err := p.completer.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: plannerSystemPrompt,
		UserPrompt:   query,
		Temperature:  llm.Temp(0),
		MaxTokens:    200,
		JSONMode:     true,
	})
	if err != nil {
		logger.Warn("query planning failed, using original query", zap.Error(err))
		return []string{query}
	}

	var parsed struct {
		Queries []string `json:"queries"`
	}
	if err := json.Unmarshal([]byte(stripFences(resp.Content)), &parsed); err != nil {
		logger.Warn("query plan unparseable, using original query", zap.Error(err))
		return []string{query}
	}

	queries := make([]string, 0, p.maxFanOut)
	seen := make(map[string]bool, p.maxFanOut)
	for _, q := range parsed.Queries {
		q = strings.TrimSpace(q)
		if q == "" || seen[strings.ToLower(q)] {
			continue
		}
		seen[strings.ToLower(q)] = true
		queries = append(queries, q)
		if len(queries) == p.maxFanOut {
			break
		}
	}
	if len(queries) == 0 {
		return []string{query}
	}
	return queries
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
