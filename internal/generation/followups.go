package generation

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/docpilot/backend/internal/llm"
	"github.com/docpilot/backend/pkg/logger"
)

const followupSystemPrompt = "You suggest follow-up questions a reader of the answer would " +
	"naturally ask next, answerable from the same document set. Respond with JSON: " +
	"{\"questions\": [\"...\"]}. Suggest two or three questions."

// Suggester produces follow-up questions from the answered query. It is
// strictly best-effort: every failure path returns an empty slice.
type Suggester struct {
	completer CompletionClient
}

func NewSuggester(completer CompletionClient) *Suggester {
	return &Suggester{completer: completer}
}

func (s *Suggester) Suggest(ctx context.Context, query, answer string) []string {
	resp, err := s.completer.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: followupSystemPrompt,
		UserPrompt:   "Question: " + query + "\n\nAnswer: " + answer,
		Temperature:  llm.Temp(0.6),
		MaxTokens:    200,
		JSONMode:     true,
	})
	if err != nil {
		logger.Debug("followup generation failed", zap.Error(err))
		return nil
	}

	var parsed struct {
		Questions []string `json:"questions"`
	}
	if err := json.Unmarshal([]byte(stripFences(resp.Content)), &parsed); err != nil {
		logger.Debug("followup response unparseable", zap.Error(err))
		return nil
	}

	questions := make([]string, 0, 3)
	for _, q := range parsed.Questions {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		questions = append(questions, q)
		if len(questions) == 3 {
			break
		}
	}
	return questions
}
