package tools

import (
	"context"
	"fmt"

	"github.com/docpilot/backend/internal/llm"
	"github.com/docpilot/backend/internal/retrieval"
)

// llmTool covers the generation-backed variants; they differ only in the
// system instruction.
type llmTool struct {
	name      string
	system    string
	completer Completer
}

func (t *llmTool) Name() string {
	return t.name
}

func (t *llmTool) Run(ctx context.Context, query, contextText string, _ []retrieval.Candidate) (string, error) {
	resp, err := t.completer.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: t.system,
		UserPrompt:   fmt.Sprintf("Context:\n%s\n\nTask: %s", contextText, query),
		Temperature:  llm.Temp(0.2),
		MaxTokens:    400,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
