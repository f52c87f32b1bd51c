package tools

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/docpilot/backend/internal/llm"
	"github.com/docpilot/backend/internal/retrieval"
	"github.com/docpilot/backend/pkg/logger"
)

// Router classifies query intent and names the tool that should handle it,
// or "" for a generic question-answering intent. Rule-based keyword matching
// is tried first; ambiguous queries fall back to a strict JSON classification
// call.
type Router struct {
	registry   *Registry
	completer  Completer
	docActions bool
}

func NewRouter(registry *Registry, completer Completer, docActions bool) *Router {
	return &Router{
		registry:   registry,
		completer:  completer,
		docActions: docActions,
	}
}

// Run executes the named tool from the router's registry.
func (r *Router) Run(ctx context.Context, name, query, contextText string, used []retrieval.Candidate) (string, error) {
	return r.registry.Run(ctx, name, query, contextText, used)
}

// Keyword rules resolve the common intents without an extra LLM round trip.
var intentRules = []struct {
	tool     string
	keywords []string
}{
	{"summarize", []string{"summarize", "summarise", "summary", "tl;dr"}},
	{"generate_checklist", []string{"checklist", "check list", "steps to"}},
	{"draft_email", []string{"draft an email", "draft email", "write an email", "write email"}},
	{"compare", []string{"compare", " versus ", " vs ", "difference between"}},
	{"extract_facts", []string{"extract facts", "list the facts", "key facts"}},
	{"find_tables", []string{"find tables", "show tables", "any tables", "list tables"}},
	{"list_definitions", []string{"definitions", "define the terms", "glossary"}},
	{"citations_by_section", []string{"citations", "cite the sections", "which sections"}},
}

func (r *Router) Route(ctx context.Context, query, contextText string) string {
	lower := strings.ToLower(query)
	for _, rule := range intentRules {
		for _, keyword := range rule.keywords {
			if strings.Contains(lower, keyword) && r.registry.Has(rule.tool, r.docActions) {
				return rule.tool
			}
		}
	}

	if r.completer == nil {
		return ""
	}
	return r.classify(ctx, query, contextText)
}

func (r *Router) classify(ctx context.Context, query, contextText string) string {
	allowed := append(r.registry.Names(r.docActions), "none")

	preview := contextText
	if len(preview) > 1200 {
		preview = preview[:1200] + "\n...[truncated]"
	}

	resp, err := r.completer.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: "You are a strict tool router.",
		UserPrompt: "Choose the best tool for the user query based on the context. " +
			"Return JSON with keys: tool, reason. " +
			"Allowed tools: " + strings.Join(allowed, ", ") + ".\n\n" +
			"Query: " + query + "\n\nContext (preview):\n" + preview,
		Temperature: llm.Temp(0),
		MaxTokens:   120,
		JSONMode:    true,
	})
	if err != nil {
		logger.Warn("tool classification failed, using generic path", zap.Error(err))
		return ""
	}

	var decision struct {
		Tool string `json:"tool"`
	}
	if err := json.Unmarshal([]byte(stripFences(resp.Content)), &decision); err != nil {
		return ""
	}
	if decision.Tool == "none" || !r.registry.Has(decision.Tool, r.docActions) {
		return ""
	}
	return decision.Tool
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
