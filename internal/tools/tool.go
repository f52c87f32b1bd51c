// Package tools routes queries with a specialized intent to document-aware
// handlers. Each tool is a variant behind one interface; adding a tool means
// one Register call, never a change to the dispatch logic.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/docpilot/backend/internal/llm"
	"github.com/docpilot/backend/internal/retrieval"
)

// ErrExecution marks a tool that fired but failed. The pipeline falls
// through to the generic answer path.
var ErrExecution = errors.New("tool execution failed")

// Completer is the slice of the LLM client the tools need.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

// Tool produces structured or free-text output from the assembled context
// and the query. Document-aware tools scan only the assembled context, never
// the whole corpus.
type Tool interface {
	Name() string
	Run(ctx context.Context, query, contextText string, used []retrieval.Candidate) (string, error)
}

type Registry struct {
	tools      map[string]Tool
	docActions map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{
		tools:      make(map[string]Tool),
		docActions: make(map[string]bool),
	}
}

// Register adds a tool variant. docAction marks tools that inspect document
// structure, which can be disabled as a group.
func (r *Registry) Register(tool Tool, docAction bool) {
	r.tools[tool.Name()] = tool
	if docAction {
		r.docActions[tool.Name()] = true
	}
}

func (r *Registry) Names(includeDocActions bool) []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		if !includeDocActions && r.docActions[name] {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Has(name string, includeDocActions bool) bool {
	if _, ok := r.tools[name]; !ok {
		return false
	}
	if !includeDocActions && r.docActions[name] {
		return false
	}
	return true
}

func (r *Registry) Run(ctx context.Context, name, query, contextText string, used []retrieval.Candidate) (string, error) {
	tool, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("%w: unknown tool %q", ErrExecution, name)
	}
	out, err := tool.Run(ctx, query, contextText, used)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrExecution, name, err)
	}
	return out, nil
}

// DefaultRegistry wires every built-in tool variant.
func DefaultRegistry(completer Completer) *Registry {
	reg := NewRegistry()
	reg.Register(&llmTool{name: "summarize", system: "Summarize the context succinctly for the query. Keep citations.", completer: completer}, false)
	reg.Register(&llmTool{name: "extract_facts", system: "Extract factual statements from the context with citations.", completer: completer}, false)
	reg.Register(&llmTool{name: "compare", system: "Compare the key entities or options in the context. Use citations.", completer: completer}, false)
	reg.Register(&llmTool{name: "generate_checklist", system: "Generate a checklist based on the context. Use citations.", completer: completer}, false)
	reg.Register(&llmTool{name: "draft_email", system: "Draft a professional email using the context. Cite sources if relevant.", completer: completer}, false)
	reg.Register(&findTablesTool{}, true)
	reg.Register(&listDefinitionsTool{}, true)
	reg.Register(&citationsBySectionTool{}, true)
	return reg
}
