package tools

import (
	"context"
	"regexp"
	"strings"

	"github.com/docpilot/backend/internal/retrieval"
)

// findTablesTool pulls pipe- or tab-delimited blocks out of the assembled
// context.
type findTablesTool struct{}

func (t *findTablesTool) Name() string { return "find_tables" }

func (t *findTablesTool) Run(_ context.Context, _, contextText string, _ []retrieval.Candidate) (string, error) {
	var blocks []string
	var current []string

	flush := func() {
		if len(current) > 0 {
			blocks = append(blocks, strings.Join(current, "\n"))
			current = nil
		}
	}

	for _, line := range strings.Split(contextText, "\n") {
		if strings.Contains(line, "|") || strings.Contains(line, "\t") {
			current = append(current, line)
		} else {
			flush()
		}
	}
	flush()

	if len(blocks) == 0 {
		return "No tables found in the provided context.", nil
	}
	return strings.Join(blocks, "\n\n"), nil
}

var definitionPattern = regexp.MustCompile(`^\s*([A-Za-z0-9][^:]{1,60}):\s+(.+)$`)

// listDefinitionsTool collects "Term: definition" lines from the context.
type listDefinitionsTool struct{}

func (t *listDefinitionsTool) Name() string { return "list_definitions" }

func (t *listDefinitionsTool) Run(_ context.Context, _, contextText string, _ []retrieval.Candidate) (string, error) {
	var entries []string
	for _, line := range strings.Split(contextText, "\n") {
		match := definitionPattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		term := strings.TrimSpace(match[1])
		definition := strings.TrimSpace(match[2])
		entries = append(entries, "- "+term+": "+definition)
	}
	if len(entries) == 0 {
		return "No definition-style lines found in the provided context.", nil
	}
	return strings.Join(entries, "\n"), nil
}

// citationsBySectionTool lists every used chunk with its citation label and
// a short snippet.
type citationsBySectionTool struct{}

func (t *citationsBySectionTool) Name() string { return "citations_by_section" }

func (t *citationsBySectionTool) Run(_ context.Context, _, _ string, used []retrieval.Candidate) (string, error) {
	if len(used) == 0 {
		return "No citations available.", nil
	}
	entries := make([]string, 0, len(used))
	for _, cand := range used {
		snippet := cand.Text
		if len(snippet) > 160 {
			snippet = snippet[:160]
		}
		snippet = strings.ReplaceAll(snippet, "\n", " ")
		entries = append(entries, "["+cand.Ref()+"] "+snippet)
	}
	return strings.Join(entries, "\n"), nil
}
