package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpilot/backend/internal/llm"
	"github.com/docpilot/backend/internal/retrieval"
)

type stubCompleter struct {
	response string
	err      error
	lastReq  llm.CompletionRequest
}

func (s *stubCompleter) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return &llm.CompletionResponse{Content: s.response}, nil
}

func TestFindTablesExtractsDelimitedBlocks(t *testing.T) {
	contextText := "[a.md#0] intro line\n" +
		"name | role\n" +
		"ada | engineer\n" +
		"closing prose\n"

	out, err := (&findTablesTool{}).Run(context.Background(), "", contextText, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "name | role")
	assert.Contains(t, out, "ada | engineer")
	assert.NotContains(t, out, "closing prose")
}

func TestFindTablesNoTables(t *testing.T) {
	out, err := (&findTablesTool{}).Run(context.Background(), "", "just prose here", nil)
	require.NoError(t, err)
	assert.Equal(t, "No tables found in the provided context.", out)
}

func TestListDefinitionsCollectsTermLines(t *testing.T) {
	contextText := "Throughput: requests served per second\n" +
		"some unrelated sentence\n" +
		"Latency: time to first byte\n"

	out, err := (&listDefinitionsTool{}).Run(context.Background(), "", contextText, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "- Throughput: requests served per second")
	assert.Contains(t, out, "- Latency: time to first byte")
	assert.NotContains(t, out, "unrelated")
}

func TestCitationsBySectionListsUsedChunks(t *testing.T) {
	used := []retrieval.Candidate{
		{ChunkID: "c1", Source: "policy.md", Ordinal: 2, Text: "retention is ninety days"},
	}

	out, err := (&citationsBySectionTool{}).Run(context.Background(), "", "", used)
	require.NoError(t, err)
	assert.Contains(t, out, "[policy.md#2] retention is ninety days")
}

func TestRegistryRunUnknownTool(t *testing.T) {
	reg := DefaultRegistry(&stubCompleter{response: "ok"})

	_, err := reg.Run(context.Background(), "no_such_tool", "q", "ctx", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExecution)
}

func TestRegistryNamesExcludesDocActions(t *testing.T) {
	reg := DefaultRegistry(&stubCompleter{})

	all := reg.Names(true)
	assert.Contains(t, all, "find_tables")
	assert.Contains(t, all, "summarize")

	generic := reg.Names(false)
	assert.NotContains(t, generic, "find_tables")
	assert.NotContains(t, generic, "list_definitions")
	assert.NotContains(t, generic, "citations_by_section")
	assert.Contains(t, generic, "summarize")

	assert.False(t, reg.Has("find_tables", false))
	assert.True(t, reg.Has("find_tables", true))
}

func TestRouterKeywordRulesShortCircuit(t *testing.T) {
	completer := &stubCompleter{err: errors.New("must not be called")}
	router := NewRouter(DefaultRegistry(completer), nil, true)

	tool := router.Route(context.Background(), "Please summarize this document", "ctx")
	assert.Equal(t, "summarize", tool)

	tool = router.Route(context.Background(), "are there any tables in here?", "ctx")
	assert.Equal(t, "find_tables", tool)
}

func TestRouterDocActionRuleRespectsToggle(t *testing.T) {
	router := NewRouter(DefaultRegistry(&stubCompleter{response: `{"tool":"none"}`}), nil, false)

	tool := router.Route(context.Background(), "find tables in the report", "ctx")
	assert.Equal(t, "", tool, "doc-action tools disabled must not be routable")
}

func TestRouterClassifyFallback(t *testing.T) {
	completer := &stubCompleter{response: `{"tool":"draft_email","reason":"drafting"}`}
	router := NewRouter(DefaultRegistry(completer), completer, true)

	tool := router.Route(context.Background(), "write something to the vendor about the delay", "ctx")
	assert.Equal(t, "draft_email", tool)
	assert.True(t, completer.lastReq.JSONMode)
}

func TestRouterClassifyNoneAndErrors(t *testing.T) {
	completer := &stubCompleter{response: `{"tool":"none"}`}
	router := NewRouter(DefaultRegistry(completer), completer, true)
	assert.Equal(t, "", router.Route(context.Background(), "what is the retention policy", "ctx"))

	failing := &stubCompleter{err: errors.New("backend down")}
	router = NewRouter(DefaultRegistry(failing), failing, true)
	assert.Equal(t, "", router.Route(context.Background(), "what is the retention policy", "ctx"))
}

func TestLLMToolPassesContextAndQuery(t *testing.T) {
	completer := &stubCompleter{response: "a concise summary"}
	reg := DefaultRegistry(completer)

	out, err := reg.Run(context.Background(), "summarize", "the query", "[a.md#0] body", nil)
	require.NoError(t, err)
	assert.Equal(t, "a concise summary", out)
	assert.Contains(t, completer.lastReq.UserPrompt, "[a.md#0] body")
	assert.Contains(t, completer.lastReq.UserPrompt, "the query")
}
