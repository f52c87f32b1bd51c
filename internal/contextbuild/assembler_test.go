package contextbuild

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpilot/backend/internal/retrieval"
)

func chunk(source string, ordinal, tokens int, text string) retrieval.Candidate {
	return retrieval.Candidate{
		ChunkID:    source + ":" + text[:1],
		Source:     source,
		Ordinal:    ordinal,
		Text:       text,
		TokenCount: tokens,
	}
}

func TestAssembleRespectsTokenBudget(t *testing.T) {
	candidates := []retrieval.Candidate{
		chunk("a.md", 0, 40, "alpha text"),
		chunk("a.md", 1, 40, "beta text"),
		chunk("b.md", 0, 40, "gamma text"),
	}

	_, used := Assemble(candidates, 100)

	// Label overhead pushes each block above 40 tokens, so only two fit.
	require.Len(t, used, 2)
	assert.Equal(t, "alpha text", used[0].Text)
	assert.Equal(t, "beta text", used[1].Text)
}

func TestAssembleSkipsOversizedChunkAndContinues(t *testing.T) {
	candidates := []retrieval.Candidate{
		chunk("a.md", 0, 10, "small one"),
		chunk("a.md", 1, 500, "huge chunk"),
		chunk("b.md", 0, 10, "tiny two"),
	}

	text, used := Assemble(candidates, 50)

	require.Len(t, used, 2)
	assert.Equal(t, "small one", used[0].Text)
	assert.Equal(t, "tiny two", used[1].Text)
	assert.NotContains(t, text, "huge chunk", "oversized chunks are skipped whole, never truncated")
}

func TestAssembleLabelsEveryBlock(t *testing.T) {
	candidates := []retrieval.Candidate{
		chunk("policy.md", 3, 10, "retention is ninety days"),
	}

	text, used := Assemble(candidates, 100)

	require.Len(t, used, 1)
	assert.True(t, strings.HasPrefix(text, "[policy.md#3] "), "got %q", text)
	assert.True(t, strings.HasSuffix(text, "\n"))
}

func TestAssembleEmptyAndZeroBudget(t *testing.T) {
	text, used := Assemble(nil, 100)
	assert.Empty(t, text)
	assert.Empty(t, used)

	text, used = Assemble([]retrieval.Candidate{chunk("a.md", 0, 5, "x y z")}, 0)
	assert.Empty(t, text)
	assert.Empty(t, used)
}

func TestAssemblePreservesRankOrder(t *testing.T) {
	candidates := []retrieval.Candidate{
		chunk("a.md", 2, 5, "first ranked"),
		chunk("b.md", 0, 5, "second ranked"),
	}

	text, _ := Assemble(candidates, 1000)

	firstIdx := strings.Index(text, "first ranked")
	secondIdx := strings.Index(text, "second ranked")
	require.GreaterOrEqual(t, firstIdx, 0)
	require.GreaterOrEqual(t, secondIdx, 0)
	assert.Less(t, firstIdx, secondIdx)
}
