// Package contextbuild selects a token-bounded subset of ranked candidates
// and renders it as the grounding context for generation.
package contextbuild

import (
	"strings"

	"github.com/docpilot/backend/internal/retrieval"
)

// Assemble greedily accepts candidates in rank order until the budget is
// exhausted. A candidate that would overflow maxTokens is skipped whole —
// never truncated mid-chunk — and assembly continues with the next one.
// Each accepted chunk is prefixed with its "[source#ordinal]" label so
// citations survive into the prompt.
func Assemble(candidates []retrieval.Candidate, maxTokens int) (string, []retrieval.Candidate) {
	if maxTokens <= 0 {
		return "", nil
	}

	var b strings.Builder
	var used []retrieval.Candidate
	budget := maxTokens

	for _, cand := range candidates {
		block := "[" + cand.Ref() + "] " + cand.Text + "\n"
		cost := blockTokens(cand, block)
		if cost > budget {
			continue
		}
		b.WriteString(block)
		used = append(used, cand)
		budget -= cost
	}

	return b.String(), used
}

func blockTokens(cand retrieval.Candidate, block string) int {
	chunkTokens := cand.TokenCount
	if chunkTokens <= 0 {
		chunkTokens = retrieval.EstimateTokens(cand.Text)
	}
	// Label and separator overhead on top of the chunk body.
	overhead := retrieval.EstimateTokens(block) - retrieval.EstimateTokens(cand.Text)
	if overhead < 0 {
		overhead = 0
	}
	return chunkTokens + overhead
}
