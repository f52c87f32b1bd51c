// Package retrieval defines the per-query Candidate record and the dense and
// lexical retrievers that produce it.
package retrieval

import (
	"errors"
	"fmt"
)

// ErrUnavailable marks a retrieval backend as down or timed out. The pipeline
// treats a single unavailable backend as a degraded mode, not a hard failure.
var ErrUnavailable = errors.New("retrieval backend unavailable")

type Method string

const (
	MethodDense   Method = "dense"
	MethodLexical Method = "lexical"
)

// Candidate pairs a chunk with the method that found it and its scores.
// Score is the raw method-specific value; NormScore and Rank are set during
// fusion. Candidates live for one query only.
type Candidate struct {
	ChunkID    string
	DocumentID string
	Source     string
	Ordinal    int
	Text       string
	TokenCount int
	Methods    []Method
	Score      float64
	NormScore  float64
	Rank       int
}

func (c Candidate) HasMethod(m Method) bool {
	for _, have := range c.Methods {
		if have == m {
			return true
		}
	}
	return false
}

// Ref is the citation label preserved through context assembly, e.g.
// "policy.md#3".
func (c Candidate) Ref() string {
	return fmt.Sprintf("%s#%d", c.Source, c.Ordinal)
}

// EstimateTokens approximates the completion-model token count of text.
// Chunks carry exact counts from ingestion; this covers texts that do not.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
