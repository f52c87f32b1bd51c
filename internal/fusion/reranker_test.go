package fusion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpilot/backend/internal/retrieval"
)

type stubEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   int
}

func (s *stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, ok := s.vectors[text]
		if !ok {
			vec = []float32{0, 0, 1}
		}
		out[i] = vec
	}
	return out, nil
}

func TestRerankReordersBySimilarity(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"the query":   {1, 0, 0},
		"text for c1": {0, 1, 0}, // orthogonal
		"text for c2": {1, 0.1, 0},
	}}
	reranker := NewEmbeddingReranker(embedder, 20, time.Second)

	candidates := []retrieval.Candidate{cand("c1", 0.9), cand("c2", 0.5)}
	candidates[0].Rank, candidates[1].Rank = 0, 1

	out, err := reranker.Rerank(context.Background(), "the query", candidates)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "c2", out[0].ChunkID)
	assert.Equal(t, "c1", out[1].ChunkID)
	assert.Equal(t, 0, out[0].Rank)
}

func TestRerankOnlyHeadPoolIsRescored(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{}}
	reranker := NewEmbeddingReranker(embedder, 2, time.Second)

	candidates := []retrieval.Candidate{cand("c1", 0.9), cand("c2", 0.8), cand("c3", 0.7)}
	for i := range candidates {
		candidates[i].Rank = i
	}

	out, err := reranker.Rerank(context.Background(), "q", candidates)
	require.NoError(t, err)
	require.Len(t, out, 3)
	// Tail keeps its fused position behind the rescored head.
	assert.Equal(t, "c3", out[2].ChunkID)
	assert.Equal(t, 2, out[2].Rank)
}

func TestRerankFailureSurfacesErrRerankUnavailable(t *testing.T) {
	embedder := &stubEmbedder{err: errors.New("embedding backend down")}
	reranker := NewEmbeddingReranker(embedder, 20, time.Second)

	_, err := reranker.Rerank(context.Background(), "q", []retrieval.Candidate{cand("c1", 0.9)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRerankUnavailable)
}

func TestRerankEmptyInputSkipsEmbedder(t *testing.T) {
	embedder := &stubEmbedder{}
	reranker := NewEmbeddingReranker(embedder, 20, time.Second)

	out, err := reranker.Rerank(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Zero(t, embedder.calls)
}
