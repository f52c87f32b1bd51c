package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (s *stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	s.calls++
	return s.vector, s.err
}

type stubIndex struct {
	hits []VectorHit
	err  error
}

func (s *stubIndex) Search(context.Context, []float32, int) ([]VectorHit, error) {
	return s.hits, s.err
}

type mapCache struct {
	entries map[string][]float32
	sets    int
}

func (m *mapCache) GetEmbedding(_ context.Context, key string) ([]float32, bool, error) {
	vec, ok := m.entries[key]
	return vec, ok, nil
}

func (m *mapCache) SetEmbedding(_ context.Context, key string, vec []float32, _ time.Duration) error {
	m.entries[key] = vec
	m.sets++
	return nil
}

func TestDenseRetrieveMapsHits(t *testing.T) {
	index := &stubIndex{hits: []VectorHit{
		{ChunkID: "c1", DocumentID: "d1", Source: "a.md", Ordinal: 0, Text: "alpha", TokenCount: 2, Score: 0.93},
		{ChunkID: "c2", DocumentID: "d1", Source: "a.md", Ordinal: 1, Text: "beta", TokenCount: 2, Score: 0.71},
	}}
	r := NewDenseRetriever(&stubEmbedder{vector: []float32{1, 0}}, index, nil, time.Second)

	cands, err := r.Retrieve(context.Background(), "q", 2)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, "c1", cands[0].ChunkID)
	assert.Equal(t, []Method{MethodDense}, cands[0].Methods)
	assert.InDelta(t, 0.93, cands[0].Score, 1e-6)
}

func TestDenseRetrieveEmbedFailure(t *testing.T) {
	r := NewDenseRetriever(&stubEmbedder{err: errors.New("embedding down")}, &stubIndex{}, nil, time.Second)

	_, err := r.Retrieve(context.Background(), "q", 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestDenseRetrieveSearchFailure(t *testing.T) {
	r := NewDenseRetriever(&stubEmbedder{vector: []float32{1}}, &stubIndex{err: errors.New("index down")}, nil, time.Second)

	_, err := r.Retrieve(context.Background(), "q", 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestDenseRetrieveDanglingHitIsBackendError(t *testing.T) {
	index := &stubIndex{hits: []VectorHit{{ChunkID: "", Text: "orphan"}}}
	r := NewDenseRetriever(&stubEmbedder{vector: []float32{1}}, index, nil, time.Second)

	_, err := r.Retrieve(context.Background(), "q", 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestDenseRetrieveUsesEmbeddingCache(t *testing.T) {
	embedder := &stubEmbedder{vector: []float32{1, 2}}
	cache := &mapCache{entries: map[string][]float32{}}
	r := NewDenseRetriever(embedder, &stubIndex{}, cache, time.Second)

	_, err := r.Retrieve(context.Background(), "same query", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, embedder.calls)
	assert.Equal(t, 1, cache.sets)

	_, err = r.Retrieve(context.Background(), "same query", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, embedder.calls, "second retrieval must hit the cache")
}
