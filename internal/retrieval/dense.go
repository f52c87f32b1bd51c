package retrieval

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/docpilot/backend/pkg/logger"
	"github.com/docpilot/backend/pkg/utils"
)

// Embedder turns text into a fixed-length vector via the external embedding
// capability.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorHit is one row returned by the vector index for a similarity search.
type VectorHit struct {
	ChunkID    string
	DocumentID string
	Source     string
	Ordinal    int
	Text       string
	TokenCount int
	Score      float32
}

// VectorIndex is the external similarity index, addressed by embedding.
type VectorIndex interface {
	Search(ctx context.Context, vector []float32, k int) ([]VectorHit, error)
}

// EmbeddingCache is an optional shared cache for query embeddings, keyed by
// text hash.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error
}

type DenseRetriever struct {
	embedder Embedder
	index    VectorIndex
	cache    EmbeddingCache
	timeout  time.Duration
}

func NewDenseRetriever(embedder Embedder, index VectorIndex, cache EmbeddingCache, timeout time.Duration) *DenseRetriever {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DenseRetriever{
		embedder: embedder,
		index:    index,
		cache:    cache,
		timeout:  timeout,
	}
}

// Retrieve embeds the query and runs a top-k similarity search. Hits are
// returned in descending similarity order. Embedding or index failures wrap
// ErrUnavailable; a hit without a chunk identifier is a backend error too,
// never silently dropped.
func (r *DenseRetriever) Retrieve(ctx context.Context, query string, k int) ([]Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	vector, err := r.embedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", ErrUnavailable, err)
	}

	hits, err := r.index.Search(ctx, vector, k)
	if err != nil {
		return nil, fmt.Errorf("%w: vector search: %v", ErrUnavailable, err)
	}

	candidates := make([]Candidate, 0, len(hits))
	for _, hit := range hits {
		if hit.ChunkID == "" {
			return nil, fmt.Errorf("%w: vector index returned a hit with no chunk id", ErrUnavailable)
		}
		candidates = append(candidates, Candidate{
			ChunkID:    hit.ChunkID,
			DocumentID: hit.DocumentID,
			Source:     hit.Source,
			Ordinal:    hit.Ordinal,
			Text:       hit.Text,
			TokenCount: hit.TokenCount,
			Methods:    []Method{MethodDense},
			Score:      float64(hit.Score),
		})
	}

	logger.Debug("dense retrieval completed",
		zap.Int("k", k),
		zap.Int("hits", len(candidates)),
	)

	return candidates, nil
}

func (r *DenseRetriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if r.cache == nil {
		return r.embedder.Embed(ctx, query)
	}

	key := utils.HashString(query)
	if cached, ok, err := r.cache.GetEmbedding(ctx, key); err == nil && ok {
		return cached, nil
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	if err := r.cache.SetEmbedding(ctx, key, vector, time.Hour); err != nil {
		logger.Warn("failed to cache query embedding", zap.Error(err))
	}
	return vector, nil
}
