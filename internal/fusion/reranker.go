package fusion

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/docpilot/backend/internal/retrieval"
)

// ErrRerankUnavailable marks a failed or timed-out rerank pass. Callers fall
// back to the fused order rather than failing the query.
var ErrRerankUnavailable = errors.New("rerank unavailable")

// Reranker reorders fused candidates with a second relevance judgment
// between the raw query and each candidate's text.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []retrieval.Candidate) ([]retrieval.Candidate, error)
}

// BatchEmbedder embeds several texts in one call.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbeddingReranker scores query/candidate pairs by embedding cosine
// similarity. Only the top pool candidates get the expensive pass; the tail
// keeps its fused order behind them.
type EmbeddingReranker struct {
	embedder BatchEmbedder
	pool     int
	timeout  time.Duration
}

func NewEmbeddingReranker(embedder BatchEmbedder, pool int, timeout time.Duration) *EmbeddingReranker {
	if pool <= 0 {
		pool = 20
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &EmbeddingReranker{embedder: embedder, pool: pool, timeout: timeout}
}

func (r *EmbeddingReranker) Rerank(ctx context.Context, query string, candidates []retrieval.Candidate) ([]retrieval.Candidate, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	head := candidates
	var tail []retrieval.Candidate
	if len(candidates) > r.pool {
		head = candidates[:r.pool]
		tail = candidates[r.pool:]
	}

	texts := make([]string, 0, len(head)+1)
	texts = append(texts, query)
	for _, cand := range head {
		texts = append(texts, cand.Text)
	}

	vectors, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRerankUnavailable, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: embedder returned %d vectors for %d texts", ErrRerankUnavailable, len(vectors), len(texts))
	}

	queryVec := vectors[0]
	type scored struct {
		cand  retrieval.Candidate
		score float64
	}
	rescored := make([]scored, len(head))
	for i, cand := range head {
		rescored[i] = scored{cand: cand, score: cosine(queryVec, vectors[i+1])}
	}

	// Stable by fused rank, then chunk id, so equal scores keep a
	// deterministic order.
	sort.SliceStable(rescored, func(i, j int) bool {
		if rescored[i].score != rescored[j].score {
			return rescored[i].score > rescored[j].score
		}
		if rescored[i].cand.Rank != rescored[j].cand.Rank {
			return rescored[i].cand.Rank < rescored[j].cand.Rank
		}
		return rescored[i].cand.ChunkID < rescored[j].cand.ChunkID
	})

	out := make([]retrieval.Candidate, 0, len(candidates))
	for i, s := range rescored {
		s.cand.NormScore = s.score
		s.cand.Rank = i
		out = append(out, s.cand)
	}
	for i, cand := range tail {
		cand.Rank = len(rescored) + i
		out = append(out, cand)
	}
	return out, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
