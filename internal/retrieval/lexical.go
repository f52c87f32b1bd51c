package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/docpilot/backend/internal/storage/models"
	"github.com/docpilot/backend/pkg/logger"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// ChunkSource supplies the corpus snapshot the lexical index is built from.
type ChunkSource interface {
	ListChunks(ctx context.Context) ([]models.Chunk, error)
}

// LexicalRetriever scores chunks with BM25 over an in-memory inverted index.
// The index is a snapshot: Retrieve is deterministic until the next Refresh.
type LexicalRetriever struct {
	source ChunkSource

	mu    sync.RWMutex
	index *bm25Index
}

func NewLexicalRetriever(source ChunkSource) *LexicalRetriever {
	return &LexicalRetriever{source: source}
}

// Refresh rebuilds the index from the chunk store. Called at startup and
// after each ingest.
func (r *LexicalRetriever) Refresh(ctx context.Context) error {
	chunks, err := r.source.ListChunks(ctx)
	if err != nil {
		return fmt.Errorf("%w: load chunk snapshot: %v", ErrUnavailable, err)
	}

	idx := newBM25Index(chunks)

	r.mu.Lock()
	r.index = idx
	r.mu.Unlock()

	logger.Info("lexical index refreshed",
		zap.Int("chunks", len(chunks)),
		zap.Int("terms", len(idx.docFreq)),
	)
	return nil
}

// Retrieve ranks the indexed chunks by BM25 relevance to the query. Ties
// break by chunk id so output is stable for identical inputs.
func (r *LexicalRetriever) Retrieve(ctx context.Context, query string, k int) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	r.mu.RLock()
	idx := r.index
	r.mu.RUnlock()

	if idx == nil {
		return nil, fmt.Errorf("%w: lexical index not built", ErrUnavailable)
	}

	return idx.search(query, k), nil
}

type indexedChunk struct {
	chunk models.Chunk
	terms map[string]int
	len   int
}

type bm25Index struct {
	chunks  []indexedChunk
	docFreq map[string]int
	avgLen  float64
}

func newBM25Index(chunks []models.Chunk) *bm25Index {
	idx := &bm25Index{docFreq: make(map[string]int)}

	var totalLen int
	for _, chunk := range chunks {
		tokens := tokenize(chunk.Text)
		terms := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			terms[tok]++
		}
		for term := range terms {
			idx.docFreq[term]++
		}
		totalLen += len(tokens)
		idx.chunks = append(idx.chunks, indexedChunk{
			chunk: chunk,
			terms: terms,
			len:   len(tokens),
		})
	}
	if len(idx.chunks) > 0 {
		idx.avgLen = float64(totalLen) / float64(len(idx.chunks))
	}
	return idx
}

func (idx *bm25Index) search(query string, k int) []Candidate {
	queryTerms := tokenize(query)
	if len(queryTerms) == 0 || len(idx.chunks) == 0 {
		return nil
	}

	n := float64(len(idx.chunks))
	scored := make([]Candidate, 0, len(idx.chunks))
	for _, doc := range idx.chunks {
		var score float64
		for _, term := range queryTerms {
			tf := float64(doc.terms[term])
			if tf == 0 {
				continue
			}
			df := float64(idx.docFreq[term])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			norm := bm25K1 * (1 - bm25B + bm25B*float64(doc.len)/idx.avgLen)
			score += idf * tf * (bm25K1 + 1) / (tf + norm)
		}
		if score <= 0 {
			continue
		}
		scored = append(scored, Candidate{
			ChunkID:    doc.chunk.ID,
			DocumentID: doc.chunk.DocumentID,
			Source:     doc.chunk.Source,
			Ordinal:    doc.chunk.Ordinal,
			Text:       doc.chunk.Text,
			TokenCount: doc.chunk.TokenCount,
			Methods:    []Method{MethodLexical},
			Score:      score,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ChunkID < scored[j].ChunkID
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

// tokenize lowercases and splits with prose; it falls back to whitespace
// splitting if the tokenizer rejects the input.
func tokenize(text string) []string {
	doc, err := prose.NewDocument(text,
		prose.WithSegmentation(false),
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return strings.Fields(strings.ToLower(text))
	}

	tokens := doc.Tokens()
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		term := strings.ToLower(strings.TrimSpace(tok.Text))
		if term == "" || isPunct(term) {
			continue
		}
		out = append(out, term)
	}
	return out
}

func isPunct(s string) bool {
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r > 127 {
			return false
		}
	}
	return true
}
