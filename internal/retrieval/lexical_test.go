package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpilot/backend/internal/storage/models"
)

type stubChunkSource struct {
	chunks []models.Chunk
	err    error
}

func (s *stubChunkSource) ListChunks(context.Context) ([]models.Chunk, error) {
	return s.chunks, s.err
}

func corpus() []models.Chunk {
	return []models.Chunk{
		{ID: "c1", DocumentID: "d1", Source: "policy.md", Ordinal: 0,
			Text: "Data retention lasts ninety days for customer records."},
		{ID: "c2", DocumentID: "d1", Source: "policy.md", Ordinal: 1,
			Text: "Deletion requests are approved by the security team."},
		{ID: "c3", DocumentID: "d2", Source: "handbook.md", Ordinal: 0,
			Text: "The handbook covers onboarding and equipment requests."},
	}
}

func TestLexicalRetrieveRanksByRelevance(t *testing.T) {
	r := NewLexicalRetriever(&stubChunkSource{chunks: corpus()})
	require.NoError(t, r.Refresh(context.Background()))

	cands, err := r.Retrieve(context.Background(), "how long is data retention", 5)
	require.NoError(t, err)
	require.NotEmpty(t, cands)
	assert.Equal(t, "c1", cands[0].ChunkID)
	assert.Equal(t, []Method{MethodLexical}, cands[0].Methods)
	assert.Greater(t, cands[0].Score, 0.0)
}

func TestLexicalRetrieveHonorsK(t *testing.T) {
	r := NewLexicalRetriever(&stubChunkSource{chunks: corpus()})
	require.NoError(t, r.Refresh(context.Background()))

	cands, err := r.Retrieve(context.Background(), "requests", 1)
	require.NoError(t, err)
	assert.Len(t, cands, 1)
}

func TestLexicalRetrieveNoMatches(t *testing.T) {
	r := NewLexicalRetriever(&stubChunkSource{chunks: corpus()})
	require.NoError(t, r.Refresh(context.Background()))

	cands, err := r.Retrieve(context.Background(), "zebra xylophone", 5)
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestLexicalRetrieveBeforeRefreshIsUnavailable(t *testing.T) {
	r := NewLexicalRetriever(&stubChunkSource{chunks: corpus()})

	_, err := r.Retrieve(context.Background(), "retention", 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestLexicalRefreshSourceFailure(t *testing.T) {
	r := NewLexicalRetriever(&stubChunkSource{err: errors.New("db closed")})

	err := r.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestLexicalRefreshSwapsSnapshot(t *testing.T) {
	source := &stubChunkSource{chunks: corpus()[:1]}
	r := NewLexicalRetriever(source)
	require.NoError(t, r.Refresh(context.Background()))

	cands, err := r.Retrieve(context.Background(), "security team deletion", 5)
	require.NoError(t, err)
	assert.Empty(t, cands)

	source.chunks = corpus()
	require.NoError(t, r.Refresh(context.Background()))

	cands, err = r.Retrieve(context.Background(), "security team deletion", 5)
	require.NoError(t, err)
	require.NotEmpty(t, cands)
	assert.Equal(t, "c2", cands[0].ChunkID)
}

func TestLexicalDeterministicTieBreak(t *testing.T) {
	chunks := []models.Chunk{
		{ID: "b", DocumentID: "d", Source: "s.md", Ordinal: 1, Text: "identical words here"},
		{ID: "a", DocumentID: "d", Source: "s.md", Ordinal: 0, Text: "identical words here"},
	}
	r := NewLexicalRetriever(&stubChunkSource{chunks: chunks})
	require.NoError(t, r.Refresh(context.Background()))

	for i := 0; i < 5; i++ {
		cands, err := r.Retrieve(context.Background(), "identical words", 5)
		require.NoError(t, err)
		require.Len(t, cands, 2)
		assert.Equal(t, "a", cands[0].ChunkID)
		assert.Equal(t, "b", cands[1].ChunkID)
	}
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("ab"))
	assert.Equal(t, 3, EstimateTokens("twelve chars"))
}

func TestCandidateRef(t *testing.T) {
	c := Candidate{Source: "policy.md", Ordinal: 3}
	assert.Equal(t, "policy.md#3", c.Ref())
}
