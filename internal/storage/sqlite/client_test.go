package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpilot/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	client, err := NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.InitSchema())
	return client
}

func TestDocumentAndChunkRoundTrip(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	now := time.Now().UTC()

	doc := &models.Document{
		ID:         "d1",
		Source:     "policy.md",
		Title:      "Policy",
		ChunkCount: 2,
		IngestedAt: now,
	}
	require.NoError(t, client.InsertDocument(ctx, doc))

	chunks := []models.Chunk{
		{ID: "d1:0", DocumentID: "d1", Source: "policy.md", Ordinal: 0,
			Text: "first chunk", TokenCount: 3, CreatedAt: now},
		{ID: "d1:1", DocumentID: "d1", Source: "policy.md", Ordinal: 1,
			Text: "second chunk", TokenCount: 3, CreatedAt: now},
	}
	require.NoError(t, client.InsertChunks(ctx, chunks))

	listed, err := client.ListChunks(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "d1:0", listed[0].ID)
	assert.Equal(t, 0, listed[0].Ordinal)
	assert.Equal(t, "first chunk", listed[0].Text)
	assert.Equal(t, "d1:1", listed[1].ID)
}

func TestInsertChunksEmptyIsNoop(t *testing.T) {
	client := newTestClient(t)
	require.NoError(t, client.InsertChunks(context.Background(), nil))
}

func TestInsertChunksRequiresDocument(t *testing.T) {
	client := newTestClient(t)

	err := client.InsertChunks(context.Background(), []models.Chunk{
		{ID: "x:0", DocumentID: "missing", Source: "x.md", Text: "orphan",
			TokenCount: 1, CreatedAt: time.Now()},
	})
	assert.Error(t, err, "foreign keys are enforced")
}

func TestQueryHistoryRoundTrip(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	for i, q := range []string{"first", "second"} {
		require.NoError(t, client.InsertQueryRecord(ctx, &models.QueryRecord{
			ID:        string(rune('a' + i)),
			Identity:  "alice",
			QueryText: q,
			Answer:    q + " answer",
			UsedTool:  "summarize",
			LatencyMS: 10 + i,
			CreatedAt: time.Unix(int64(1700000000+i), 0),
		}))
	}
	require.NoError(t, client.InsertQueryRecord(ctx, &models.QueryRecord{
		ID: "other", Identity: "bob", QueryText: "hidden",
		CreatedAt: time.Unix(1700000005, 0),
	}))

	records, err := client.GetQueryHistory(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	// Newest first.
	assert.Equal(t, "second", records[0].QueryText)
	assert.Equal(t, "first", records[1].QueryText)
	assert.Equal(t, "summarize", records[0].UsedTool)
	assert.False(t, records[0].CreatedAt.IsZero())
}

func TestQueryHistoryLimit(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, client.InsertQueryRecord(ctx, &models.QueryRecord{
			ID:        string(rune('a' + i)),
			Identity:  "alice",
			QueryText: "q",
			CreatedAt: time.Unix(int64(1700000000+i), 0),
		}))
	}

	records, err := client.GetQueryHistory(ctx, "alice", 3)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}
