// Package milvus adapts the Milvus vector index to the retrieval layer.
package milvus

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/docpilot/backend/internal/retrieval"
	"github.com/docpilot/backend/pkg/logger"
)

type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

// ChunkVector is one chunk embedding plus the metadata needed to map a hit
// back to its chunk without a second lookup.
type ChunkVector struct {
	ChunkID    string
	DocumentID string
	Source     string
	Ordinal    int
	Text       string
	TokenCount int
	Embedding  []float32
}

func NewClient(ctx context.Context, endpoint, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewGrpcClient(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

func (m *Client) EnsureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if has {
		return nil
	}

	schema := &entity.Schema{
		CollectionName: m.collectionName,
		Description:    "document chunk embeddings",
		Fields: []*entity.Field{
			{
				Name:       "chunk_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", m.vectorDim),
				},
			},
			{
				Name:       "document_id",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       "source",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "512"},
			},
			{
				Name:     "ordinal",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:       "text",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "8192"},
			},
			{
				Name:     "token_count",
				DataType: entity.FieldTypeInt64,
			},
		},
	}

	if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.IP, 1024)
	if err != nil {
		return fmt.Errorf("failed to build index spec: %w", err)
	}
	if err := m.client.CreateIndex(ctx, m.collectionName, "embedding", idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	if err := m.client.LoadCollection(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("collection created and loaded", zap.String("collection", m.collectionName))
	return nil
}

func (m *Client) Insert(ctx context.Context, chunks []ChunkVector) error {
	if len(chunks) == 0 {
		return nil
	}

	chunkIDs := make([]string, len(chunks))
	embeddings := make([][]float32, len(chunks))
	docIDs := make([]string, len(chunks))
	sources := make([]string, len(chunks))
	ordinals := make([]int64, len(chunks))
	texts := make([]string, len(chunks))
	tokenCounts := make([]int64, len(chunks))

	for i, chunk := range chunks {
		chunkIDs[i] = chunk.ChunkID
		embeddings[i] = chunk.Embedding
		docIDs[i] = chunk.DocumentID
		sources[i] = chunk.Source
		ordinals[i] = int64(chunk.Ordinal)
		texts[i] = chunk.Text
		tokenCounts[i] = int64(chunk.TokenCount)
	}

	_, err := m.client.Insert(
		ctx,
		m.collectionName,
		"",
		entity.NewColumnVarChar("chunk_id", chunkIDs),
		entity.NewColumnFloatVector("embedding", m.vectorDim, embeddings),
		entity.NewColumnVarChar("document_id", docIDs),
		entity.NewColumnVarChar("source", sources),
		entity.NewColumnInt64("ordinal", ordinals),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnInt64("token_count", tokenCounts),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	if err := m.client.Flush(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("chunks inserted into vector index", zap.Int("count", len(chunks)))
	return nil
}

// Search returns the top-k hits by inner-product similarity, highest first.
func (m *Client) Search(ctx context.Context, vector []float32, k int) ([]retrieval.VectorHit, error) {
	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	searchResult, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{},
		"",
		[]string{"chunk_id", "document_id", "source", "ordinal", "text", "token_count"},
		[]entity.Vector{entity.FloatVector(vector)},
		"embedding",
		entity.IP,
		k,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	var hits []retrieval.VectorHit
	for _, sr := range searchResult {
		chunkIDCol := sr.Fields.GetColumn("chunk_id")
		docIDCol := sr.Fields.GetColumn("document_id")
		sourceCol := sr.Fields.GetColumn("source")
		ordinalCol := sr.Fields.GetColumn("ordinal")
		textCol := sr.Fields.GetColumn("text")
		tokenCol := sr.Fields.GetColumn("token_count")

		for i := 0; i < sr.ResultCount; i++ {
			chunkID, _ := chunkIDCol.GetAsString(i)
			docID, _ := docIDCol.GetAsString(i)
			source, _ := sourceCol.GetAsString(i)
			ordinal, _ := ordinalCol.GetAsInt64(i)
			text, _ := textCol.GetAsString(i)
			tokenCount, _ := tokenCol.GetAsInt64(i)

			hits = append(hits, retrieval.VectorHit{
				ChunkID:    chunkID,
				DocumentID: docID,
				Source:     source,
				Ordinal:    int(ordinal),
				Text:       text,
				TokenCount: int(tokenCount),
				Score:      sr.Scores[i],
			})
		}
	}

	logger.Debug("vector search completed",
		zap.Int("k", k),
		zap.Int("hits", len(hits)),
	)
	return hits, nil
}
