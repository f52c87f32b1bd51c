package models

import "time"

// Document is an ingested source unit. The query pipeline only reads it by
// reference; ingestion owns its lifecycle.
type Document struct {
	ID         string
	Source     string
	Title      string
	ChunkCount int
	IngestedAt time.Time
}

// Chunk is the retrievable unit of text. Immutable after creation.
type Chunk struct {
	ID         string
	DocumentID string
	Source     string
	Ordinal    int
	Text       string
	TokenCount int
	CreatedAt  time.Time
}

// QueryRecord is the per-query history row persisted after a response.
type QueryRecord struct {
	ID               string
	Identity         string
	QueryText        string
	Answer           string
	UsedTool         string
	DenseCount       int
	LexicalCount     int
	UsedCount        int
	PromptTokens     int
	CompletionTokens int
	Degraded         string
	LatencyMS        int
	CreatedAt        time.Time
}
