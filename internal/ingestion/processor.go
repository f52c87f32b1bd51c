// Package ingestion turns uploaded files into indexed chunks: extract text,
// chunk with overlap, embed, and write to the vector index and the chunk
// store. The lexical index is refreshed after each document.
package ingestion

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docpilot/backend/internal/metrics"
	"github.com/docpilot/backend/internal/retrieval"
	"github.com/docpilot/backend/internal/storage/models"
	"github.com/docpilot/backend/internal/storage/sqlite"
	"github.com/docpilot/backend/internal/vector/milvus"
	"github.com/docpilot/backend/pkg/logger"
)

// BatchEmbedder embeds chunk texts in one call during indexing.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Refresher is notified after a document lands so the lexical index can
// rebuild its snapshot.
type Refresher interface {
	Refresh(ctx context.Context) error
}

type Processor struct {
	db           *sqlite.Client
	vectorDB     *milvus.Client
	embedder     BatchEmbedder
	lexical      Refresher
	chunkSize    int
	chunkOverlap int
}

func NewProcessor(db *sqlite.Client, vectorDB *milvus.Client, embedder BatchEmbedder, lexical Refresher, chunkSize, chunkOverlap int) *Processor {
	if chunkSize <= 0 {
		chunkSize = 220
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 5
	}
	return &Processor{
		db:           db,
		vectorDB:     vectorDB,
		embedder:     embedder,
		lexical:      lexical,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// ProcessDocument ingests one uploaded file. Filename decides the extractor:
// .html/.htm strip markup, everything else is treated as plain text.
func (p *Processor) ProcessDocument(ctx context.Context, filename string, content []byte) (*models.Document, error) {
	logger.Info("processing document", zap.String("source", filename))

	text, title := extract(filename, content)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("no text extracted from %s", filename)
	}

	chunkTexts := p.chunkText(text)
	if len(chunkTexts) == 0 {
		return nil, fmt.Errorf("no chunks produced from %s", filename)
	}

	embeddings, err := p.embedder.EmbedBatch(ctx, chunkTexts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(embeddings) != len(chunkTexts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(embeddings), len(chunkTexts))
	}

	doc := &models.Document{
		ID:         uuid.New().String(),
		Source:     filename,
		Title:      title,
		ChunkCount: len(chunkTexts),
		IngestedAt: time.Now().UTC(),
	}

	chunks := make([]models.Chunk, len(chunkTexts))
	vectors := make([]milvus.ChunkVector, len(chunkTexts))
	for i, chunkText := range chunkTexts {
		chunk := models.Chunk{
			ID:         fmt.Sprintf("%s:%d", doc.ID, i),
			DocumentID: doc.ID,
			Source:     filename,
			Ordinal:    i,
			Text:       chunkText,
			TokenCount: retrieval.EstimateTokens(chunkText),
			CreatedAt:  doc.IngestedAt,
		}
		chunks[i] = chunk
		vectors[i] = milvus.ChunkVector{
			ChunkID:    chunk.ID,
			DocumentID: chunk.DocumentID,
			Source:     chunk.Source,
			Ordinal:    chunk.Ordinal,
			Text:       chunk.Text,
			TokenCount: chunk.TokenCount,
			Embedding:  embeddings[i],
		}
	}

	if err := p.db.InsertDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to insert document: %w", err)
	}
	if err := p.db.InsertChunks(ctx, chunks); err != nil {
		return nil, fmt.Errorf("failed to insert chunks: %w", err)
	}
	if err := p.vectorDB.Insert(ctx, vectors); err != nil {
		return nil, fmt.Errorf("failed to insert into vector index: %w", err)
	}

	if p.lexical != nil {
		if err := p.lexical.Refresh(ctx); err != nil {
			logger.Warn("lexical index refresh failed", zap.Error(err))
		}
	}

	metrics.DocumentsIngested.Inc()
	logger.Info("document ingested",
		zap.String("document_id", doc.ID),
		zap.String("source", filename),
		zap.Int("chunks", len(chunks)),
	)
	return doc, nil
}

var whitespace = regexp.MustCompile(`\s+`)

func extract(filename string, content []byte) (text, title string) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".html", ".htm":
		return extractHTML(string(content), filename)
	default:
		return string(content), strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	}
}

func extractHTML(html, filename string) (string, string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", filename
	}

	doc.Find("script, style, nav, footer, header, aside").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	text := strings.TrimSpace(whitespace.ReplaceAllString(doc.Find("body").Text(), " "))

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	if title == "" {
		title = filename
	}
	return text, title
}

// chunkText splits on word boundaries into windows of chunkSize words, each
// window re-starting chunkOverlap words before the previous one ended.
func (p *Processor) chunkText(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	step := p.chunkSize - p.chunkOverlap
	var chunks []string
	for start := 0; start < len(words); start += step {
		end := start + p.chunkSize
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}
