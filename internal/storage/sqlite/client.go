package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/docpilot/backend/internal/storage/models"
	"github.com/docpilot/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("sqlite client initialized", zap.String("path", dbPath))
	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		title TEXT,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		ingested_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_source ON documents(source);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		source TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		text TEXT NOT NULL,
		token_count INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);

	CREATE TABLE IF NOT EXISTS query_history (
		id TEXT PRIMARY KEY,
		identity TEXT,
		query_text TEXT NOT NULL,
		answer TEXT,
		used_tool TEXT,
		dense_count INTEGER,
		lexical_count INTEGER,
		used_count INTEGER,
		prompt_tokens INTEGER,
		completion_tokens INTEGER,
		degraded TEXT,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_query_identity ON query_history(identity);
	CREATE INDEX IF NOT EXISTS idx_query_created ON query_history(created_at);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

func (c *Client) InsertDocument(ctx context.Context, doc *models.Document) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO documents (id, source, title, chunk_count, ingested_at)
		 VALUES (?, ?, ?, ?, ?)`,
		doc.ID, doc.Source, doc.Title, doc.ChunkCount, doc.IngestedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

func (c *Client) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, document_id, source, ordinal, text, token_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		if _, err := stmt.ExecContext(ctx,
			chunk.ID, chunk.DocumentID, chunk.Source, chunk.Ordinal,
			chunk.Text, chunk.TokenCount, chunk.CreatedAt.Unix(),
		); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", chunk.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunks: %w", err)
	}
	return nil
}

// ListChunks returns the full chunk snapshot ordered by document and
// ordinal, used to build the lexical index.
func (c *Client) ListChunks(ctx context.Context) ([]models.Chunk, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, document_id, source, ordinal, text, token_count
		 FROM chunks ORDER BY document_id, ordinal`)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		var chunk models.Chunk
		if err := rows.Scan(
			&chunk.ID, &chunk.DocumentID, &chunk.Source,
			&chunk.Ordinal, &chunk.Text, &chunk.TokenCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

func (c *Client) InsertQueryRecord(ctx context.Context, record *models.QueryRecord) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO query_history
		 (id, identity, query_text, answer, used_tool, dense_count, lexical_count,
		  used_count, prompt_tokens, completion_tokens, degraded, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.Identity, record.QueryText, record.Answer, record.UsedTool,
		record.DenseCount, record.LexicalCount, record.UsedCount,
		record.PromptTokens, record.CompletionTokens, record.Degraded,
		record.LatencyMS, record.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert query record: %w", err)
	}
	return nil
}

func (c *Client) GetQueryHistory(ctx context.Context, identity string, limit int) ([]models.QueryRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, identity, query_text, answer, used_tool, latency_ms, created_at
		 FROM query_history WHERE identity = ?
		 ORDER BY created_at DESC LIMIT ?`,
		identity, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []models.QueryRecord
	for rows.Next() {
		var record models.QueryRecord
		var createdAt int64
		if err := rows.Scan(
			&record.ID, &record.Identity, &record.QueryText,
			&record.Answer, &record.UsedTool, &record.LatencyMS, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan query record: %w", err)
		}
		record.CreatedAt = time.Unix(createdAt, 0).UTC()
		records = append(records, record)
	}
	return records, rows.Err()
}
