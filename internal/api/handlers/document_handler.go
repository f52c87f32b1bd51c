package handlers

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/docpilot/backend/internal/metrics"
	"github.com/docpilot/backend/internal/middleware/identity"
	"github.com/docpilot/backend/internal/ratelimit"
	"github.com/docpilot/backend/internal/storage/models"
	"github.com/docpilot/backend/pkg/logger"
)

// Ingester is the ingestion surface the handler depends on.
type Ingester interface {
	ProcessDocument(ctx context.Context, filename string, content []byte) (*models.Document, error)
}

var allowedExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".html": true,
	".htm":  true,
}

type DocumentHandler struct {
	processor Ingester
	limiter   *ratelimit.Limiter
	maxBytes  int
}

func NewDocumentHandler(processor Ingester, limiter *ratelimit.Limiter, maxBytes int) *DocumentHandler {
	if maxBytes <= 0 {
		maxBytes = 5 << 20
	}
	return &DocumentHandler{
		processor: processor,
		limiter:   limiter,
		maxBytes:  maxBytes,
	}
}

func (h *DocumentHandler) UploadDocument(c *fiber.Ctx) error {
	metrics.RequestsTotal.WithLabelValues("upload").Inc()

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "file is required",
		})
	}

	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	if !allowedExtensions[ext] {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("unsupported file type %q, expected .txt, .md or .html", ext),
		})
	}
	if fileHeader.Size > int64(h.maxBytes) {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
			"error": fmt.Sprintf("file exceeds %d byte limit", h.maxBytes),
		})
	}

	decision := h.limiter.Admit(c.Context(), identity.From(c), ratelimit.ActionUpload)
	if !decision.Allowed {
		c.Set("Retry-After", fmt.Sprintf("%d", int(decision.RetryAfter.Seconds())))
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error":       "upload rate limit exceeded",
			"retry_after": int(decision.RetryAfter.Seconds()),
		})
	}

	file, err := fileHeader.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "failed to open uploaded file",
		})
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, int64(h.maxBytes)+1))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "failed to read uploaded file",
		})
	}
	if len(content) > h.maxBytes {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
			"error": fmt.Sprintf("file exceeds %d byte limit", h.maxBytes),
		})
	}

	doc, err := h.processor.ProcessDocument(c.Context(), fileHeader.Filename, content)
	if err != nil {
		logger.Error("document ingestion failed",
			zap.String("source", fileHeader.Filename), zap.Error(err))
		metrics.ErrorsTotal.WithLabelValues("ingest").Inc()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to process document",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"document_id": doc.ID,
		"source":      doc.Source,
		"title":       doc.Title,
		"chunks":      doc.ChunkCount,
	})
}
