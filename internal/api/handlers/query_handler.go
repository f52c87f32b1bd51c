package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/docpilot/backend/internal/generation"
	"github.com/docpilot/backend/internal/metrics"
	"github.com/docpilot/backend/internal/middleware/identity"
	"github.com/docpilot/backend/internal/pipeline"
	"github.com/docpilot/backend/internal/ratelimit"
	"github.com/docpilot/backend/internal/retrieval"
	"github.com/docpilot/backend/internal/storage/models"
	"github.com/docpilot/backend/pkg/logger"
)

// QueryEngine is the pipeline surface the handler depends on.
type QueryEngine interface {
	Execute(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// HistoryReader serves the per-identity query history endpoint.
type HistoryReader interface {
	GetQueryHistory(ctx context.Context, identity string, limit int) ([]models.QueryRecord, error)
}

type QueryHandler struct {
	engine  QueryEngine
	limiter *ratelimit.Limiter
	history HistoryReader
}

func NewQueryHandler(engine QueryEngine, limiter *ratelimit.Limiter, history HistoryReader) *QueryHandler {
	return &QueryHandler{
		engine:  engine,
		limiter: limiter,
		history: history,
	}
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	metrics.RequestsTotal.WithLabelValues("query").Inc()

	var req struct {
		Query string `json:"query"`
		K     int    `json:"k"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "query is required",
		})
	}

	caller := identity.From(c)

	decision := h.limiter.Admit(c.Context(), caller, ratelimit.ActionQuery)
	if !decision.Allowed {
		c.Set("Retry-After", fmt.Sprintf("%d", int(decision.RetryAfter.Seconds())))
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error":       "query rate limit exceeded",
			"retry_after": int(decision.RetryAfter.Seconds()),
		})
	}

	result, err := h.engine.Execute(c.Context(), pipeline.Request{
		Query:    req.Query,
		K:        req.K,
		Identity: caller,
	})
	if err != nil {
		logger.Error("query failed", zap.Error(err))
		if errors.Is(err, retrieval.ErrUnavailable) || errors.Is(err, generation.ErrUnavailable) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "service temporarily unavailable",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to process query",
		})
	}

	return c.JSON(result)
}

func (h *QueryHandler) GetQueryHistory(c *fiber.Ctx) error {
	metrics.RequestsTotal.WithLabelValues("history").Inc()

	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	records, err := h.history.GetQueryHistory(c.Context(), identity.From(c), limit)
	if err != nil {
		logger.Error("history lookup failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load query history",
		})
	}

	history := make([]fiber.Map, 0, len(records))
	for _, rec := range records {
		history = append(history, fiber.Map{
			"id":         rec.ID,
			"query":      rec.QueryText,
			"answer":     rec.Answer,
			"used_tool":  rec.UsedTool,
			"latency_ms": rec.LatencyMS,
			"created_at": rec.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{"history": history})
}
