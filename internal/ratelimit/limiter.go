// Package ratelimit enforces fixed-window per-identity limits, independently
// for each action kind. The backing store is pluggable: in-process memory or
// a shared redis so limits hold across replicas.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/docpilot/backend/internal/metrics"
	"github.com/docpilot/backend/pkg/logger"
)

type Action string

const (
	ActionQuery  Action = "query"
	ActionUpload Action = "upload"
)

type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Store counts hits within a fixed window. Hit must be atomic per key: it
// either admits and counts the request, or denies without counting — the
// bucket count never exceeds the limit.
type Store interface {
	Hit(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

type Limits struct {
	Query  int
	Upload int
	Window time.Duration
}

func DefaultLimits() Limits {
	return Limits{Query: 10, Upload: 1, Window: time.Hour}
}

type Limiter struct {
	store  Store
	limits Limits
}

func NewLimiter(store Store, limits Limits) *Limiter {
	if limits.Window <= 0 {
		limits.Window = time.Hour
	}
	if limits.Query <= 0 {
		limits.Query = 10
	}
	if limits.Upload <= 0 {
		limits.Upload = 1
	}
	return &Limiter{store: store, limits: limits}
}

// Admit decides whether identity may perform action within the current
// window. Store failures admit the request (a down limiter store must not
// take the API with it) and are reported as their own outcome.
func (l *Limiter) Admit(ctx context.Context, identity string, action Action) Decision {
	limit := l.limits.Query
	if action == ActionUpload {
		limit = l.limits.Upload
	}

	key := fmt.Sprintf("%s:%s", action, identity)
	decision, err := l.store.Hit(ctx, key, limit, l.limits.Window)
	if err != nil {
		logger.Warn("rate limit store error, admitting request",
			zap.String("action", string(action)),
			zap.Error(err),
		)
		metrics.RateLimitDecisions.WithLabelValues(string(action), "error").Inc()
		return Decision{Allowed: true, Remaining: limit}
	}

	outcome := "allowed"
	if !decision.Allowed {
		outcome = "denied"
	}
	metrics.RateLimitDecisions.WithLabelValues(string(action), outcome).Inc()

	return decision
}
