// Package circuitbreaker guards an external dependency with a
// consecutive-failure breaker: after Threshold failures in a row the breaker
// opens and rejects calls until Cooldown elapses, then lets one probe call
// through.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrOpen = errors.New("circuit breaker is open")

type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	logger    *zap.Logger

	mu       sync.Mutex
	failures int
	openedAt time.Time
}

func New(name string, threshold int, cooldown time.Duration, logger *zap.Logger) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		logger:    logger,
	}
}

func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := fn()
	b.record(err == nil)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures < b.threshold {
		return nil
	}
	if time.Since(b.openedAt) < b.cooldown {
		return ErrOpen
	}
	// Half-open: let one probe through. A failure re-opens with a fresh
	// cooldown, a success closes.
	b.openedAt = time.Now()
	return nil
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		if b.failures >= b.threshold {
			b.logger.Info("circuit breaker closed", zap.String("name", b.name))
		}
		b.failures = 0
		return
	}

	b.failures++
	if b.failures == b.threshold {
		b.openedAt = time.Now()
		b.logger.Warn("circuit breaker opened",
			zap.String("name", b.name),
			zap.Int("failures", b.failures),
		)
	}
}
