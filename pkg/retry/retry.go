// Package retry provides bounded retry with exponential backoff. Every
// caller must cap attempts; unbounded retries are not supported.
package retry

import (
	"context"
	"math/rand"
	"time"
)

type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
	}
}

func (c Config) normalized() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 200 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Second
	}
	return c
}

// Do runs operation up to cfg.MaxAttempts times, doubling the delay between
// attempts with a small jitter. It returns the last error, or ctx.Err if the
// context ends first.
func Do(ctx context.Context, cfg Config, operation func() error) error {
	cfg = cfg.normalized()

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = operation()
		if lastErr == nil {
			return nil
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter(delay)):
		}

		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return lastErr
}

// DoWithResult is Do for operations that produce a value.
func DoWithResult[T any](ctx context.Context, cfg Config, operation func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var opErr error
		result, opErr = operation()
		return opErr
	})
	return result, err
}

func jitter(d time.Duration) time.Duration {
	// +/- 10%
	offset := time.Duration(rand.Int63n(int64(d)/5+1)) - d/10
	return d + offset
}
