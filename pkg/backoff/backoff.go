// Package backoff provides exponential backoff and a context-aware retry loop.
package backoff

import (
	"context"
	"math"
	"time"
)

// Config for exponential backoff. Zero values use defaults.
type Config struct {
	Initial time.Duration // default: 100ms
	Max     time.Duration // default: 5s
}

func (c *Config) bounds() (time.Duration, time.Duration) {
	initial, maxBackoff := 100*time.Millisecond, 5*time.Second
	if c != nil {
		if c.Initial > 0 {
			initial = c.Initial
		}
		if c.Max > 0 {
			maxBackoff = c.Max
		}
	}
	return initial, maxBackoff
}

// Exponential returns the delay after a failed attempt.
// Attempt 1 returns initial, attempt 2 returns initial*2, up to the max.
func Exponential(attempt int, cfg *Config) time.Duration {
	initial, maxBackoff := cfg.bounds()
	if attempt < 1 {
		return initial
	}
	d := float64(initial) * math.Pow(2.0, float64(attempt-1))
	if d > float64(maxBackoff) {
		d = float64(maxBackoff)
	}
	return time.Duration(d)
}

// Wait sleeps for the delay after attempt, returning early with ctx's error.
func Wait(ctx context.Context, attempt int, cfg *Config) error {
	timer := time.NewTimer(Exponential(attempt, cfg))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry calls fn up to attempts times while retryable reports the returned
// error as transient, waiting between calls. It returns the last error, or
// ctx's error if cancelled while waiting. onRetry, if set, observes each retry.
func Retry(ctx context.Context, attempts int, cfg *Config, retryable func(error) bool, onRetry func(attempt int, err error), fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil || attempt >= attempts || !retryable(err) {
			return err
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		if werr := Wait(ctx, attempt, cfg); werr != nil {
			return werr
		}
	}
}
