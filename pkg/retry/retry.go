// Package retry provides the reconnect backoff policy.
package retry

import (
	"context"
	"time"
)

// Config holds backoff configuration.
type Config struct {
	Step    time.Duration // Unit multiplied by attempt²
	MaxWait time.Duration // Ceiling for a single wait
}

// DefaultConfig returns the relay reconnect policy: 0s, 1s, 4s, 9s, ...
// capped at ten minutes.
func DefaultConfig() Config {
	return Config{
		Step:    time.Second,
		MaxWait: 10 * time.Minute,
	}
}

// Delay returns the wait before the attempt following the given 0-indexed
// failed attempt: min(attempt² * Step, MaxWait).
func (c Config) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	// Past this point attempt² * Step may overflow.
	limit := int64(c.MaxWait / max(c.Step, 1))
	n := int64(attempt)
	if n > 1<<31 || n*n > limit {
		return c.MaxWait
	}
	wait := time.Duration(n*n) * c.Step
	if wait > c.MaxWait {
		wait = c.MaxWait
	}
	return wait
}

// Sleep waits for d or until ctx is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
