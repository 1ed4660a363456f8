// Package extcall wraps calls to external systems (OS task scheduler,
// registry) with rate limiting and bounded retry.
package extcall

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/macrokit/macrokit/errors"
)

// Caller applies a shared rate limit and a bounded exponential-backoff retry
// to external-system calls. Validation and conflict failures are returned
// immediately; only transient failures are retried.
type Caller struct {
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
}

// New creates a Caller. ratePerSecond <= 0 disables rate limiting.
func New(ratePerSecond float64, maxRetries int, backoff time.Duration) *Caller {
	var limiter *rate.Limiter
	if ratePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), 1)
	}
	if maxRetries < 1 {
		maxRetries = 1
	}
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &Caller{limiter: limiter, maxRetries: maxRetries, backoff: backoff}
}

// Do invokes fn, retrying transient failures with exponential backoff.
// The final failure is wrapped as an external-sync error.
func (c *Caller) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return errors.Wrapf(errors.ErrExternalSync, "cancelled during retry: %v", ctx.Err())
			case <-time.After(delay):
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return errors.Wrapf(errors.ErrExternalSync, "rate limiter: %v", err)
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !errors.IsRetryable(err) {
			return err
		}
		lastErr = err
	}

	return errors.Wrapf(errors.ErrExternalSync, "gave up after %d attempts: %v", c.maxRetries, lastErr)
}
