package execution

import (
	"context"
	"math"
	"math/rand"
	"time"

	"okx-trader/internal/errors"
)

// RetryPolicy decides whether and when a failed exchange call is retried.
// Only errors whose class is retryable (network, timeout, rate limit,
// server) get another attempt; validation, rejection and auth failures
// fail immediately.
type RetryPolicy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	BackoffFactor  float64
	JitterFraction float64

	// sleep is swapped out by tests to observe the backoff schedule.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy builds a policy from execution configuration.
func NewRetryPolicy(maxAttempts int, baseDelay time.Duration, backoffFactor, jitterFraction float64) RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if backoffFactor < 1 {
		backoffFactor = 2
	}
	return RetryPolicy{
		MaxAttempts:    maxAttempts,
		BaseDelay:      baseDelay,
		MaxDelay:       30 * time.Second,
		BackoffFactor:  backoffFactor,
		JitterFraction: jitterFraction,
		sleep:          sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Delay returns the backoff before the given retry (attempt is zero-based:
// Delay(0) precedes the second try). Jitter spreads simultaneous retries
// apart without ever shortening the base schedule.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(p.BackoffFactor, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.JitterFraction > 0 {
		delay += delay * p.JitterFraction * rand.Float64()
	}
	return time.Duration(delay)
}

// CallWithRetry runs op up to MaxAttempts times. It returns nil on the
// first success, the last error when attempts are exhausted, and stops
// early on non-retryable errors or context cancellation.
func (p RetryPolicy) CallWithRetry(ctx context.Context, op func(ctx context.Context) error) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !errors.IsRetryable(lastErr) {
			return lastErr
		}

		if attempt < p.MaxAttempts-1 {
			if err := sleep(ctx, p.Delay(attempt)); err != nil {
				return err
			}
		}
	}
	return lastErr
}
