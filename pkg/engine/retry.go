package engine

import (
	"context"
	"time"
)

// RetryPolicy wraps step execution with bounded retry and exponential
// backoff. Only transient failures are retried; fatal and resource-busy
// failures surface immediately. The policy wraps Execute alone, never the
// applicability or idempotency probes.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, first try included.
	MaxAttempts int

	// BaseDelay is the delay before the first retry; it doubles after each
	// failed attempt.
	BaseDelay time.Duration

	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration
}

// DefaultRetryPolicy mirrors the tuning of the original setup tool:
// three attempts with a 2s base delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    time.Minute,
	}
}

// normalized returns the policy with zero values replaced by safe defaults.
func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = time.Minute
	}
	return p
}

// Backoff returns the delay to wait after the given failed attempt
// (1-based): BaseDelay doubling each attempt, capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	p = p.normalized()
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Run invokes fn up to MaxAttempts times, sleeping the backoff delay between
// attempts while the failure stays retryable. It returns the number of
// attempts actually made and the final error, nil on success. Context
// cancellation cuts the backoff wait short and returns ctx.Err.
func (p RetryPolicy) Run(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	p = p.normalized()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return attempt, nil
		}
		if !IsRetryable(lastErr) || attempt == p.MaxAttempts {
			return attempt, lastErr
		}

		select {
		case <-time.After(p.Backoff(attempt)):
		case <-ctx.Done():
			return attempt, ctx.Err()
		}
	}
	return p.MaxAttempts, lastErr
}
