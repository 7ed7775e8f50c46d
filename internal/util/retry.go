package util

import (
	"context"
	"errors"
	"time"
)

// RetryWithContext calls fn up to maxTries times until it returns a nil error,
// or until ctx is done. If maxTries <= 0, it defaults to 1.
// Returns ctx.Err() if the context is canceled, otherwise returns the last error.
func RetryWithContext[T any](ctx context.Context, maxTries int, fn func(context.Context) (T, error)) (T, error) {
	return RetryWithBackoff(ctx, Backoff{MaxTries: maxTries}, fn)
}

// Backoff configures RetryWithBackoff. The wait before retry n (starting at 1)
// is Initial * 2^(n-1), capped at Max when Max > 0.
type Backoff struct {
	MaxTries int
	Initial  time.Duration
	Max      time.Duration
	// OnRetry is called with the failed attempt number and its error before waiting.
	OnRetry func(attempt int, err error)
}

func (b Backoff) delay(attempt int) time.Duration {
	if b.Initial <= 0 {
		return 0
	}
	d := b.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// RetryWithBackoff calls fn until it succeeds, MaxTries attempts are used up
// or ctx is done, sleeping with exponential backoff between attempts.
// Context errors returned by fn are not retried.
func RetryWithBackoff[T any](ctx context.Context, b Backoff, fn func(context.Context) (T, error)) (T, error) {
	maxTries := b.MaxTries
	if maxTries <= 0 {
		maxTries = 1
	}

	var lastErr error
	var zero T
	for attempt := 1; attempt <= maxTries; attempt++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				return zero, err
			}
		}
		lastErr = err
		if attempt == maxTries {
			break
		}

		if b.OnRetry != nil {
			b.OnRetry(attempt, err)
		}
		if d := b.delay(attempt); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return zero, lastErr
}
