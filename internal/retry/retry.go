// Package retry holds the backoff schedule shared by the gateway, the worker
// idle loop and the status poller.
package retry

import (
	"context"
	"errors"
	"math"
	"time"
)

type Policy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
}

// NextDelay returns base*2^attempt capped at max. attempt is zero-based.
func NextDelay(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(base) * math.Pow(2, float64(attempt))
	if max > 0 && delay > float64(max) {
		return max
	}
	if delay > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls fn until it succeeds, returns a Permanent error, or the policy runs
// out of attempts. It reports how many attempts were made alongside the last
// error.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) error) (int, error) {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt, err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return attempt + 1, nil
		}
		var permanent *permanentError
		if errors.As(lastErr, &permanent) {
			return attempt + 1, permanent.err
		}
		if attempt == policy.MaxAttempts-1 {
			break
		}
		if err := Sleep(ctx, NextDelay(attempt, policy.Initial, policy.Max)); err != nil {
			return attempt + 1, lastErr
		}
	}
	return policy.MaxAttempts, lastErr
}
