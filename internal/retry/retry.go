// Package retry provides a retry executor with exponential backoff, jitter,
// and a pluggable retryability predicate.
package retry

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"astrogate/internal/core"
)

// Policy configures a retry loop. The zero value is not usable; start from
// DefaultPolicy and override as needed.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// InitialDelay is the backoff before the second attempt.
	InitialDelay time.Duration

	// MaxDelay caps the computed backoff before jitter.
	MaxDelay time.Duration

	// Multiplier grows the delay between consecutive attempts.
	Multiplier float64

	// ShouldRetry decides whether the error from the given attempt (numbered
	// from 1) is worth retrying. Defaults to core.Retryable ignoring attempt.
	ShouldRetry func(err error, attempt int) bool

	// Sleep overrides the backoff sleep, used by tests to avoid real delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns the policy used for upstream computation calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

// Delay returns the backoff before attempt n+1 (n numbered from 1), capped at
// MaxDelay and before jitter.
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

// jitter inflates a delay by up to +10% so concurrent callers retrying after
// the same failure do not stampede the upstream in lockstep.
func jitter(d time.Duration) time.Duration {
	return d + time.Duration(rand.Float64()*0.1*float64(d))
}

// Do invokes fn until it succeeds, retries are exhausted, or ShouldRetry
// declines. The name identifies the operation in logs. Attempts are numbered
// from 1; the error from the final attempt is returned as-is.
func Do(ctx context.Context, name string, p Policy, fn func(ctx context.Context) error) error {
	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = func(err error, _ int) bool { return core.Retryable(err) }
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if attempt > p.MaxRetries || !shouldRetry(lastErr, attempt) {
			if attempt > 1 {
				slog.Warn("retries exhausted", "op", name, "attempts", attempt, "error", lastErr)
			}
			return lastErr
		}

		delay := jitter(p.Delay(attempt))
		slog.Debug("retrying after failure",
			"op", name,
			"attempt", attempt,
			"delay", delay,
			"error", lastErr,
		)
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// DoValue is Do for functions that return a value alongside the error.
func DoValue[T any](ctx context.Context, name string, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, name, p, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}

// sleepCtx sleeps for d or until the context is done, whichever comes first.
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
