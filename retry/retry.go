// Package retry provides a generic exponential-backoff executor used by the
// transport adapter, the delivery queue, and workflow step execution. It is
// pure coordination: no state is held across calls.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Policy controls how an operation is retried. The delay before attempt n+1
// is min(InitialDelay * BackoffMultiplier^(n-1), MaxDelay).
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration

	// BackoffMultiplier scales the delay after each failed attempt.
	BackoffMultiplier float64

	// MaxDelay caps the growth of the backoff delay.
	MaxDelay time.Duration

	// IsRetryable classifies errors. A nil func treats every error as
	// retryable; returning false fails immediately without further attempts.
	IsRetryable func(error) bool

	// OnRetry is invoked before each backoff wait with the attempt number
	// just failed, its error, and the upcoming delay. It is best-effort:
	// a panic inside OnRetry does not abort the retry loop.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy returns the backoff shape shared across the module:
// 3 attempts starting at 100ms, doubling, capped at 30s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		InitialDelay:      100 * time.Millisecond,
		BackoffMultiplier: 2,
		MaxDelay:          30 * time.Second,
	}
}

// AttemptsError reports a retry loop that exhausted its budget. Unwrap
// returns the error from the final attempt.
type AttemptsError struct {
	Attempts int
	Err      error
}

func (e *AttemptsError) Error() string {
	return fmt.Sprintf("operation failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *AttemptsError) Unwrap() error {
	return e.Err
}

// NextDelay returns the backoff delay after the given 1-based failed attempt.
// Attempt values below 1 are treated as 1.
func NextDelay(policy Policy, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	multiplier := policy.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}

	delay := time.Duration(float64(policy.InitialDelay) * math.Pow(multiplier, float64(attempt-1)))
	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	return delay
}

// Do runs op until it succeeds, the policy's attempt budget is exhausted, a
// non-retryable error occurs, or ctx is cancelled. The final failure is
// wrapped in *AttemptsError; non-retryable errors and context cancellation
// are returned as-is (the latter wrapping the last attempt's error).
func Do(ctx context.Context, policy Policy, op func(ctx context.Context) error) error {
	_, err := DoValue(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, policy Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("retry cancelled: %w", err)
		}

		value, err := op(ctx)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if policy.IsRetryable != nil && !policy.IsRetryable(err) {
			return zero, err
		}
		if attempt == maxAttempts {
			break
		}

		delay := NextDelay(policy, attempt)
		notifyRetry(policy, attempt, err, delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, fmt.Errorf("retry cancelled after attempt %d: %w", attempt, ctx.Err())
		}
	}

	return zero, &AttemptsError{Attempts: maxAttempts, Err: lastErr}
}

func notifyRetry(policy Policy, attempt int, err error, delay time.Duration) {
	if policy.OnRetry == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	policy.OnRetry(attempt, err, delay)
}
