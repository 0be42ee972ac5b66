package errors

import (
	"context"
	"errors"
	"time"
)

// ErrRetryBudgetExhausted is joined with the last error when every attempt failed.
var ErrRetryBudgetExhausted = errors.New("retry budget exhausted")

// RetryPolicy bounds a retry loop.
type RetryPolicy struct {
	// MaxAttempts is the total number of calls, including the first.
	MaxAttempts int `yaml:"max_attempts"`

	// InitialDelay is the wait after the first failure.
	InitialDelay time.Duration `yaml:"initial_delay"`

	// MaxDelay caps the wait between attempts.
	MaxDelay time.Duration `yaml:"max_delay"`

	// Multiplier grows the delay per attempt. 1.0 gives a fixed interval.
	Multiplier float64 `yaml:"multiplier"`

	// JitterPercent spreads delays by ±percent.
	JitterPercent float64 `yaml:"jitter_percent"`
}

// FixedPolicy returns a policy that waits the same interval between attempts.
func FixedPolicy(attempts int, interval time.Duration) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  attempts,
		InitialDelay: interval,
		MaxDelay:     interval,
		Multiplier:   1.0,
	}
}

// DefaultCleanupPolicy is the backoff used for remote cleanup calls.
func DefaultCleanupPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:   3,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		Multiplier:    2.0,
		JitterPercent: 0.1,
	}
}

// AttemptFunc is one try. attempt starts at 1.
type AttemptFunc func(ctx context.Context, attempt int) error

// RetryFixed calls fn up to attempts times, sleeping interval between failures.
func RetryFixed(ctx context.Context, attempts int, interval time.Duration, fn AttemptFunc) error {
	return Retry(ctx, FixedPolicy(attempts, interval), fn)
}

// Retry runs fn under policy. It returns nil on the first success, the
// context error if ctx ends while waiting, or the last failure joined with
// ErrRetryBudgetExhausted.
func Retry(ctx context.Context, policy *RetryPolicy, fn AttemptFunc) error {
	attempts := maxAttempts(policy)
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}

		if attempt == attempts {
			break
		}

		delay := AddJitter(CalculateDelay(attempt-1, policy), policy.JitterPercent)
		if err := waitBeforeRetry(ctx, delay); err != nil {
			return errors.Join(err, lastErr)
		}
	}

	return errors.Join(ErrRetryBudgetExhausted, lastErr)
}

// maxAttempts treats a missing or non-positive budget as a single call.
func maxAttempts(policy *RetryPolicy) int {
	if policy == nil || policy.MaxAttempts <= 0 {
		return 1
	}
	return policy.MaxAttempts
}

// waitBeforeRetry waits for the specified delay or returns if context is cancelled.
func waitBeforeRetry(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
