// SPDX-License-Identifier: Apache-2.0
// Package resilience provides retry and fallback helpers for calls to the
// model transport.
package resilience

import (
	"context"
	stderrors "errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/jllopis/camel/pkg/errors"
)

// RetryConfig controls retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (must be >= 1).
	MaxAttempts int

	// InitialDelay is the initial backoff delay.
	InitialDelay time.Duration

	// MaxDelay caps the exponential backoff delay.
	MaxDelay time.Duration

	// Multiplier for exponential backoff (default 2.0).
	Multiplier float64

	// IsRecoverable determines if an error should be retried.
	// If nil, isRecoverableDefault is used.
	IsRecoverable func(error) bool

	// Jitter adds randomness to backoff; 0.1 means ±10%.
	Jitter float64
}

// DefaultRetryConfig returns the retry configuration used for model calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		Multiplier:    2.0,
		Jitter:        0.1,
		IsRecoverable: isRecoverableDefault,
	}
}

// WithMaxAttempts returns a new config with MaxAttempts set.
func (rc RetryConfig) WithMaxAttempts(max int) RetryConfig {
	rc.MaxAttempts = max
	return rc
}

// WithInitialDelay returns a new config with InitialDelay set.
func (rc RetryConfig) WithInitialDelay(d time.Duration) RetryConfig {
	rc.InitialDelay = d
	return rc
}

// WithMaxDelay returns a new config with MaxDelay set.
func (rc RetryConfig) WithMaxDelay(d time.Duration) RetryConfig {
	rc.MaxDelay = d
	return rc
}

// WithIsRecoverable returns a new config with IsRecoverable set.
func (rc RetryConfig) WithIsRecoverable(fn func(error) bool) RetryConfig {
	rc.IsRecoverable = fn
	return rc
}

// Do executes fn with retry logic, returning the last error if all attempts
// fail. Cancellation while waiting returns a CodeCancelled error.
func (rc RetryConfig) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Retry(ctx, rc, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Retry is Do for functions returning a value.
func Retry[T any](ctx context.Context, rc RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	if rc.MaxAttempts < 1 {
		rc.MaxAttempts = 1
	}
	if rc.IsRecoverable == nil {
		rc.IsRecoverable = isRecoverableDefault
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt < rc.MaxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(calculateBackoff(attempt, rc))
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, errors.New(errors.CodeCancelled, "context canceled during retry", ctx.Err()).
					WithContext("attempt", attempt).
					WithContext("max_attempts", rc.MaxAttempts)
			case <-timer.C:
			}
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !rc.IsRecoverable(err) {
			return zero, err
		}
	}
	return zero, lastErr
}

// calculateBackoff computes exponential backoff delay with jitter.
func calculateBackoff(attempt int, rc RetryConfig) time.Duration {
	if rc.Multiplier == 0 {
		rc.Multiplier = 2.0
	}

	delay := time.Duration(float64(rc.InitialDelay) * math.Pow(rc.Multiplier, float64(attempt-1)))
	if rc.MaxDelay > 0 && delay > rc.MaxDelay {
		delay = rc.MaxDelay
	}

	if rc.Jitter > 0 {
		spread := float64(delay) * rc.Jitter
		delay = time.Duration(float64(delay) + spread*(2*rand.Float64()-1))
		if delay < 0 {
			delay = 0
		}
	}
	return delay
}

// isRecoverableDefault retries everything except cancellation and errors
// that carry an explicit non-recoverable CamelError.
func isRecoverableDefault(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ce *errors.CamelError
	if stderrors.As(err, &ce) {
		return ce.Recoverable
	}
	return true
}
