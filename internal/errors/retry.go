package errors

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"agentstudio/internal/logging"
)

// RetryConfig configures retry behavior for user-initiated follow-up calls.
// The remote gateway itself never retries.
type RetryConfig struct {
	MaxAttempts  uint
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
}

// DefaultRetryConfig returns sensible defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		JitterFactor: 0.25,
	}
}

// RetryTransient runs fn until it succeeds, returns a non-transient error,
// or the attempts run out.
func RetryTransient[T any](ctx context.Context, config RetryConfig, logger logging.Logger, fn func(ctx context.Context) (T, error)) (T, error) {
	logger = logging.OrNop(logger)
	if config.MaxAttempts == 0 {
		config.MaxAttempts = 1
	}

	policy := backoff.NewExponentialBackOff()
	if config.BaseDelay > 0 {
		policy.InitialInterval = config.BaseDelay
	}
	if config.MaxDelay > 0 {
		policy.MaxInterval = config.MaxDelay
	}
	policy.RandomizationFactor = config.JitterFactor

	attempt := 0
	operation := func() (T, error) {
		attempt++
		result, err := fn(ctx)
		if err != nil && !IsTransient(err) {
			return result, backoff.Permanent(err)
		}
		return result, err
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(config.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Debug("Attempt %d failed, retrying in %v: %v", attempt, next, err)
		}),
	)
}
