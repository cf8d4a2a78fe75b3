package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrRetriesExhausted is returned when every attempt of a retried read failed.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Default retry settings for files that may be swapped out underneath us on
// network filesystems.
const (
	DefaultAttempts = 10
	DefaultDelay    = time.Second
)

// RetryPolicy bounds how often a read is attempted.
type RetryPolicy struct {
	Attempts uint
	Delay    time.Duration
}

// DefaultRetryPolicy returns the default bounded retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: DefaultAttempts, Delay: DefaultDelay}
}

// WithRetry runs op until it succeeds, the policy is exhausted, or ctx ends.
// what names the resource in logs and errors.
func WithRetry[T any](
	ctx context.Context,
	policy RetryPolicy,
	logger *slog.Logger,
	what string,
	op func() (T, error),
) (T, error) {
	attempts := max(policy.Attempts, 1)

	notify := func(err error, next time.Duration) {
		if logger != nil {
			logger.WarnContext(ctx, "retrying read", "what", what, "error", err, "next_in", next)
		}
	}

	result, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(policy.Delay)),
		backoff.WithMaxTries(attempts),
		backoff.WithNotify(notify),
	)
	if err != nil {
		var zero T

		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, fmt.Errorf("load %s: %w", what, ctxErr)
		}

		return zero, fmt.Errorf("load %s: %w after %d attempts: %w", what, ErrRetriesExhausted, attempts, err)
	}

	return result, nil
}
