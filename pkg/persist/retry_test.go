package persist

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func TestWithRetry_SucceedsAfterFailures(t *testing.T) {
	t.Parallel()

	calls := 0

	got, err := WithRetry(context.Background(), RetryPolicy{Attempts: 5, Delay: time.Millisecond}, nil, "thing",
		func() (int, error) {
			calls++
			if calls < 3 {
				return 0, errFlaky
			}

			return 42, nil
		})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_Exhausted(t *testing.T) {
	t.Parallel()

	calls := 0

	_, err := WithRetry(context.Background(), RetryPolicy{Attempts: 4, Delay: time.Millisecond}, nil, "thing",
		func() (int, error) {
			calls++

			return 0, errFlaky
		})

	require.ErrorIs(t, err, ErrRetriesExhausted)
	require.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 4, calls)
}

func TestWithRetry_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := WithRetry(ctx, RetryPolicy{Attempts: 3, Delay: time.Hour}, nil, "thing",
		func() (int, error) { return 0, errFlaky })

	require.ErrorIs(t, err, context.Canceled)
}

func TestDefaultRetryPolicy(t *testing.T) {
	t.Parallel()

	p := DefaultRetryPolicy()

	assert.Equal(t, uint(10), p.Attempts)
	assert.Equal(t, time.Second, p.Delay)
}
