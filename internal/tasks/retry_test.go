package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func TestRetrySucceedsFirstTry(t *testing.T) {
	calls := 0
	attempts, err := Retry(context.Background(), RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond},
		func(context.Context) error {
			calls++
			return nil
		}, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestRetryRecoversAfterTransientFailures(t *testing.T) {
	var notified []int
	calls := 0
	attempts, err := Retry(context.Background(), RetryPolicy{MaxAttempts: 5, Delay: time.Millisecond},
		func(context.Context) error {
			calls++
			if calls < 3 {
				return errTransient
			}
			return nil
		},
		func(attempt int, err error, next time.Duration) {
			notified = append(notified, attempt)
			assert.ErrorIs(t, err, errTransient)
			assert.Equal(t, time.Millisecond, next)
		})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{1, 2}, notified)
}

func TestRetryExhausted(t *testing.T) {
	calls := 0
	attempts, err := Retry(context.Background(), RetryPolicy{MaxAttempts: 4, Delay: time.Millisecond},
		func(context.Context) error {
			calls++
			return errTransient
		}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetryExhausted)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 4, attempts)
	assert.Equal(t, 4, calls)
}

func TestRetryZeroAttemptsMeansOne(t *testing.T) {
	calls := 0
	attempts, err := Retry(context.Background(), RetryPolicy{}, func(context.Context) error {
		calls++
		return errTransient
	}, nil)

	assert.ErrorIs(t, err, ErrRetryExhausted)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestRetryPermanentStopsImmediately(t *testing.T) {
	errBad := errors.New("bad input")
	calls := 0
	attempts, err := Retry(context.Background(), RetryPolicy{MaxAttempts: 5, Delay: time.Millisecond},
		func(context.Context) error {
			calls++
			return Permanent(errBad)
		}, nil)

	require.ErrorIs(t, err, errBad)
	assert.NotErrorIs(t, err, ErrRetryExhausted)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	attempts, err := Retry(ctx, RetryPolicy{MaxAttempts: 5, Delay: time.Hour},
		func(context.Context) error {
			calls++
			cancel()
			return errTransient
		}, nil)

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRetryExhausted)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}
