package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrRetryExhausted wraps the last error of an operation that failed on
// every attempt.
var ErrRetryExhausted = errors.New("retry exhausted")

// RetryPolicy is a constant-delay retry budget. MaxAttempts counts the
// first attempt; values below 1 mean a single attempt.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Notify is called after a failed attempt that will be retried.
type Notify func(attempt int, err error, next time.Duration)

// Permanent marks err as not worth retrying. Retry returns it unwrapped
// without consuming the remaining attempts.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Retry runs op until it succeeds, returns a Permanent error, or the
// policy's attempts are used up. The number of attempts made is returned
// alongside the error.
//
// Exhaustion is reported as an error wrapping both ErrRetryExhausted and
// the last failure. Cancellation of ctx while waiting between attempts
// returns the context's cause.
func Retry(ctx context.Context, p RetryPolicy, op func(ctx context.Context) error, notify Notify) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	attempts := 0
	permanent := false
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := op(ctx)
		var pe *backoff.PermanentError
		if errors.As(err, &pe) {
			permanent = true
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(p.Delay)),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			if notify != nil {
				notify(attempts, err, next)
			}
		}),
	)
	switch {
	case err == nil:
		return attempts, nil
	case permanent:
		var pe *backoff.PermanentError
		if errors.As(err, &pe) {
			return attempts, pe.Err
		}
		return attempts, err
	case attempts < maxAttempts:
		// Stopped early by ctx.
		return attempts, err
	default:
		return attempts, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempts, err)
	}
}
