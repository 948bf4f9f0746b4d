package task

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds how often a failing task is re-applied.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	// Notify, when set, is called before each retry.
	Notify func(err error, next time.Duration)
}

// DefaultRetryPolicy retries three times with a five second pause.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Delay: 5 * time.Second}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Run calls fn until it succeeds, returns a permanent error, the attempts are
// used up or ctx ends.
func (p RetryPolicy) Run(ctx context.Context, fn func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	opts := []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewConstantBackOff(p.Delay)),
		backoff.WithMaxTries(uint(attempts)),
	}
	if p.Notify != nil {
		opts = append(opts, backoff.WithNotify(p.Notify))
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, opts...)
	if err != nil {
		return fmt.Errorf("giving up after at most %d attempts: %w", attempts, err)
	}
	return nil
}
