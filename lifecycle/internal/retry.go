package internal

import (
	"context"
	"errors"
	"time"
)

// Policy bounds a retry loop: at most MaxAttempts calls, sleeping Delay after
// the first failure and doubling it after each subsequent one.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

var DefaultPolicy = Policy{MaxAttempts: 5, Delay: 100 * time.Millisecond}

func (p Policy) backoff(attempt int) time.Duration {
	return p.Delay * time.Duration(1<<attempt)
}

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err}
}

func IsPermanent(err error) bool {
	var permanent permanentError
	return errors.As(err, &permanent)
}

// RetryWithContext calls fn until it succeeds, returns a permanent error, or
// the policy is exhausted. Returns ctx.Err() if the context is cancelled
// before all attempts are exhausted.
func RetryWithContext(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	_, err := RetryResultWithContext(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryResultWithContext is like RetryWithContext but for functions that return a value.
func RetryResultWithContext[T any](ctx context.Context, policy Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	var err error
	attempts := max(1, policy.MaxAttempts)
	for i := 0; i < attempts; i++ {
		if result, err = fn(ctx); err == nil {
			return result, nil
		}
		if IsPermanent(err) {
			return result, err
		}
		if i < attempts-1 {
			select {
			case <-time.After(policy.backoff(i)):
			case <-ctx.Done():
				return result, ctx.Err()
			}
		}
	}
	return result, err
}
