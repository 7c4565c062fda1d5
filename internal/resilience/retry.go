// Package resilience provides bounded retries and circuit breaking for calls
// to the record store, blob storage and print service.
package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retry defaults.
const (
	DefaultRetryMaxAttempts   = 3
	DefaultRetryInitialDelay  = 100 * time.Millisecond
	DefaultRetryMaxDelay      = 5 * time.Second
	DefaultRetryBackoffFactor = 2.0
)

// RetryPolicy bounds exponential backoff retries.
type RetryPolicy struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

// DefaultRetryPolicy returns the default policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   DefaultRetryMaxAttempts,
		InitialDelay:  DefaultRetryInitialDelay,
		MaxDelay:      DefaultRetryMaxDelay,
		BackoffFactor: DefaultRetryBackoffFactor,
	}
}

// NoRetry runs an operation exactly once.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialDelay > 0 {
		b.InitialInterval = p.InitialDelay
	}
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	if p.BackoffFactor > 0 {
		b.Multiplier = p.BackoffFactor
	}
	b.MaxElapsedTime = 0

	retries := 0
	if p.MaxAttempts > 1 {
		retries = p.MaxAttempts - 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// Do runs fn until it succeeds, the attempts are used up, ctx is done or
// retryable reports false for the returned error. A nil retryable retries
// every error. The last error of fn is returned.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error, retryable func(error) bool) error {
	return backoff.Retry(func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, p.backOff(ctx))
}

// DoValue is Do for operations returning a value.
func DoValue[T any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context) (T, error), retryable func(error) bool) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, retryable)
	return out, err
}
