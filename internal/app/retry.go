package app

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"mathquest-engine/internal/domain"
)

// RetryPolicy bounds store calls: each attempt gets its own timeout and only
// transient store errors are retried.
type RetryPolicy struct {
	Attempts        int
	Timeout         time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:        3,
		Timeout:         2 * time.Second,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.Attempts <= 0 {
		p.Attempts = d.Attempts
	}
	if p.Timeout <= 0 {
		p.Timeout = d.Timeout
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = d.InitialInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	return p
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.Attempts-1)), ctx)
}

// do runs op until it succeeds, fails with a non-transient error, or attempts run out.
func (p RetryPolicy) do(ctx context.Context, op func(ctx context.Context) error) error {
	p = p.normalized()
	return backoff.Retry(func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, p.Timeout)
		defer cancel()
		err := op(attemptCtx)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrTransientStore) {
			return err
		}
		return backoff.Permanent(err)
	}, p.backOff(ctx))
}

// retryValue is do for operations that return a value.
func retryValue[T any](ctx context.Context, p RetryPolicy, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
