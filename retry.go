package nearcache

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/unkn0wn-root/nearcache/backend"
)

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	return b
}

func (p ReconnectPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	return b
}

// permanent reports store errors that another attempt cannot fix.
func permanent(err error) bool {
	return errors.Is(err, backend.ErrNotFound) ||
		errors.Is(err, backend.ErrRejected) ||
		errors.Is(err, backend.ErrClosed)
}

// retry runs op with a per-attempt timeout until it succeeds, fails permanently, the
// policy runs out of attempts or ctx ends. It returns the number of attempts made.
func retry[T any](ctx context.Context, p RetryPolicy, timeout time.Duration, op func(context.Context) (T, error)) (T, int, error) {
	attempts := 0
	res, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		actx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		v, err := op(actx)
		if err != nil && permanent(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
	)
	return res, attempts, err
}

// sleep waits d or until ctx ends; false means ctx ended.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
