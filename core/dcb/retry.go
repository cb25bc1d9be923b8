package dcb

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const DefaultMaxTries = 5

type retryOpts struct {
	maxTries uint
	backoff  backoff.BackOff
}

type RetryOption func(*retryOpts)

// WithMaxTries bounds the attempts, the first one included.
func WithMaxTries(n uint) RetryOption {
	return func(o *retryOpts) {
		if n > 0 {
			o.maxTries = n
		}
	}
}

// WithBackOff replaces the default exponential backoff between attempts.
func WithBackOff(b backoff.BackOff) RetryOption {
	return func(o *retryOpts) { o.backoff = b }
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	return b
}

// ExecuteWithRetry runs h until it succeeds, fails with anything other than
// ErrConflict, or runs out of tries. Every attempt reads fresh states, so the
// handler decides again on the moved tags.
func (e *Executor) ExecuteWithRetry(ctx context.Context, h CommandHandler, opts ...RetryOption) (*ExecutionResult, error) {
	o := retryOpts{maxTries: DefaultMaxTries}
	for _, opt := range opts {
		opt(&o)
	}
	if o.backoff == nil {
		o.backoff = defaultBackOff()
	}

	attempt := 0
	return backoff.Retry(ctx, func() (*ExecutionResult, error) {
		attempt++
		res, err := e.Execute(ctx, h)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, backoff.Permanent(err)
		}
		e.log.Debug("retrying after conflict", slog.Int("attempt", attempt), slog.Any("error", err))
		return nil, err
	}, backoff.WithBackOff(o.backoff), backoff.WithMaxTries(o.maxTries))
}
