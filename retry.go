package adaptq

import (
	"context"
	"time"
)

// RetryConfig defines retry behavior for Retry and DoRetry.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	// Jitter is the exclusive upper bound of the random offset added to each delay.
	Jitter time.Duration
}

// DefaultRetryConfig provides sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		Multiplier: 2.0,
		MaxDelay:   30 * time.Second,
		Jitter:     DefaultJitter,
	}
}

type retryOptions struct {
	shouldRetry func(err error, attempt int) bool
	onRetry     func(attempt int, err error, delay time.Duration)
	jitter      JitterSource
}

// RetryOption customizes a single Retry call.
type RetryOption func(*retryOptions)

// RetryIf replaces the retry predicate. attempt is the 1-based number of the
// attempt that just failed. The default is IsRetryable.
func RetryIf(fn func(err error, attempt int) bool) RetryOption {
	return func(o *retryOptions) {
		if fn != nil {
			o.shouldRetry = fn
		}
	}
}

// OnRetry registers an observer called before each backoff wait.
func OnRetry(fn func(attempt int, err error, delay time.Duration)) RetryOption {
	return func(o *retryOptions) { o.onRetry = fn }
}

// WithRetryJitter replaces the jitter source, mostly for tests.
func WithRetryJitter(src JitterSource) RetryOption {
	return func(o *retryOptions) { o.jitter = src }
}

// DoRetry is Retry for operations without a result.
func DoRetry(ctx context.Context, cfg RetryConfig, op func(context.Context) error, opts ...RetryOption) error {
	_, err := Retry(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts...)
	return err
}

// Retry runs op up to cfg.MaxRetries+1 times with exponential backoff.
//
// A cancelled ctx stops it before the next attempt and interrupts any
// backoff wait; in both cases the returned error is of KindCancelled and
// wraps ctx.Err() and the last failure. Otherwise the last error is returned
// unchanged.
func Retry[T any](ctx context.Context, cfg RetryConfig, op func(context.Context) (T, error), opts ...RetryOption) (T, error) {
	o := retryOptions{shouldRetry: func(err error, _ int) bool { return IsRetryable(err) }}
	for _, opt := range opts {
		opt(&o)
	}
	bo := Backoff{Base: cfg.BaseDelay, Multiplier: cfg.Multiplier, Max: cfg.MaxDelay, Jitter: cfg.Jitter, Rand: o.jitter}

	var zero T
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, cancelledError(err, lastErr)
		}

		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if attempt == cfg.MaxRetries || !o.shouldRetry(err, attempt+1) {
			break
		}
		if ctx.Err() != nil {
			return zero, cancelledError(ctx.Err(), lastErr)
		}

		delay := max(bo.Delay(attempt), RetryAfter(err))
		if o.onRetry != nil {
			o.onRetry(attempt+1, err, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, cancelledError(err, lastErr)
		}
	}
	return zero, lastErr
}

// sleep waits for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
