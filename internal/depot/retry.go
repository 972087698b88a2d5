package depot

import (
	"context"
	"time"

	"github.com/aweris/gitbig/internal/errors"
)

// retryable reports whether another attempt could succeed.
func retryable(err error) bool {
	switch {
	case errors.Is(err, errors.ErrNotExists),
		errors.Is(err, errors.ErrUnauthorized),
		errors.Is(err, errors.ErrForbidden),
		errors.Is(err, errors.ErrInvalidResource),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// retry runs fn up to maxAttempts times, each attempt bounded by timeout, with
// exponential backoff between attempts. A zero timeout leaves attempts
// unbounded.
func retry[T any](ctx context.Context, maxAttempts int, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	for i := range maxAttempts {
		result, err := attempt(ctx, timeout, fn)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable(err) || ctx.Err() != nil {
			return zero, err
		}
		if i < maxAttempts-1 {
			delay := time.Duration(1<<i) * backoff // 500ms, 1s, 2s, 4s...
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return zero, lastErr
}

// backoff is the first retry delay.
var backoff = 500 * time.Millisecond

func attempt[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}
