package resilience

import (
	"context"
)

// FallbackFunc produces a value after the primary operation failed.
type FallbackFunc[T any] func(ctx context.Context, primaryErr error) (T, error)

// WithFallback executes fn, and on error, uses the fallback. The returned
// bool reports whether the fallback produced the value.
func WithFallback[T any](ctx context.Context, fn func(ctx context.Context) (T, error), fallback FallbackFunc[T]) (T, bool, error) {
	v, err := fn(ctx)
	if err == nil {
		return v, false, nil
	}
	v, err = fallback(ctx, err)
	return v, true, err
}

// Static returns a fallback that always yields v.
func Static[T any](v T) FallbackFunc[T] {
	return func(context.Context, error) (T, error) { return v, nil }
}
