package utils

import (
	"context"
	"fmt"
	"time"
)

// Retry runs op up to attempts times with a fixed delay between tries,
// stopping early when the context is cancelled. The last error is returned
// when every attempt fails.
func Retry[T any](ctx context.Context, attempts int, delay time.Duration, op func() (T, error)) (T, error) {
	var zero T
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := op()
		if err == nil {
			return result, nil
		}
		lastErr = err
	}

	return zero, fmt.Errorf("all %d attempts failed: %w", attempts, lastErr)
}
