package worker

import (
	"context"
	"time"
)

// withRetry calls fn up to maxAttempts times, waiting base, 2*base, ... between
// attempts. Permanent errors stop the loop at once.
func withRetry(ctx context.Context, maxAttempts int, base time.Duration, fn func(attempt int) error) error {
	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		if i > 0 {
			wait := base * time.Duration(1<<uint(i-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		err := fn(i)
		if err == nil {
			return nil
		}
		lastErr = err
		if isPermanent(err) {
			break
		}
	}
	return lastErr
}
