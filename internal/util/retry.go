package util

import (
	"context"
	"fmt"
	"time"

	log "github.com/nghyane/medistream/internal/logging"
)

// WithRetry calls fn up to maxRetries times, waiting attempt seconds between tries.
// It stops early when ctx is done.
func WithRetry[T any](ctx context.Context, maxRetries int, logPrefix string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	if maxRetries < 1 {
		maxRetries = 1
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(time.Duration(attempt) * retryUnit)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		lastErr = err
		log.Warnf("%s attempt %d failed: %v", logPrefix, attempt+1, err)
	}

	return zero, fmt.Errorf("%s failed after %d attempts: %w", logPrefix, maxRetries, lastErr)
}

// retryUnit is the backoff step; tests shorten it.
var retryUnit = time.Second
