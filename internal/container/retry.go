package container

import (
	"context"
	"fmt"
	"time"
)

// RetryWithBackoff calls op up to maxAttempts times, sleeping baseBackoff,
// 2*baseBackoff, ... between attempts. op reports whether its error is worth
// retrying; a non-retryable error is returned immediately. After the last
// attempt the last error is returned.
func RetryWithBackoff(
	ctx context.Context,
	maxAttempts int,
	baseBackoff time.Duration,
	op func(attempt int) (retry bool, err error),
) error {
	var lastErr error
	for attempt := range maxAttempts {
		if attempt > 0 {
			timer := time.NewTimer(baseBackoff * time.Duration(1<<(attempt-1)))
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("retry aborted: %w", ctx.Err())
			case <-timer.C:
			}
		}

		retry, err := op(attempt)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// RunDetachedWithRetry starts a container, retrying transient engine failures.
func RunDetachedWithRetry(ctx context.Context, engine Engine, spec RunSpec, maxAttempts int, baseBackoff time.Duration) (string, error) {
	var id string
	err := RetryWithBackoff(ctx, maxAttempts, baseBackoff, func(int) (bool, error) {
		var err error
		id, err = engine.RunDetached(ctx, spec)
		if err != nil {
			if IsTransientError(err) {
				// A half-created container keeps its name; free it for the next attempt.
				_ = engine.Remove(ctx, spec.Name)
				return true, err
			}
			return false, err
		}
		return false, nil
	})
	return id, err
}
