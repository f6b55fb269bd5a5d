// Package poll provides a bounded poll-with-timeout primitive for awaiting
// external completion that has no push-based signal.
package poll

import (
	"context"
	"fmt"
	"time"

	"commandcenter/pkg/types"
)

// Fn is one polling attempt. Returning done=true stops the loop with
// success; a non-nil error stops it immediately with that error.
type Fn func(ctx context.Context) (done bool, err error)

// Until runs fn at a fixed interval up to maxAttempts times. The first
// attempt runs after one interval, so the worst case is
// interval * maxAttempts before the wrapped types.ErrTimeout is returned.
// Cancelling ctx stops the loop between attempts.
func Until(ctx context.Context, interval time.Duration, maxAttempts int, fn Fn) error {
	if interval <= 0 || maxAttempts <= 0 {
		return fmt.Errorf("poll: interval and maxAttempts must be positive")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}

	return fmt.Errorf("poll: gave up after %d attempts at %s: %w",
		maxAttempts, interval, types.ErrTimeout)
}
