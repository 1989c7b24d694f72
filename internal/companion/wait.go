package companion

import (
	"context"
	"errors"
	"time"
)

// ErrWaitTimeout is returned by waitUntil when the condition never held.
var ErrWaitTimeout = errors.New("timed out waiting for condition")

// waitUntil polls cond every interval until it returns true, the timeout
// elapses or ctx is done. cond is called once immediately.
func waitUntil(ctx context.Context, timeout, interval time.Duration, cond func(context.Context) bool) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if cond(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return ErrWaitTimeout
		case <-ticker.C:
		}
	}
}
