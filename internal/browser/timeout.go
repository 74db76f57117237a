package browser

import (
	"context"
	"time"
)

// WaitTimeout returns the budget for an open-ended wait. A caller deadline
// wins over fallback in both directions, so a request's wait_time is
// honored even when it exceeds the backend's element timeout.
func WaitTimeout(ctx context.Context, fallback time.Duration) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return fallback
	}
	if remaining := time.Until(deadline); remaining > 0 {
		return remaining
	}
	return 0
}
