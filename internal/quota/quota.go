// Package quota enforces per-caller search budgets over a fixed window.
package quota

import (
	"context"
	"time"
)

// Limiter answers whether a caller may run one more search in the current
// window. Allow both checks and consumes: a true return has already counted
// the request.
type Limiter interface {
	// Allow reports whether callerKey is under limit for the current window
	// and, if so, consumes one unit.
	Allow(ctx context.Context, callerKey string, limit int) (bool, error)

	// Usage returns the consumed count for the current window.
	Usage(ctx context.Context, callerKey string) (int, error)
}

// windowStart truncates t to the start of the fixed window.
func windowStart(t time.Time, window time.Duration) time.Time {
	return t.Truncate(window)
}
