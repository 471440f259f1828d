package cache

import (
	"context"
	"time"
)

// Store is a shared fixed-window counter used by the rate limiter.
type Store interface {
	// IncrementWithTTL bumps key and returns the new count plus the time left
	// in the window. The window starts on the first increment.
	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}
