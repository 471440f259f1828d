package checks

import (
	"context"
	"time"

	"github.com/uconnect/uconnect/internal/monitoring"
)

const defaultMediaTimeout = 3 * time.Second

// MediaPinger is the part of media.Store the check needs.
type MediaPinger interface {
	Ping(ctx context.Context) error
}

// Media checks the upload backend (local directories or the S3 bucket).
// Post and avatar uploads fail without it.
func Media(store MediaPinger, timeout time.Duration) monitoring.Check {
	return monitoring.Critical("media", func(ctx context.Context) monitoring.CheckResult {
		if store == nil {
			return monitoring.Down("media store not configured")
		}
		checkCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout, defaultMediaTimeout))
		defer cancel()
		return monitoring.FromError(store.Ping(checkCtx))
	})
}
