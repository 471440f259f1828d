package checks

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/uconnect/uconnect/internal/monitoring"
)

const defaultRedisTimeout = 2 * time.Second

// Redis pings the rate-limit counter store. The limiter fails open, so a
// lost Redis degrades the report instead of failing readiness.
func Redis(client redis.UniversalClient, timeout time.Duration) monitoring.Check {
	return monitoring.Advisory("redis", func(ctx context.Context) monitoring.CheckResult {
		if client == nil {
			return monitoring.Up("redis disabled")
		}

		checkCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout, defaultRedisTimeout))
		defer cancel()
		if err := client.Ping(checkCtx).Err(); err != nil {
			return monitoring.Degraded(err.Error())
		}
		return monitoring.Up("")
	})
}
