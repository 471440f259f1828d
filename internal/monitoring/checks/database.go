package checks

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/uconnect/uconnect/internal/monitoring"
)

const defaultDatabaseTimeout = 2 * time.Second

// Database pings the content store. Accounts, posts and sessions all depend
// on it, so the check is critical; a saturated pool only degrades.
func Database(db *gorm.DB, timeout time.Duration) monitoring.Check {
	return monitoring.Critical("database", func(ctx context.Context) monitoring.CheckResult {
		if db == nil {
			return monitoring.Down("database not configured")
		}

		sqlDB, err := db.DB()
		if err != nil {
			return monitoring.FromError(err)
		}

		checkCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout, defaultDatabaseTimeout))
		defer cancel()
		if err := sqlDB.PingContext(checkCtx); err != nil {
			return monitoring.FromError(err)
		}

		stats := sqlDB.Stats()
		if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections && stats.WaitCount > 0 {
			return monitoring.Degraded(fmt.Sprintf("pool saturated: %d/%d in use", stats.InUse, stats.MaxOpenConnections))
		}
		return monitoring.Up("")
	})
}

func chooseTimeout(provided, fallback time.Duration) time.Duration {
	if provided <= 0 {
		return fallback
	}
	return provided
}
