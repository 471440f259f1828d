package checks

import (
	"context"
	"fmt"

	"github.com/uconnect/uconnect/internal/monitoring"
	"github.com/uconnect/uconnect/internal/tasks"
)

// DispatcherStats exposes the load of the background task runner.
type DispatcherStats interface {
	Stats() tasks.Stats
}

// Dispatcher reports the verification-email and quarantine backlog. A backlog
// larger than the worker pool, or a closed dispatcher, degrades readiness:
// requests still succeed but their side effects are delayed or dropped.
func Dispatcher(d DispatcherStats) monitoring.Check {
	return monitoring.Advisory("dispatcher", func(context.Context) monitoring.CheckResult {
		if d == nil {
			return monitoring.Up("background tasks run inline")
		}
		s := d.Stats()
		details := fmt.Sprintf("%d running, %d queued, capacity %d", s.Running, s.Queued, s.Capacity)
		switch {
		case s.Closed:
			return monitoring.Degraded("dispatcher closed")
		case s.Capacity > 0 && s.Queued > int64(s.Capacity):
			return monitoring.Degraded(details)
		default:
			return monitoring.Up(details)
		}
	})
}
