package checks

import (
	"context"
	"strings"
	"time"

	"github.com/uconnect/uconnect/internal/app/maintenance"
	"github.com/uconnect/uconnect/internal/monitoring"
)

const defaultMaintenanceMaxAge = 26 * time.Hour

// MaintenanceReporter exposes the run history of scheduled cleanup jobs.
type MaintenanceReporter interface {
	Status() []maintenance.JobStatus
}

// Maintenance verifies that cleanup jobs keep succeeding. Failing jobs, or
// jobs that have not run since maxAge, degrade the report.
func Maintenance(reporter MaintenanceReporter, maxAge time.Duration) monitoring.Check {
	if maxAge <= 0 {
		maxAge = defaultMaintenanceMaxAge
	}

	return monitoring.Advisory("maintenance", func(context.Context) monitoring.CheckResult {
		if reporter == nil {
			return monitoring.Up("maintenance disabled")
		}
		jobs := reporter.Status()
		if len(jobs) == 0 {
			return monitoring.Up("no maintenance jobs registered")
		}

		now := time.Now()
		healthy := true
		var notes []string
		for _, job := range jobs {
			switch {
			case job.TotalRuns == 0:
				notes = append(notes, job.Job+": pending first run")
			case job.ConsecutiveFailures > 0:
				healthy = false
				notes = append(notes, job.Job+": "+job.LastError)
			case !job.LastRunAt.IsZero() && now.Sub(job.LastRunAt) > maxAge:
				healthy = false
				notes = append(notes, job.Job+": stale run "+job.LastRunAt.UTC().Format(time.RFC3339))
			}
		}

		if !healthy {
			return monitoring.Degraded(strings.Join(notes, "; "))
		}
		return monitoring.Up(strings.Join(notes, "; "))
	})
}
