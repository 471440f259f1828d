package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records login attempts by result (success|failure|unverified|domain).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uconnect_auth_attempts_total",
			Help: "Total number of login attempts",
		},
		[]string{"result"},
	)

	// Signups counts signup requests by outcome (created|reissued|rejected).
	Signups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uconnect_signups_total",
			Help: "Total number of signup requests",
		},
		[]string{"outcome"},
	)

	// VerificationEmails counts verification email deliveries by result (sent|failed).
	VerificationEmails = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uconnect_verification_emails_total",
			Help: "Verification emails handed to the notifier",
		},
		[]string{"result"},
	)

	// Verifications counts verification link consumption by outcome.
	Verifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uconnect_email_verifications_total",
			Help: "Email verification attempts",
		},
		[]string{"outcome"},
	)

	// CascadeRuns counts account deletions by trigger (self|admin) and result.
	CascadeRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uconnect_cascade_runs_total",
			Help: "Cascading account deletions",
		},
		[]string{"trigger", "result"},
	)

	// MediaQuarantine counts media files moved to quarantine by result.
	MediaQuarantine = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uconnect_media_quarantine_total",
			Help: "Media files moved to quarantine",
		},
		[]string{"result"},
	)

	// BackgroundTasks counts detached tasks by name and result.
	BackgroundTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uconnect_background_tasks_total",
			Help: "Background tasks executed by the dispatcher",
		},
		[]string{"task", "result"},
	)

	// MaintenanceRuns counts scheduled cleanup jobs by job and result.
	MaintenanceRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uconnect_maintenance_runs_total",
			Help: "Scheduled maintenance job executions",
		},
		[]string{"job", "result"},
	)

	// RateLimited counts requests rejected by the rate limiter.
	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "uconnect_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "uconnect_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
