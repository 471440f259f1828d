package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/uconnect/uconnect/pkg/logger"
	"github.com/uconnect/uconnect/pkg/metrics"
)

const (
	defaultAuditRetentionDays = 90
	defaultMediaRetention     = 30 * 24 * time.Hour
	defaultMediaSpec          = "@daily"
	defaultAuditSpec          = "@daily"
	defaultTokenSpec          = "@hourly"
	defaultCacheSpec          = "@hourly"
)

// Job names reported in metrics and readiness reports.
const (
	JobMediaPurge = "media_purge"
	JobAuditPrune = "audit_prune"
	JobTokenSweep = "verification_token_sweep"
	JobCachePurge = "cache_purge"
)

// MediaPurger permanently removes quarantined media older than cutoff.
type MediaPurger interface {
	PurgeQuarantine(ctx context.Context, cutoff time.Time) (int, error)
}

// AuditPruner drops audit rows past the retention window.
type AuditPruner interface {
	CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error)
}

// TokenSweeper clears pending verification tokens that can no longer be consumed.
type TokenSweeper interface {
	ClearExpiredPendingTokens(ctx context.Context) (int64, error)
}

// CachePurger deletes closed rate-limit windows from the SQL cache.
type CachePurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// JobStatus summarises the run history of a single job.
type JobStatus struct {
	Job                 string
	TotalRuns           int
	ConsecutiveFailures int
	LastRunAt           time.Time
	LastError           string
}

type job struct {
	name string
	spec string
	run  func(ctx context.Context) (int64, error)
}

// Cleaner coordinates background maintenance: purging quarantined media,
// pruning stale audit logs, clearing expired verification tokens and dropping
// closed rate-limit windows.
type Cleaner struct {
	media  MediaPurger
	audit  AuditPruner
	tokens TokenSweeper
	cache  CachePurger

	cron *cron.Cron
	now  func() time.Time
	log  *zap.Logger

	retention      int
	mediaRetention time.Duration

	mediaSchedule string
	auditSchedule string
	tokenSchedule string
	cacheSchedule string

	mu     sync.Mutex
	status map[string]*JobStatus
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for cleanup comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithMedia enables the quarantine purge with the given retention.
func WithMedia(store MediaPurger, retention time.Duration) Option {
	return func(cleaner *Cleaner) {
		cleaner.media = store
		if retention > 0 {
			cleaner.mediaRetention = retention
		}
	}
}

// WithAudit enables audit pruning. Non-positive days keep the default.
func WithAudit(audit AuditPruner, days int) Option {
	return func(cleaner *Cleaner) {
		cleaner.audit = audit
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithTokens enables the pending verification token sweep.
func WithTokens(tokens TokenSweeper) Option {
	return func(cleaner *Cleaner) { cleaner.tokens = tokens }
}

// WithCache enables purging of the SQL rate-limit cache.
func WithCache(cache CachePurger) Option {
	return func(cleaner *Cleaner) { cleaner.cache = cache }
}

// WithSchedules overrides the cron expressions; empty values keep the defaults.
func WithSchedules(media, audit, tokens, cache string) Option {
	return func(cleaner *Cleaner) {
		if media != "" {
			cleaner.mediaSchedule = media
		}
		if audit != "" {
			cleaner.auditSchedule = audit
		}
		if tokens != "" {
			cleaner.tokenSchedule = tokens
		}
		if cache != "" {
			cleaner.cacheSchedule = cache
		}
	}
}

// NewCleaner constructs a Cleaner. Jobs whose dependency is nil are skipped.
func NewCleaner(opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		now:            time.Now,
		retention:      defaultAuditRetentionDays,
		mediaRetention: defaultMediaRetention,
		mediaSchedule:  defaultMediaSpec,
		auditSchedule:  defaultAuditSpec,
		tokenSchedule:  defaultTokenSpec,
		cacheSchedule:  defaultCacheSpec,
		log:            logger.WithModule("maintenance"),
		status:         make(map[string]*JobStatus),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	for _, j := range cleaner.jobs() {
		cleaner.status[j.name] = &JobStatus{Job: j.name}
	}
	return cleaner
}

func (c *Cleaner) jobs() []job {
	var jobs []job
	if c.media != nil {
		jobs = append(jobs, job{name: JobMediaPurge, spec: c.mediaSchedule, run: func(ctx context.Context) (int64, error) {
			n, err := c.media.PurgeQuarantine(ctx, c.now().Add(-c.mediaRetention))
			return int64(n), err
		}})
	}
	if c.audit != nil && c.retention > 0 {
		jobs = append(jobs, job{name: JobAuditPrune, spec: c.auditSchedule, run: func(ctx context.Context) (int64, error) {
			return c.audit.CleanupOlderThan(ctx, c.retention)
		}})
	}
	if c.tokens != nil {
		jobs = append(jobs, job{name: JobTokenSweep, spec: c.tokenSchedule, run: c.tokens.ClearExpiredPendingTokens})
	}
	if c.cache != nil {
		jobs = append(jobs, job{name: JobCachePurge, spec: c.cacheSchedule, run: func(ctx context.Context) (int64, error) {
			return c.cache.PurgeExpired(ctx, c.now())
		}})
	}
	return jobs
}

// Start registers cleanup jobs with the cron scheduler and launches it if at least one job is enabled.
func (c *Cleaner) Start() error {
	jobs := c.jobs()
	if len(jobs) == 0 {
		return nil
	}

	for _, j := range jobs {
		if _, err := c.cron.AddFunc(j.spec, func() {
			_ = c.execute(context.Background(), j)
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured cleanup routines sequentially.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	for _, j := range c.jobs() {
		errs = multierr.Append(errs, c.execute(ctx, j))
	}
	return errs
}

func (c *Cleaner) execute(ctx context.Context, j job) error {
	start := time.Now()
	removed, err := j.run(ctx)

	c.mu.Lock()
	st, ok := c.status[j.name]
	if !ok {
		st = &JobStatus{Job: j.name}
		c.status[j.name] = st
	}
	st.TotalRuns++
	st.LastRunAt = c.now()
	if err != nil {
		st.ConsecutiveFailures++
		st.LastError = err.Error()
	} else {
		st.ConsecutiveFailures = 0
		st.LastError = ""
	}
	c.mu.Unlock()

	if err != nil {
		metrics.MaintenanceRuns.WithLabelValues(j.name, "failure").Inc()
		c.log.Warn("maintenance job failed", zap.String("job", j.name), zap.Error(err))
		return err
	}
	metrics.MaintenanceRuns.WithLabelValues(j.name, "success").Inc()
	c.log.Debug("maintenance job completed",
		zap.String("job", j.name),
		zap.Int64("removed", removed),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// Status returns a snapshot of every registered job.
func (c *Cleaner) Status() []JobStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]JobStatus, 0, len(c.status))
	for _, j := range c.jobs() {
		if st, ok := c.status[j.name]; ok {
			out = append(out, *st)
		}
	}
	return out
}
