package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultCheckTimeout bounds a whole readiness evaluation.
const DefaultCheckTimeout = 5 * time.Second

// CheckStatus encodes the outcome of a dependency check.
type CheckStatus string

const (
	StatusUp       CheckStatus = "up"
	StatusDegraded CheckStatus = "degraded"
	StatusDown     CheckStatus = "down"
)

// Tier decides how a failing check affects readiness.
type Tier string

const (
	// TierCritical checks gate readiness. The API cannot serve requests
	// without the content store or the media backend.
	TierCritical Tier = "critical"
	// TierAdvisory checks only degrade the report: rate-limit counters fail
	// open and background work is best effort.
	TierAdvisory Tier = "advisory"
)

// CheckResult captures one dependency's state.
type CheckResult struct {
	Component string        `json:"component"`
	Tier      Tier          `json:"tier"`
	Status    CheckStatus   `json:"status"`
	Details   string        `json:"details,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Report is the outcome of a readiness evaluation. Ready is false only when
// a critical check is down.
type Report struct {
	Ready     bool          `json:"ready"`
	Status    CheckStatus   `json:"status"`
	Checks    []CheckResult `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Check is a named dependency check. Run only fills Status and Details; the
// registry stamps the component, tier and duration.
type Check struct {
	Name string
	Tier Tier
	Run  func(ctx context.Context) CheckResult
}

// Critical declares a check whose failure takes the API out of rotation.
func Critical(name string, fn func(ctx context.Context) CheckResult) Check {
	return Check{Name: name, Tier: TierCritical, Run: fn}
}

// Advisory declares a check whose failure only degrades the report.
func Advisory(name string, fn func(ctx context.Context) CheckResult) Check {
	return Check{Name: name, Tier: TierAdvisory, Run: fn}
}

// Up reports a healthy dependency.
func Up(details string) CheckResult { return CheckResult{Status: StatusUp, Details: details} }

// Degraded reports a dependency that still works with reduced guarantees.
func Degraded(details string) CheckResult {
	return CheckResult{Status: StatusDegraded, Details: details}
}

// Down reports an unusable dependency.
func Down(details string) CheckResult { return CheckResult{Status: StatusDown, Details: details} }

// FromError maps a check error to a result. Deadline and cancellation errors
// degrade rather than down, since the dependency may just be slow.
func FromError(err error) CheckResult {
	switch {
	case err == nil:
		return Up("")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return Degraded(err.Error())
	default:
		return Down(err.Error())
	}
}

// Readiness holds the registered checks and evaluates them concurrently
// under a single deadline.
type Readiness struct {
	mu         sync.RWMutex
	registered []Check
	timeout    time.Duration
	now        func() time.Time
}

// NewReadiness builds an empty registry. timeout <= 0 uses DefaultCheckTimeout.
func NewReadiness(timeout time.Duration) *Readiness {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return &Readiness{timeout: timeout, now: time.Now}
}

// Register adds p. Checks with an empty name or no Run func are ignored; a
// check registered twice under the same name replaces the earlier one.
func (r *Readiness) Register(p Check) {
	if p.Name == "" || p.Run == nil {
		return
	}
	if p.Tier == "" {
		p.Tier = TierCritical
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.registered {
		if r.registered[i].Name == p.Name {
			r.registered[i] = p
			return
		}
	}
	r.registered = append(r.registered, p)
}

// Components lists registered check names in registration order.
func (r *Readiness) Components() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.registered))
	for i, p := range r.registered {
		names[i] = p.Name
	}
	return names
}

type indexedResult struct {
	index  int
	result CheckResult
}

// Evaluate runs every check in parallel. Checks still running when the
// deadline passes are reported as down with a timeout note.
func (r *Readiness) Evaluate(ctx context.Context) Report {
	if ctx == nil {
		ctx = context.Background()
	}

	r.mu.RLock()
	snapshot := append([]Check(nil), r.registered...)
	r.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// Buffered so late checks never block after Evaluate returns.
	done := make(chan indexedResult, len(snapshot))
	for i, p := range snapshot {
		go func(i int, p Check) {
			done <- indexedResult{index: i, result: runCheck(ctx, p)}
		}(i, p)
	}

	results := make([]CheckResult, len(snapshot))
	finished := make([]bool, len(snapshot))
	start := r.now()
collect:
	for remaining := len(snapshot); remaining > 0; remaining-- {
		select {
		case res := <-done:
			results[res.index] = res.result
			finished[res.index] = true
		case <-ctx.Done():
			break collect
		}
	}
	for i, ok := range finished {
		if !ok {
			results[i] = CheckResult{
				Component: snapshot[i].Name,
				Tier:      snapshot[i].Tier,
				Status:    StatusDown,
				Details:   fmt.Sprintf("no answer within %s", r.timeout),
				Duration:  r.now().Sub(start),
			}
		}
	}

	return fold(results, r.now().UTC())
}

func fold(results []CheckResult, at time.Time) Report {
	report := Report{Ready: true, Status: StatusUp, Checks: results, CheckedAt: at}
	for _, res := range results {
		if res.Status == StatusUp {
			continue
		}
		if res.Tier == TierCritical && res.Status == StatusDown {
			report.Ready = false
			report.Status = StatusDown
			continue
		}
		if report.Status == StatusUp {
			report.Status = StatusDegraded
		}
	}
	return report
}

func runCheck(ctx context.Context, p Check) (result CheckResult) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			result = Down(fmt.Sprintf("check panicked: %v", rec))
		}
		if result.Status == "" {
			result.Status = StatusDown
		}
		result.Component = p.Name
		result.Tier = p.Tier
		result.Duration = time.Since(start)
	}()
	return p.Run(ctx)
}
