package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options control monitoring module configuration.
type Options struct {
	// Gatherer serves /metrics. Defaults to the process-wide registry that
	// pkg/metrics registers into.
	Gatherer prometheus.Gatherer
	// CheckTimeout bounds a readiness evaluation.
	CheckTimeout time.Duration
}

// Module pairs the Prometheus exposition handler with the readiness registry.
type Module struct {
	gatherer  prometheus.Gatherer
	readiness *Readiness
}

// NewModule constructs a monitoring module.
func NewModule(opts Options) *Module {
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Module{
		gatherer:  gatherer,
		readiness: NewReadiness(opts.CheckTimeout),
	}
}

// Handler returns an http.Handler serving Prometheus metrics for this module.
func (m *Module) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Readiness exposes the check registry behind /health/ready.
func (m *Module) Readiness() *Readiness {
	if m == nil {
		return nil
	}
	return m.readiness
}
