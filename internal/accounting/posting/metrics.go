package posting

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

// Metrics exposes posting collectors.
type Metrics struct {
	attempts *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers posting metrics against registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_gl_postings_total",
			Help: "GL posting attempts by module and outcome.",
		}, []string{"module", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "odyssey_gl_posting_duration_seconds",
			Help:    "GL posting latency by module.",
			Buckets: prometheus.DefBuckets,
		}, []string{"module"}),
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	registerer.MustRegister(m.attempts, m.duration)
	return m
}

func (m *Metrics) observe(module shared.ModuleType, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	m.attempts.WithLabelValues(string(module), outcome(err)).Inc()
	m.duration.WithLabelValues(string(module)).Observe(elapsed.Seconds())
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "posted"
	case errors.Is(err, shared.ErrAlreadyPosted):
		return "already_posted"
	case errors.Is(err, shared.ErrMissingAccountConfiguration):
		return "missing_account"
	case errors.Is(err, shared.ErrInvalidDimensionReference):
		return "invalid_dimension"
	case errors.Is(err, shared.ErrUnbalancedComputation):
		return "unbalanced"
	default:
		return "error"
	}
}
