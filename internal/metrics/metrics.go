// Package metrics expõe os coletores Prometheus do limitador.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Resultados possíveis de um hit
const (
	OutcomeAllowed = "allowed"
	OutcomeBlocked = "blocked"
	OutcomeError   = "error"
)

// Metrics agrupa os coletores. Um *Metrics nil é válido e não registra nada.
type Metrics struct {
	Hits           *prometheus.CounterVec
	Violations     *prometheus.CounterVec
	StoreErrors    *prometheus.CounterVec
	CallbackErrors *prometheus.CounterVec
	StoreDuration  *prometheus.HistogramVec
}

// NewMetrics cria e registra os coletores
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Hits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "limiter_hits_total",
				Help: "Total hits evaluated by the limiter",
			},
			[]string{"limiter", "outcome"},
		),
		Violations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "limiter_violations_total",
				Help: "Total rule violations reported by hit or check",
			},
			[]string{"limiter", "rule", "operation"},
		),
		StoreErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "limiter_store_errors_total",
				Help: "Total errors returned by the record store",
			},
			[]string{"limiter", "operation"},
		),
		CallbackErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "limiter_callback_errors_total",
				Help: "Total errors returned by violation callbacks",
			},
			[]string{"limiter", "rule"},
		),
		StoreDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "limiter_store_duration_seconds",
				Help:    "Record store round trip duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}

	reg.MustRegister(m.Hits, m.Violations, m.StoreErrors, m.CallbackErrors, m.StoreDuration)
	return m
}

func (m *Metrics) ObserveHit(limiter, outcome string) {
	if m == nil {
		return
	}
	m.Hits.WithLabelValues(limiter, outcome).Inc()
}

func (m *Metrics) ObserveViolation(limiter, rule, operation string) {
	if m == nil {
		return
	}
	m.Violations.WithLabelValues(limiter, rule, operation).Inc()
}

func (m *Metrics) ObserveStoreError(limiter, operation string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(limiter, operation).Inc()
}

func (m *Metrics) ObserveCallbackError(limiter, rule string) {
	if m == nil {
		return
	}
	m.CallbackErrors.WithLabelValues(limiter, rule).Inc()
}

// ObserveStore registra a duração de uma ida ao storage
func (m *Metrics) ObserveStore(operation string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.StoreDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}
