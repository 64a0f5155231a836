// Package metrics exposes Prometheus instrumentation for the analysis
// pipeline and the verification path.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all the Prometheus metrics for the service. Each instance
// carries its own registry so multiple instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	VerdictsTotal      *prometheus.CounterVec
	DegradedTotal      prometheus.Counter
	VerificationsTotal *prometheus.CounterVec
	AnomaliesTotal     *prometheus.CounterVec
	BatchDuration      prometheus.Histogram
	ActiveProfiles     prometheus.Gauge
}

// New creates a Metrics instance backed by a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		VerdictsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_verdicts_total",
			Help: "Total number of verdicts produced, by severity",
		}, []string{"severity"}),
		DegradedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "kestrel_degraded_verdicts_total",
			Help: "Total number of verdicts produced from partial inputs",
		}),
		VerificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_verifications_total",
			Help: "Total number of access verifications, by outcome",
		}, []string{"outcome"}),
		AnomaliesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_anomalies_total",
			Help: "Total number of behavioral anomalies detected, by type",
		}, []string{"type"}),
		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "kestrel_batch_duration_seconds",
			Help:    "Time spent analyzing an event batch",
			Buckets: prometheus.DefBuckets,
		}),
		ActiveProfiles: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kestrel_active_profiles",
			Help: "Number of identities with a behavior profile in memory",
		}),
	}
}

// ObserveVerdict records a produced verdict.
func (m *Metrics) ObserveVerdict(severity string, degraded bool) {
	m.VerdictsTotal.WithLabelValues(severity).Inc()
	if degraded {
		m.DegradedTotal.Inc()
	}
}

// ObserveVerification records an access verification outcome.
func (m *Metrics) ObserveVerification(granted bool) {
	outcome := "denied"
	if granted {
		outcome = "granted"
	}
	m.VerificationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveAnomaly records a detected behavioral anomaly.
func (m *Metrics) ObserveAnomaly(anomalyType string) {
	m.AnomaliesTotal.WithLabelValues(anomalyType).Inc()
}

// Handler returns an HTTP handler serving this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
