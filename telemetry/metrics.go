// Package telemetry exports audit metrics to Prometheus.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stylecheck"

// Metrics records audit activity. It satisfies audit.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	audits    *prometheus.CounterVec
	rounds    prometheus.Histogram
	accepted  prometheus.Counter
	dropped   *prometheus.CounterVec
	degraded  *prometheus.CounterVec
	fallbacks *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

// NewMetrics registers the audit metrics on a fresh registry, together with
// the Go runtime and process collectors
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		audits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audits_total",
			Help:      "Audits run, by outcome.",
		}, []string{"outcome"}),
		rounds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "audit_rounds",
			Help:      "Analysis rounds per audit.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "violations_accepted_total",
			Help:      "Violations reported after deduplication.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "violations_dropped_total",
			Help:      "Model-reported violations discarded, by reason.",
		}, []string{"reason"}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_degradations_total",
			Help:      "Retrieval source failures that were recovered from, by source.",
		}, []string{"source"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rerank_fallbacks_total",
			Help:      "Reranker failures that fell back to similarity order, by scorer.",
		}, []string{"scorer"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "audit_duration_seconds",
			Help:      "Wall-clock audit duration, by outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.audits, m.rounds, m.accepted, m.dropped, m.degraded, m.fallbacks, m.durations,
	)
	return m
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// AuditFinished records a completed audit
func (m *Metrics) AuditFinished(outcome string, rounds, accepted int, elapsed time.Duration) {
	m.audits.WithLabelValues(outcome).Inc()
	m.rounds.Observe(float64(rounds))
	m.accepted.Add(float64(accepted))
	m.durations.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ViolationDropped records a discarded violation
func (m *Metrics) ViolationDropped(reason string) {
	m.dropped.WithLabelValues(reason).Inc()
}

// RetrievalDegraded records a failed retrieval source
func (m *Metrics) RetrievalDegraded(source string) {
	m.degraded.WithLabelValues(source).Inc()
}

// RerankFallback records a reranker fallback
func (m *Metrics) RerankFallback(scorer string) {
	m.fallbacks.WithLabelValues(scorer).Inc()
}
