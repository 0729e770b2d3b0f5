// Package metrics provides a Prometheus implementation of the middleware
// MetricsCollector interface.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus records envelope processing counts and latency.
type Prometheus struct {
	processed *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// NewPrometheus creates a collector and registers its metrics with reg. Pass
// prometheus.DefaultRegisterer for the default registry.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "confbus",
			Name:      "envelopes_processed_total",
			Help:      "Envelopes dispatched to handlers, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "confbus",
			Name:      "envelope_handle_seconds",
			Help:      "Handler processing time by envelope kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
	}
	reg.MustRegister(p.processed, p.duration)
	return p
}

// EnvelopeProcessed implements middleware.MetricsCollector.
func (p *Prometheus) EnvelopeProcessed(kind string, duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	p.processed.WithLabelValues(kind, outcome).Inc()
	p.duration.WithLabelValues(kind).Observe(duration.Seconds())
}
