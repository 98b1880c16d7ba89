package correlation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/universe-player/bridge/metrics"
)

// Metrics holds correlation table metrics
type Metrics struct {
	Pending          prometheus.Gauge
	ResolvedTotal    *prometheus.CounterVec
	Orphans          prometheus.Counter
	RoundTripLatency prometheus.Histogram
}

// NewMetrics creates correlation metrics
func NewMetrics() *Metrics {
	reg := metrics.NewComponentRegistry("player", "correlation")

	return &Metrics{
		Pending: reg.NewGauge(prometheus.GaugeOpts{
			Name: "pending",
			Help: "Number of requests awaiting a reply",
		}),

		ResolvedTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "resolved_total",
			Help: "Total number of resolved requests by outcome",
		}, []string{"outcome"}),

		Orphans: reg.NewCounter(prometheus.CounterOpts{
			Name: "orphan_replies_total",
			Help: "Replies that matched no pending request",
		}),

		RoundTripLatency: reg.NewHistogram(prometheus.HistogramOpts{
			Name:    "round_trip_seconds",
			Help:    "Time from registration to resolution",
			Buckets: metrics.DurationBuckets,
		}),
	}
}

// RecordResolved records a resolution and its latency
func (m *Metrics) RecordResolved(outcome string, latency time.Duration) {
	m.ResolvedTotal.WithLabelValues(outcome).Inc()
	m.RoundTripLatency.Observe(latency.Seconds())
}
