package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/universe-player/bridge/metrics"
)

// Metrics holds all bridge-level metrics
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	UpdatesTotal      *prometheus.CounterVec
	DecodeErrorsTotal prometheus.Counter
	QueueDepth        prometheus.Gauge
	State             prometheus.Gauge
	StopsTotal        *prometheus.CounterVec
}

// NewMetrics creates bridge metrics
func NewMetrics() *Metrics {
	reg := metrics.NewComponentRegistry("player", "bridge")

	return &Metrics{
		RequestsTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "requests_total",
			Help: "Total number of requests by command and outcome",
		}, []string{"command", "outcome"}),

		UpdatesTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "updates_total",
			Help: "Total number of companion updates by type",
		}, []string{"type"}),

		DecodeErrorsTotal: reg.NewCounter(prometheus.CounterOpts{
			Name: "decode_errors_total",
			Help: "Frames that could not be decoded",
		}),

		QueueDepth: reg.NewGauge(prometheus.GaugeOpts{
			Name: "outbound_queue_depth",
			Help: "Frames waiting for the writer",
		}),

		State: reg.NewGauge(prometheus.GaugeOpts{
			Name: "state",
			Help: "Bridge lifecycle state (0 unstarted .. 4 stopped)",
		}),

		StopsTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "stops_total",
			Help: "Total number of bridge stops by reason",
		}, []string{"reason"}),
	}
}

// RecordRequest records a request outcome ("sent", "rejected", "backpressure", "write_failed")
func (m *Metrics) RecordRequest(cmd, outcome string) {
	m.RequestsTotal.WithLabelValues(cmd, outcome).Inc()
}
