package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/universe-player/bridge/metrics"
)

// Metrics holds frame-level transport metrics
type Metrics struct {
	FramesTotal    *prometheus.CounterVec
	FrameSizeBytes *prometheus.HistogramVec
	ErrorsTotal    *prometheus.CounterVec
	ChannelsOpen   prometheus.Gauge
}

// NewMetrics creates transport metrics
func NewMetrics() *Metrics {
	reg := metrics.NewComponentRegistry("player", "transport")

	return &Metrics{
		FramesTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "frames_total",
			Help: "Total number of frames by direction",
		}, []string{"direction"}),

		FrameSizeBytes: reg.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "frame_size_bytes",
			Help:    "Size of frame bodies",
			Buckets: metrics.SizeBuckets,
		}, []string{"direction"}),

		ErrorsTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of transport errors by type",
		}, []string{"type"}),

		ChannelsOpen: reg.NewGauge(prometheus.GaugeOpts{
			Name: "channels_open",
			Help: "Number of open companion channels",
		}),
	}
}

// RecordFrame records one frame moved in direction ("in" or "out").
func (m *Metrics) RecordFrame(direction string, size int) {
	m.FramesTotal.WithLabelValues(direction).Inc()
	m.FrameSizeBytes.WithLabelValues(direction).Observe(float64(size))
}

// RecordError records a transport error
func (m *Metrics) RecordError(errorType string) {
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
