// Package metrics holds the Prometheus collectors for upstream AI calls and
// live connections. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result labels for upstream requests.
const (
	ResultOK       = "ok"
	ResultTimeout  = "timeout"
	ResultError    = "error"
	ResultEmpty    = "empty"
	ResultDisabled = "not_configured"
)

type Metrics struct {
	// UpstreamRequests counts AI calls by conversation context and result
	UpstreamRequests *prometheus.CounterVec
	// UpstreamDuration tracks AI call latency, first byte to last event
	UpstreamDuration *prometheus.HistogramVec
	// ActiveStreams tracks SSE responses currently open
	ActiveStreams *prometheus.GaugeVec
	// StreamCheckpoints counts partial replies saved mid-stream
	StreamCheckpoints *prometheus.CounterVec
	// LoungeConnections tracks open lounge WebSockets
	LoungeConnections prometheus.Gauge
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		UpstreamRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "betweenus_upstream_requests_total",
			Help: "AI upstream calls by context and result",
		}, []string{"context", "result"}),
		UpstreamDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "betweenus_upstream_duration_seconds",
			Help:    "AI upstream call duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 9), // 250ms to ~64s
		}, []string{"context"}),
		ActiveStreams: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "betweenus_active_streams",
			Help: "Streaming responses currently open",
		}, []string{"context"}),
		StreamCheckpoints: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "betweenus_stream_checkpoints_total",
			Help: "Partial replies persisted while streaming",
		}, []string{"context"}),
		LoungeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "betweenus_lounge_connections",
			Help: "Open lounge WebSocket connections",
		}),
	}
}

// ObserveUpstream records one finished AI call.
func (m *Metrics) ObserveUpstream(context, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamRequests.WithLabelValues(context, result).Inc()
	m.UpstreamDuration.WithLabelValues(context).Observe(took.Seconds())
}

// StreamOpened marks a streaming response as started and returns the func
// that marks it finished.
func (m *Metrics) StreamOpened(context string) func() {
	if m == nil {
		return func() {}
	}
	g := m.ActiveStreams.WithLabelValues(context)
	g.Inc()
	return g.Dec
}

func (m *Metrics) Checkpoint(context string) {
	if m == nil {
		return
	}
	m.StreamCheckpoints.WithLabelValues(context).Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.LoungeConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.LoungeConnections.Dec()
}
