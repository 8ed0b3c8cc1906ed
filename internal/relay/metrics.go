package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/healthchat/backend/internal/service/ai"
)

// Metrics holds the relay's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	connections   prometheus.Gauge
	inbound       *prometheus.CounterVec
	outbound      *prometheus.CounterVec
	dropsTotal    *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	aiReplies     *prometheus.CounterVec
	aiFailures    *prometheus.CounterVec
	frameDuration *prometheus.HistogramVec
}

// NewMetrics registers the relay collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "healthchat_relay_connections",
			Help: "Currently open relay connections",
		}),
		inbound: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "healthchat_relay_frames_received_total",
			Help: "Inbound frames by type",
		}, []string{"type"}),
		outbound: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "healthchat_relay_frames_sent_total",
			Help: "Outbound frames queued by type",
		}, []string{"type"}),
		dropsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "healthchat_relay_frames_dropped_total",
			Help: "Outbound frames skipped because the connection was closed or saturated",
		}, []string{"type"}),
		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "healthchat_relay_errors_total",
			Help: "Error frames sent by code",
		}, []string{"code"}),
		aiReplies: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "healthchat_relay_ai_replies_total",
			Help: "AI bridge outcomes for user turns",
		}, []string{"outcome"}),
		aiFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "healthchat_ai_failures_total",
			Help: "AI bridge failures by kind",
		}, []string{"kind"}),
		frameDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "healthchat_relay_frame_duration_seconds",
			Help:    "Time spent handling one inbound frame",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"type"}),
	}
}

func (m *Metrics) connOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) connClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Metrics) received(frameType string) {
	if m == nil {
		return
	}
	m.inbound.WithLabelValues(frameType).Inc()
}

func (m *Metrics) sent(frameType string) {
	if m == nil {
		return
	}
	m.outbound.WithLabelValues(frameType).Inc()
}

func (m *Metrics) broadcast(frameType string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.outbound.WithLabelValues(frameType).Add(float64(n))
}

func (m *Metrics) dropped(frameType string) {
	if m == nil {
		return
	}
	m.dropsTotal.WithLabelValues(frameType).Inc()
}

func (m *Metrics) errorSent(code string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(code).Inc()
}

func (m *Metrics) aiOutcome(answered bool) {
	if m == nil {
		return
	}
	outcome := "none"
	if answered {
		outcome = "answered"
	}
	m.aiReplies.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeFrame(frameType string, seconds float64) {
	if m == nil {
		return
	}
	m.frameDuration.WithLabelValues(frameType).Observe(seconds)
}

// AIFailure counts one AI backend failure. Its signature matches
// ai.FailureHook.
func (m *Metrics) AIFailure(kind ai.FailureKind) {
	if m == nil {
		return
	}
	m.aiFailures.WithLabelValues(string(kind)).Inc()
}
