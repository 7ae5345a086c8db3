package relay

import (
	"github.com/prometheus/client_golang/prometheus"
)

type relayMetrics struct {
	activeConns prometheus.Gauge
	connsTotal  prometheus.Counter
	frames      *prometheus.CounterVec
	drops       *prometheus.CounterVec
	fallback    prometheus.Counter
}

func newRelayMetrics(reg prometheus.Registerer) *relayMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &relayMetrics{
		activeConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_relay_connections_active",
			Help: "Current number of open realtime connections.",
		}),
		connsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_relay_connections_total",
			Help: "Total realtime connections accepted since start.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_relay_frames_total",
			Help: "Frames rebroadcast, grouped by inbound event name.",
		}, []string{"event"}),
		drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_relay_dropped_frames_total",
			Help: "Frames dropped instead of delivered, grouped by reason.",
		}, []string{"reason"}),
		fallback: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_relay_http_fallback_total",
			Help: "Messages received on the stateless HTTP fallback.",
		}),
	}

	reg.MustRegister(
		m.activeConns,
		m.connsTotal,
		m.frames,
		m.drops,
		m.fallback,
	)
	return m
}

func (m *relayMetrics) incConn() {
	if m == nil {
		return
	}
	m.activeConns.Inc()
	m.connsTotal.Inc()
}

func (m *relayMetrics) decConn() {
	if m == nil {
		return
	}
	m.activeConns.Dec()
}

func (m *relayMetrics) recordFrame(event string) {
	if m == nil {
		return
	}
	if event == "" {
		event = "unknown"
	}
	m.frames.WithLabelValues(event).Inc()
}

func (m *relayMetrics) recordDrop(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.drops.WithLabelValues(reason).Inc()
}

func (m *relayMetrics) recordFallback() {
	if m == nil {
		return
	}
	m.fallback.Inc()
}
