// Package metrics provides Prometheus metrics for deskrelay.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "deskrelay"
)

// Metrics contains all Prometheus metrics. Every Record method is safe to
// call on a nil *Metrics, which records nothing.
type Metrics struct {
	// Transport metrics
	TransportConnected prometheus.Gauge
	Reconnects         prometheus.Counter
	MessagesSent       *prometheus.CounterVec
	MessagesReceived   *prometheus.CounterVec
	MessagesDropped    *prometheus.CounterVec

	// Streaming metrics
	FramesSent     prometheus.Counter
	FrameBytes     prometheus.Counter
	FrameErrors    prometheus.Counter
	FrameSize      prometheus.Histogram
	FramesReceived *prometheus.CounterVec

	// Session metrics
	SessionsActive   prometheus.Gauge
	SessionsRejected prometheus.Counter

	// Relay metrics
	RelayAgents  prometheus.Gauge
	RelayClients prometheus.Gauge
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the process-wide metrics instance registered with the
// default Prometheus registry.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetricsWithRegistry(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// NewMetricsWithRegistry creates a Metrics instance registered with reg.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TransportConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transport_connected",
			Help:      "1 while the relay connection is open",
		}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Total reconnection attempts",
		}),
		MessagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages written to the relay connection by type",
		}, []string{"type"}),
		MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Messages read from the relay connection by type",
		}, []string{"type"}),
		MessagesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Messages discarded by reason",
		}, []string{"reason"}),

		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Screen frames sent",
		}),
		FrameBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_bytes_total",
			Help:      "Encoded screen frame bytes sent",
		}),
		FrameErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_errors_total",
			Help:      "Capture ticks that failed and were skipped",
		}),
		FrameSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_size_bytes",
			Help:      "Histogram of encoded frame sizes",
			Buckets:   prometheus.ExponentialBuckets(4096, 2, 10),
		}),
		FramesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Screen frames received by client",
		}, []string{"client"}),

		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of bound client sessions",
		}),
		SessionsRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_rejected_total",
			Help:      "Client joins dropped because the session limit was reached",
		}),

		RelayAgents: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_agents",
			Help:      "Agents registered with the relay",
		}),
		RelayClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_clients",
			Help:      "Clients registered with the relay",
		}),
	}
}

// SetConnected records the relay connection state.
func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.TransportConnected.Set(1)
	} else {
		m.TransportConnected.Set(0)
	}
}

// RecordReconnect records a reconnection attempt.
func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

// RecordMessageSent records a message written to the connection.
func (m *Metrics) RecordMessageSent(msgType string) {
	if m == nil {
		return
	}
	m.MessagesSent.WithLabelValues(msgType).Inc()
}

// RecordMessageReceived records a message read from the connection.
func (m *Metrics) RecordMessageReceived(msgType string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(msgType).Inc()
}

// RecordDropped records a discarded message.
func (m *Metrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	m.MessagesDropped.WithLabelValues(reason).Inc()
}

// RecordFrame records a sent screen frame of the given encoded size.
func (m *Metrics) RecordFrame(bytes int) {
	if m == nil {
		return
	}
	m.FramesSent.Inc()
	m.FrameBytes.Add(float64(bytes))
	m.FrameSize.Observe(float64(bytes))
}

// RecordFrameError records a failed capture tick.
func (m *Metrics) RecordFrameError() {
	if m == nil {
		return
	}
	m.FrameErrors.Inc()
}

// RecordFrameReceived records a frame delivered to a session.
func (m *Metrics) RecordFrameReceived(clientID string) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(clientID).Inc()
}

// ForgetClient removes per-client series once a session ends.
func (m *Metrics) ForgetClient(clientID string) {
	if m == nil {
		return
	}
	m.FramesReceived.DeleteLabelValues(clientID)
}

// SetSessions records the number of bound sessions.
func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(n))
}

// RecordSessionRejected records a join dropped at capacity.
func (m *Metrics) RecordSessionRejected() {
	if m == nil {
		return
	}
	m.SessionsRejected.Inc()
}

// SetRelayCounts records the relay registry sizes.
func (m *Metrics) SetRelayCounts(agents, clients int) {
	if m == nil {
		return
	}
	m.RelayAgents.Set(float64(agents))
	m.RelayClients.Set(float64(clients))
}
