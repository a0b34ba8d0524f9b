// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus metrics for connection lifecycle and traffic.

package control

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects link counters on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	accepted          prometheus.Counter
	connected         prometheus.Counter
	disconnected      prometheus.Counter
	liveConnections   prometheus.Gauge
	messagesReceived  prometheus.Counter
	messagesSent      prometheus.Counter
	bytesReceived     prometheus.Counter
	bytesSent         prometheus.Counter
	framingRejections *prometheus.CounterVec
	reconnectAttempts prometheus.Counter
}

// NewMetrics creates and registers all collectors under namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "hioload"
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      name,
			Help:      help,
		})
	}
	m := &Metrics{
		registry:         prometheus.NewRegistry(),
		accepted:         counter("connections_accepted_total", "Connections accepted on bound endpoints."),
		connected:        counter("connections_connected_total", "Connections that reached the connected state."),
		disconnected:     counter("connections_disconnected_total", "Connections that reached the disconnected state."),
		messagesReceived: counter("messages_received_total", "Framed messages delivered to callbacks."),
		messagesSent:     counter("messages_sent_total", "Messages fully written to sockets."),
		bytesReceived:    counter("bytes_received_total", "Raw bytes read from sockets."),
		bytesSent:        counter("bytes_sent_total", "Raw bytes written to sockets."),
		reconnectAttempts: counter("reconnect_attempts_total",
			"Connect attempts made after a failed or dropped connection."),
		liveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "connections_live",
			Help:      "Connections currently registered.",
		}),
		framingRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "framing_rejections_total",
			Help:      "Streams rejected by their framing protocol.",
		}, []string{"protocol"}),
	}
	m.registry.MustRegister(
		m.accepted, m.connected, m.disconnected, m.liveConnections,
		m.messagesReceived, m.messagesSent, m.bytesReceived, m.bytesSent,
		m.framingRejections, m.reconnectAttempts,
	)
	return m
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Accepted() {
	if m != nil {
		m.accepted.Inc()
	}
}

func (m *Metrics) Registered() {
	if m != nil {
		m.liveConnections.Inc()
	}
}

func (m *Metrics) Connected() {
	if m != nil {
		m.connected.Inc()
	}
}

func (m *Metrics) Disconnected() {
	if m != nil {
		m.disconnected.Inc()
		m.liveConnections.Dec()
	}
}

func (m *Metrics) Received(messages, bytes int) {
	if m != nil {
		m.messagesReceived.Add(float64(messages))
		m.bytesReceived.Add(float64(bytes))
	}
}

func (m *Metrics) BytesSent(n int) {
	if m != nil {
		m.bytesSent.Add(float64(n))
	}
}

func (m *Metrics) MessagesSent(n int) {
	if m != nil {
		m.messagesSent.Add(float64(n))
	}
}

func (m *Metrics) FramingRejected(protocol string) {
	if m != nil {
		m.framingRejections.WithLabelValues(protocol).Inc()
	}
}

func (m *Metrics) ReconnectAttempt() {
	if m != nil {
		m.reconnectAttempts.Inc()
	}
}
