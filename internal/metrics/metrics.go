// Package metrics exposes hub counters and gauges for Prometheus. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	connectionState prometheus.Gauge
	reconnects      prometheus.Counter
	framesIn        *prometheus.CounterVec
	framesOut       *prometheus.CounterVec
	framesDropped   *prometheus.CounterVec
	queueDepth      prometheus.Gauge
	unreadTotal     prometheus.Gauge
	subscribers     prometheus.Gauge
}

// New registers the hub metrics on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hub_connection_state",
			Help: "Connection state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting)",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hub_reconnects_total",
			Help: "Reconnect attempts after a dropped or failed connection",
		}),
		framesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hub_frames_received_total",
			Help: "Inbound frames by type",
		}, []string{"type"}),
		framesOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hub_frames_sent_total",
			Help: "Outbound frames by type",
		}, []string{"type"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hub_frames_dropped_total",
			Help: "Frames dropped by reason",
		}, []string{"reason"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hub_send_queue_depth",
			Help: "Outbound intents waiting for the transport",
		}),
		unreadTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hub_unread_total",
			Help: "Unread messages across all conversations",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hub_bridge_subscribers",
			Help: "Active bridge event stream connections",
		}),
	}
	m.registry.MustRegister(
		m.connectionState,
		m.reconnects,
		m.framesIn,
		m.framesOut,
		m.framesDropped,
		m.queueDepth,
		m.unreadTotal,
		m.subscribers,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler returns an http.Handler for Prometheus scraping
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SetConnectionState(state int) {
	if m == nil {
		return
	}
	m.connectionState.Set(float64(state))
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) FrameReceived(frameType string) {
	if m == nil {
		return
	}
	m.framesIn.WithLabelValues(frameType).Inc()
}

func (m *Metrics) FrameSent(frameType string) {
	if m == nil {
		return
	}
	m.framesOut.WithLabelValues(frameType).Inc()
}

func (m *Metrics) FrameDropped(reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) SetUnreadTotal(n int) {
	if m == nil {
		return
	}
	m.unreadTotal.Set(float64(n))
}

func (m *Metrics) SubscriberAdded() {
	if m == nil {
		return
	}
	m.subscribers.Inc()
}

func (m *Metrics) SubscriberRemoved() {
	if m == nil {
		return
	}
	m.subscribers.Dec()
}
