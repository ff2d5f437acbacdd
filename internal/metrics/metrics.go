// Package metrics provides Prometheus instrumentation for the chatbox
// realtime layer. It exposes gauges for connection counts, counters for
// frame and fan-out throughput, and a histogram for broadcast latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsActive tracks the current number of open websocket
	// connections across all three socket kinds.
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatbox_connections_active",
		Help: "Current number of active websocket connections",
	})

	// FramesReceived counts inbound data frames before parsing.
	FramesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatbox_frames_received_total",
		Help: "Total number of inbound websocket data frames",
	})

	// FramesHandled counts parsed inbound frames by type, including the
	// "invalid" and "unknown" buckets for frames that were not dispatched.
	FramesHandled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatbox_frames_handled_total",
		Help: "Total number of inbound frames by frame type",
	}, []string{"type"})

	// EventsPublished counts events published to groups by event type.
	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatbox_events_published_total",
		Help: "Total number of events published to broadcast groups",
	}, []string{"type"})

	// EventsDelivered counts events written to individual sockets after
	// echo suppression.
	EventsDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatbox_events_delivered_total",
		Help: "Total number of events delivered to sockets",
	})

	// BroadcastLatency records the time from inbound frame to publish.
	BroadcastLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatbox_broadcast_latency_seconds",
		Help:    "Time from receiving a frame to publishing its event",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// DeliveryMarks counts delivery status upserts by target status.
	DeliveryMarks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatbox_delivery_marks_total",
		Help: "Total number of delivery status marks by target status",
	}, []string{"status"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsActive,
		FramesReceived,
		FramesHandled,
		EventsPublished,
		EventsDelivered,
		BroadcastLatency,
		DeliveryMarks,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
