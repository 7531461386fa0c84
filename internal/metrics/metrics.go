// Package metrics provides Prometheus instrumentation for the chat server.
// It exposes gauges for connection and presence counts, counters for message
// and delivery throughput, and a histogram for send latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActiveConnections tracks the current number of live WebSocket connections.
	ActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "parley_active_connections",
		Help: "Current number of live WebSocket connections",
	})

	// PresentUsers tracks the number of distinct users with at least one
	// live connection on this server.
	PresentUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "parley_present_users",
		Help: "Distinct users with at least one live connection",
	})

	// MessagesSent counts successfully persisted messages.
	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parley_messages_sent_total",
		Help: "Total number of messages persisted",
	})

	// SendFailures counts rejected or failed sends, labeled by reason:
	// "validation" or "storage".
	SendFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_send_failures_total",
		Help: "Total number of failed sends",
	}, []string{"reason"})

	// Deliveries counts live delivery attempts to individual connections,
	// labeled by result: "ok" or "failed". Failed deliveries are never
	// retried; the recipient catches up via history.
	Deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_deliveries_total",
		Help: "Live delivery attempts per connection",
	}, []string{"result"})

	// SendLatency records end-to-end send latency (validation through
	// fan-out) in seconds.
	SendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "parley_send_latency_seconds",
		Help:    "Send latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// HistoryFetches counts history queries served over the HTTP API.
	HistoryFetches = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parley_history_fetches_total",
		Help: "Total number of history queries served",
	})
)

func init() {
	prometheus.MustRegister(
		ActiveConnections,
		PresentUsers,
		MessagesSent,
		SendFailures,
		SendLatency,
		Deliveries,
		HistoryFetches,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
