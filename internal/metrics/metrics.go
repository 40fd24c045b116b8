// Package metrics provides Prometheus instrumentation for the chat
// server: gauges for connection and session counts, counters for relay
// throughput, and a histogram for time spent in the waiting queue.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsOnline tracks the current number of registered connections.
	ConnectionsOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connections_online",
		Help: "Current number of registered connections",
	})

	// ConnectionsLifetime counts every registration since process start.
	ConnectionsLifetime = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_connections_lifetime_total",
		Help: "Total number of connections registered since start",
	})

	// SessionsActive tracks the current number of active chat sessions.
	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_sessions_active",
		Help: "Current number of active chat sessions",
	})

	// SessionsTotal counts every session opened since process start.
	SessionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_sessions_total",
		Help: "Total number of chat sessions opened since start",
	})

	// MessagesRelayed counts messages successfully delivered to a partner.
	MessagesRelayed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_relayed_total",
		Help: "Total number of messages relayed to a partner",
	})

	// QueueWaiting tracks the current number of connections in the
	// waiting queue.
	QueueWaiting = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_queue_waiting",
		Help: "Current number of connections waiting for a match",
	})

	// MatchWait records time spent in the waiting queue before a match.
	MatchWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_match_wait_seconds",
		Help:    "Time from find_match to matched",
		Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60, 120},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsOnline,
		ConnectionsLifetime,
		SessionsActive,
		SessionsTotal,
		MessagesRelayed,
		QueueWaiting,
		MatchWait,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
