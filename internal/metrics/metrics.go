// Package metrics provides Prometheus instrumentation for the pairing core.
// It exposes gauges for queue depth and active sessions, counters for
// matches, relayed messages and ratings, and a histogram for match wait time.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QueueSize tracks the current number of participants in the waiting pool.
	QueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "veil_queue_size",
		Help: "Current number of participants in the waiting pool",
	})

	// ActiveSessions tracks the current number of ACTIVE sessions.
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "veil_active_sessions",
		Help: "Current number of active sessions",
	})

	// MatchesTotal counts successful pairings, labeled by tier origin:
	// "room" or "global".
	MatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "veil_matches_total",
		Help: "Total number of successful pairings",
	}, []string{"scope"}) // scope = "room", "global"

	// MessagesRelayed counts messages accepted for relay.
	MessagesRelayed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "veil_messages_relayed_total",
		Help: "Total number of messages relayed between partners",
	})

	// RatingsTotal counts recorded ratings, labeled by value.
	RatingsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "veil_ratings_total",
		Help: "Total number of recorded ratings",
	}, []string{"value"}) // value = "positive", "negative"

	// ReportsTotal counts filed abuse reports.
	ReportsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "veil_reports_total",
		Help: "Total number of filed abuse reports",
	})

	// MatchWait records how long a matched candidate waited in the pool.
	MatchWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "veil_match_wait_seconds",
		Help:    "Time a matched candidate spent in the waiting pool",
		Buckets: []float64{1, 2, 5, 10, 15, 30, 60, 120, 300},
	})
)

func init() {
	prometheus.MustRegister(
		QueueSize,
		ActiveSessions,
		MatchesTotal,
		MessagesRelayed,
		RatingsTotal,
		ReportsTotal,
		MatchWait,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
