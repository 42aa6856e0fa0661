// Package ws – Prometheus instrumentation for the realtime hub.
//
// Cardinality is bounded by labeling only the closed event-name enum and the
// closed outcome set; user and session identifiers never become labels.
package ws

import "github.com/prometheus/client_golang/prometheus"

var (
	// connectionsActive gauges authenticated socket connections.
	connectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections_active",
			Help: "Current number of authenticated websocket connections.",
		},
	)

	// eventsTotal counts processed inbound events by name and outcome.
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_events_total",
			Help: "Total inbound websocket events processed.",
		},
		[]string{"event", "outcome"},
	)

	// callsActive gauges calls currently in the in-flight registry.
	callsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_calls_active",
			Help: "Current number of in-flight calls (ringing or active).",
		},
	)
)

func init() {
	prometheus.MustRegister(connectionsActive, eventsTotal, callsActive)
}

// event outcomes
const (
	outcomeOK    = "ok"
	outcomeError = "error"
)
