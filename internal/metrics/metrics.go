// Package metrics exposes the server's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GamesActive tracks the number of live games in the registry.
	GamesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pitgame",
		Name:      "games_active",
		Help:      "Number of live games.",
	})

	// ClientsConnected tracks open websocket connections.
	ClientsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pitgame",
		Name:      "clients_connected",
		Help:      "Number of connected websocket clients.",
	})

	// EventsIn counts inbound events by name.
	EventsIn = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pitgame",
		Name:      "events_in_total",
		Help:      "Inbound events dispatched, by event name.",
	}, []string{"event"})

	// TradesMatched counts executed trades (book fills and forced trades).
	TradesMatched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pitgame",
		Name:      "trades_matched_total",
		Help:      "Trades executed across all games.",
	})

	// ErrorsEmitted counts game:error events sent to clients.
	ErrorsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pitgame",
		Name:      "errors_emitted_total",
		Help:      "Error events emitted to clients.",
	})
)
