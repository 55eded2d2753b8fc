// Package metrics defines the Prometheus instruments for the auction
// engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Bidding metrics
	BidsPlaced = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "auctiond",
			Subsystem: "bidding",
			Name:      "bids_placed_total",
			Help:      "Total number of accepted bids",
		},
	)

	BidsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "auctiond",
			Subsystem: "bidding",
			Name:      "bids_rejected_total",
			Help:      "Total number of rejected bid attempts by reason",
		},
		[]string{"reason"},
	)

	// Lifecycle metrics
	ActiveMonitors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "auctiond",
			Subsystem: "lifecycle",
			Name:      "active_monitors",
			Help:      "Number of live auction monitors",
		},
	)

	CountdownsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "auctiond",
			Subsystem: "lifecycle",
			Name:      "countdowns_started_total",
			Help:      "Total number of inactivity countdowns started",
		},
	)

	CountdownsInterrupted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "auctiond",
			Subsystem: "lifecycle",
			Name:      "countdowns_interrupted_total",
			Help:      "Total number of countdowns aborted by a late bid",
		},
	)

	AuctionsFinalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "auctiond",
			Subsystem: "lifecycle",
			Name:      "auctions_finalized_total",
			Help:      "Total number of finalized auctions",
		},
		[]string{"outcome"}, // sold, unsold
	)

	// Storage metrics
	FailoverTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "auctiond",
			Subsystem: "storage",
			Name:      "failover_total",
			Help:      "Total number of primary-to-secondary transitions",
		},
	)

	FailbackTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "auctiond",
			Subsystem: "storage",
			Name:      "failback_total",
			Help:      "Total number of manual returns to the primary backend",
		},
	)
)
