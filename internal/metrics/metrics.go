// Package metrics exposes the Prometheus instruments for the
// synchronization core. All instruments register on the default registry
// and are served by the daemon's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reconciliation outcomes, used as the outcome label on ReconcilePasses.
const (
	OutcomeMatch    = "match"
	OutcomeDiverged = "diverged"
	OutcomeDegraded = "degraded"
)

var (
	// ReconcilePasses counts reconciliation passes by outcome.
	ReconcilePasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aeghis",
		Subsystem: "reconciler",
		Name:      "passes_total",
		Help:      "Reconciliation passes by outcome (match, diverged, degraded).",
	}, []string{"outcome"})

	// PositionsAppended counts GPS samples written to the live store.
	PositionsAppended = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aeghis",
		Subsystem: "positions",
		Name:      "appended_total",
		Help:      "GPS samples appended to the live store.",
	})

	// PositionsPruned counts GPS samples removed by retention pruning.
	PositionsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aeghis",
		Subsystem: "positions",
		Name:      "pruned_total",
		Help:      "GPS samples deleted by retention pruning.",
	})

	// ActiveWatchers tracks live-store subscriptions currently open,
	// labeled by what they watch (journeys, participants, positions).
	ActiveWatchers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "aeghis",
		Subsystem: "live",
		Name:      "active_watchers",
		Help:      "Open live-store subscriptions by kind.",
	}, []string{"kind"})

	// BackendRequestDuration observes authoritative-store round trips
	// made by the reconciler.
	BackendRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "aeghis",
		Subsystem: "backend",
		Name:      "request_duration_seconds",
		Help:      "Authoritative backend round-trip latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)
