// Package metrics holds the Prometheus collectors of the loyalty engine.
//
// Collectors are package-level and registered on the default registry
// through promauto; the api package exposes them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PointsOperations counts engine operations by kind (item, manual,
	// reversal) and outcome (applied, insufficient_balance, ...).
	PointsOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loyalty_points_operations_total",
			Help: "Total number of points operations by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// PointsMoved sums absolute point deltas of applied operations.
	PointsMoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loyalty_points_moved_total",
			Help: "Total points credited or debited by applied operations",
		},
		[]string{"direction"}, // "credit", "debit"
	)

	CardsAllocated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "loyalty_cards_allocated_total",
			Help: "Total number of client card identifiers allocated",
		},
	)

	// LedgerDrift is the number of clients whose balance disagreed with
	// their ledger in the last audit run.
	LedgerDrift = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "loyalty_ledger_drift_clients",
			Help: "Clients whose balance does not match their latest ledger entry",
		},
	)

	LedgerAuditRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loyalty_ledger_audit_runs_total",
			Help: "Total number of ledger audit runs by result",
		},
		[]string{"result"}, // "clean", "drift", "error"
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "loyalty_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "route", "status_code"},
	)
)
