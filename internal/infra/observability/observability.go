// Package observability holds the process-wide Prometheus metrics and the
// zap logger factory.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════
// Ledger Metrics
// ═══════════════════════════════════════════════════════════════════════════

// PointsCredited tracks points credited by transaction type and balance field.
var PointsCredited = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "points",
	Subsystem: "ledger",
	Name:      "credited_total",
	Help:      "Total points credited, by transaction type and balance field.",
}, []string{"type", "balance_type"})

// PointsDebited tracks points debited by transaction type and balance field.
var PointsDebited = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "points",
	Subsystem: "ledger",
	Name:      "debited_total",
	Help:      "Total points debited, by transaction type and balance field.",
}, []string{"type", "balance_type"})

// DeductionsRejected tracks outgoing deductions refused for insufficient funds.
var DeductionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "points",
	Subsystem: "ledger",
	Name:      "deductions_rejected_total",
	Help:      "Outgoing deductions rejected for insufficient balance.",
}, []string{"type"})

// LedgerOperations tracks ledger operations by name and outcome.
var LedgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "points",
	Subsystem: "ledger",
	Name:      "operations_total",
	Help:      "Ledger operations by name and outcome (ok, error).",
}, []string{"operation", "outcome"})

// ─── Sweeper Metrics ────────────────────────────────────────────────────────

// SweepRuns tracks sweeper runs by outcome (ok, skipped, error).
var SweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "points",
	Subsystem: "sweeper",
	Name:      "runs_total",
	Help:      "Bonus expiry sweeper runs by outcome.",
}, []string{"outcome"})

// BonusesExpired tracks accounts whose bonus balance was expired.
var BonusesExpired = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "points",
	Subsystem: "sweeper",
	Name:      "accounts_expired_total",
	Help:      "Total accounts whose bonus balance was expired.",
})

// BonusPointsExpired tracks the amount of bonus points expired.
var BonusPointsExpired = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "points",
	Subsystem: "sweeper",
	Name:      "points_expired_total",
	Help:      "Total bonus points removed by expiry.",
})

// SweepDuration tracks how long a sweep takes.
var SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "points",
	Subsystem: "sweeper",
	Name:      "duration_seconds",
	Help:      "Bonus expiry sweep duration in seconds.",
	Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
})

// ─── Gate Metrics ───────────────────────────────────────────────────────────

// GateConsumptions tracks quota consumptions by kind (contact_view, request) and success.
var GateConsumptions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "points",
	Subsystem: "gate",
	Name:      "consumptions_total",
	Help:      "Quota consumptions by kind and success.",
}, []string{"kind", "success"})

// ─── Event Metrics ──────────────────────────────────────────────────────────

// EventPublishErrors tracks ledger events that could not be published.
var EventPublishErrors = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "points",
	Subsystem: "events",
	Name:      "publish_errors_total",
	Help:      "Ledger events that failed to publish.",
})

// Points converts a decimal amount for a float-valued counter. Counters only
// ever go up, so the absolute value is recorded.
func Points(d decimal.Decimal) float64 {
	return d.Abs().InexactFloat64()
}
