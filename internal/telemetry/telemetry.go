// Package telemetry holds the Prometheus collectors of the trust service.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReceiptsTotal counts persisted receipts by module, action and status.
	ReceiptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trust_receipts_total",
		Help: "Receipts persisted by the governance wrapper",
	}, []string{"module", "action", "status"})

	// GovernDuration tracks the wall time of governed operations.
	GovernDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trust_govern_duration_seconds",
		Help:    "Duration of governed operations in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
	}, []string{"module"})

	// DecisionsTotal counts approval workflow decisions by kind and outcome.
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trust_decisions_total",
		Help: "Human decisions on pending receipts",
	}, []string{"decision", "outcome"})

	// UnauthorizedAttempts counts refused decisions from unknown identities.
	UnauthorizedAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trust_unauthorized_attempts_total",
		Help: "Decision attempts from identities other than the approver",
	})

	// ExecutionsTotal counts executor runs by result.
	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trust_executions_total",
		Help: "Action executor runs by result",
	}, []string{"result"})

	// ExpiredTotal counts receipts expired by the sweep.
	ExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trust_expired_receipts_total",
		Help: "Pending receipts expired by the validation sweep",
	})

	// TrustChangesTotal counts trust-level changes by cause.
	TrustChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trust_level_changes_total",
		Help: "Trust-level changes by cause",
	}, []string{"cause", "to"})

	// ProposalsTotal counts rule proposals by disposition.
	ProposalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trust_rule_proposals_total",
		Help: "Rule proposals by disposition",
	}, []string{"disposition"})
)
