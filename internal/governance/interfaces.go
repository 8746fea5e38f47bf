package governance

import (
	"context"
	"time"
)

// LockedFunc inspects a receipt under its row lock. Returning a nil update
// commits nothing; returning an error rolls back.
type LockedFunc func(r *Receipt) (*ReceiptUpdate, error)

// ReceiptStore persists receipts. All single-receipt mutations go through UpdateLocked.
type ReceiptStore interface {
	InsertReceipt(ctx context.Context, r *Receipt) error
	// GetReceipt returns nil, nil when the receipt does not exist.
	GetReceipt(ctx context.Context, id string) (*Receipt, error)
	// UpdateLocked returns ErrReceiptNotFound when id is unknown.
	UpdateLocked(ctx context.Context, id string, fn LockedFunc) (*Receipt, error)
	ExpirePending(ctx context.Context, createdBefore time.Time) ([]ExpiredReceipt, error)
	ListCorrected(ctx context.Context, since time.Time) ([]*Receipt, error)
	WeeklyStats(ctx context.Context, from, to time.Time) ([]ActionStats, error)
}

// RuleStore persists correction rules.
type RuleStore interface {
	// ActiveRules returns active rules for the action plus module-wide rules,
	// priority ascending, at most limit rows.
	ActiveRules(ctx context.Context, module, action string, limit int) ([]Rule, error)
	InsertRule(ctx context.Context, r *Rule) error
	DeactivateRule(ctx context.Context, id string) (bool, error)
	RecordRuleHits(ctx context.Context, ids []string) error
}

// MetricStore persists weekly trust metrics and trust-change timestamps.
type MetricStore interface {
	UpsertTrustMetric(ctx context.Context, m *TrustMetric) error
	TrustMetrics(ctx context.Context, module, action string, since time.Time) ([]TrustMetric, error)
	LastTrustChange(ctx context.Context, module, action string) (*time.Time, error)
	RecordTrustChange(ctx context.Context, module, action string, level TrustLevel, at time.Time) error
}

// TrustResolver resolves the current trust level of an action.
type TrustResolver interface {
	Get(module, action string) (TrustLevel, error)
}

// ApprovalNotifier asks the human for a decision on a pending receipt.
type ApprovalNotifier interface {
	NotifyForApproval(ctx context.Context, r *Receipt) (string, error)
}
