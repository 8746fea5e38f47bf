package governance

import (
	"fmt"
	"time"
)

// TrustLevel controls how much human oversight a governed action gets.
type TrustLevel string

const (
	TrustAuto    TrustLevel = "auto"
	TrustPropose TrustLevel = "propose"
	TrustBlocked TrustLevel = "blocked"
)

// ParseTrustLevel accepts only auto, propose and blocked.
func ParseTrustLevel(s string) (TrustLevel, error) {
	l := TrustLevel(s)
	if !l.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTrustLevel, s)
	}
	return l, nil
}

// Valid reports whether l is one of the three known levels.
func (l TrustLevel) Valid() bool {
	switch l {
	case TrustAuto, TrustPropose, TrustBlocked:
		return true
	}
	return false
}

// Status is the lifecycle state of a Receipt.
type Status string

const (
	StatusAuto      Status = "auto"
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusExecuting Status = "executing"
	StatusRejected  Status = "rejected"
	StatusCorrected Status = "corrected"
	StatusExpired   Status = "expired"
	StatusError     Status = "error"
	StatusExecuted  Status = "executed"
	StatusBlocked   Status = "blocked"
)

// Receipt is the audit record of one governed invocation.
type Receipt struct {
	ID            string
	Module        string `validate:"required"`
	ActionType    string `validate:"required"`
	InputSummary  string
	OutputSummary string
	Confidence    float64
	Reasoning     string
	Payload       map[string]any
	CreatedAt     time.Time
	Duration      time.Duration
	TrustLevel    TrustLevel
	Status        Status
	Correction    *string
	ValidatedBy   *string
}

// ActionKey returns "<module>.<action-type>".
func (r *Receipt) ActionKey() string {
	return r.Module + "." + r.ActionType
}

// Step is one ordered sub-step of a governed operation.
type Step struct {
	Name       string  `json:"name" validate:"required"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
	Detail     string  `json:"detail,omitempty"`
}

// ActionResult is what a governed operation returns on success.
type ActionResult struct {
	InputSummary   string         `validate:"min=10,max=500"`
	OutputSummary  string         `validate:"min=10,max=500"`
	Confidence     float64        `validate:"gte=0,lte=1"`
	Reasoning      string         `validate:"min=20,max=2000"`
	Payload        map[string]any
	Steps          []Step `validate:"dive"`
	AppliedRuleIDs []string
}

// Rule is a reusable correction directive injected into governed operations.
type Rule struct {
	ID               string         `json:"id"`
	Module           string         `json:"module"`
	ActionType       *string        `json:"action_type"` // nil = every action of the module
	Scope            string         `json:"scope"`
	Priority         int            `json:"priority"` // 1 = highest, 100 = lowest
	Conditions       map[string]any `json:"conditions"`
	Output           map[string]any `json:"output"`
	SourceReceiptIDs []string       `json:"source_receipt_ids"`
	HitCount         int            `json:"hit_count"`
	Active           bool           `json:"active"`
	CreatedAt        time.Time      `json:"created_at"`
	CreatedBy        string         `json:"created_by"`
}

// RuleCreatedByDetector marks rules that came from a detected correction pattern.
const RuleCreatedByDetector = "pattern_detector"

// TrustMetric is the weekly accuracy snapshot of one (module, action).
type TrustMetric struct {
	Module                string     `json:"module"`
	ActionType            string     `json:"action_type"`
	WeekStart             time.Time  `json:"week_start"`
	TotalActions          int        `json:"total_actions"`
	CorrectedActions      int        `json:"corrected_actions"`
	Accuracy              float64    `json:"accuracy"`
	AvgConfidence         float64    `json:"avg_confidence"`
	CurrentTrustLevel     TrustLevel `json:"current_trust_level"`
	RecommendedTrustLevel TrustLevel `json:"recommended_trust_level"`
	LastTrustChangeAt     *time.Time `json:"last_trust_change_at,omitempty"`
}

// ActionStats is the raw weekly count for one (module, action).
type ActionStats struct {
	Module        string
	ActionType    string
	Total         int
	Corrected     int
	AvgConfidence float64
}

// Accuracy is 1 - corrected/total, or 1.0 when nothing ran.
func Accuracy(total, corrected int) float64 {
	if total == 0 {
		return 1.0
	}
	return 1 - float64(corrected)/float64(total)
}

// WeekStart returns Monday 00:00 UTC of the ISO week containing t.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -offset)
}

// ReceiptUpdate is a mutation applied to a receipt while its row lock is held.
// Zero fields are left unchanged; PayloadPatch is merged into the payload.
type ReceiptUpdate struct {
	Status       Status
	ValidatedBy  *string
	Correction   *string
	PayloadPatch map[string]any
}

// MergePayload merges patch into base and returns the result. A nil base is
// treated as an empty object.
func MergePayload(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Apply mutates r in place with u.
func (u *ReceiptUpdate) Apply(r *Receipt) {
	if u.Status != "" {
		r.Status = u.Status
	}
	if u.ValidatedBy != nil {
		r.ValidatedBy = u.ValidatedBy
	}
	if u.Correction != nil {
		r.Correction = u.Correction
	}
	if len(u.PayloadPatch) > 0 {
		r.Payload = MergePayload(r.Payload, u.PayloadPatch)
	}
}

// ExpiredReceipt identifies one receipt moved to expired by a sweep.
type ExpiredReceipt struct {
	ID         string
	Module     string
	ActionType string
	CreatedAt  time.Time
}
