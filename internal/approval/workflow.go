// Package approval resolves human decisions on pending receipts.
package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Masterplan16/friday-trust/internal/governance"
	"github.com/Masterplan16/friday-trust/internal/storage"
	"github.com/Masterplan16/friday-trust/internal/telemetry"
)

// ErrEmptyCorrection is returned for a blank correction.
var ErrEmptyCorrection = errors.New("correction text is empty")

// Outcome of a decision that reached the receipt.
type Outcome string

const (
	OutcomeApplied          Outcome = "applied"
	OutcomeAlreadyProcessed Outcome = "already_processed"
)

// Anonymizer scrubs personal data from correction text.
type Anonymizer interface {
	Anonymize(ctx context.Context, text string) (string, error)
}

// Executor runs an approved receipt's action.
type Executor interface {
	Execute(ctx context.Context, receiptID string) bool
}

// Decision is the result of Approve, Reject or SubmitCorrection.
type Decision struct {
	Outcome  Outcome             `json:"outcome"`
	Receipt  *governance.Receipt `json:"-"`
	Executed *bool               `json:"executed,omitempty"`
}

// Applied reports whether this call performed the transition.
func (d *Decision) Applied() bool {
	return d.Outcome == OutcomeApplied
}

// Config wires a Workflow.
type Config struct {
	Receipts   governance.ReceiptStore
	Approver   string // the single identity allowed to decide
	Anonymizer Anonymizer
	Executor   Executor
	Audit      storage.EventWriter
	Logger     *zap.Logger
}

// Workflow performs race-free transitions out of pending.
type Workflow struct {
	receipts   governance.ReceiptStore
	approver   string
	anonymizer Anonymizer
	executor   Executor
	audit      storage.EventWriter
	attempts   *attemptLog
	logger     *zap.Logger
	now        func() time.Time
}

// NewWorkflow creates a Workflow.
func NewWorkflow(cfg Config) *Workflow {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workflow{
		receipts:   cfg.Receipts,
		approver:   cfg.Approver,
		anonymizer: cfg.Anonymizer,
		executor:   cfg.Executor,
		audit:      cfg.Audit,
		attempts:   newAttemptLog(),
		logger:     logger,
		now:        time.Now,
	}
}

// Approve moves a pending receipt to approved and runs its action.
func (w *Workflow) Approve(ctx context.Context, receiptID, approver string) (*Decision, error) {
	if err := w.authorize(approver, "approve"); err != nil {
		return nil, err
	}

	d, err := w.transition(ctx, receiptID, approver, "approve", []governance.Status{governance.StatusPending},
		func(*governance.Receipt) *governance.ReceiptUpdate {
			return &governance.ReceiptUpdate{Status: governance.StatusApproved}
		})
	if err != nil || !d.Applied() || w.executor == nil {
		return d, err
	}

	executed := w.executor.Execute(ctx, receiptID)
	d.Executed = &executed
	if r, err := w.receipts.GetReceipt(ctx, receiptID); err == nil && r != nil {
		d.Receipt = r
	}
	return d, nil
}

// Reject moves a pending receipt to rejected.
func (w *Workflow) Reject(ctx context.Context, receiptID, approver string) (*Decision, error) {
	if err := w.authorize(approver, "reject"); err != nil {
		return nil, err
	}
	return w.transition(ctx, receiptID, approver, "reject", []governance.Status{governance.StatusPending},
		func(*governance.Receipt) *governance.ReceiptUpdate {
			return &governance.ReceiptUpdate{Status: governance.StatusRejected}
		})
}

// SubmitCorrection records human feedback and moves the receipt to corrected.
// Pending receipts and already-executed auto receipts accept corrections.
// The text is anonymized first; if that fails the raw text is kept and the
// payload flags it.
func (w *Workflow) SubmitCorrection(ctx context.Context, receiptID, approver, text string) (*Decision, error) {
	if err := w.authorize(approver, "correct"); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyCorrection
	}

	stored, anonymized := text, false
	if w.anonymizer != nil {
		scrubbed, err := w.anonymizer.Anonymize(ctx, text)
		if err != nil {
			w.logger.Warn("correction anonymization failed, storing raw text",
				zap.String("receipt_id", receiptID),
				zap.Error(err),
			)
		} else {
			stored, anonymized = scrubbed, true
		}
	} else {
		w.logger.Warn("no anonymizer configured, storing raw correction", zap.String("receipt_id", receiptID))
	}

	allowed := []governance.Status{governance.StatusPending, governance.StatusAuto}
	return w.transition(ctx, receiptID, approver, "correct", allowed,
		func(*governance.Receipt) *governance.ReceiptUpdate {
			return &governance.ReceiptUpdate{
				Status:       governance.StatusCorrected,
				Correction:   &stored,
				PayloadPatch: map[string]any{"correction_anonymized": anonymized},
			}
		})
}

// transition applies build under the receipt's row lock if its status is in allowed.
func (w *Workflow) transition(
	ctx context.Context,
	receiptID, approver, decision string,
	allowed []governance.Status,
	build func(*governance.Receipt) *governance.ReceiptUpdate,
) (*Decision, error) {
	r, err := w.receipts.UpdateLocked(ctx, receiptID, func(r *governance.Receipt) (*governance.ReceiptUpdate, error) {
		if !statusIn(r.Status, allowed) {
			return nil, governance.ErrAlreadyProcessed
		}
		u := build(r)
		u.ValidatedBy = &approver
		return u, nil
	})
	if errors.Is(err, governance.ErrAlreadyProcessed) {
		telemetry.DecisionsTotal.WithLabelValues(decision, string(OutcomeAlreadyProcessed)).Inc()
		w.logger.Info("decision on already processed receipt",
			zap.String("receipt_id", receiptID),
			zap.String("decision", decision),
		)
		return &Decision{Outcome: OutcomeAlreadyProcessed, Receipt: r}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", decision, err)
	}

	telemetry.DecisionsTotal.WithLabelValues(decision, string(OutcomeApplied)).Inc()
	w.logger.Info("decision applied",
		zap.String("receipt_id", receiptID),
		zap.String("decision", decision),
		zap.String("status", string(r.Status)),
	)
	if w.audit != nil {
		w.audit.Write(&storage.ReceiptEvent{
			ReceiptID:  r.ID,
			Module:     r.Module,
			ActionType: r.ActionType,
			Timestamp:  w.now().UTC(),
			Event:      string(r.Status),
			Status:     string(r.Status),
			TrustLevel: string(r.TrustLevel),
			Confidence: float32(r.Confidence),
			Actor:      approver,
		})
	}
	return &Decision{Outcome: OutcomeApplied, Receipt: r}, nil
}

// authorize refuses every identity but the approver, before any lookup.
func (w *Workflow) authorize(identity, decision string) error {
	if w.approver != "" && identity == w.approver {
		return nil
	}
	telemetry.UnauthorizedAttempts.Inc()
	count, shouldLog := w.attempts.record(identity)
	if shouldLog {
		w.logger.Warn("unauthorized decision attempt",
			zap.String("identity", identity),
			zap.String("decision", decision),
			zap.Int("attempts_in_window", count),
		)
	}
	return governance.ErrUnauthorized
}

func statusIn(s governance.Status, allowed []governance.Status) bool {
	for _, a := range allowed {
		if s == a {
			return true
		}
	}
	return false
}
