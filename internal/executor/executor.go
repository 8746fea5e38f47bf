// Package executor runs approved actions at most once against a fixed allow-list.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Masterplan16/friday-trust/internal/governance"
	"github.com/Masterplan16/friday-trust/internal/schema"
	"github.com/Masterplan16/friday-trust/internal/storage"
	"github.com/Masterplan16/friday-trust/internal/telemetry"
)

// MaxErrorLength bounds the error message stored on a failed receipt.
const MaxErrorLength = 500

var errNotApproved = errors.New("receipt is not approved")

// Executor runs the side effect of approved receipts.
type Executor struct {
	receipts governance.ReceiptStore
	registry *Registry
	audit    storage.EventWriter
	logger   *zap.Logger
	now      func() time.Time
}

// New creates an Executor. audit may be nil.
func New(receipts governance.ReceiptStore, registry *Registry, audit storage.EventWriter, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		receipts: receipts,
		registry: registry,
		audit:    audit,
		logger:   logger,
		now:      time.Now,
	}
}

// Execute runs the action of an approved receipt and records executed or
// error. The receipt is first claimed as executing under its row lock, so a
// commit failure before the action leaves it approved and untouched, and any
// failure after the action can never re-arm it. It returns true only if the
// action ran and succeeded; failures are captured on the receipt, never
// returned.
func (e *Executor) Execute(ctx context.Context, receiptID string) bool {
	var (
		fn   ActionFunc
		args map[string]any
	)
	r, err := e.receipts.UpdateLocked(ctx, receiptID, func(r *governance.Receipt) (*governance.ReceiptUpdate, error) {
		if r.Status != governance.StatusApproved {
			return nil, errNotApproved
		}

		key, ok := ParseActionKey(r.ActionKey())
		if !ok {
			return e.failure(fmt.Sprintf("action %q is not allow-listed", r.ActionKey())), nil
		}
		fn, ok = e.registry.lookup(key)
		if !ok {
			return e.failure(fmt.Sprintf("no operation registered for %q", key)), nil
		}

		args = actionArgs(r.Payload)
		if err := schema.Validate(allowList[key], args); err != nil {
			return e.failure(fmt.Sprintf("invalid arguments for %q: %v", key, err)), nil
		}
		return &governance.ReceiptUpdate{
			Status:       governance.StatusExecuting,
			PayloadPatch: map[string]any{"executing_at": e.now().UTC().Format(time.RFC3339)},
		}, nil
	})

	switch {
	case errors.Is(err, errNotApproved):
		e.logger.Info("execute skipped, receipt not approved", zap.String("receipt_id", receiptID))
		telemetry.ExecutionsTotal.WithLabelValues("skipped").Inc()
		return false
	case err != nil:
		e.logger.Error("execute failed to claim receipt", zap.String("receipt_id", receiptID), zap.Error(err))
		telemetry.ExecutionsTotal.WithLabelValues("skipped").Inc()
		return false
	}

	if r.Status == governance.StatusExecuting {
		r = e.complete(ctx, r, invoke(ctx, fn, args))
	}
	executed := r.Status == governance.StatusExecuted

	result := "executed"
	if !executed {
		result = "error"
		e.logger.Warn("action execution failed",
			zap.String("receipt_id", receiptID),
			zap.String("action", r.ActionKey()),
			zap.Any("error", r.Payload["error"]),
		)
	}
	telemetry.ExecutionsTotal.WithLabelValues(result).Inc()
	if e.audit != nil {
		e.audit.Write(&storage.ReceiptEvent{
			ReceiptID:  r.ID,
			Module:     r.Module,
			ActionType: r.ActionType,
			Timestamp:  e.now().UTC(),
			Event:      result,
			Status:     string(r.Status),
			TrustLevel: string(r.TrustLevel),
			Confidence: float32(r.Confidence),
			Actor:      "executor",
		})
	}
	return executed
}

// complete records the outcome of a claimed receipt. If the outcome cannot be
// written the receipt stays executing and the returned copy carries the
// outcome the store failed to record.
func (e *Executor) complete(ctx context.Context, claimed *governance.Receipt, actionErr error) *governance.Receipt {
	update := &governance.ReceiptUpdate{
		Status:       governance.StatusExecuted,
		PayloadPatch: map[string]any{"executed_at": e.now().UTC().Format(time.RFC3339)},
	}
	if actionErr != nil {
		update = e.failure(actionErr.Error())
	}

	// The action already ran; its outcome is recorded even if ctx is done.
	r, err := e.receipts.UpdateLocked(context.WithoutCancel(ctx), claimed.ID, func(r *governance.Receipt) (*governance.ReceiptUpdate, error) {
		if r.Status != governance.StatusExecuting {
			return nil, fmt.Errorf("receipt left executing state: %s", r.Status)
		}
		return update, nil
	})
	if err != nil {
		e.logger.Error("failed to record action outcome, receipt stays executing",
			zap.String("receipt_id", claimed.ID),
			zap.String("outcome", string(update.Status)),
			zap.Error(err),
		)
		out := *claimed
		update.Apply(&out)
		return &out
	}
	return r
}

func (e *Executor) failure(msg string) *governance.ReceiptUpdate {
	return &governance.ReceiptUpdate{
		Status: governance.StatusError,
		PayloadPatch: map[string]any{
			"error":    storage.Truncate(msg, MaxErrorLength),
			"error_at": e.now().UTC().Format(time.RFC3339),
		},
	}
}

// invoke turns a panicking action into an error.
func invoke(ctx context.Context, fn ActionFunc, args map[string]any) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("action panicked: %v", p)
		}
	}()
	return fn(ctx, args)
}

// actionArgs returns payload.args, or an empty object.
func actionArgs(payload map[string]any) map[string]any {
	if args, ok := payload["args"].(map[string]any); ok {
		return args
	}
	return map[string]any{}
}
