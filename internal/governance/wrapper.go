package governance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Masterplan16/friday-trust/internal/storage"
	"github.com/Masterplan16/friday-trust/internal/telemetry"
)

const (
	// MaxInjectedRules caps the rules handed to one governed operation.
	MaxInjectedRules = 50

	maxReasoningLength = 2000
)

// Operation is the governed call. It receives the active rules, priority ascending.
type Operation func(ctx context.Context, rules []Rule) (*ActionResult, error)

// GovernOption tunes a single Govern call.
type GovernOption func(*governOptions)

type governOptions struct {
	defaultTrust *TrustLevel
}

// WithDefaultTrust supplies the level used when the registry has no mapping.
func WithDefaultTrust(level TrustLevel) GovernOption {
	return func(o *governOptions) {
		o.defaultTrust = &level
	}
}

// GovernorConfig wires a Governor.
type GovernorConfig struct {
	Receipts ReceiptStore
	Rules    RuleStore
	Trust    TrustResolver
	Notifier ApprovalNotifier
	Audit    storage.EventWriter
	Logger   *zap.Logger
}

// Governor wraps governed operations with trust enforcement and receipts.
type Governor struct {
	receipts ReceiptStore
	rules    RuleStore
	trust    TrustResolver
	notifier ApprovalNotifier
	audit    storage.EventWriter
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

// NewGovernor creates a Governor. Audit may be nil.
func NewGovernor(cfg GovernorConfig) *Governor {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Governor{
		receipts: cfg.Receipts,
		rules:    cfg.Rules,
		trust:    cfg.Trust,
		notifier: cfg.Notifier,
		audit:    cfg.Audit,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
		now:      time.Now,
	}
}

// Govern runs op under the trust level of (module, action) and returns the
// persisted receipt. If op fails, a failure receipt is persisted and op's
// error is returned unchanged.
func (g *Governor) Govern(ctx context.Context, module, action string, op Operation, opts ...GovernOption) (*Receipt, error) {
	if module == "" || action == "" {
		return nil, &ConfigurationError{Module: module, Action: action, Err: errors.New("module and action are required")}
	}

	var o governOptions
	for _, opt := range opts {
		opt(&o)
	}

	level, err := g.trust.Get(module, action)
	if err != nil {
		if o.defaultTrust == nil {
			return nil, &ConfigurationError{Module: module, Action: action, Err: err}
		}
		level = *o.defaultTrust
	}
	status, err := statusFor(level)
	if err != nil {
		return nil, err
	}

	rules := g.loadRules(ctx, module, action)

	start := g.now()
	result, opErr := op(ctx, rules)
	elapsed := g.now().Sub(start)
	telemetry.GovernDuration.WithLabelValues(module).Observe(elapsed.Seconds())

	if opErr == nil {
		opErr = g.checkResult(result)
	}
	if opErr != nil {
		r := failureReceipt(module, action, level, opErr, start, elapsed)
		if err := g.persist(ctx, r); err != nil {
			return nil, fmt.Errorf("Govern: %w (failure receipt not persisted: %v)", opErr, err)
		}
		return nil, opErr
	}

	r := &Receipt{
		Module:        module,
		ActionType:    action,
		InputSummary:  result.InputSummary,
		OutputSummary: result.OutputSummary,
		Confidence:    stepConfidence(result),
		Reasoning:     result.Reasoning,
		Payload:       MergePayload(result.Payload, nil),
		CreatedAt:     start.UTC(),
		Duration:      elapsed,
		TrustLevel:    level,
		Status:        status,
	}
	if len(result.Steps) > 0 {
		r.Payload["steps"] = result.Steps
	}
	if err := g.persist(ctx, r); err != nil {
		return nil, err
	}

	g.recordRuleHits(ctx, result.AppliedRuleIDs)

	if r.Status == StatusPending && g.notifier != nil {
		correlationID, err := g.notifier.NotifyForApproval(ctx, r)
		if err != nil {
			g.logger.Warn("approval notification failed, receipt stays pending",
				zap.String("receipt_id", r.ID),
				zap.Error(err),
			)
		} else {
			g.logger.Info("approval requested",
				zap.String("receipt_id", r.ID),
				zap.String("correlation_id", correlationID),
			)
		}
	}

	return r, nil
}

// loadRules never fails: missing rules degrade quality, not safety.
func (g *Governor) loadRules(ctx context.Context, module, action string) []Rule {
	if g.rules == nil {
		return nil
	}
	rules, err := g.rules.ActiveRules(ctx, module, action, MaxInjectedRules+1)
	if err != nil {
		g.logger.Warn("rule loading failed, proceeding without rules",
			zap.String("module", module),
			zap.String("action", action),
			zap.Error(err),
		)
		return nil
	}
	if len(rules) > MaxInjectedRules {
		g.logger.Warn("more active rules than can be injected, lowest priorities ignored",
			zap.String("module", module),
			zap.String("action", action),
			zap.Int("limit", MaxInjectedRules),
		)
		rules = rules[:MaxInjectedRules]
	}
	return rules
}

func (g *Governor) checkResult(result *ActionResult) error {
	if result == nil {
		return fmt.Errorf("%w: operation returned no result", ErrInvalidResult)
	}
	if err := g.validate.Struct(result); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResult, err)
	}
	return nil
}

// persist mints the receipt id, stores it in the payload and writes the receipt.
func (g *Governor) persist(ctx context.Context, r *Receipt) error {
	if err := g.validate.Struct(r); err != nil {
		return &ConfigurationError{Module: r.Module, Action: r.ActionType, Err: err}
	}

	r.ID = uuid.NewString()
	if r.Payload == nil {
		r.Payload = map[string]any{}
	}
	r.Payload["receipt_id"] = r.ID

	if err := g.receipts.InsertReceipt(ctx, r); err != nil {
		return fmt.Errorf("Govern: persist receipt: %w", err)
	}

	telemetry.ReceiptsTotal.WithLabelValues(r.Module, r.ActionType, string(r.Status)).Inc()
	if g.audit != nil {
		g.audit.Write(&storage.ReceiptEvent{
			ReceiptID:     r.ID,
			Module:        r.Module,
			ActionType:    r.ActionType,
			Timestamp:     r.CreatedAt,
			Event:         "created",
			Status:        string(r.Status),
			TrustLevel:    string(r.TrustLevel),
			Confidence:    float32(r.Confidence),
			OutputPreview: storage.Truncate(r.OutputSummary, storage.PreviewLength),
			DurationMs:    float32(r.Duration.Microseconds()) / 1000,
		})
	}
	return nil
}

func (g *Governor) recordRuleHits(ctx context.Context, ids []string) {
	if len(ids) == 0 || g.rules == nil {
		return
	}
	if err := g.rules.RecordRuleHits(ctx, ids); err != nil {
		g.logger.Warn("rule hit accounting failed", zap.Strings("rule_ids", ids), zap.Error(err))
	}
}

func statusFor(level TrustLevel) (Status, error) {
	switch level {
	case TrustAuto:
		return StatusAuto, nil
	case TrustPropose:
		return StatusPending, nil
	case TrustBlocked:
		return StatusBlocked, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTrustLevel, level)
}

// stepConfidence is the minimum step confidence, or the declared one without steps.
func stepConfidence(result *ActionResult) float64 {
	if len(result.Steps) == 0 {
		return result.Confidence
	}
	low := result.Steps[0].Confidence
	for _, s := range result.Steps[1:] {
		if s.Confidence < low {
			low = s.Confidence
		}
	}
	return low
}

func failureReceipt(module, action string, level TrustLevel, opErr error, start time.Time, elapsed time.Duration) *Receipt {
	reasoning := storage.Truncate("Governed operation failed: "+opErr.Error(), maxReasoningLength)
	return &Receipt{
		Module:        module,
		ActionType:    action,
		InputSummary:  "governed operation failed before producing a result",
		OutputSummary: "no output",
		Confidence:    0,
		Reasoning:     reasoning,
		Payload:       map[string]any{"error": reasoning},
		CreatedAt:     start.UTC(),
		Duration:      elapsed,
		TrustLevel:    level,
		Status:        StatusRejected,
	}
}
