package trust

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Masterplan16/friday-trust/internal/governance"
)

// AntiOscillationWindow is the minimum time between a trust change and a promotion.
const AntiOscillationWindow = 14 * 24 * time.Hour

// Refusal says which promotion condition failed.
type Refusal string

const (
	RefusedNone     Refusal = ""
	RefusedTopLevel Refusal = "already_auto"
	RefusedAccuracy Refusal = "accuracy"
	RefusedSample   Refusal = "sample"
	RefusedCooldown Refusal = "cooldown"
)

// promotionRule is the bar an action must clear to move up one level.
type promotionRule struct {
	to          governance.TrustLevel
	weeks       int
	minAccuracy float64
	minSample   int
}

var promotionRules = map[governance.TrustLevel]promotionRule{
	governance.TrustPropose: {to: governance.TrustAuto, weeks: 2, minAccuracy: 0.95, minSample: 20},
	governance.TrustBlocked: {to: governance.TrustPropose, weeks: 4, minAccuracy: 0.90, minSample: 10},
}

// LevelStore reads and writes trust levels.
type LevelStore interface {
	Get(module, action string) (governance.TrustLevel, error)
	Set(ctx context.Context, module, action string, level governance.TrustLevel, reason string) error
}

// PromotionResult reports the outcome of a promotion request.
type PromotionResult struct {
	Module   string                `json:"module"`
	Action   string                `json:"action"`
	From     governance.TrustLevel `json:"from"`
	To       governance.TrustLevel `json:"to"`
	Promoted bool                  `json:"promoted"`
	Refusal  Refusal               `json:"refusal,omitempty"`
	Accuracy float64               `json:"accuracy"`
	Sample   int                   `json:"sample"`
	Message  string                `json:"message"`
}

// Promoter applies operator-requested promotions and manual overrides.
type Promoter struct {
	levels   LevelStore
	metrics  governance.MetricStore
	operator string
	logger   *zap.Logger
	now      func() time.Time
}

// NewPromoter creates a Promoter. operator is the only identity allowed to override.
func NewPromoter(levels LevelStore, metrics governance.MetricStore, operator string, logger *zap.Logger) *Promoter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoter{
		levels:   levels,
		metrics:  metrics,
		operator: operator,
		logger:   logger,
		now:      time.Now,
	}
}

// Promote moves (module, action) up one level if the trailing accuracy,
// sample size and anti-oscillation window all allow it. A refusal is not an error.
func (p *Promoter) Promote(ctx context.Context, module, action string) (*PromotionResult, error) {
	current, err := p.levels.Get(module, action)
	if err != nil {
		return nil, &governance.ConfigurationError{Module: module, Action: action, Err: err}
	}

	res := &PromotionResult{Module: module, Action: action, From: current, To: current}
	rule, ok := promotionRules[current]
	if !ok {
		res.Refusal = RefusedTopLevel
		res.Message = fmt.Sprintf("%s.%s is already at %s", module, action, current)
		return res, nil
	}

	now := p.now().UTC()
	since := governance.WeekStart(now).AddDate(0, 0, -7*(rule.weeks-1))
	rows, err := p.metrics.TrustMetrics(ctx, module, action, since)
	if err != nil {
		return nil, fmt.Errorf("Promote: %w", err)
	}
	var total, corrected int
	for _, m := range rows {
		total += m.TotalActions
		corrected += m.CorrectedActions
	}
	res.Sample = total
	res.Accuracy = governance.Accuracy(total, corrected)

	switch {
	case res.Accuracy < rule.minAccuracy:
		res.Refusal = RefusedAccuracy
		res.Message = fmt.Sprintf("promotion refused: accuracy %.1f%% over the last %d weeks is below the required %.0f%%",
			res.Accuracy*100, rule.weeks, rule.minAccuracy*100)
		return res, nil
	case total < rule.minSample:
		res.Refusal = RefusedSample
		res.Message = fmt.Sprintf("promotion refused: only %d actions over the last %d weeks, %d required",
			total, rule.weeks, rule.minSample)
		return res, nil
	}

	last, err := p.metrics.LastTrustChange(ctx, module, action)
	if err != nil {
		return nil, fmt.Errorf("Promote: %w", err)
	}
	if last != nil && now.Sub(*last) < AntiOscillationWindow {
		res.Refusal = RefusedCooldown
		res.Message = fmt.Sprintf("promotion refused: anti-oscillation window, last trust change %d days ago, %d days required",
			int(now.Sub(*last).Hours()/24), int(AntiOscillationWindow.Hours()/24))
		return res, nil
	}

	reason := fmt.Sprintf("promotion: accuracy %.1f%% over %d actions in the last %d weeks",
		res.Accuracy*100, total, rule.weeks)
	if err := p.levels.Set(ctx, module, action, rule.to, reason); err != nil {
		return nil, fmt.Errorf("Promote: %w", err)
	}
	recordChange("promotion", rule.to)

	res.To = rule.to
	res.Promoted = true
	res.Message = fmt.Sprintf("%s.%s promoted from %s to %s (%s)", module, action, current, rule.to, reason)
	return res, nil
}

// Override sets any level without checks. Only the configured operator may
// call it; the change still restarts the anti-oscillation clock.
func (p *Promoter) Override(ctx context.Context, operator, module, action string, level governance.TrustLevel, reason string) error {
	if p.operator == "" || operator != p.operator {
		p.logger.Warn("trust override refused", zap.String("operator", operator))
		return governance.ErrUnauthorized
	}
	if !level.Valid() {
		return fmt.Errorf("Override: %w: %q", governance.ErrInvalidTrustLevel, level)
	}
	if err := p.levels.Set(ctx, module, action, level, fmt.Sprintf("manual override by %s: %s", operator, reason)); err != nil {
		return fmt.Errorf("Override: %w", err)
	}
	recordChange("override", level)
	return nil
}
