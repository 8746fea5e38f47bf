// Package metrics computes weekly Trust Metrics and applies automatic demotion.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Masterplan16/friday-trust/internal/governance"
	"github.com/Masterplan16/friday-trust/internal/telemetry"
	"github.com/Masterplan16/friday-trust/internal/trust"
)

// Demotion and alert thresholds.
const (
	DemoteMinSample   = 10
	DemoteMaxAccuracy = 0.90

	BlockAlertMinSample   = 5
	BlockAlertMaxAccuracy = 0.70
)

// Notifier sends fire-and-forget messages.
type Notifier interface {
	NotifyBestEffort(ctx context.Context, message string)
}

// Aggregator turns a week of receipts into Trust Metrics.
type Aggregator struct {
	receipts governance.ReceiptStore
	metrics  governance.MetricStore
	levels   trust.LevelStore
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewAggregator creates an Aggregator. notifier may be nil.
func NewAggregator(receipts governance.ReceiptStore, metrics governance.MetricStore, levels trust.LevelStore, notifier Notifier, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		receipts: receipts,
		metrics:  metrics,
		levels:   levels,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// AggregateWeek recomputes the current week's metrics, upserts them and
// demotes auto actions whose accuracy fell below the threshold. Recomputing
// the same week is idempotent. A failure on one action is logged and does not
// stop the others; the failures are returned joined, with the metrics computed.
func (a *Aggregator) AggregateWeek(ctx context.Context) ([]governance.TrustMetric, error) {
	now := a.now().UTC()
	from := governance.WeekStart(now)
	to := from.AddDate(0, 0, 7)

	stats, err := a.receipts.WeeklyStats(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("AggregateWeek: %w", err)
	}

	out := make([]governance.TrustMetric, 0, len(stats))
	var errs []error
	for _, s := range stats {
		current, err := a.levels.Get(s.Module, s.ActionType)
		if err != nil {
			a.logger.Warn("skipping metrics for unconfigured action",
				zap.String("module", s.Module),
				zap.String("action", s.ActionType),
				zap.Error(err),
			)
			continue
		}

		tm := governance.TrustMetric{
			Module:                s.Module,
			ActionType:            s.ActionType,
			WeekStart:             from,
			TotalActions:          s.Total,
			CorrectedActions:      s.Corrected,
			Accuracy:              governance.Accuracy(s.Total, s.Corrected),
			AvgConfidence:         s.AvgConfidence,
			CurrentTrustLevel:     current,
			RecommendedTrustLevel: recommend(current, s.Total, governance.Accuracy(s.Total, s.Corrected)),
		}
		if err := a.metrics.UpsertTrustMetric(ctx, &tm); err != nil {
			a.logger.Error("failed to store trust metric",
				zap.String("module", s.Module),
				zap.String("action", s.ActionType),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("AggregateWeek: %s.%s: %w", s.Module, s.ActionType, err))
			continue
		}

		switch {
		case current == governance.TrustAuto && tm.RecommendedTrustLevel == governance.TrustPropose:
			if err := a.demote(ctx, &tm); err != nil {
				a.logger.Error("automatic demotion failed",
					zap.String("module", s.Module),
					zap.String("action", s.ActionType),
					zap.Error(err),
				)
				errs = append(errs, err)
				break
			}
			at := a.now().UTC()
			tm.LastTrustChangeAt = &at
		case current == governance.TrustPropose && tm.RecommendedTrustLevel == governance.TrustBlocked:
			a.alert(ctx, &tm)
		}
		out = append(out, tm)
	}

	a.logger.Info("weekly trust metrics aggregated",
		zap.Time("week_start", from),
		zap.Int("actions", len(out)),
	)
	return out, errors.Join(errs...)
}

// recommend returns the level the metrics argue for. Only auto→propose is
// ever applied automatically.
func recommend(current governance.TrustLevel, sample int, accuracy float64) governance.TrustLevel {
	switch current {
	case governance.TrustAuto:
		if sample >= DemoteMinSample && accuracy < DemoteMaxAccuracy {
			return governance.TrustPropose
		}
	case governance.TrustPropose:
		if sample >= BlockAlertMinSample && accuracy < BlockAlertMaxAccuracy {
			return governance.TrustBlocked
		}
	}
	return current
}

func (a *Aggregator) demote(ctx context.Context, tm *governance.TrustMetric) error {
	reason := fmt.Sprintf("automatic demotion: accuracy %.1f%% over %d actions this week (%d corrected), below %.0f%%",
		tm.Accuracy*100, tm.TotalActions, tm.CorrectedActions, DemoteMaxAccuracy*100)
	if err := a.levels.Set(ctx, tm.Module, tm.ActionType, governance.TrustPropose, reason); err != nil {
		return fmt.Errorf("AggregateWeek: demote %s.%s: %w", tm.Module, tm.ActionType, err)
	}
	telemetry.TrustChangesTotal.WithLabelValues("demotion", string(governance.TrustPropose)).Inc()
	a.logger.Warn("trust level demoted",
		zap.String("module", tm.Module),
		zap.String("action", tm.ActionType),
		zap.Float64("accuracy", tm.Accuracy),
		zap.Int("sample", tm.TotalActions),
	)
	if a.notifier != nil {
		a.notifier.NotifyBestEffort(ctx, fmt.Sprintf("%s.%s demoted from auto to propose. %s. Its actions now need approval.",
			tm.Module, tm.ActionType, reason))
	}
	return nil
}

func (a *Aggregator) alert(ctx context.Context, tm *governance.TrustMetric) {
	a.logger.Warn("trust level block recommended",
		zap.String("module", tm.Module),
		zap.String("action", tm.ActionType),
		zap.Float64("accuracy", tm.Accuracy),
		zap.Int("sample", tm.TotalActions),
	)
	if a.notifier != nil {
		a.notifier.NotifyBestEffort(ctx, fmt.Sprintf("%s.%s is at propose with accuracy %.1f%% over %d actions this week (%d corrected). Blocking is recommended; use set-level to apply it.",
			tm.Module, tm.ActionType, tm.Accuracy*100, tm.TotalActions, tm.CorrectedActions))
	}
}

// Run aggregates every interval until ctx is done.
func (a *Aggregator) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.AggregateWeek(ctx); err != nil {
				a.logger.Error("weekly aggregation failed", zap.Error(err))
			}
		}
	}
}
