// Package expiry moves stale pending receipts to expired.
package expiry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Masterplan16/friday-trust/internal/governance"
	"github.com/Masterplan16/friday-trust/internal/storage"
	"github.com/Masterplan16/friday-trust/internal/telemetry"
)

// maxListed bounds how many receipts the batch notification names.
const maxListed = 10

// Notifier sends fire-and-forget messages.
type Notifier interface {
	NotifyBestEffort(ctx context.Context, message string)
}

// Sweeper expires pending receipts older than a timeout.
type Sweeper struct {
	receipts governance.ReceiptStore
	notifier Notifier
	audit    storage.EventWriter
	logger   *zap.Logger
	now      func() time.Time
}

// NewSweeper creates a Sweeper. notifier and audit may be nil.
func NewSweeper(receipts governance.ReceiptStore, notifier Notifier, audit storage.EventWriter, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		receipts: receipts,
		notifier: notifier,
		audit:    audit,
		logger:   logger,
		now:      time.Now,
	}
}

// ExpirePending marks every pending receipt older than timeout as expired and
// returns how many were changed. A zero or negative timeout disables expiry.
func (s *Sweeper) ExpirePending(ctx context.Context, timeout time.Duration) (int, error) {
	if timeout <= 0 {
		return 0, nil
	}
	now := s.now().UTC()
	expired, err := s.receipts.ExpirePending(ctx, now.Add(-timeout))
	if err != nil {
		return 0, fmt.Errorf("ExpirePending: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	telemetry.ExpiredTotal.Add(float64(len(expired)))
	for _, e := range expired {
		if s.audit != nil {
			s.audit.Write(&storage.ReceiptEvent{
				ReceiptID:  e.ID,
				Module:     e.Module,
				ActionType: e.ActionType,
				Timestamp:  now,
				Event:      "expired",
				Status:     string(governance.StatusExpired),
				Actor:      "expiry",
				Metadata:   map[string]string{"timeout": timeout.String()},
			})
		}
	}
	s.logger.Info("expired pending receipts",
		zap.Int("count", len(expired)),
		zap.Duration("timeout", timeout),
	)
	if s.notifier != nil {
		s.notifier.NotifyBestEffort(ctx, summary(expired, timeout))
	}
	return len(expired), nil
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, timeout, interval time.Duration) {
	if timeout <= 0 || interval <= 0 {
		s.logger.Info("validation expiry disabled")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ExpirePending(ctx, timeout); err != nil {
				s.logger.Error("expiry sweep failed", zap.Error(err))
			}
		}
	}
}

func summary(expired []governance.ExpiredReceipt, timeout time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d pending approval(s) expired after %s without a decision:", len(expired), timeout)
	for i, e := range expired {
		if i == maxListed {
			fmt.Fprintf(&b, "\n... and %d more", len(expired)-maxListed)
			break
		}
		fmt.Fprintf(&b, "\n- %s.%s (%s, created %s)", e.Module, e.ActionType, e.ID, e.CreatedAt.UTC().Format(time.RFC3339))
	}
	return b.String()
}
