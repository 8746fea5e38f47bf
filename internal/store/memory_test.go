package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Masterplan16/friday-trust/internal/governance"
)

func seedReceipt(t *testing.T, m *MemoryStore, id string, status governance.Status, created time.Time) {
	t.Helper()
	require.NoError(t, m.InsertReceipt(context.Background(), &governance.Receipt{
		ID:         id,
		Module:     "email",
		ActionType: "send_reply",
		Confidence: 0.9,
		CreatedAt:  created,
		TrustLevel: governance.TrustPropose,
		Status:     status,
	}))
}

func TestMemoryStore_UpdateLockedSerializes(t *testing.T) {
	m := NewMemoryStore()
	seedReceipt(t, m, "r1", governance.StatusPending, time.Now())

	var applied atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.UpdateLocked(context.Background(), "r1", func(r *governance.Receipt) (*governance.ReceiptUpdate, error) {
				if r.Status != governance.StatusPending {
					return nil, governance.ErrAlreadyProcessed
				}
				return &governance.ReceiptUpdate{Status: governance.StatusApproved}, nil
			})
			if err == nil {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), applied.Load())
	r, err := m.GetReceipt(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, governance.StatusApproved, r.Status)
}

func TestMemoryStore_UpdateLockedNotFound(t *testing.T) {
	m := NewMemoryStore()
	_, err := m.UpdateLocked(context.Background(), "missing", func(*governance.Receipt) (*governance.ReceiptUpdate, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, governance.ErrReceiptNotFound)
}

func TestMemoryStore_ExpirePendingIdempotent(t *testing.T) {
	m := NewMemoryStore()
	now := time.Now()
	seedReceipt(t, m, "old", governance.StatusPending, now.Add(-72*time.Hour))
	seedReceipt(t, m, "fresh", governance.StatusPending, now.Add(-time.Hour))
	seedReceipt(t, m, "done", governance.StatusApproved, now.Add(-72*time.Hour))

	cutoff := now.Add(-48 * time.Hour)
	expired, err := m.ExpirePending(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "old", expired[0].ID)

	expired, err = m.ExpirePending(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Empty(t, expired)

	r, _ := m.GetReceipt(context.Background(), "fresh")
	assert.Equal(t, governance.StatusPending, r.Status)
}

func TestMemoryStore_ActiveRulesPriorityOrder(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	classify := "classify"
	other := "draft_reply"

	for _, p := range []int{3, 1, 2} {
		require.NoError(t, m.InsertRule(ctx, &governance.Rule{Module: "email", ActionType: &classify, Priority: p, Active: true}))
	}
	require.NoError(t, m.InsertRule(ctx, &governance.Rule{Module: "email", ActionType: &other, Priority: 1, Active: true}))
	require.NoError(t, m.InsertRule(ctx, &governance.Rule{Module: "email", Priority: 4, Active: true}))
	require.NoError(t, m.InsertRule(ctx, &governance.Rule{Module: "email", ActionType: &classify, Priority: 1, Active: false}))

	rules, err := m.ActiveRules(ctx, "email", "classify", 50)
	require.NoError(t, err)

	var priorities []int
	for _, r := range rules {
		priorities = append(priorities, r.Priority)
	}
	assert.Equal(t, []int{1, 2, 3, 4}, priorities)
}

func TestMemoryStore_DeactivateAndHits(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	r := &governance.Rule{Module: "email", Priority: 10, Active: true}
	require.NoError(t, m.InsertRule(ctx, r))

	require.NoError(t, m.RecordRuleHits(ctx, []string{r.ID, r.ID}))
	assert.Equal(t, 2, m.Rules()[0].HitCount)

	ok, err := m.DeactivateRule(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.DeactivateRule(ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	rules, _ := m.ActiveRules(ctx, "email", "classify", 50)
	assert.Empty(t, rules)
}

func TestMemoryStore_WeeklyStatsExcludesBlocked(t *testing.T) {
	m := NewMemoryStore()
	week := time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)
	seedReceipt(t, m, "a", governance.StatusAuto, week.Add(time.Hour))
	seedReceipt(t, m, "b", governance.StatusCorrected, week.Add(2*time.Hour))
	seedReceipt(t, m, "c", governance.StatusBlocked, week.Add(3*time.Hour))
	seedReceipt(t, m, "d", governance.StatusAuto, week.Add(-time.Hour))

	stats, err := m.WeeklyStats(context.Background(), week, week.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 2, stats[0].Total)
	assert.Equal(t, 1, stats[0].Corrected)
}

func TestMemoryStore_UpsertKeepsTrustChange(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	changed := time.Date(2026, 10, 13, 8, 0, 0, 0, time.UTC)

	require.NoError(t, m.RecordTrustChange(ctx, "email", "classify", governance.TrustPropose, changed))
	require.NoError(t, m.UpsertTrustMetric(ctx, &governance.TrustMetric{
		Module:            "email",
		ActionType:        "classify",
		WeekStart:         governance.WeekStart(changed),
		TotalActions:      4,
		Accuracy:          1,
		CurrentTrustLevel: governance.TrustPropose,
	}))

	last, err := m.LastTrustChange(ctx, "email", "classify")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, changed.Equal(*last))

	rows, err := m.TrustMetrics(ctx, "email", "classify", time.Time{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 4, rows[0].TotalActions)
}
