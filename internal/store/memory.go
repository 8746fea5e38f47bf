package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Masterplan16/friday-trust/internal/governance"
)

// MemoryStore is an in-process implementation of the receipt, rule and metric
// stores. Each receipt has its own mutex, which plays the role of the row lock.
type MemoryStore struct {
	mu       sync.RWMutex
	receipts map[string]*memReceipt
	rules    []governance.Rule
	metrics  map[metricKey]governance.TrustMetric
	now      func() time.Time
}

type memReceipt struct {
	mu sync.Mutex
	r  *governance.Receipt
}

type metricKey struct {
	module string
	action string
	week   time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		receipts: make(map[string]*memReceipt),
		metrics:  make(map[metricKey]governance.TrustMetric),
		now:      time.Now,
	}
}

// --- receipts ---

func (m *MemoryStore) InsertReceipt(_ context.Context, r *governance.Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receipts[r.ID] = &memReceipt{r: copyReceipt(r)}
	return nil
}

func (m *MemoryStore) GetReceipt(_ context.Context, id string) (*governance.Receipt, error) {
	e := m.entry(id)
	if e == nil {
		return nil, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyReceipt(e.r), nil
}

func (m *MemoryStore) UpdateLocked(_ context.Context, id string, fn governance.LockedFunc) (*governance.Receipt, error) {
	e := m.entry(id)
	if e == nil {
		return nil, governance.ErrReceiptNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	current := copyReceipt(e.r)
	update, err := fn(current)
	if err != nil {
		return copyReceipt(e.r), err
	}
	if update != nil {
		update.Apply(e.r)
	}
	return copyReceipt(e.r), nil
}

func (m *MemoryStore) ExpirePending(_ context.Context, createdBefore time.Time) ([]governance.ExpiredReceipt, error) {
	var expired []governance.ExpiredReceipt
	for _, e := range m.entries() {
		e.mu.Lock()
		if e.r.Status == governance.StatusPending && e.r.CreatedAt.Before(createdBefore) {
			e.r.Status = governance.StatusExpired
			expired = append(expired, governance.ExpiredReceipt{
				ID:         e.r.ID,
				Module:     e.r.Module,
				ActionType: e.r.ActionType,
				CreatedAt:  e.r.CreatedAt,
			})
		}
		e.mu.Unlock()
	}
	return expired, nil
}

func (m *MemoryStore) ListCorrected(_ context.Context, since time.Time) ([]*governance.Receipt, error) {
	var out []*governance.Receipt
	for _, e := range m.entries() {
		e.mu.Lock()
		if e.r.Status == governance.StatusCorrected && e.r.Correction != nil && !e.r.CreatedAt.Before(since) {
			out = append(out, copyReceipt(e.r))
		}
		e.mu.Unlock()
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) WeeklyStats(_ context.Context, from, to time.Time) ([]governance.ActionStats, error) {
	type acc struct {
		governance.ActionStats
		confSum float64
	}
	groups := map[[2]string]*acc{}
	for _, e := range m.entries() {
		e.mu.Lock()
		r := e.r
		if r.Status != governance.StatusBlocked && !r.CreatedAt.Before(from) && r.CreatedAt.Before(to) {
			k := [2]string{r.Module, r.ActionType}
			a, ok := groups[k]
			if !ok {
				a = &acc{ActionStats: governance.ActionStats{Module: r.Module, ActionType: r.ActionType}}
				groups[k] = a
			}
			a.Total++
			if r.Status == governance.StatusCorrected {
				a.Corrected++
			}
			a.confSum += r.Confidence
		}
		e.mu.Unlock()
	}

	out := make([]governance.ActionStats, 0, len(groups))
	for _, a := range groups {
		a.AvgConfidence = a.confSum / float64(a.Total)
		out = append(out, a.ActionStats)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Module != out[j].Module {
			return out[i].Module < out[j].Module
		}
		return out[i].ActionType < out[j].ActionType
	})
	return out, nil
}

func (m *MemoryStore) entry(id string) *memReceipt {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.receipts[id]
}

func (m *MemoryStore) entries() []*memReceipt {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*memReceipt, 0, len(m.receipts))
	for _, e := range m.receipts {
		out = append(out, e)
	}
	return out
}

// --- rules ---

func (m *MemoryStore) ActiveRules(_ context.Context, module, action string, limit int) ([]governance.Rule, error) {
	m.mu.RLock()
	var out []governance.Rule
	for _, r := range m.rules {
		if !r.Active || r.Module != module {
			continue
		}
		if r.ActionType != nil && *r.ActionType != action {
			continue
		}
		out = append(out, r)
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) InsertRule(_ context.Context, r *governance.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = m.now().UTC()
	}
	m.rules = append(m.rules, *r)
	return nil
}

func (m *MemoryStore) DeactivateRule(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rules {
		if m.rules[i].ID == id && m.rules[i].Active {
			m.rules[i].Active = false
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) RecordRuleHits(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		for i := range m.rules {
			if m.rules[i].ID == id {
				m.rules[i].HitCount++
			}
		}
	}
	return nil
}

// Rules returns every stored rule, active or not.
func (m *MemoryStore) Rules() []governance.Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]governance.Rule(nil), m.rules...)
}

// --- metrics ---

func (m *MemoryStore) UpsertTrustMetric(_ context.Context, tm *governance.TrustMetric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := metricKey{tm.Module, tm.ActionType, governance.WeekStart(tm.WeekStart)}
	row := *tm
	row.WeekStart = k.week
	if row.LastTrustChangeAt == nil {
		row.LastTrustChangeAt = m.metrics[k].LastTrustChangeAt
	}
	m.metrics[k] = row
	return nil
}

func (m *MemoryStore) TrustMetrics(_ context.Context, module, action string, since time.Time) ([]governance.TrustMetric, error) {
	m.mu.RLock()
	var out []governance.TrustMetric
	for k, v := range m.metrics {
		if k.module == module && k.action == action && !k.week.Before(since) {
			out = append(out, v)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].WeekStart.Before(out[j].WeekStart) })
	return out, nil
}

func (m *MemoryStore) LastTrustChange(_ context.Context, module, action string) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last *time.Time
	for k, v := range m.metrics {
		if k.module != module || k.action != action || v.LastTrustChangeAt == nil {
			continue
		}
		if last == nil || v.LastTrustChangeAt.After(*last) {
			t := *v.LastTrustChangeAt
			last = &t
		}
	}
	return last, nil
}

func (m *MemoryStore) RecordTrustChange(_ context.Context, module, action string, level governance.TrustLevel, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := metricKey{module, action, governance.WeekStart(at)}
	row, ok := m.metrics[k]
	if !ok {
		row = governance.TrustMetric{
			Module:                module,
			ActionType:            action,
			WeekStart:             k.week,
			Accuracy:              1.0,
			RecommendedTrustLevel: level,
		}
	}
	row.CurrentTrustLevel = level
	t := at
	row.LastTrustChangeAt = &t
	m.metrics[k] = row
	return nil
}

func copyReceipt(r *governance.Receipt) *governance.Receipt {
	cp := *r
	if r.Payload != nil {
		cp.Payload = governance.MergePayload(r.Payload, nil)
	}
	if r.Correction != nil {
		c := *r.Correction
		cp.Correction = &c
	}
	if r.ValidatedBy != nil {
		v := *r.ValidatedBy
		cp.ValidatedBy = &v
	}
	return &cp
}
