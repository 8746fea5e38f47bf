package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Masterplan16/friday-trust/internal/governance"
)

// UpsertTrustMetric writes the weekly metric row. Recomputing the same week
// overwrites the counts and keeps an existing last_trust_change_at.
func (s *Store) UpsertTrustMetric(ctx context.Context, m *governance.TrustMetric) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trust_metrics (module, action_type, week_start, total_actions, corrected_actions,
			accuracy, avg_confidence, current_trust_level, recommended_trust_level, last_trust_change_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (module, action_type, week_start) DO UPDATE SET
			total_actions           = EXCLUDED.total_actions,
			corrected_actions       = EXCLUDED.corrected_actions,
			accuracy                = EXCLUDED.accuracy,
			avg_confidence          = EXCLUDED.avg_confidence,
			current_trust_level     = EXCLUDED.current_trust_level,
			recommended_trust_level = EXCLUDED.recommended_trust_level,
			last_trust_change_at    = COALESCE(EXCLUDED.last_trust_change_at, trust_metrics.last_trust_change_at)`,
		m.Module, m.ActionType, m.WeekStart, m.TotalActions, m.CorrectedActions,
		m.Accuracy, m.AvgConfidence, string(m.CurrentTrustLevel), string(m.RecommendedTrustLevel),
		m.LastTrustChangeAt,
	)
	if err != nil {
		return fmt.Errorf("UpsertTrustMetric: %w", err)
	}
	return nil
}

// TrustMetrics returns the weekly rows of one action since the given week, oldest first.
func (s *Store) TrustMetrics(ctx context.Context, module, action string, since time.Time) ([]governance.TrustMetric, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT module, action_type, week_start, total_actions, corrected_actions, accuracy,
			avg_confidence, current_trust_level, recommended_trust_level, last_trust_change_at
		FROM trust_metrics
		WHERE module = $1 AND action_type = $2 AND week_start >= $3
		ORDER BY week_start ASC`, module, action, since)
	if err != nil {
		return nil, fmt.Errorf("TrustMetrics: %w", err)
	}
	defer rows.Close()

	var out []governance.TrustMetric
	for rows.Next() {
		var (
			m           governance.TrustMetric
			current     string
			recommended string
			changed     sql.NullTime
		)
		if err := rows.Scan(&m.Module, &m.ActionType, &m.WeekStart, &m.TotalActions,
			&m.CorrectedActions, &m.Accuracy, &m.AvgConfidence, &current, &recommended, &changed); err != nil {
			return nil, fmt.Errorf("TrustMetrics: scan: %w", err)
		}
		m.CurrentTrustLevel = governance.TrustLevel(current)
		m.RecommendedTrustLevel = governance.TrustLevel(recommended)
		if changed.Valid {
			t := changed.Time
			m.LastTrustChangeAt = &t
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("TrustMetrics: rows: %w", err)
	}
	return out, nil
}

// LastTrustChange returns the most recent trust-level change, or nil if none.
func (s *Store) LastTrustChange(ctx context.Context, module, action string) (*time.Time, error) {
	var changed sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT max(last_trust_change_at) FROM trust_metrics
		WHERE module = $1 AND action_type = $2`, module, action,
	).Scan(&changed)
	if err != nil {
		return nil, fmt.Errorf("LastTrustChange: %w", err)
	}
	if !changed.Valid {
		return nil, nil
	}
	t := changed.Time
	return &t, nil
}

// RecordTrustChange timestamps the current week's metric row with a new level.
func (s *Store) RecordTrustChange(ctx context.Context, module, action string, level governance.TrustLevel, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trust_metrics (module, action_type, week_start, current_trust_level,
			recommended_trust_level, last_trust_change_at)
		VALUES ($1, $2, $3, $4, $4, $5)
		ON CONFLICT (module, action_type, week_start) DO UPDATE SET
			current_trust_level  = EXCLUDED.current_trust_level,
			last_trust_change_at = EXCLUDED.last_trust_change_at`,
		module, action, governance.WeekStart(at), string(level), at,
	)
	if err != nil {
		return fmt.Errorf("RecordTrustChange: %w", err)
	}
	return nil
}
