package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Masterplan16/friday-trust/internal/governance"
)

const receiptColumns = `id, module, action_type, input_summary, output_summary, confidence,
	reasoning, payload, created_at, duration_ms, trust_level, status, correction, validated_by`

// InsertReceipt writes a new receipt. The id must already be minted.
func (s *Store) InsertReceipt(ctx context.Context, r *governance.Receipt) error {
	payload, err := marshalPayload(r.Payload)
	if err != nil {
		return fmt.Errorf("InsertReceipt: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO action_receipts (`+receiptColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		r.ID, r.Module, r.ActionType, r.InputSummary, r.OutputSummary, r.Confidence,
		r.Reasoning, payload, r.CreatedAt, r.Duration.Milliseconds(), string(r.TrustLevel),
		string(r.Status), r.Correction, r.ValidatedBy,
	)
	if err != nil {
		return fmt.Errorf("InsertReceipt: %w", err)
	}
	return nil
}

// GetReceipt returns the receipt, or nil if not found.
func (s *Store) GetReceipt(ctx context.Context, id string) (*governance.Receipt, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	r, err := scanReceipt(s.db.QueryRowContext(ctx,
		`SELECT `+receiptColumns+` FROM action_receipts WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetReceipt: %w", err)
	}
	return r, nil
}

// UpdateLocked reads the receipt with SELECT ... FOR UPDATE, hands it to fn and
// writes the returned update before committing. Concurrent callers on the same
// id are serialized by the row lock and observe each other's writes.
func (s *Store) UpdateLocked(ctx context.Context, id string, fn governance.LockedFunc) (*governance.Receipt, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, governance.ErrReceiptNotFound
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("UpdateLocked: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	r, err := scanReceipt(tx.QueryRowContext(ctx,
		`SELECT `+receiptColumns+` FROM action_receipts WHERE id = $1 FOR UPDATE`, id))
	if err == sql.ErrNoRows {
		return nil, governance.ErrReceiptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("UpdateLocked: lock: %w", err)
	}

	update, err := fn(r)
	if err != nil {
		return r, err
	}
	if update == nil {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("UpdateLocked: commit: %w", err)
		}
		return r, nil
	}

	patch, err := json.Marshal(governance.MergePayload(nil, update.PayloadPatch))
	if err != nil {
		return nil, fmt.Errorf("UpdateLocked: patch: %w", err)
	}

	// COALESCE keeps the merge valid when the stored payload is NULL.
	_, err = tx.ExecContext(ctx, `
		UPDATE action_receipts SET
			status       = COALESCE(NULLIF($2, ''), status),
			validated_by = COALESCE($3, validated_by),
			correction   = COALESCE($4, correction),
			payload      = COALESCE(payload, '{}'::jsonb) || $5::jsonb,
			updated_at   = now()
		WHERE id = $1`,
		id, string(update.Status), update.ValidatedBy, update.Correction, patch,
	)
	if err != nil {
		return nil, fmt.Errorf("UpdateLocked: update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("UpdateLocked: commit: %w", err)
	}

	update.Apply(r)
	return r, nil
}

// ExpirePending moves every pending receipt created before the cutoff to expired
// in a single statement and returns what it moved.
func (s *Store) ExpirePending(ctx context.Context, createdBefore time.Time) ([]governance.ExpiredReceipt, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE action_receipts SET status = 'expired', updated_at = now()
		WHERE status = 'pending' AND created_at < $1
		RETURNING id, module, action_type, created_at`, createdBefore)
	if err != nil {
		return nil, fmt.Errorf("ExpirePending: %w", err)
	}
	defer rows.Close()

	var expired []governance.ExpiredReceipt
	for rows.Next() {
		var e governance.ExpiredReceipt
		if err := rows.Scan(&e.ID, &e.Module, &e.ActionType, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ExpirePending: scan: %w", err)
		}
		expired = append(expired, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ExpirePending: rows: %w", err)
	}
	return expired, nil
}

// ListCorrected returns corrected receipts with correction text created since the cutoff.
func (s *Store) ListCorrected(ctx context.Context, since time.Time) ([]*governance.Receipt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+receiptColumns+` FROM action_receipts
		WHERE status = 'corrected' AND correction IS NOT NULL AND created_at >= $1
		ORDER BY created_at ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("ListCorrected: %w", err)
	}
	defer rows.Close()

	var out []*governance.Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("ListCorrected: scan: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListCorrected: rows: %w", err)
	}
	return out, nil
}

// WeeklyStats counts non-blocked receipts per (module, action) in [from, to).
func (s *Store) WeeklyStats(ctx context.Context, from, to time.Time) ([]governance.ActionStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT module, action_type,
			count(*),
			count(*) FILTER (WHERE status = 'corrected'),
			COALESCE(avg(confidence), 0)
		FROM action_receipts
		WHERE created_at >= $1 AND created_at < $2 AND status <> 'blocked'
		GROUP BY module, action_type
		ORDER BY module, action_type`, from, to)
	if err != nil {
		return nil, fmt.Errorf("WeeklyStats: %w", err)
	}
	defer rows.Close()

	var out []governance.ActionStats
	for rows.Next() {
		var st governance.ActionStats
		if err := rows.Scan(&st.Module, &st.ActionType, &st.Total, &st.Corrected, &st.AvgConfidence); err != nil {
			return nil, fmt.Errorf("WeeklyStats: scan: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("WeeklyStats: rows: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row rowScanner) (*governance.Receipt, error) {
	var (
		r           governance.Receipt
		payload     []byte
		durationMs  int64
		trustLevel  string
		status      string
		correction  sql.NullString
		validatedBy sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Module, &r.ActionType, &r.InputSummary, &r.OutputSummary,
		&r.Confidence, &r.Reasoning, &payload, &r.CreatedAt, &durationMs, &trustLevel,
		&status, &correction, &validatedBy); err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &r.Payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}
	r.Duration = time.Duration(durationMs) * time.Millisecond
	r.TrustLevel = governance.TrustLevel(trustLevel)
	r.Status = governance.Status(status)
	if correction.Valid {
		r.Correction = &correction.String
	}
	if validatedBy.Valid {
		r.ValidatedBy = &validatedBy.String
	}
	return &r, nil
}

// marshalPayload returns nil (SQL NULL) for an empty payload.
func marshalPayload(p map[string]any) (interface{}, error) {
	if p == nil {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return b, nil
}
