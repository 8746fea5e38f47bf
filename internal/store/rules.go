package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/Masterplan16/friday-trust/internal/governance"
)

// ActiveRules returns active rules for (module, action) plus module-wide rules,
// highest priority (lowest number) first.
func (s *Store) ActiveRules(ctx context.Context, module, action string, limit int) ([]governance.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, module, action_type, scope, priority, conditions, output,
			source_receipt_ids, hit_count, active, created_at, created_by
		FROM correction_rules
		WHERE active AND module = $1 AND (action_type = $2 OR action_type IS NULL)
		ORDER BY priority ASC, created_at ASC
		LIMIT $3`, module, action, limit)
	if err != nil {
		return nil, fmt.Errorf("ActiveRules: %w", err)
	}
	defer rows.Close()

	var rules []governance.Rule
	for rows.Next() {
		var (
			r          governance.Rule
			actionType sql.NullString
			conditions []byte
			output     []byte
			sources    []byte
		)
		if err := rows.Scan(&r.ID, &r.Module, &actionType, &r.Scope, &r.Priority,
			&conditions, &output, &sources, &r.HitCount, &r.Active, &r.CreatedAt, &r.CreatedBy); err != nil {
			return nil, fmt.Errorf("ActiveRules: scan: %w", err)
		}
		if actionType.Valid {
			r.ActionType = &actionType.String
		}
		if err := decodeJSON(conditions, &r.Conditions); err != nil {
			return nil, fmt.Errorf("ActiveRules: conditions: %w", err)
		}
		if err := decodeJSON(output, &r.Output); err != nil {
			return nil, fmt.Errorf("ActiveRules: output: %w", err)
		}
		if err := decodeJSON(sources, &r.SourceReceiptIDs); err != nil {
			return nil, fmt.Errorf("ActiveRules: sources: %w", err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ActiveRules: rows: %w", err)
	}
	return rules, nil
}

// InsertRule writes a new rule, minting its id if empty.
func (s *Store) InsertRule(ctx context.Context, r *governance.Rule) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}
	conditions, err := json.Marshal(nonNilMap(r.Conditions))
	if err != nil {
		return fmt.Errorf("InsertRule: %w", err)
	}
	output, err := json.Marshal(nonNilMap(r.Output))
	if err != nil {
		return fmt.Errorf("InsertRule: %w", err)
	}
	sources := r.SourceReceiptIDs
	if sources == nil {
		sources = []string{}
	}
	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return fmt.Errorf("InsertRule: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO correction_rules (id, module, action_type, scope, priority, conditions, output,
			source_receipt_ids, hit_count, active, created_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.Module, r.ActionType, r.Scope, r.Priority, conditions, output,
		sourcesJSON, r.HitCount, r.Active, r.CreatedAt, r.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("InsertRule: %w", err)
	}
	return nil
}

// DeactivateRule marks a rule inactive. Rules are never deleted.
// Returns false if the rule does not exist or is already inactive.
func (s *Store) DeactivateRule(ctx context.Context, id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE correction_rules SET active = FALSE WHERE id = $1 AND active`, id)
	if err != nil {
		return false, fmt.Errorf("DeactivateRule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("DeactivateRule: %w", err)
	}
	return n > 0, nil
}

// RecordRuleHits increments hit_count for each rule id.
func (s *Store) RecordRuleHits(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	list, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("RecordRuleHits: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE correction_rules SET hit_count = hit_count + 1
		WHERE id::text IN (SELECT jsonb_array_elements_text($1::jsonb))`, list)
	if err != nil {
		return fmt.Errorf("RecordRuleHits: %w", err)
	}
	return nil
}

func decodeJSON(b []byte, v any) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, v)
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
