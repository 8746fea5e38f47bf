package chread

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// Reader provides read access to the trust_receipt_events table.
type Reader struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewReader opens a ClickHouse connection for read queries.
func NewReader(dsn string, logger *zap.Logger) (*Reader, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}

	return &Reader{conn: conn, logger: logger}, nil
}

// Close closes the ClickHouse connection.
func (r *Reader) Close() error {
	return r.conn.Close()
}

// EventRow is a single row from trust_receipt_events.
type EventRow struct {
	ReceiptID     string    `json:"receipt_id"`
	Module        string    `json:"module"`
	ActionType    string    `json:"action_type"`
	Timestamp     time.Time `json:"timestamp"`
	Event         string    `json:"event"`
	Status        string    `json:"status"`
	TrustLevel    string    `json:"trust_level"`
	Confidence    float32   `json:"confidence"`
	OutputPreview string    `json:"output_preview"`
	Actor         string    `json:"actor"`
	DurationMs    float32   `json:"duration_ms"`
}

// ListEventsParams holds filters and pagination for event listing.
type ListEventsParams struct {
	Module     *string
	ActionType *string
	Event      *string
	ReceiptID  *string
	StartTime  *time.Time
	EndTime    *time.Time
	Page       int
	PageSize   int
}

// ListEvents returns paginated, filtered receipt events and the total count.
func (r *Reader) ListEvents(ctx context.Context, params ListEventsParams) ([]EventRow, int, error) {
	where, args := buildFilter(params)
	offset := (params.Page - 1) * params.PageSize

	var total uint64
	countQuery := fmt.Sprintf("SELECT count() FROM trust_receipt_events WHERE %s", where)
	if err := r.conn.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListEvents count: %w", err)
	}

	dataQuery := fmt.Sprintf(
		"SELECT receipt_id, module, action_type, timestamp, event, status, trust_level, "+
			"confidence, output_preview, actor, duration_ms "+
			"FROM trust_receipt_events WHERE %s "+
			"ORDER BY timestamp DESC "+
			"LIMIT @limit OFFSET @offset",
		where,
	)
	args = append(args,
		clickhouse.Named("limit", uint32(params.PageSize)),
		clickhouse.Named("offset", uint32(offset)),
	)

	rows, err := r.conn.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ListEvents query: %w", err)
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.ReceiptID, &e.Module, &e.ActionType, &e.Timestamp, &e.Event,
			&e.Status, &e.TrustLevel, &e.Confidence, &e.OutputPreview,
			&e.Actor, &e.DurationMs,
		); err != nil {
			return nil, 0, fmt.Errorf("ListEvents scan: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ListEvents rows: %w", err)
	}

	return events, int(total), nil
}

// buildFilter renders the WHERE clause and its named arguments.
func buildFilter(params ListEventsParams) (string, []any) {
	conditions := []string{"1 = 1"}
	var args []any

	if params.Module != nil {
		conditions = append(conditions, "module = @module")
		args = append(args, clickhouse.Named("module", *params.Module))
	}
	if params.ActionType != nil {
		conditions = append(conditions, "action_type = @action_type")
		args = append(args, clickhouse.Named("action_type", *params.ActionType))
	}
	if params.Event != nil {
		conditions = append(conditions, "event = @event")
		args = append(args, clickhouse.Named("event", *params.Event))
	}
	if params.ReceiptID != nil {
		conditions = append(conditions, "receipt_id = @receipt_id")
		args = append(args, clickhouse.Named("receipt_id", *params.ReceiptID))
	}
	if params.StartTime != nil {
		conditions = append(conditions, "timestamp >= @start_time")
		args = append(args, clickhouse.Named("start_time", *params.StartTime))
	}
	if params.EndTime != nil {
		conditions = append(conditions, "timestamp <= @end_time")
		args = append(args, clickhouse.Named("end_time", *params.EndTime))
	}

	return strings.Join(conditions, " AND "), args
}
