package storage

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const (
	bufferSize    = 4096
	flushInterval = 250 * time.Millisecond
	flushBatch    = 500
	drainTimeout  = 2 * time.Second
)

// ClickHouseWriter mirrors receipt events to ClickHouse asynchronously.
// Write() is non-blocking; events are batch-inserted by a background goroutine.
type ClickHouseWriter struct {
	conn    driver.Conn
	buffer  chan *ReceiptEvent
	done    chan struct{}
	flushed chan struct{}
	logger  *zap.Logger
}

// NewClickHouseWriter connects to ClickHouse and starts the flush loop.
func NewClickHouseWriter(dsn string, logger *zap.Logger) (*ClickHouseWriter, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}

	w := &ClickHouseWriter{
		conn:    conn,
		buffer:  make(chan *ReceiptEvent, bufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		logger:  logger,
	}

	go w.flushLoop()
	return w, nil
}

// Write queues an event. Drops it if the buffer is full.
func (w *ClickHouseWriter) Write(event *ReceiptEvent) {
	select {
	case w.buffer <- event:
	default:
		w.logger.Warn("clickhouse buffer full, dropping receipt event",
			zap.String("receipt_id", event.ReceiptID),
			zap.String("event", event.Event),
		)
	}
}

// Close drains buffered events and waits for the flush loop to exit.
func (w *ClickHouseWriter) Close() {
	close(w.done)
	<-w.flushed
}

func (w *ClickHouseWriter) flushLoop() {
	defer close(w.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*ReceiptEvent, 0, flushBatch)

	for {
		select {
		case event := <-w.buffer:
			batch = append(batch, event)
			if len(batch) >= flushBatch {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-w.done:
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
		drain:
			for {
				select {
				case event := <-w.buffer:
					batch = append(batch, event)
				case <-drainCtx.Done():
					break drain
				default:
					break drain
				}
			}
			if len(batch) > 0 {
				w.flush(batch)
			}
			return
		}
	}
}

func (w *ClickHouseWriter) flush(events []*ReceiptEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batch, err := w.conn.PrepareBatch(ctx, `
		INSERT INTO trust_receipt_events (
			receipt_id, module, action_type, timestamp, event,
			status, trust_level, confidence, output_preview,
			actor, duration_ms, metadata
		)
	`)
	if err != nil {
		w.logger.Error("clickhouse prepare batch failed", zap.Error(err))
		return
	}

	for _, e := range events {
		if err := batch.Append(
			e.ReceiptID,
			e.Module,
			e.ActionType,
			e.Timestamp,
			e.Event,
			e.Status,
			e.TrustLevel,
			e.Confidence,
			e.OutputPreview,
			e.Actor,
			e.DurationMs,
			e.Metadata,
		); err != nil {
			w.logger.Error("clickhouse append event failed",
				zap.String("receipt_id", e.ReceiptID),
				zap.Error(err),
			)
		}
	}

	if err := batch.Send(); err != nil {
		w.logger.Error("clickhouse batch send failed",
			zap.Int("batch_size", len(events)),
			zap.Error(err),
		)
	}
}

// LogWriter is the fallback EventWriter for local development.
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a LogWriter that outputs events to the given logger.
func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Write(event *ReceiptEvent) {
	w.logger.Info("receipt_event",
		zap.String("receipt_id", event.ReceiptID),
		zap.String("module", event.Module),
		zap.String("action_type", event.ActionType),
		zap.String("event", event.Event),
		zap.String("status", event.Status),
		zap.String("trust_level", event.TrustLevel),
		zap.Float32("confidence", event.Confidence),
		zap.String("actor", event.Actor),
	)
}

func (w *LogWriter) Close() {}
