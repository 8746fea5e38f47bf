package main

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/Masterplan16/friday-trust/internal/config"
	"github.com/Masterplan16/friday-trust/internal/events"
	"github.com/Masterplan16/friday-trust/internal/feedback"
	"github.com/Masterplan16/friday-trust/internal/governance"
	"github.com/Masterplan16/friday-trust/internal/notify"
	"github.com/Masterplan16/friday-trust/internal/storage"
	"github.com/Masterplan16/friday-trust/internal/store"
	"github.com/Masterplan16/friday-trust/internal/trust"
)

// backend is what both the Postgres and the in-memory store provide.
type backend interface {
	governance.ReceiptStore
	governance.RuleStore
	governance.MetricStore
}

// env is the set of backends one command runs against.
type env struct {
	cfg      *config.Config
	logger   *zap.Logger
	db       backend
	pg       *store.Store // nil without POSTGRES_DSN
	registry *trust.Registry
	notifier notify.Notifier
	audit    storage.EventWriter
	tracker  feedback.Tracker
	closers  []func()
}

func (e *env) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// openEnv connects the configured backends, falling back like the server does.
func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := config.MustBuildLogger(cfg.LogLevel)
	e := &env{cfg: cfg, logger: logger}
	e.closers = append(e.closers, func() { _ = logger.Sync() })

	if cfg.PostgresDSN != "" {
		var conn *sql.DB
		conn, err = store.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			e.close()
			return nil, err
		}
		e.closers = append(e.closers, func() { _ = conn.Close() })
		e.pg = store.NewStore(conn)
		e.db = e.pg
	} else {
		logger.Warn("no POSTGRES_DSN set, using an empty in-memory store")
		e.db = store.NewMemoryStore()
	}

	e.audit = storage.NewLogWriter(logger)
	if cfg.ClickHouseDSN != "" {
		w, err := storage.NewClickHouseWriter(cfg.ClickHouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer", zap.Error(err))
		} else {
			e.audit = w
		}
	}
	e.closers = append(e.closers, func() { e.audit.Close() })

	var bus trust.EventEmitter = events.NewLogBus(logger)
	e.tracker = feedback.NewMemoryTracker()
	if cfg.RedisURL != "" {
		client, err := events.ConnectRedis(cfg.RedisURL)
		if err != nil {
			e.close()
			return nil, err
		}
		e.closers = append(e.closers, func() { _ = client.Close() })
		bus = events.NewRedisBus(client)
		e.tracker = feedback.NewRedisTracker(client)
	}

	if cfg.NotifyWebhookURL != "" {
		e.notifier = notify.NewWebhookNotifier(cfg.NotifyWebhookURL, logger)
	} else {
		e.notifier = notify.NewLogNotifier(logger)
	}

	e.registry, err = trust.NewRegistry(trust.RegistryConfig{
		Path:    cfg.LevelsFile,
		Metrics: e.db,
		Events:  bus,
		Logger:  logger,
	})
	if err != nil {
		e.close()
		return nil, err
	}
	return e, nil
}
