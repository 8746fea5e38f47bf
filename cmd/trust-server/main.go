package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/Masterplan16/friday-trust/internal/anonymize"
	"github.com/Masterplan16/friday-trust/internal/api"
	"github.com/Masterplan16/friday-trust/internal/approval"
	"github.com/Masterplan16/friday-trust/internal/auth"
	"github.com/Masterplan16/friday-trust/internal/chread"
	"github.com/Masterplan16/friday-trust/internal/config"
	"github.com/Masterplan16/friday-trust/internal/events"
	"github.com/Masterplan16/friday-trust/internal/executor"
	"github.com/Masterplan16/friday-trust/internal/expiry"
	"github.com/Masterplan16/friday-trust/internal/feedback"
	"github.com/Masterplan16/friday-trust/internal/governance"
	"github.com/Masterplan16/friday-trust/internal/metrics"
	"github.com/Masterplan16/friday-trust/internal/notify"
	"github.com/Masterplan16/friday-trust/internal/storage"
	"github.com/Masterplan16/friday-trust/internal/store"
	"github.com/Masterplan16/friday-trust/internal/trust"
)

// healthService is the name reported by the gRPC health endpoint.
const healthService = "friday.trust.v1.TrustService"

// backend is what both the Postgres and the in-memory store provide.
type backend interface {
	governance.ReceiptStore
	governance.RuleStore
	governance.MetricStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	// Logger
	logger := config.MustBuildLogger(cfg.LogLevel)
	defer logger.Sync() //nolint:errcheck // best-effort flush

	logger.Info("starting trust server",
		zap.String("http_port", cfg.HTTPPort),
		zap.String("grpc_port", cfg.GRPCPort),
		zap.String("levels_file", cfg.LevelsFile),
		zap.Duration("validation_timeout", cfg.ValidationTimeout),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Postgres or in-memory store
	var db backend
	if cfg.PostgresDSN != "" {
		conn, err := store.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		defer func() { _ = conn.Close() }()
		db = store.NewStore(conn)
		logger.Info("postgres connected")
	} else {
		db = store.NewMemoryStore()
		logger.Warn("no POSTGRES_DSN set, receipts are kept in memory only")
	}

	// Storage: ClickHouse or LogWriter fallback
	var writer storage.EventWriter
	if cfg.ClickHouseDSN != "" {
		chWriter, err := storage.NewClickHouseWriter(cfg.ClickHouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer",
				zap.Error(err),
			)
			writer = storage.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse writer connected")
		}
	} else {
		writer = storage.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log writer")
	}
	defer writer.Close()

	// ClickHouse reader (for the audit timeline endpoint)
	var chReader *chread.Reader
	if cfg.ClickHouseDSN != "" {
		chReader, err = chread.NewReader(cfg.ClickHouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse reader connection failed", zap.Error(err))
			chReader = nil
		} else {
			defer func() { _ = chReader.Close() }()
			logger.Info("clickhouse reader connected")
		}
	}

	// Redis event bus and proposal tracker, or in-process fallbacks
	var bus trust.EventEmitter = events.NewLogBus(logger)
	var tracker feedback.Tracker = feedback.NewMemoryTracker()
	var trustEvents api.TrustEventSource
	if cfg.RedisURL != "" {
		client, err := events.ConnectRedis(cfg.RedisURL)
		if err == nil {
			err = client.Ping(ctx).Err()
		}
		if err != nil {
			logger.Warn("redis unavailable, using log bus and in-memory proposals", zap.Error(err))
		} else {
			defer func() { _ = client.Close() }()
			redisBus := events.NewRedisBus(client)
			bus = redisBus
			trustEvents = redisBus
			tracker = feedback.NewRedisTracker(client)
			logger.Info("redis connected")
		}
	}

	// Notification channel
	var notifier notify.Notifier
	if cfg.NotifyWebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.NotifyWebhookURL, logger)
	} else {
		notifier = notify.NewLogNotifier(logger)
		logger.Info("no TRUST_NOTIFY_WEBHOOK_URL set, notifications are logged")
	}

	// Trust levels
	registry, err := trust.NewRegistry(trust.RegistryConfig{
		Path:    cfg.LevelsFile,
		Metrics: db,
		Events:  bus,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal("failed to load trust levels", zap.String("path", cfg.LevelsFile), zap.Error(err))
	}
	go func() {
		if err := registry.Watch(ctx); err != nil {
			logger.Error("trust level watcher stopped", zap.Error(err))
		}
	}()
	promoter := trust.NewPromoter(registry, db, cfg.OperatorID, logger)

	// Executor
	actions := executor.NewRegistry()
	if cfg.ActionDispatchURL != "" {
		executor.NewHTTPDispatcher(cfg.ActionDispatchURL).RegisterAll(actions)
		logger.Info("action dispatch enabled", zap.String("url", cfg.ActionDispatchURL))
	} else {
		logger.Warn("no TRUST_ACTION_DISPATCH_URL set, approved actions will fail to execute")
	}
	exec := executor.New(db, actions, writer, logger)

	workflow := approval.NewWorkflow(approval.Config{
		Receipts:   db,
		Approver:   cfg.ApproverID,
		Anonymizer: anonymize.NewAnonymizer(),
		Executor:   exec,
		Audit:      writer,
		Logger:     logger,
	})
	proposer := feedback.NewProposer(feedback.ProposerConfig{
		Rules:    db,
		Tracker:  tracker,
		Notifier: notifier,
		Approver: cfg.ApproverID,
		TTL:      cfg.ProposalTTL,
		Logger:   logger,
	})
	detector := feedback.NewDetector(db, feedback.ArrowExtractor{}, logger)
	sweeper := expiry.NewSweeper(db, notifier, writer, logger)
	aggregator := metrics.NewAggregator(db, db, registry, notifier, logger)

	// Background jobs
	go sweeper.Run(ctx, cfg.ValidationTimeout, cfg.ExpiryInterval)
	go aggregator.Run(ctx, cfg.AggregateInterval)
	go runPatternDetection(ctx, detector, proposer, cfg.AggregateInterval, logger)

	// HTTP API
	deps := &api.Dependencies{
		Receipts:    db,
		Rules:       db,
		Workflow:    workflow,
		Proposer:    proposer,
		Registry:    registry,
		Promoter:    promoter,
		Reader:      chReader,
		TrustEvents: trustEvents,
		Auth:        auth.NewKeyAuthenticator(cfg.APIKeyHash, cfg.AuthCacheTTL),
		Operator:    cfg.OperatorID,
		Logger:      logger,
	}
	if cfg.APIKeyHash == "" {
		logger.Warn("no TRUST_API_KEY_HASH set, every authenticated route will refuse requests")
	}
	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// gRPC health endpoint
	grpcServer := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     5 * time.Minute,
			MaxConnectionAge:      30 * time.Minute,
			MaxConnectionAgeGrace: 10 * time.Second,
			Time:                  30 * time.Second,
			Timeout:               5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("port", cfg.GRPCPort), zap.Error(err))
	}
	go func() {
		logger.Info("grpc health server listening", zap.String("addr", lis.Addr().String()))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Fatal("grpc server failed", zap.Error(err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	logger.Info("received signal, shutting down")
	healthServer.SetServingStatus(healthService, healthpb.HealthCheckResponse_NOT_SERVING)

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}
	grpcServer.GracefulStop()

	logger.Info("trust server stopped")
}

// runPatternDetection proposes rules from recurring corrections every interval.
func runPatternDetection(ctx context.Context, detector *feedback.Detector, proposer *feedback.Proposer, interval time.Duration, logger *zap.Logger) {
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
			clusters, err := detector.Detect(ctx, feedback.DefaultWindowDays)
			if err != nil {
				logger.Error("pattern detection failed", zap.Error(err))
				continue
			}
			ids, err := proposer.ProposeAll(ctx, clusters)
			if err != nil {
				logger.Error("rule proposal failed", zap.Error(err))
				continue
			}
			if len(ids) > 0 {
				logger.Info("rule proposals sent", zap.Int("count", len(ids)))
			}
		}
	}
}
