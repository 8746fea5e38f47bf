// Package config reads the service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is read once at start. Empty DSNs and URLs select in-process fallbacks.
type Config struct {
	LogLevel string
	HTTPPort string
	GRPCPort string

	PostgresDSN   string
	RedisURL      string
	ClickHouseDSN string
	LevelsFile    string

	ApproverID string
	OperatorID string
	APIKeyHash string

	ValidationTimeout time.Duration // 0 disables expiry
	ExpiryInterval    time.Duration
	AggregateInterval time.Duration
	AuthCacheTTL      time.Duration
	ProposalTTL       time.Duration

	NotifyWebhookURL  string
	ActionDispatchURL string
}

// Load reads Config from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		LogLevel:         envOrDefault("TRUST_LOG_LEVEL", "info"),
		HTTPPort:         envOrDefault("TRUST_HTTP_PORT", "8080"),
		GRPCPort:         envOrDefault("TRUST_GRPC_PORT", "50051"),
		PostgresDSN:      os.Getenv("POSTGRES_DSN"),
		RedisURL:         os.Getenv("REDIS_URL"),
		ClickHouseDSN:    os.Getenv("CLICKHOUSE_DSN"),
		LevelsFile:       envOrDefault("TRUST_LEVELS_FILE", "trust_levels.yaml"),
		ApproverID:       os.Getenv("TRUST_APPROVER_ID"),
		OperatorID:       os.Getenv("TRUST_OPERATOR_ID"),
		APIKeyHash:       os.Getenv("TRUST_API_KEY_HASH"),
		NotifyWebhookURL: os.Getenv("TRUST_NOTIFY_WEBHOOK_URL"),
		AuthCacheTTL:     time.Duration(envOrDefaultInt("TRUST_AUTH_CACHE_TTL_S", 30)) * time.Second,
	}
	cfg.ActionDispatchURL = os.Getenv("TRUST_ACTION_DISPATCH_URL")

	var err error
	if cfg.ValidationTimeout, err = envDuration("TRUST_VALIDATION_TIMEOUT", 0); err != nil {
		return nil, err
	}
	if cfg.ExpiryInterval, err = envDuration("TRUST_EXPIRY_INTERVAL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.AggregateInterval, err = envDuration("TRUST_AGGREGATE_INTERVAL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.ProposalTTL, err = envDuration("TRUST_PROPOSAL_TTL", 7*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.ApproverID == "" {
		return nil, fmt.Errorf("TRUST_APPROVER_ID is required")
	}
	if cfg.OperatorID == "" {
		cfg.OperatorID = cfg.ApproverID
	}
	return cfg, nil
}

// MustBuildLogger builds the JSON production logger at level.
func MustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

// envDuration parses a Go duration. "0" is a valid value and is kept.
func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
