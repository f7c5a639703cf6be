package app

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kmorales13/warden/internal/config"
	"github.com/kmorales13/warden/internal/execlog"
	"github.com/kmorales13/warden/internal/history"
	"github.com/kmorales13/warden/internal/logging"
	"github.com/kmorales13/warden/internal/ratelimit"
	"github.com/kmorales13/warden/internal/storage"
)

// App wires the long-lived components. The rate limiter is deliberately a
// single shared instance: all task executions share one provider quota.
// Action histories are NOT held here; each task execution constructs its own.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	DB      *storage.DB
	Limiter *ratelimit.Limiter
}

// New initializes the application from the config file at path ("" for the
// default location).
func New(path string) (*App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := storage.Open(cfg.ArchivePath)
	if err != nil {
		logger.Error("failed to open archive database", zap.Error(err))
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}

	return &App{
		Config:  cfg,
		Logger:  logger,
		DB:      db,
		Limiter: ratelimit.New(RateLimitConfig(cfg), logger),
	}, nil
}

// Close releases application resources.
func (a *App) Close() {
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error("failed to close archive database", zap.Error(err))
		}
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
}

// HistoryConfig maps the application configuration onto loop-detection
// settings, keeping package defaults where the config is silent.
func HistoryConfig(cfg *config.Config) history.Config {
	hc := history.DefaultConfig()
	if cfg.MaxTotalCalls > 0 {
		hc.MaxTotalCalls = cfg.MaxTotalCalls
	}
	if cfg.SimilarityThreshold > 0 {
		hc.SimilarityThreshold = cfg.SimilarityThreshold
	}
	caps := map[string]int{
		"file_write": cfg.WriteCap,
		"file_edit":  cfg.EditCap,
		"shell_run":  cfg.RunCap,
	}
	for tool, limit := range caps {
		if limit > 0 {
			policy := hc.Tools[tool]
			policy.MaxPerTarget = limit
			hc.Tools[tool] = policy
		}
	}
	return hc
}

// RateLimitConfig maps the application configuration onto limiter settings.
func RateLimitConfig(cfg *config.Config) ratelimit.Config {
	rc := ratelimit.DefaultConfig()
	if cfg.RateLimitBuffer > 0 {
		rc.Buffer = cfg.RateLimitBuffer
	}
	if cfg.MinAPIDelay > 0 {
		rc.MinDelay = cfg.MinAPIDelay
	}
	if len(cfg.Tiers) > 0 {
		rc.Tiers = make(map[string]ratelimit.Limits, len(cfg.Tiers))
		for name, limits := range cfg.Tiers {
			rc.Tiers[name] = ratelimit.Limits{
				RequestsPerMinute:     limits.RequestsPerMinute,
				InputTokensPerMinute:  limits.InputTokensPerMinute,
				OutputTokensPerMinute: limits.OutputTokensPerMinute,
			}
		}
	}
	return rc
}

// SinkConfig maps the application configuration onto log sink settings.
func SinkConfig(cfg *config.Config) execlog.SinkConfig {
	timeout := cfg.SinkTimeout
	if timeout == 0 {
		timeout = config.DefaultSinkTimeoutSec * time.Second
	}
	return execlog.SinkConfig{
		URL:     cfg.SinkURL,
		APIKey:  cfg.SinkAPIKey,
		Timeout: timeout,
	}
}
