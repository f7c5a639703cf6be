package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultLogLevel       = "info"
	DefaultSinkURL        = "http://localhost:3001/api/execution-logs"
	DefaultSinkTimeoutSec = 5
	DefaultArchivePath    = ".warden/warden.db"
)

// TierLimits is the per-tier rate-limit configuration as written in the
// config file.
type TierLimits struct {
	RequestsPerMinute     int `toml:"requests_per_minute"`
	InputTokensPerMinute  int `toml:"input_tokens_per_minute"`
	OutputTokensPerMinute int `toml:"output_tokens_per_minute"`
}

// Config holds the application configuration, merged from defaults, the TOML
// config file, and environment overrides (in that order).
type Config struct {
	LogLevel string
	LogFile  string

	// Loop detection. Zero values fall back to the package defaults.
	MaxTotalCalls       int
	SimilarityThreshold float64
	WriteCap            int
	EditCap             int
	RunCap              int

	// Rate limiting.
	RateLimitBuffer float64
	MinAPIDelay     time.Duration
	Tiers           map[string]TierLimits

	// Log sink.
	SinkURL     string
	SinkAPIKey  string
	SinkTimeout time.Duration

	// Local archive.
	ArchivePath string

	ConfigPath string
}

type fileConfig struct {
	Logging struct {
		Level string `toml:"level"`
		File  string `toml:"file"`
	} `toml:"logging"`
	History struct {
		MaxTotalCalls       int     `toml:"max_total_calls"`
		SimilarityThreshold float64 `toml:"similarity_threshold"`
		WriteCap            int     `toml:"write_cap"`
		EditCap             int     `toml:"edit_cap"`
		RunCap              int     `toml:"run_cap"`
	} `toml:"history"`
	RateLimit struct {
		Buffer     float64               `toml:"buffer"`
		MinDelayMs int                   `toml:"min_delay_ms"`
		Tiers      map[string]TierLimits `toml:"tiers"`
	} `toml:"ratelimit"`
	Sink struct {
		URL            string `toml:"url"`
		APIKey         string `toml:"api_key"`
		TimeoutSeconds int    `toml:"timeout_seconds"`
	} `toml:"sink"`
	Archive struct {
		Path string `toml:"path"`
	} `toml:"archive"`
}

// Load reads configuration from the given path (or the default location when
// empty). A missing file is not an error: defaults apply.
func Load(path string) (*Config, error) {
	cfg := &Config{
		LogLevel:    DefaultLogLevel,
		SinkURL:     DefaultSinkURL,
		SinkTimeout: DefaultSinkTimeoutSec * time.Second,
		ArchivePath: DefaultArchivePath,
	}

	if path == "" {
		path = filepath.Join(".warden", "config.toml")
	}
	cfg.ConfigPath = path

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	default:
		var fc fileConfig
		if err := toml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		applyFile(cfg, &fc)
	}

	applyEnv(cfg)

	if cfg.RateLimitBuffer < 0 || cfg.RateLimitBuffer > 1 {
		return nil, fmt.Errorf("ratelimit buffer must be in [0,1], got %g", cfg.RateLimitBuffer)
	}
	return cfg, nil
}

func applyFile(cfg *Config, fc *fileConfig) {
	if fc.Logging.Level != "" {
		cfg.LogLevel = fc.Logging.Level
	}
	if fc.Logging.File != "" {
		cfg.LogFile = fc.Logging.File
	}

	cfg.MaxTotalCalls = fc.History.MaxTotalCalls
	cfg.SimilarityThreshold = fc.History.SimilarityThreshold
	cfg.WriteCap = fc.History.WriteCap
	cfg.EditCap = fc.History.EditCap
	cfg.RunCap = fc.History.RunCap

	cfg.RateLimitBuffer = fc.RateLimit.Buffer
	if fc.RateLimit.MinDelayMs > 0 {
		cfg.MinAPIDelay = time.Duration(fc.RateLimit.MinDelayMs) * time.Millisecond
	}
	if len(fc.RateLimit.Tiers) > 0 {
		cfg.Tiers = fc.RateLimit.Tiers
	}

	if fc.Sink.URL != "" {
		cfg.SinkURL = fc.Sink.URL
	}
	if fc.Sink.APIKey != "" {
		cfg.SinkAPIKey = fc.Sink.APIKey
	}
	if fc.Sink.TimeoutSeconds > 0 {
		cfg.SinkTimeout = time.Duration(fc.Sink.TimeoutSeconds) * time.Second
	}

	if fc.Archive.Path != "" {
		cfg.ArchivePath = fc.Archive.Path
	}
}

// applyEnv layers environment-variable overrides on top of file values.
func applyEnv(cfg *Config) {
	if v := os.Getenv("WARDEN_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("WARDEN_RATE_LIMIT_BUFFER"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimitBuffer = f
		}
	}
	if v := os.Getenv("WARDEN_MIN_API_DELAY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.MinAPIDelay = time.Duration(f * float64(time.Second))
		}
	}
	if v := os.Getenv("WARDEN_SINK_URL"); v != "" {
		cfg.SinkURL = v
	}
	if v := os.Getenv("WARDEN_API_KEY"); v != "" {
		cfg.SinkAPIKey = v
	}
	if v := os.Getenv("WARDEN_ARCHIVE_PATH"); v != "" {
		cfg.ArchivePath = v
	}
}
