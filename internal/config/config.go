package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port           string        `env:"PORT"             envDefault:"8080"`
	Environment    string        `env:"ENVIRONMENT"      envDefault:"development"`
	LogLevelName   string        `env:"LOG_LEVEL"        envDefault:"info"`
	RedisURL       string        `env:"REDIS_URL"        envDefault:"redis://localhost:6379/0"`
	SandboxTimeout time.Duration `env:"SANDBOX_TIMEOUT"  envDefault:"250ms"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT"  envDefault:"10s"`
	MaxRecalcDepth int           `env:"MAX_RECALC_DEPTH" envDefault:"64"`
	RenderWorkers  int           `env:"RENDER_WORKERS"   envDefault:"8"`
	WorkerID       string        `env:"WORKER_ID"`

	LogLevel slog.Level `env:"-"`
}

// Load reads configuration from the environment, applying defaults for unset variables
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = parseLogLevel(cfg.LogLevelName)
	if cfg.MaxRecalcDepth <= 0 {
		return nil, fmt.Errorf("MAX_RECALC_DEPTH must be positive, got %d", cfg.MaxRecalcDepth)
	}
	return &cfg, nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
