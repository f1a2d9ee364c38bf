package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL"`

	// Auth (IdP)
	AuthProjectID           string        `env:"AUTH_PROJECT_ID"`
	AuthIssuer              string        `env:"AUTH_ISSUER"`
	AuthJWKSURL             string        `env:"AUTH_JWKS_URL"`
	AuthJWKSRefreshInterval time.Duration `env:"AUTH_JWKS_REFRESH_INTERVAL" envDefault:"1h"`

	// Server
	ServerPort        string        `env:"SERVER_PORT" envDefault:"8080"`
	CORSAllowedOrigin string        `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`
	RequestTimeout    time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`

	// Rate Limit (1分あたりのリクエスト数)
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitLink    int `env:"RATE_LIMIT_LINK" envDefault:"10"`

	// Repair
	RepairInterval  time.Duration `env:"REPAIR_INTERVAL" envDefault:"10m"`
	RepairBatchSize int           `env:"REPAIR_BATCH_SIZE" envDefault:"100"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Tracing
	OTelEnabled          bool   `env:"OTEL_ENABLED" envDefault:"true"`
	OTelExporterEndpoint string `env:"OTEL_EXPORTER_ENDPOINT"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合、または値の形式が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	var missing []string
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if cfg.AuthProjectID == "" {
		missing = append(missing, "AUTH_PROJECT_ID")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if cfg.RateLimitGeneral <= 0 || cfg.RateLimitLink <= 0 {
		return nil, fmt.Errorf("rate limits must be positive: general=%d link=%d", cfg.RateLimitGeneral, cfg.RateLimitLink)
	}
	if cfg.RepairBatchSize <= 0 {
		return nil, fmt.Errorf("REPAIR_BATCH_SIZE must be positive: %d", cfg.RepairBatchSize)
	}

	return cfg, nil
}
