// Package config loads and validates runtime configuration from
// environment variables. Missing required secrets fail fast at startup
// rather than surfacing as a runtime error on first use.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/overlaykit/access-core/internal/ratelimit"
)

// Config holds all application configuration.
type Config struct {
	ListenAddr        string `envconfig:"LISTEN_ADDR" default:":8080"`
	MetricsListenAddr string `envconfig:"METRICS_LISTEN_ADDR" default:"localhost:9090"`
	LogLevel          string `envconfig:"LOG_LEVEL" default:"info"`

	RedisAddr string        `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	KVTimeout time.Duration `envconfig:"KV_TIMEOUT" default:"3s"`

	// ServicePrefix namespaces every key this deployment writes. Two
	// services sharing one physical store must use distinct prefixes.
	ServicePrefix string `envconfig:"SERVICE_PREFIX" default:"access"`

	// ServiceSecret is the shared secret accepted in X-Service-Key.
	ServiceSecret string `envconfig:"SERVICE_SECRET" required:"true"`

	// TokenSigningKey verifies bearer tokens issued by the login flow.
	TokenSigningKey string `envconfig:"TOKEN_SIGNING_KEY" required:"true"`

	// AdminPrincipals are auto-provisioned with AdminRole instead of
	// DefaultRole on first login.
	AdminPrincipals []string `envconfig:"ADMIN_PRINCIPALS"`
	DefaultRole     string   `envconfig:"DEFAULT_ROLE" default:"member"`
	AdminRole       string   `envconfig:"ADMIN_ROLE" default:"admin"`

	QuotaDefaults map[string]int64 `envconfig:"QUOTA_DEFAULTS" default:"uploads:50,mod-installs:20"`
	QuotaWindow   time.Duration    `envconfig:"QUOTA_WINDOW" default:"24h"`

	// Per-tier rate limits, requests per window, decreasing allowances
	// from read down to admin.
	RateReadLimit   int64         `envconfig:"RATE_READ_LIMIT" default:"120"`
	RateReadWindow  time.Duration `envconfig:"RATE_READ_WINDOW" default:"1m"`
	RateCheckLimit  int64         `envconfig:"RATE_CHECK_LIMIT" default:"60"`
	RateCheckWindow time.Duration `envconfig:"RATE_CHECK_WINDOW" default:"1m"`
	RateWriteLimit  int64         `envconfig:"RATE_WRITE_LIMIT" default:"30"`
	RateWriteWindow time.Duration `envconfig:"RATE_WRITE_WINDOW" default:"1m"`
	RateAdminLimit  int64         `envconfig:"RATE_ADMIN_LIMIT" default:"10"`
	RateAdminWindow time.Duration `envconfig:"RATE_ADMIN_WINDOW" default:"1m"`
}

// Load parses configuration from environment variables and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks constraints beyond presence.
func (c *Config) Validate() error {
	if len(c.ServiceSecret) < 16 {
		return fmt.Errorf("config: SERVICE_SECRET must be at least 16 characters")
	}
	if len(c.TokenSigningKey) < 16 {
		return fmt.Errorf("config: TOKEN_SIGNING_KEY must be at least 16 characters")
	}
	if c.ServicePrefix == "" {
		return fmt.Errorf("config: SERVICE_PREFIX must not be empty")
	}
	return nil
}

// RateLimits assembles the per-tier limit table for the rate limiter.
func (c *Config) RateLimits() map[ratelimit.Tier]ratelimit.Limit {
	return map[ratelimit.Tier]ratelimit.Limit{
		ratelimit.TierRead:  {Requests: c.RateReadLimit, Window: c.RateReadWindow},
		ratelimit.TierCheck: {Requests: c.RateCheckLimit, Window: c.RateCheckWindow},
		ratelimit.TierWrite: {Requests: c.RateWriteLimit, Window: c.RateWriteWindow},
		ratelimit.TierAdmin: {Requests: c.RateAdminLimit, Window: c.RateAdminWindow},
	}
}

// SlogLevel maps the configured log level string to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
