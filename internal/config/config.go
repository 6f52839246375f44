// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/basalt/basalt/internal/quota"
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	// Development behavior (ephemeral signing secret, no HSTS) requires APP_ENV=development.
	AppEnv  string `env:"APP_ENV" envDefault:"production"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Database (PostgreSQL)
	DatabaseURL   string `env:"DATABASE_URL,required"`
	RunMigrations bool   `env:"RUN_MIGRATIONS" envDefault:"false"`

	// Cache (Redis)
	RedisURL string `env:"REDIS_URL,required"`

	// Public origin used in emailed links (e.g., https://basalt.example)
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Sessions. An empty SECRET_KEY is only accepted in development.
	SecretKey           string        `env:"SECRET_KEY"`
	SessionTTL          time.Duration `env:"SESSION_TTL" envDefault:"168h"`
	SessionCookieSecure bool          `env:"SESSION_COOKIE_SECURE" envDefault:"true"`

	// Quota
	QuotaPeriod    time.Duration `env:"QUOTA_PERIOD" envDefault:"720h"`
	QuotaResetMode string        `env:"QUOTA_RESET_MODE" envDefault:"sliding"`
	TiersFile      string        `env:"TIERS_FILE"`

	// Rate limiting
	RateLimitAPIEnabled  bool    `env:"RATE_LIMIT_API_ENABLED" envDefault:"true"`
	RateLimitAuthEnabled bool    `env:"RATE_LIMIT_AUTH_ENABLED" envDefault:"true"`
	RateLimitAuthRPS     float64 `env:"RATE_LIMIT_AUTH_RPS" envDefault:"0.5"`
	RateLimitAuthBurst   int     `env:"RATE_LIMIT_AUTH_BURST" envDefault:"10"`

	// Request body limits in bytes
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`
	MaxUploadSize      int64 `env:"MAX_UPLOAD_SIZE" envDefault:"52428800"`

	// Browser origins allowed to call the programmatic API
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	// Evidence links
	IPFSGatewayURL string `env:"IPFS_GATEWAY_URL" envDefault:"https://ipfs.io"`

	// API key usage buffering
	UsageFlushInterval time.Duration `env:"USAGE_FLUSH_INTERVAL" envDefault:"10s"`

	// Email. Without SENDGRID_API_KEY messages are logged instead of sent.
	SendGridAPIKey string `env:"SENDGRID_API_KEY"`
	SendGridHost   string `env:"SENDGRID_HOST"`
	MailFrom       string `env:"MAIL_FROM" envDefault:"noreply@basalt.local"`
	MailFromName   string `env:"MAIL_FROM_NAME" envDefault:"Basalt"`

	// Metrics backend: prometheus or memory
	MetricsBackend string `env:"METRICS_BACKEND" envDefault:"prometheus"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// ResetMode returns the parsed quota reset mode.
func (c *Config) ResetMode() quota.Mode {
	mode, err := quota.ParseMode(c.QuotaResetMode)
	if err != nil {
		return quota.ModeSliding
	}
	return mode
}

// Validate checks values env parsing cannot.
func (c *Config) Validate() error {
	var errs []error

	if c.AppPort <= 0 || c.AppPort > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT %d out of range", c.AppPort))
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat))
	}
	if _, err := quota.ParseMode(c.QuotaResetMode); err != nil {
		errs = append(errs, fmt.Errorf("QUOTA_RESET_MODE: %w", err))
	}
	if c.QuotaPeriod <= 0 {
		errs = append(errs, errors.New("QUOTA_PERIOD must be positive"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if c.MaxUploadSize <= 0 || c.MaxRequestBodySize <= 0 {
		errs = append(errs, errors.New("body size limits must be positive"))
	}
	if c.UsageFlushInterval <= 0 {
		errs = append(errs, errors.New("USAGE_FLUSH_INTERVAL must be positive"))
	}
	if c.RateLimitAuthEnabled && (c.RateLimitAuthRPS <= 0 || c.RateLimitAuthBurst <= 0) {
		errs = append(errs, errors.New("RATE_LIMIT_AUTH_RPS and RATE_LIMIT_AUTH_BURST must be positive"))
	}
	switch strings.ToLower(c.MetricsBackend) {
	case "prometheus", "memory":
	default:
		errs = append(errs, fmt.Errorf("METRICS_BACKEND must be prometheus or memory, got %q", c.MetricsBackend))
	}
	if c.SecretKey == "" && !c.IsDevelopment() {
		errs = append(errs, errors.New("SECRET_KEY is required outside development"))
	}

	return errors.Join(errs...)
}

// Load parses environment variables and returns a validated Config.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
