// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendS3       = "s3"
)

// Payment providers.
const (
	PaymentStripe = "stripe"
	PaymentSigned = "signed"
	PaymentNone   = "none"
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Public base URL of this service, used for memory blob URLs and checkout redirects
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts. WriteTimeout must cover every composition stage of a request.
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"5m"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Ledger / saved fits / usage history backend: memory or postgres
	StoreBackend string `env:"STORE_BACKEND" envDefault:"memory"`
	DatabaseURL  string `env:"DATABASE_URL"`

	// Redis is optional. When set, the refit window, submit rate limit and
	// usage stream move to Redis so several instances can share them.
	RedisURL string `env:"REDIS_URL"`

	// Quota and refit policy
	FreeAllotment int           `env:"FREE_ALLOTMENT" envDefault:"3"`
	RefitLimit    int           `env:"REFIT_LIMIT" envDefault:"5"`
	RefitWindow   time.Duration `env:"REFIT_WINDOW" envDefault:"1h"`
	RefitEntryTTL time.Duration `env:"REFIT_ENTRY_TTL" envDefault:"24h"`

	// Fitting request limits
	MaxStages           int           `env:"MAX_STAGES" envDefault:"3"`
	MaxUploadBytes      int64         `env:"MAX_UPLOAD_BYTES" envDefault:"16777216"`
	ComposeStageTimeout time.Duration `env:"COMPOSE_STAGE_TIMEOUT" envDefault:"120s"`

	// Image composition providers, tried in order
	ComposerURLs   string  `env:"COMPOSER_URLS" envDefault:"http://localhost:7860/compose"`
	ComposerAPIKey string  `env:"COMPOSER_API_KEY"`
	ComposerRPS    float64 `env:"COMPOSER_RPS" envDefault:"2"`
	ComposerBurst  int     `env:"COMPOSER_BURST" envDefault:"4"`

	// Result image storage: memory or s3 (S3, R2, Spaces)
	BlobBackend       string `env:"BLOB_BACKEND" envDefault:"memory"`
	S3Endpoint        string `env:"S3_ENDPOINT"`
	S3Region          string `env:"S3_REGION" envDefault:"auto"`
	S3Bucket          string `env:"S3_BUCKET"`
	S3AccessKeyID     string `env:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"S3_SECRET_ACCESS_KEY"`
	S3PublicBaseURL   string `env:"S3_PUBLIC_BASE_URL"`

	// Payments
	PaymentProvider      string `env:"PAYMENT_PROVIDER" envDefault:"none"`
	StripeSecretKey      string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret  string `env:"STRIPE_WEBHOOK_SECRET"`
	StripeSuccessURL     string `env:"STRIPE_SUCCESS_URL"`
	StripeCancelURL      string `env:"STRIPE_CANCEL_URL"`
	PaymentWebhookSecret string `env:"PAYMENT_WEBHOOK_SECRET"`
	CreditsPerPurchase   int    `env:"CREDITS_PER_PURCHASE" envDefault:"10"`
	PurchasePriceCents   int64  `env:"PURCHASE_PRICE_CENTS" envDefault:"200"`
	PurchaseCurrency     string `env:"PURCHASE_CURRENCY" envDefault:"usd"`

	// Admin endpoints are enabled only when an argon2id token hash is configured
	AdminTokenHash string `env:"ADMIN_TOKEN_HASH"`

	// Self-service simulate-purchase and reset-free endpoints
	DevToolsEnabled bool `env:"DEV_TOOLS_ENABLED" envDefault:"false"`

	// Per-IP token bucket on the submit endpoint (requires Redis)
	RateLimitSubmitEnabled bool `env:"RATE_LIMIT_SUBMIT_ENABLED" envDefault:"true"`
	RateLimitSubmitRPS     int  `env:"RATE_LIMIT_SUBMIT_RPS" envDefault:"2"`
	RateLimitSubmitBurst   int  `env:"RATE_LIMIT_SUBMIT_BURST" envDefault:"10"`

	// CORS configuration
	// Comma-separated list of allowed origins (e.g., "https://example.com,https://app.example.com")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Metrics backend: inmemory or prometheus
	MetricsBackend string `env:"METRICS_BACKEND" envDefault:"inmemory"`

	// Usage events are drained from the Redis stream into Postgres
	UsageWorkerEnabled bool `env:"USAGE_WORKER_ENABLED" envDefault:"true"`

	// Client identity cookie
	ClientCookieName string `env:"CLIENT_COOKIE_NAME" envDefault:"fitsa_uid"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	return splitList(c.CORSAllowedOrigins)
}

// GetComposerURLs returns the composition provider endpoints in fallback order.
func (c *Config) GetComposerURLs() []string {
	return splitList(c.ComposerURLs)
}

// Validate checks cross-field rules that struct tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when STORE_BACKEND=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	switch c.BlobBackend {
	case BackendMemory:
	case BackendS3:
		if c.S3Bucket == "" || c.S3AccessKeyID == "" || c.S3SecretAccessKey == "" {
			errs = append(errs, errors.New("S3_BUCKET, S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY are required when BLOB_BACKEND=s3"))
		}
		if c.S3PublicBaseURL == "" {
			errs = append(errs, errors.New("S3_PUBLIC_BASE_URL is required when BLOB_BACKEND=s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown BLOB_BACKEND %q", c.BlobBackend))
	}

	switch c.PaymentProvider {
	case PaymentNone:
	case PaymentStripe:
		if c.StripeSecretKey == "" || c.StripeWebhookSecret == "" {
			errs = append(errs, errors.New("STRIPE_SECRET_KEY and STRIPE_WEBHOOK_SECRET are required when PAYMENT_PROVIDER=stripe"))
		}
	case PaymentSigned:
		if c.PaymentWebhookSecret == "" {
			errs = append(errs, errors.New("PAYMENT_WEBHOOK_SECRET is required when PAYMENT_PROVIDER=signed"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown PAYMENT_PROVIDER %q", c.PaymentProvider))
	}

	if c.MetricsBackend != "inmemory" && c.MetricsBackend != "prometheus" {
		errs = append(errs, fmt.Errorf("unknown METRICS_BACKEND %q", c.MetricsBackend))
	}

	if c.FreeAllotment < 0 {
		errs = append(errs, errors.New("FREE_ALLOTMENT must not be negative"))
	}
	if c.RefitLimit < 1 {
		errs = append(errs, errors.New("REFIT_LIMIT must be at least 1"))
	}
	if c.RefitWindow <= 0 {
		errs = append(errs, errors.New("REFIT_WINDOW must be positive"))
	}
	if c.RefitEntryTTL < c.RefitWindow {
		errs = append(errs, errors.New("REFIT_ENTRY_TTL must not be shorter than REFIT_WINDOW"))
	}
	if c.MaxStages < 1 {
		errs = append(errs, errors.New("MAX_STAGES must be at least 1"))
	}
	if c.ComposeStageTimeout <= 0 {
		errs = append(errs, errors.New("COMPOSE_STAGE_TIMEOUT must be positive"))
	}
	if c.CreditsPerPurchase < 1 {
		errs = append(errs, errors.New("CREDITS_PER_PURCHASE must be at least 1"))
	}
	if len(c.GetComposerURLs()) == 0 {
		errs = append(errs, errors.New("COMPOSER_URLS must list at least one provider"))
	}

	return errors.Join(errs...)
}

// Load parses environment variables and returns a validated Config.
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

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
