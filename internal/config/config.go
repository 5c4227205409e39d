// Package config defines the global configuration structure for the StockCast
// backend. Configuration is loaded once at process initialization and is
// immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format causes the application to fail
// immediately on startup.
package config

import (
	"time"

	"stockcast/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the StockCast backend.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require
// (Least Privilege principle).
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"OTEL_SERVICE_NAME" default:"stockcast-api"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Billing       BillingConfig
	Predictor     PredictorConfig
	Quota         QuotaConfig
	Telegram      TelegramConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// Public URLs for checkout redirects (no trailing slash)
	APIExternalURL string `envconfig:"API_EXTERNAL_URL" validate:"required,url"` // e.g., https://api.stockcast.app
	FrontendURL    string `envconfig:"FRONTEND_URL" validate:"required,url"`     // e.g., https://stockcast.app
	ReadTimeout    time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout   time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"30s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	// Resolved from SSM or Env
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`     // Fail fast when pool exhausted
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"` // Detect dead connections during failover
	MigrateOnStart    bool          `envconfig:"DB_MIGRATE_ON_START" default:"true"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// PredictQueueURL is the SQS queue carrying prediction tasks. When empty,
	// the API falls back to running predictions inline (single-box deployments).
	PredictQueueURL string `envconfig:"SQS_PREDICT_QUEUE"`
	DlqURL          string `envconfig:"SQS_DLQ"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// BillingConfig holds Stripe payment integration credentials and keys.
type BillingConfig struct {
	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`
	StripePriceID       string       `envconfig:"STRIPE_PRICE_ID" validate:"required"` // Monthly PRO price
}

// PredictorConfig holds the model service endpoint and tuning parameters.
type PredictorConfig struct {
	BaseURL       string        `envconfig:"PREDICTOR_BASE_URL" validate:"required,url"`
	APIKey        SecretString  `envconfig:"PREDICTOR_API_KEY"`
	Timeout       time.Duration `envconfig:"PREDICTOR_TIMEOUT" default:"120s"`
	MaxRetries    int           `envconfig:"PREDICTOR_MAX_RETRIES" default:"2"`
	BreakerMaxReq uint32        `envconfig:"PREDICTOR_BREAKER_MAX_REQUESTS" default:"3"`
}

// QuotaConfig holds the admission policy knobs: the free daily allowance,
// the sliding-window throttle, and the reference timezone for day rollover.
type QuotaConfig struct {
	FreeDailyLimit int `envconfig:"QUOTA_FREE_DAILY_LIMIT" default:"5"`

	// Sliding-window throttle, applied to all tiers.
	WindowMax     int           `envconfig:"RATE_WINDOW_MAX" default:"10"`
	WindowPeriod  time.Duration `envconfig:"RATE_WINDOW_PERIOD" default:"1m"`

	// Timezone is the IANA zone whose midnight resets the daily counters.
	// All users share the same boundary.
	Timezone string `envconfig:"QUOTA_TIMEZONE" default:"UTC"`
}

// TelegramConfig holds the chat-bot credentials and polling settings.
// BotToken may be empty when the bot binary is not deployed.
type TelegramConfig struct {
	BotToken    SecretString  `envconfig:"TELEGRAM_BOT_TOKEN"`
	PollTimeout time.Duration `envconfig:"TELEGRAM_POLL_TIMEOUT" default:"30s"`
}

// ObservabilityConfig holds telemetry and monitoring settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"StockCast"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
