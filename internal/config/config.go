// Package config defines the global configuration structure for the
// brokerdesk platform. Configuration is loaded once at process startup and
// is immutable thereafter. It follows 12-Factor principles by strictly
// separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format causes the application to
// fail immediately on startup.
package config

import (
	"time"

	"brokerdesk/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the brokerdesk platform.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"brokerdesk"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server    ServerConfig
	Database  DatabaseConfig
	AWS       AWSConfig
	Gateway   GatewayConfig
	WhatsApp  WhatsAppConfig
	Market    MarketDataConfig
	Scheduler SchedulerConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	ReadTimeout    time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout   time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	APIExternalURL string        `envconfig:"API_EXTERNAL_URL" default:"http://localhost:8080"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"ap-south-1"`

	NotificationQueue string `envconfig:"SQS_NOTIFICATIONS"`
	MetricNamespace   string `envconfig:"METRIC_NAMESPACE" default:"BrokerDesk"`

	// LocalStack support (empty in prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// GatewayConfig holds payment gateway credentials.
type GatewayConfig struct {
	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET"`
}

// WhatsAppConfig holds the outbound WhatsApp provider settings.
type WhatsAppConfig struct {
	BaseURL   string        `envconfig:"WHATSAPP_API_URL"`
	APIKey    SecretString  `envconfig:"WHATSAPP_API_KEY"`
	Timeout   time.Duration `envconfig:"WHATSAPP_TIMEOUT" default:"10s"`
	UserAgent string        `envconfig:"WHATSAPP_USER_AGENT" default:"BrokerDesk-Notify/1.0"`
}

// MarketDataConfig holds the market-data vendor settings used by the
// trading recommendation surface.
type MarketDataConfig struct {
	BaseURL string        `envconfig:"MARKET_DATA_URL"`
	APIKey  SecretString  `envconfig:"MARKET_DATA_API_KEY"`
	Timeout time.Duration `envconfig:"MARKET_DATA_TIMEOUT" default:"5s"`
}

// SchedulerConfig holds lead lifecycle scheduler tuning.
type SchedulerConfig struct {
	// Disabled skips driver startup entirely; the control API still serves
	// status queries against a stopped driver.
	Disabled bool `envconfig:"SCHEDULER_DISABLED" default:"false"`

	// BatchLimit caps the number of candidate records scanned per job run.
	BatchLimit int `envconfig:"SCHEDULER_BATCH_LIMIT" default:"500"`
}

// ConfigErrorType categorizes configuration loading failures to aid
// debugging.
type ConfigErrorType string

const (
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
