// Package config defines the configuration structure for the storefront
// service. Configuration is loaded once at process start and is immutable
// thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format fails startup.
package config

import (
	"time"

	"github.com/shopspring/decimal"

	"storefront/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"storefront-api"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	Payments      PaymentsConfig
	Auth          AuthConfig
	AWS           AWSConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port               string        `envconfig:"PORT" default:"8080"`
	APIExternalURL     string        `envconfig:"API_EXTERNAL_URL" validate:"required,url"`
	CorsAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`

	// Per client IP, across /v1. Zero disables limiting.
	RateLimitPerMinute int `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120" validate:"gte=0"`
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

// PaymentsConfig holds Stripe credentials and the order pricing rules.
type PaymentsConfig struct {
	StripeSecretKey SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	// Empty means webhook payloads are accepted unverified. Refused in prod.
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripeAPIBase       string       `envconfig:"STRIPE_API_BASE" default:"https://api.stripe.com" validate:"url"`

	DefaultCurrency      string          `envconfig:"DEFAULT_CURRENCY" default:"usd" validate:"len=3"`
	TaxRate              decimal.Decimal `envconfig:"TAX_RATE" default:"0.07"`
	DefaultShippingPrice decimal.Decimal `envconfig:"DEFAULT_SHIPPING_PRICE" default:"10"`
	FreeShippingOver     decimal.Decimal `envconfig:"FREE_SHIPPING_THRESHOLD" default:"100"`
	// Owner recorded on webhook-created orders whose metadata has no userId.
	PlaceholderUserID string `envconfig:"PLACEHOLDER_USER_ID" default:"usr_guest"`
}

// AuthConfig holds bearer token settings.
type AuthConfig struct {
	JWTSecret SecretString  `envconfig:"JWT_SECRET" validate:"required,min=32"`
	TokenTTL  time.Duration `envconfig:"TOKEN_TTL" default:"720h"`
	Issuer    string        `envconfig:"TOKEN_ISSUER" default:"storefront"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// Empty disables order event publishing.
	OrderEventsQueueURL string `envconfig:"ORDER_EVENTS_QUEUE_URL" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// ObservabilityConfig holds telemetry and monitoring settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Storefront"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"false"`
}

// Warnings lists settings that are allowed but insecure. The caller logs them
// at startup.
func (c *Config) Warnings() []string {
	var out []string
	if c.Payments.StripeWebhookSecret.IsEmpty() {
		out = append(out, "STRIPE_WEBHOOK_SECRET is not set; webhook payloads will be accepted without signature verification")
	}
	for _, origin := range c.Server.CorsAllowedOrigins {
		if origin == "*" && c.Environment == "prod" {
			out = append(out, "CORS_ALLOWED_ORIGINS allows any origin")
			break
		}
	}
	return out
}
