package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Stripe         StripeConfig         `yaml:"stripe"`
	Terminal       TerminalConfig       `yaml:"terminal"`
	Storage        StorageConfig        `yaml:"storage"`
	Callbacks      CallbacksConfig      `yaml:"callbacks"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	APIKey         APIKeyConfig         `yaml:"api_key"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	PublicURL          string   `yaml:"public_url"` // Base URL used when building order return URLs
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RoutePrefix        string   `yaml:"route_prefix"`          // Optional prefix for all routes (e.g., "/api", "/shop")
	AdminMetricsAPIKey string   `yaml:"admin_metrics_api_key"` // Optional API key to protect /metrics endpoint
}

// StripeConfig holds Stripe Terminal integration configuration.
type StripeConfig struct {
	SecretKey         string        `yaml:"secret_key"`
	PublishableKey    string        `yaml:"publishable_key"`
	Mode              string        `yaml:"mode"` // live | test
	TestWebhookSecret string        `yaml:"test_webhook_secret"`
	LiveWebhookSecret string        `yaml:"live_webhook_secret"`
	CaptureMethod     string        `yaml:"capture_method"` // automatic | manual
	BackendURL        string        `yaml:"backend_url"`    // Override the Stripe API base URL (stripe-mock, proxies)
	ProcessConfig     ProcessConfig `yaml:"process_config"` // Defaults sent with process_payment_intent
}

// ProcessConfig holds default reader processing options.
type ProcessConfig struct {
	EnableCustomerCancellation *bool `yaml:"enable_customer_cancellation"` // nil means true
	SkipTipping                bool  `yaml:"skip_tipping"`
}

// WebhookSecret returns the signing secret for the active mode.
func (s StripeConfig) WebhookSecret() string {
	if s.IsTestMode() {
		return s.TestWebhookSecret
	}
	return s.LiveWebhookSecret
}

// IsTestMode reports whether the integration runs against test keys.
func (s StripeConfig) IsTestMode() bool {
	return s.Mode != "live"
}

// TerminalConfig holds reconciliation and client-side orchestration settings.
type TerminalConfig struct {
	IntentSearchLimit int      `yaml:"intent_search_limit"` // Max intents scanned when no transaction id is cached (default: 100)
	PollInterval      Duration `yaml:"poll_interval"`       // Orchestrator status poll interval (default: 2s)
	PollTimeout       Duration `yaml:"poll_timeout"`        // Orchestrator gives up after this long (default: 5m)
	RedirectDelay     Duration `yaml:"redirect_delay"`      // Delay before navigating to the return URL (default: 1.5s)
	ReaderMemoryPath  string   `yaml:"reader_memory_path"`  // JSON file remembering the last connected reader
	ServerURL         string   `yaml:"server_url"`          // Server base URL the CLI talks to
	RequestTimeout    Duration `yaml:"request_timeout"`     // Per-request timeout for the CLI HTTP client (default: 30s)
}

// CallbacksConfig holds merchant notification configuration.
type CallbacksConfig struct {
	PaymentSucceededURL string            `yaml:"payment_succeeded_url"`
	PaymentFailedURL    string            `yaml:"payment_failed_url"`
	Headers             map[string]string `yaml:"headers"`
	Timeout             Duration          `yaml:"timeout"`
	Retry               RetryConfig       `yaml:"retry"` // Retry configuration with exponential backoff
}

// RetryConfig holds callback retry configuration.
type RetryConfig struct {
	Enabled         bool     `yaml:"enabled"`          // Enable retry with exponential backoff (default: true)
	MaxAttempts     int      `yaml:"max_attempts"`     // Maximum attempts (default: 5)
	InitialInterval Duration `yaml:"initial_interval"` // Initial backoff interval (default: 1s)
	MaxInterval     Duration `yaml:"max_interval"`     // Maximum backoff interval (default: 5m)
	Multiplier      float64  `yaml:"multiplier"`       // Backoff multiplier (default: 2.0)
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`    // Maximum number of open connections (default: 25)
	MaxIdleConns    int      `yaml:"max_idle_conns"`    // Maximum number of idle connections (default: 5)
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"` // Maximum lifetime of connections (default: 5m)
}

// StorageConfig holds order store configuration.
type StorageConfig struct {
	Backend         string             `yaml:"backend"` // "memory", "postgres", or "mongodb"
	PostgresURL     string             `yaml:"postgres_url"`
	MongoDBURL      string             `yaml:"mongodb_url"`
	MongoDBDatabase string             `yaml:"mongodb_database"`
	OrdersTable     string             `yaml:"orders_table"` // Table or collection name (default: terminal_orders)
	PostgresPool    PostgresPoolConfig `yaml:"postgres_pool"`
	IdempotencyTTL  Duration           `yaml:"idempotency_ttl"` // How long Idempotency-Key responses are replayed (default: 24h)
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	GlobalEnabled bool     `yaml:"global_enabled"`
	GlobalLimit   int      `yaml:"global_limit"`
	GlobalWindow  Duration `yaml:"global_window"`

	// Per-order limiting protects the processor from a single checkout hammering it.
	PerOrderEnabled bool     `yaml:"per_order_enabled"`
	PerOrderLimit   int      `yaml:"per_order_limit"`
	PerOrderWindow  Duration `yaml:"per_order_window"`

	PerIPEnabled bool     `yaml:"per_ip_enabled"`
	PerIPLimit   int      `yaml:"per_ip_limit"`
	PerIPWindow  Duration `yaml:"per_ip_window"`
}

// APIKeyConfig guards reader-management endpoints behind an X-API-Key header.
type APIKeyConfig struct {
	Enabled bool              `yaml:"enabled"`
	Keys    map[string]string `yaml:"keys"` // Map of API key -> label
}

// CircuitBreakerConfig holds circuit breaker configuration for external services.
type CircuitBreakerConfig struct {
	Enabled   bool                 `yaml:"enabled"`
	StripeAPI BreakerServiceConfig `yaml:"stripe_api"`
	Callback  BreakerServiceConfig `yaml:"callback"`
}

// BreakerServiceConfig configures a circuit breaker for a specific external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`         // Max requests in half-open state (default: 3)
	Interval            Duration `yaml:"interval"`             // Stats reset interval in closed state (default: 60s)
	Timeout             Duration `yaml:"timeout"`              // Open state timeout before half-open (default: 30s)
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // Consecutive failures to trip (default: 5)
	FailureRatio        float64  `yaml:"failure_ratio"`        // Failure ratio to trip 0.0-1.0 (default: 0.5)
	MinRequests         uint32   `yaml:"min_requests"`         // Minimum requests before checking ratio (default: 10)
}
