package config

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	c.applyDefaults()
	return c.validate()
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	c.Stripe.Mode = strings.ToLower(strings.TrimSpace(c.Stripe.Mode))
	if c.Stripe.Mode == "" {
		c.Stripe.Mode = "test"
	}
	c.Stripe.CaptureMethod = strings.ToLower(strings.TrimSpace(c.Stripe.CaptureMethod))
	if c.Stripe.CaptureMethod == "" {
		c.Stripe.CaptureMethod = "automatic"
	}
	if c.Stripe.ProcessConfig.EnableCustomerCancellation == nil {
		enabled := true
		c.Stripe.ProcessConfig.EnableCustomerCancellation = &enabled
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Storage.OrdersTable == "" {
		c.Storage.OrdersTable = "terminal_orders"
	}
	if c.Storage.MongoDBDatabase == "" && c.Storage.Backend == "mongodb" {
		c.Storage.MongoDBDatabase = "cedros_terminal"
	}
	if c.Terminal.IntentSearchLimit == 0 {
		c.Terminal.IntentSearchLimit = 100
	}
	c.Server.PublicURL = strings.TrimSuffix(c.Server.PublicURL, "/")
	c.Terminal.ServerURL = strings.TrimSuffix(c.Terminal.ServerURL, "/")
}

// validate checks that required configuration fields are set correctly.
func (c *Config) validate() error {
	var errs []string

	// Stripe validation
	if c.Stripe.SecretKey == "" {
		errs = append(errs, "stripe.secret_key is required")
	} else if c.Stripe.Mode == "live" && strings.HasPrefix(c.Stripe.SecretKey, "sk_test_") {
		errs = append(errs, "stripe.secret_key is a test key but stripe.mode is 'live'")
	}
	switch c.Stripe.Mode {
	case "test", "live":
	default:
		errs = append(errs, fmt.Sprintf("stripe.mode must be 'test' or 'live', got %q", c.Stripe.Mode))
	}
	switch c.Stripe.CaptureMethod {
	case "automatic", "manual":
	default:
		errs = append(errs, fmt.Sprintf("stripe.capture_method must be 'automatic' or 'manual', got %q", c.Stripe.CaptureMethod))
	}
	if c.Stripe.BackendURL != "" {
		if err := validateURL(c.Stripe.BackendURL); err != nil {
			errs = append(errs, fmt.Sprintf("stripe.backend_url: %v", err))
		}
	}

	// Storage validation
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			errs = append(errs, "storage.postgres_url is required when backend is 'postgres'")
		}
	case "mongodb":
		if c.Storage.MongoDBURL == "" {
			errs = append(errs, "storage.mongodb_url is required when backend is 'mongodb'")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.backend must be memory, postgres or mongodb, got %q", c.Storage.Backend))
	}

	// Callback validation
	for name, raw := range map[string]string{
		"callbacks.payment_succeeded_url": c.Callbacks.PaymentSucceededURL,
		"callbacks.payment_failed_url":    c.Callbacks.PaymentFailedURL,
	} {
		if raw == "" {
			continue
		}
		if err := validateURL(raw); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		}
	}

	if err := c.validateTerminal(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// validateTerminal checks the settings shared by the server and the CLI.
func (c *Config) validateTerminal() error {
	var errs []string
	if c.Terminal.IntentSearchLimit < 0 {
		errs = append(errs, "terminal.intent_search_limit must be positive")
	}
	if c.Terminal.PollInterval.Duration <= 0 {
		errs = append(errs, "terminal.poll_interval must be positive")
	}
	if c.Terminal.PollTimeout.Duration < c.Terminal.PollInterval.Duration {
		errs = append(errs, "terminal.poll_timeout must be at least terminal.poll_interval")
	}
	if c.Terminal.RedirectDelay.Duration < 0 {
		errs = append(errs, "terminal.redirect_delay must not be negative")
	}
	if c.Terminal.ServerURL != "" {
		if err := validateURL(c.Terminal.ServerURL); err != nil {
			errs = append(errs, fmt.Sprintf("terminal.server_url: %v", err))
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "http", "https":
	case "":
		return errors.New("url missing scheme")
	default:
		return fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("url missing host")
	}
	return nil
}

// ApplyPostgresPoolSettings applies connection pool settings to a database connection.
// If pool config is not specified, applies sensible defaults.
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}

	maxLifetime := pool.ConnMaxLifetime.Duration
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}
