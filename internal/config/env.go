package config

import (
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "CEDROS_TERMINAL_"

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
func (c *Config) applyEnvOverrides() {
	// Server config
	setIfEnv(&c.Server.Address, envPrefix+"SERVER_ADDRESS")
	setIfEnv(&c.Server.PublicURL, envPrefix+"PUBLIC_URL")
	setIfEnv(&c.Server.RoutePrefix, envPrefix+"ROUTE_PREFIX")
	setIfEnv(&c.Server.AdminMetricsAPIKey, envPrefix+"ADMIN_METRICS_API_KEY")
	if v := os.Getenv(envPrefix + "CORS_ALLOWED_ORIGINS"); v != "" {
		c.Server.CORSAllowedOrigins = splitList(v)
	}

	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}

	// Logging config
	setIfEnv(&c.Logging.Level, envPrefix+"LOG_LEVEL")
	setIfEnv(&c.Logging.Format, envPrefix+"LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, envPrefix+"ENVIRONMENT")

	// Stripe config
	setIfEnv(&c.Stripe.SecretKey, envPrefix+"STRIPE_SECRET_KEY")
	setIfEnv(&c.Stripe.PublishableKey, envPrefix+"STRIPE_PUBLISHABLE_KEY")
	setIfEnv(&c.Stripe.Mode, envPrefix+"STRIPE_MODE")
	setIfEnv(&c.Stripe.TestWebhookSecret, envPrefix+"STRIPE_TEST_WEBHOOK_SECRET")
	setIfEnv(&c.Stripe.LiveWebhookSecret, envPrefix+"STRIPE_LIVE_WEBHOOK_SECRET")
	setIfEnv(&c.Stripe.CaptureMethod, envPrefix+"STRIPE_CAPTURE_METHOD")
	setIfEnv(&c.Stripe.BackendURL, envPrefix+"STRIPE_BACKEND_URL")
	if v := os.Getenv(envPrefix + "STRIPE_ENABLE_CUSTOMER_CANCELLATION"); v != "" {
		enabled := parseBool(v)
		c.Stripe.ProcessConfig.EnableCustomerCancellation = &enabled
	}
	setBoolIfEnv(&c.Stripe.ProcessConfig.SkipTipping, envPrefix+"STRIPE_SKIP_TIPPING")

	// Terminal config
	setIntIfEnv(&c.Terminal.IntentSearchLimit, envPrefix+"INTENT_SEARCH_LIMIT")
	setDurationIfEnv(&c.Terminal.PollInterval, envPrefix+"POLL_INTERVAL")
	setDurationIfEnv(&c.Terminal.PollTimeout, envPrefix+"POLL_TIMEOUT")
	setDurationIfEnv(&c.Terminal.RedirectDelay, envPrefix+"REDIRECT_DELAY")
	setIfEnv(&c.Terminal.ReaderMemoryPath, envPrefix+"READER_MEMORY_PATH")
	setIfEnv(&c.Terminal.ServerURL, envPrefix+"SERVER_URL")
	setDurationIfEnv(&c.Terminal.RequestTimeout, envPrefix+"REQUEST_TIMEOUT")

	// Storage config
	setIfEnv(&c.Storage.Backend, envPrefix+"STORAGE_BACKEND")
	setIfEnv(&c.Storage.PostgresURL, envPrefix+"POSTGRES_URL")
	setIfEnv(&c.Storage.MongoDBURL, envPrefix+"MONGODB_URL")
	setIfEnv(&c.Storage.MongoDBDatabase, envPrefix+"MONGODB_DATABASE")
	setIfEnv(&c.Storage.OrdersTable, envPrefix+"ORDERS_TABLE")
	setDurationIfEnv(&c.Storage.IdempotencyTTL, envPrefix+"IDEMPOTENCY_TTL")

	// Callbacks config
	setIfEnv(&c.Callbacks.PaymentSucceededURL, envPrefix+"CALLBACK_SUCCEEDED_URL")
	setIfEnv(&c.Callbacks.PaymentFailedURL, envPrefix+"CALLBACK_FAILED_URL")
	setDurationIfEnv(&c.Callbacks.Timeout, envPrefix+"CALLBACK_TIMEOUT")
	// Load callback headers (CEDROS_TERMINAL_CALLBACK_HEADER_*)
	for name, value := range prefixedEnv(envPrefix + "CALLBACK_HEADER_") {
		if c.Callbacks.Headers == nil {
			c.Callbacks.Headers = make(map[string]string)
		}
		headerName := textproto.CanonicalMIMEHeaderKey(strings.ReplaceAll(name, "_", "-"))
		c.Callbacks.Headers[headerName] = value
	}

	// API key config
	setBoolIfEnv(&c.APIKey.Enabled, envPrefix+"API_KEY_ENABLED")
	// CEDROS_TERMINAL_API_KEY_POS_FRONT=front-desk -> key: "pos_front", label: "front-desk"
	for name, value := range prefixedEnv(envPrefix + "API_KEY_") {
		if name == "ENABLED" {
			continue
		}
		if c.APIKey.Keys == nil {
			c.APIKey.Keys = make(map[string]string)
		}
		c.APIKey.Keys[strings.ToLower(name)] = strings.TrimSpace(value)
	}

	// Circuit breaker config
	setBoolIfEnv(&c.CircuitBreaker.Enabled, envPrefix+"CIRCUIT_BREAKER_ENABLED")
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
// Accepts "1", "true", "TRUE", "True" as true values.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = parseBool(v)
	}
}

func parseBool(v string) bool {
	return v == "1" || strings.EqualFold(v, "true")
}

func setIntIfEnv(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*target = n
		}
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
// Uses time.ParseDuration to parse values like "5m", "120s", "1h30m".
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

// prefixedEnv returns environment variables starting with prefix, keyed by the remaining suffix.
func prefixedEnv(prefix string) map[string]string {
	out := make(map[string]string)
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimPrefix(parts[0], prefix)
		if name == "" {
			continue
		}
		out[name] = parts[1]
	}
	return out
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// normalizeRoutePrefix ensures the prefix starts with / and doesn't end with /.
// Examples: "api" -> "/api", "/api/" -> "/api", "shop-pay" -> "/shop-pay"
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	prefix = strings.TrimSuffix(prefix, "/")
	return prefix
}
