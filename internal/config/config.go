package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads the server configuration: defaults, then the YAML file at path
// (skipped when path is empty), then CEDROS_TERMINAL_* environment overrides.
func Load(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadClient reads configuration for client-side tools that only need the
// terminal section. Server-only requirements such as the Stripe secret key are not enforced.
func LoadClient(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validateTerminal(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func read(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// Defaults returns the configuration used before any file or environment is applied.
func Defaults() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  Duration{Duration: 15 * time.Second},
			WriteTimeout: Duration{Duration: 15 * time.Second},
			IdleTimeout:  Duration{Duration: 60 * time.Second},
		},
		Stripe: StripeConfig{
			Mode:          "test",
			CaptureMethod: "automatic",
		},
		Terminal: TerminalConfig{
			IntentSearchLimit: 100,
			PollInterval:      Duration{Duration: 2 * time.Second},
			PollTimeout:       Duration{Duration: 5 * time.Minute},
			RedirectDelay:     Duration{Duration: 1500 * time.Millisecond},
			ReaderMemoryPath:  defaultReaderMemoryPath(),
			ServerURL:         "http://localhost:8080",
			RequestTimeout:    Duration{Duration: 30 * time.Second},
		},
		Callbacks: CallbacksConfig{
			Headers: make(map[string]string),
			Timeout: Duration{Duration: 3 * time.Second},
			Retry: RetryConfig{
				Enabled:         true,
				MaxAttempts:     5,
				InitialInterval: Duration{Duration: 1 * time.Second},
				MaxInterval:     Duration{Duration: 5 * time.Minute},
				Multiplier:      2.0,
			},
		},
		RateLimit: RateLimitConfig{
			// Status polling runs every 2s per checkout, so per-order limits leave headroom for it
			GlobalEnabled:   true,
			GlobalLimit:     1000,
			GlobalWindow:    Duration{Duration: 1 * time.Minute},
			PerOrderEnabled: true,
			PerOrderLimit:   90,
			PerOrderWindow:  Duration{Duration: 1 * time.Minute},
			PerIPEnabled:    true,
			PerIPLimit:      120,
			PerIPWindow:     Duration{Duration: 1 * time.Minute},
		},
		APIKey: APIKeyConfig{
			Enabled: false,
			Keys:    make(map[string]string),
		},
		Storage: StorageConfig{
			Backend:        "memory",
			OrdersTable:    "terminal_orders",
			IdempotencyTTL: Duration{Duration: 24 * time.Hour},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled: true,
			StripeAPI: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
			Callback: BreakerServiceConfig{
				MaxRequests:         5,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 60 * time.Second},
				ConsecutiveFailures: 10,
				FailureRatio:        0.7,
				MinRequests:         20,
			},
		},
	}
}

func (c *Config) parseFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", filepath.Base(path), err)
	}
	return nil
}

func defaultReaderMemoryPath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return ".terminal-reader.json"
	}
	return filepath.Join(dir, "cedros-terminal", "reader.json")
}
