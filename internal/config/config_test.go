package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	// Secret key is required, so defaults alone fail validation
	clearEnv()
	cfg, err := Load("")
	if err == nil {
		t.Fatal("expected error when required fields are missing, got nil")
	}
	if cfg != nil {
		t.Fatal("expected nil config when validation fails")
	}
	if !strings.Contains(err.Error(), "stripe.secret_key is required") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadConfig_ValidMinimal(t *testing.T) {
	clearEnv()
	os.Setenv("CEDROS_TERMINAL_STRIPE_SECRET_KEY", "sk_test_123")
	defer clearEnv()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected no error with valid config, got: %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Errorf("expected default address :8080, got %s", cfg.Server.Address)
	}
	if cfg.Stripe.Mode != "test" {
		t.Errorf("expected default stripe mode 'test', got %s", cfg.Stripe.Mode)
	}
	if cfg.Stripe.CaptureMethod != "automatic" {
		t.Errorf("expected automatic capture, got %s", cfg.Stripe.CaptureMethod)
	}
	if cfg.Stripe.ProcessConfig.EnableCustomerCancellation == nil || !*cfg.Stripe.ProcessConfig.EnableCustomerCancellation {
		t.Error("expected customer cancellation enabled by default")
	}
	if cfg.Terminal.IntentSearchLimit != 100 {
		t.Errorf("expected intent search limit 100, got %d", cfg.Terminal.IntentSearchLimit)
	}
	if cfg.Terminal.PollInterval.Duration != 2*time.Second {
		t.Errorf("expected poll interval 2s, got %v", cfg.Terminal.PollInterval.Duration)
	}
	if cfg.Terminal.PollTimeout.Duration != 5*time.Minute {
		t.Errorf("expected poll timeout 5m, got %v", cfg.Terminal.PollTimeout.Duration)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("expected memory backend, got %s", cfg.Storage.Backend)
	}
}

func TestLoadConfig_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr string
	}{
		{
			name: "unknown mode",
			envVars: map[string]string{
				"CEDROS_TERMINAL_STRIPE_SECRET_KEY": "sk_test_123",
				"CEDROS_TERMINAL_STRIPE_MODE":       "sandbox",
			},
			wantErr: "stripe.mode must be 'test' or 'live'",
		},
		{
			name: "test key in live mode",
			envVars: map[string]string{
				"CEDROS_TERMINAL_STRIPE_SECRET_KEY": "sk_test_123",
				"CEDROS_TERMINAL_STRIPE_MODE":       "live",
			},
			wantErr: "test key but stripe.mode is 'live'",
		},
		{
			name: "unknown capture method",
			envVars: map[string]string{
				"CEDROS_TERMINAL_STRIPE_SECRET_KEY":     "sk_test_123",
				"CEDROS_TERMINAL_STRIPE_CAPTURE_METHOD": "later",
			},
			wantErr: "stripe.capture_method",
		},
		{
			name: "postgres without url",
			envVars: map[string]string{
				"CEDROS_TERMINAL_STRIPE_SECRET_KEY": "sk_test_123",
				"CEDROS_TERMINAL_STORAGE_BACKEND":   "postgres",
			},
			wantErr: "storage.postgres_url is required",
		},
		{
			name: "mongodb without url",
			envVars: map[string]string{
				"CEDROS_TERMINAL_STRIPE_SECRET_KEY": "sk_test_123",
				"CEDROS_TERMINAL_STORAGE_BACKEND":   "mongodb",
			},
			wantErr: "storage.mongodb_url is required",
		},
		{
			name: "timeout shorter than interval",
			envVars: map[string]string{
				"CEDROS_TERMINAL_STRIPE_SECRET_KEY": "sk_test_123",
				"CEDROS_TERMINAL_POLL_INTERVAL":     "10s",
				"CEDROS_TERMINAL_POLL_TIMEOUT":      "5s",
			},
			wantErr: "terminal.poll_timeout must be at least",
		},
		{
			name: "callback url without scheme",
			envVars: map[string]string{
				"CEDROS_TERMINAL_STRIPE_SECRET_KEY":      "sk_test_123",
				"CEDROS_TERMINAL_CALLBACK_SUCCEEDED_URL": "example.com/hook",
			},
			wantErr: "callbacks.payment_succeeded_url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}
			defer clearEnv()

			_, err := Load("")
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestLoadConfig_YAMLFile(t *testing.T) {
	clearEnv()
	defer clearEnv()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := `
server:
  address: ":9090"
  route_prefix: "shop"
stripe:
  secret_key: sk_test_file
  mode: test
  test_webhook_secret: whsec_test
  live_webhook_secret: whsec_live
  capture_method: manual
  process_config:
    enable_customer_cancellation: false
    skip_tipping: true
terminal:
  intent_search_limit: 25
  poll_interval: 1s
  poll_timeout: 90
`
	if err := os.WriteFile(path, []byte(yamlBody), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	// Env still wins over the file
	os.Setenv("CEDROS_TERMINAL_SERVER_ADDRESS", ":7070")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Address != ":7070" {
		t.Errorf("Server.Address = %q, want :7070", cfg.Server.Address)
	}
	if cfg.Server.RoutePrefix != "/shop" {
		t.Errorf("Server.RoutePrefix = %q, want /shop", cfg.Server.RoutePrefix)
	}
	if cfg.Stripe.WebhookSecret() != "whsec_test" {
		t.Errorf("WebhookSecret() = %q, want whsec_test", cfg.Stripe.WebhookSecret())
	}
	if cfg.Stripe.CaptureMethod != "manual" {
		t.Errorf("CaptureMethod = %q, want manual", cfg.Stripe.CaptureMethod)
	}
	if *cfg.Stripe.ProcessConfig.EnableCustomerCancellation {
		t.Error("expected customer cancellation disabled from file")
	}
	if !cfg.Stripe.ProcessConfig.SkipTipping {
		t.Error("expected skip_tipping from file")
	}
	if cfg.Terminal.IntentSearchLimit != 25 {
		t.Errorf("IntentSearchLimit = %d, want 25", cfg.Terminal.IntentSearchLimit)
	}
	if cfg.Terminal.PollTimeout.Duration != 90*time.Second {
		t.Errorf("PollTimeout = %v, want 90s", cfg.Terminal.PollTimeout.Duration)
	}
}

func TestLoadClient_SkipsServerRequirements(t *testing.T) {
	clearEnv()
	os.Setenv("CEDROS_TERMINAL_SERVER_URL", "https://shop.example.com/")
	defer clearEnv()

	cfg, err := LoadClient("")
	if err != nil {
		t.Fatalf("LoadClient() error = %v", err)
	}
	if cfg.Terminal.ServerURL != "https://shop.example.com" {
		t.Errorf("ServerURL = %q, want trailing slash trimmed", cfg.Terminal.ServerURL)
	}
}

func TestWebhookSecret_ByMode(t *testing.T) {
	tests := []struct {
		mode string
		want string
	}{
		{"test", "whsec_test"},
		{"live", "whsec_live"},
		{"", "whsec_test"},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			s := StripeConfig{Mode: tt.mode, TestWebhookSecret: "whsec_test", LiveWebhookSecret: "whsec_live"}
			if got := s.WebhookSecret(); got != tt.want {
				t.Errorf("WebhookSecret() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizeRoutePrefix(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"api", "/api"},
		{"/api", "/api"},
		{"/api/", "/api"},
		{"  /api/  ", "/api"},
		{"shop-pay", "/shop-pay"},
		{"/v1/shop", "/v1/shop"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := normalizeRoutePrefix(tt.input)
			if got != tt.want {
				t.Errorf("normalizeRoutePrefix(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// Test helpers

func clearEnv() {
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, envPrefix) {
			continue
		}
		key := strings.SplitN(env, "=", 2)[0]
		os.Unsetenv(key)
	}
}
