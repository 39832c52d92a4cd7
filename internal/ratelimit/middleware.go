// Package ratelimit throttles checkout traffic globally, per order and per client IP.
package ratelimit

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/CedrosPay/terminal/internal/apikey"
	"github.com/CedrosPay/terminal/internal/config"
	apierrors "github.com/CedrosPay/terminal/internal/errors"
	"github.com/CedrosPay/terminal/internal/metrics"
)

// Config holds rate limiting configuration.
type Config struct {
	GlobalEnabled bool
	GlobalLimit   int
	GlobalWindow  time.Duration

	// Per-order limiting keeps a single checkout from hammering the processor.
	PerOrderEnabled bool
	PerOrderLimit   int
	PerOrderWindow  time.Duration

	PerIPEnabled bool
	PerIPLimit   int
	PerIPWindow  time.Duration

	Metrics *metrics.Metrics
}

// DefaultConfig returns limits sized for reader polling: a checkout polls every two
// seconds, so 60 requests a minute per order leaves headroom for the other calls.
func DefaultConfig() Config {
	return Config{
		GlobalEnabled: true,
		GlobalLimit:   1000,
		GlobalWindow:  time.Minute,

		PerOrderEnabled: true,
		PerOrderLimit:   60,
		PerOrderWindow:  time.Minute,

		PerIPEnabled: true,
		PerIPLimit:   120,
		PerIPWindow:  time.Minute,
	}
}

// FromConfig converts the application rate limit section.
func FromConfig(cfg config.RateLimitConfig, m *metrics.Metrics) Config {
	return Config{
		GlobalEnabled:   cfg.GlobalEnabled,
		GlobalLimit:     cfg.GlobalLimit,
		GlobalWindow:    cfg.GlobalWindow.Duration,
		PerOrderEnabled: cfg.PerOrderEnabled,
		PerOrderLimit:   cfg.PerOrderLimit,
		PerOrderWindow:  cfg.PerOrderWindow.Duration,
		PerIPEnabled:    cfg.PerIPEnabled,
		PerIPLimit:      cfg.PerIPLimit,
		PerIPWindow:     cfg.PerIPWindow.Duration,
		Metrics:         m,
	}
}

var limitMessages = map[string]string{
	"global":    "Too many requests. Please try again later.",
	"per_order": "Too many requests for this order. Please wait before trying again.",
	"per_ip":    "Too many requests from this address. Please try again later.",
}

func limitHandler(limitType string, window time.Duration, m *metrics.Metrics) http.HandlerFunc {
	retryAfter := int(window.Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if m != nil {
			m.ObserveRateLimit(limitType)
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeRateLimited, limitMessages[limitType], "retry_after_seconds", retryAfter)
	}
}

func passthrough(next http.Handler) http.Handler { return next }

// exemptOperators skips limiter for requests authenticated with an operator API key.
func exemptOperators(limiter func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		limited := limiter(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apikey.IsAuthenticated(r) {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}

// GlobalLimiter caps total request volume.
func GlobalLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.GlobalEnabled || cfg.GlobalLimit <= 0 {
		return passthrough
	}
	return exemptOperators(httprate.Limit(
		cfg.GlobalLimit,
		cfg.GlobalWindow,
		httprate.WithLimitHandler(limitHandler("global", cfg.GlobalWindow, cfg.Metrics)),
	))
}

// OrderLimiter limits requests per order id. Requests without one fall back to the client IP.
func OrderLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerOrderEnabled || cfg.PerOrderLimit <= 0 {
		return passthrough
	}
	return exemptOperators(httprate.Limit(
		cfg.PerOrderLimit,
		cfg.PerOrderWindow,
		httprate.WithKeyFuncs(orderKey),
		httprate.WithLimitHandler(limitHandler("per_order", cfg.PerOrderWindow, cfg.Metrics)),
	))
}

// IPLimiter limits requests per client IP.
func IPLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerIPEnabled || cfg.PerIPLimit <= 0 {
		return passthrough
	}
	return exemptOperators(httprate.Limit(
		cfg.PerIPLimit,
		cfg.PerIPWindow,
		httprate.WithKeyByIP(),
		httprate.WithLimitHandler(limitHandler("per_ip", cfg.PerIPWindow, cfg.Metrics)),
	))
}

func orderKey(r *http.Request) (string, error) {
	if id := OrderIDFromRequest(r); id != "" {
		return "order:" + id, nil
	}
	return httprate.KeyByIP(r)
}

const maxPeekBytes = 64 << 10

// OrderIDFromRequest finds order_id in the query string or a JSON or form body.
// The body is restored for the next handler.
func OrderIDFromRequest(r *http.Request) string {
	if id := r.URL.Query().Get("order_id"); id != "" {
		return id
	}
	if r.Body == nil || r.Body == http.NoBody {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBytes))
	r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), r.Body))
	if err != nil || len(body) == 0 {
		return ""
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return ""
		}
		return values.Get("order_id")
	}

	var peek struct {
		OrderID json.RawMessage `json:"order_id"`
	}
	if json.Unmarshal(body, &peek) != nil || len(peek.OrderID) == 0 {
		return ""
	}
	// Shops send numeric or string order ids.
	var s string
	if json.Unmarshal(peek.OrderID, &s) == nil {
		return s
	}
	var n json.Number
	if json.Unmarshal(peek.OrderID, &n) == nil {
		return n.String()
	}
	return ""
}
