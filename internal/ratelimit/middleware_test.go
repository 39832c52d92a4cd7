package ratelimit

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/CedrosPay/terminal/internal/apikey"
	"github.com/CedrosPay/terminal/internal/metrics"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.GlobalEnabled || !cfg.PerOrderEnabled || !cfg.PerIPEnabled {
		t.Errorf("all limiters should be enabled by default: %+v", cfg)
	}
	if cfg.PerOrderLimit != 60 {
		t.Errorf("PerOrderLimit = %d, want 60", cfg.PerOrderLimit)
	}
}

func TestGlobalLimiter_Disabled(t *testing.T) {
	handler := GlobalLimiter(Config{GlobalEnabled: false})(okHandler())
	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, rec.Code)
		}
	}
}

func TestGlobalLimiter_EnforcesLimit(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	handler := GlobalLimiter(Config{GlobalEnabled: true, GlobalLimit: 3, GlobalWindow: time.Minute, Metrics: m})(okHandler())

	var last *httptest.ResponseRecorder
	for i := 0; i < 4; i++ {
		last = httptest.NewRecorder()
		handler.ServeHTTP(last, httptest.NewRequest(http.MethodGet, "/", nil))
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", last.Code)
	}
	if last.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q", last.Header().Get("Retry-After"))
	}
	if !strings.Contains(last.Body.String(), `"rate_limited"`) {
		t.Errorf("body = %s", last.Body.String())
	}
	if got := promtest.ToFloat64(m.RateLimitHitsTotal.WithLabelValues("global")); got != 1 {
		t.Errorf("rate limit metric = %.0f, want 1", got)
	}
}

func TestOrderLimiter_PerOrder(t *testing.T) {
	cfg := Config{PerOrderEnabled: true, PerOrderLimit: 2, PerOrderWindow: time.Minute}
	var bodies []string
	handler := OrderLimiter(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		w.WriteHeader(http.StatusOK)
	}))

	send := func(body string) int {
		req := httptest.NewRequest(http.MethodPost, "/check-payment-status", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if code := send(`{"order_id":"1001","order_key":"k"}`); code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, code)
		}
	}
	if code := send(`{"order_id":"1001","order_key":"k"}`); code != http.StatusTooManyRequests {
		t.Errorf("third request for 1001: status = %d, want 429", code)
	}
	if code := send(`{"order_id":1002}`); code != http.StatusOK {
		t.Errorf("other order: status = %d, want 200", code)
	}
	if len(bodies) == 0 || bodies[0] != `{"order_id":"1001","order_key":"k"}` {
		t.Errorf("body not restored for handler: %q", bodies)
	}
}

func TestOrderLimiter_OperatorExempt(t *testing.T) {
	cfg := Config{PerOrderEnabled: true, PerOrderLimit: 1, PerOrderWindow: time.Minute}
	keys := apikey.Config{Enabled: true, Keys: map[string]string{"op": "desk"}}
	handler := apikey.Identify(keys)(OrderLimiter(cfg)(okHandler()))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/get-reader-status?order_id=1", nil)
		req.Header.Set(apikey.Header, "op")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, operators are exempt", i, rec.Code)
		}
	}
}

func TestOrderIDFromRequest(t *testing.T) {
	tests := []struct {
		name        string
		target      string
		contentType string
		body        string
		want        string
	}{
		{name: "query", target: "/x?order_id=7", want: "7"},
		{name: "json string", target: "/x", contentType: "application/json", body: `{"order_id":"42"}`, want: "42"},
		{name: "json number", target: "/x", contentType: "application/json", body: `{"order_id":42}`, want: "42"},
		{name: "form", target: "/x", contentType: "application/x-www-form-urlencoded", body: "order_id=9&order_key=k", want: "9"},
		{name: "missing", target: "/x", contentType: "application/json", body: `{"reader_id":"tmr_1"}`, want: ""},
		{name: "malformed", target: "/x", contentType: "application/json", body: `{`, want: ""},
		{name: "no body", target: "/x", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			req := httptest.NewRequest(http.MethodPost, tt.target, body)
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			if got := OrderIDFromRequest(req); got != tt.want {
				t.Errorf("OrderIDFromRequest() = %q, want %q", got, tt.want)
			}
			rest, _ := io.ReadAll(req.Body)
			if string(rest) != tt.body {
				t.Errorf("body after peek = %q, want %q", rest, tt.body)
			}
		})
	}
}

func TestIPLimiter_EnforcesLimit(t *testing.T) {
	handler := IPLimiter(Config{PerIPEnabled: true, PerIPLimit: 1, PerIPWindow: time.Minute})(okHandler())

	first := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	handler.ServeHTTP(first, req)

	second := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.RemoteAddr = "10.0.0.1:5678"
	handler.ServeHTTP(second, req2)

	other := httptest.NewRecorder()
	req3 := httptest.NewRequest(http.MethodGet, "/", nil)
	req3.RemoteAddr = "10.0.0.2:1234"
	handler.ServeHTTP(other, req3)

	if first.Code != 200 || second.Code != 429 || other.Code != 200 {
		t.Errorf("codes = %d/%d/%d, want 200/429/200", first.Code, second.Code, other.Code)
	}
}
