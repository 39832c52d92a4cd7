package idempotency

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func countingHandler(calls *int32, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Key-Seen", KeyFromContext(r.Context()))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"call":` + strconv.Itoa(int(n)) + `}`))
	})
}

func post(h http.Handler, path, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set(HeaderKey, key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		firstKey   string
		secondKey  string
		secondPath string
		secondBody string
		wantCalls  int32
		wantCode   int
		wantReplay bool
	}{
		{name: "no key passes through", status: 200, wantCalls: 2, wantCode: 200},
		{name: "same key replays", status: 200, firstKey: "k1", secondKey: "k1", wantCalls: 1, wantCode: 200, wantReplay: true},
		{name: "different keys run twice", status: 200, firstKey: "k1", secondKey: "k2", wantCalls: 2, wantCode: 200},
		{name: "keys are scoped per path", status: 200, firstKey: "k1", secondKey: "k1", secondPath: "/retry-payment", wantCalls: 2, wantCode: 200},
		{name: "errors are not cached", status: 502, firstKey: "k1", secondKey: "k1", wantCalls: 2, wantCode: 502},
		{name: "different body conflicts", status: 200, firstKey: "k1", secondKey: "k1", secondBody: `{"order_id":"2"}`, wantCalls: 1, wantCode: http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			defer store.Stop()
			var calls int32
			h := Middleware(store, time.Hour)(countingHandler(&calls, tt.status))

			body := `{"order_id":"1"}`
			first := post(h, "/create-payment-intent", tt.firstKey, body)

			path := "/create-payment-intent"
			if tt.secondPath != "" {
				path = tt.secondPath
			}
			secondBody := body
			if tt.secondBody != "" {
				secondBody = tt.secondBody
			}
			second := post(h, path, tt.secondKey, secondBody)

			if calls != tt.wantCalls {
				t.Errorf("handler calls = %d, want %d", calls, tt.wantCalls)
			}
			if second.Code != tt.wantCode {
				t.Errorf("second status = %d, want %d", second.Code, tt.wantCode)
			}
			if got := second.Header().Get(HeaderReplay) == "true"; got != tt.wantReplay {
				t.Errorf("replay header = %v, want %v", got, tt.wantReplay)
			}
			if tt.wantReplay && second.Body.String() != first.Body.String() {
				t.Errorf("replayed body = %q, want %q", second.Body.String(), first.Body.String())
			}
		})
	}
}

func TestMiddleware_ReplayKeepsHeaders(t *testing.T) {
	store := NewMemoryStore()
	defer store.Stop()
	var calls int32
	h := Middleware(store, 0)(countingHandler(&calls, 200))

	post(h, "/create-payment-intent", "abc", "{}")
	second := post(h, "/create-payment-intent", "abc", "{}")

	if second.Header().Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", second.Header().Get("Content-Type"))
	}
	if second.Header().Get("X-Key-Seen") != "abc" {
		t.Errorf("handler should see the raw key, got %q", second.Header().Get("X-Key-Seen"))
	}
}

func TestMiddleware_InFlightConflict(t *testing.T) {
	store := NewMemoryStore()
	defer store.Stop()
	var calls int32
	h := Middleware(store, time.Hour)(countingHandler(&calls, 200))

	store.Reserve(context.Background(), "POST:/create-payment-intent:busy")
	rec := post(h, "/create-payment-intent", "busy", "{}")

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "idempotency_conflict") {
		t.Errorf("body = %s", rec.Body.String())
	}
	if calls != 0 {
		t.Errorf("handler calls = %d, want 0", calls)
	}
}

func TestMiddleware_KeyTooLong(t *testing.T) {
	store := NewMemoryStore()
	defer store.Stop()
	var calls int32
	h := Middleware(store, time.Hour)(countingHandler(&calls, 200))

	rec := post(h, "/create-payment-intent", strings.Repeat("k", 300), "{}")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
