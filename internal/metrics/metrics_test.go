package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsInitialization(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	if m == nil {
		t.Fatal("metrics collector should not be nil")
	}
	if m.IntentsCreatedTotal == nil {
		t.Error("IntentsCreatedTotal should be initialized")
	}
	if m.ProcessorCallsTotal == nil {
		t.Error("ProcessorCallsTotal should be initialized")
	}
	if m.ReconciliationsTotal == nil {
		t.Error("ReconciliationsTotal should be initialized")
	}
	if m.WebhooksTotal == nil {
		t.Error("WebhooksTotal should be initialized")
	}
	if m.CallbacksTotal == nil {
		t.Error("CallbacksTotal should be initialized")
	}
}

func TestObserveIntentCreated(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveIntentCreated("usd", "automatic", 1999)
	m.ObserveIntentCreated("usd", "automatic", 1)

	if got := promtest.ToFloat64(m.IntentsCreatedTotal.WithLabelValues("usd", "automatic")); got != 2 {
		t.Errorf("expected 2 intents, got %.0f", got)
	}
	if got := promtest.ToFloat64(m.IntentAmountTotal.WithLabelValues("usd")); got != 2000 {
		t.Errorf("expected 2000 units, got %.0f", got)
	}
}

func TestObserveProcessorCall(t *testing.T) {
	tests := []struct {
		name       string
		code       string
		wantStatus string
		wantErrors float64
	}{
		{name: "success", code: "", wantStatus: "success", wantErrors: 0},
		{name: "declined", code: "card_declined", wantStatus: "error", wantErrors: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(prometheus.NewRegistry())
			m.ObserveProcessorCall("get_payment_intent", 120*time.Millisecond, tt.code)

			if got := promtest.ToFloat64(m.ProcessorCallsTotal.WithLabelValues("get_payment_intent", tt.wantStatus)); got != 1 {
				t.Errorf("expected 1 call with status %s, got %.0f", tt.wantStatus, got)
			}
			if tt.code != "" {
				if got := promtest.ToFloat64(m.ProcessorErrorsTotal.WithLabelValues("get_payment_intent", tt.code)); got != tt.wantErrors {
					t.Errorf("expected %.0f errors, got %.0f", tt.wantErrors, got)
				}
			}
		})
	}
}

func TestObserveReaderAction(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveReaderAction("process_payment_intent", nil)
	m.ObserveReaderAction("process_payment_intent", errors.New("offline"))

	if got := promtest.ToFloat64(m.ReaderActionsTotal.WithLabelValues("process_payment_intent", "success")); got != 1 {
		t.Errorf("expected 1 successful action, got %.0f", got)
	}
	if got := promtest.ToFloat64(m.ReaderActionsTotal.WithLabelValues("process_payment_intent", "error")); got != 1 {
		t.Errorf("expected 1 failed action, got %.0f", got)
	}
}

func TestObserveReconciliation(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveReconciliation("status_check", "paid")
	m.ObserveWriteback("webhook")

	if got := promtest.ToFloat64(m.ReconciliationsTotal.WithLabelValues("status_check", "paid")); got != 1 {
		t.Errorf("expected 1 reconciliation, got %.0f", got)
	}
	if got := promtest.ToFloat64(m.WritebacksTotal.WithLabelValues("webhook")); got != 1 {
		t.Errorf("expected 1 write-back, got %.0f", got)
	}
}

func TestObserveCallback(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveCallback("payment.succeeded", "success", 500*time.Millisecond, 1)

	if got := promtest.ToFloat64(m.CallbacksTotal.WithLabelValues("payment.succeeded", "success")); got != 1 {
		t.Errorf("expected 1 callback delivery, got %.0f", got)
	}

	// attempt=5 means 4 retries after the initial attempt
	m.ObserveCallback("payment.failed", "failed", 2*time.Second, 5)
	m.ObserveCallback("payment.failed", "failed", 2*time.Second, 9)

	if got := promtest.ToFloat64(m.CallbackRetriesTotal.WithLabelValues("payment.failed", "5")); got != 1 {
		t.Errorf("expected 1 retry record for attempt 5, got %.0f", got)
	}
	if got := promtest.ToFloat64(m.CallbackRetriesTotal.WithLabelValues("payment.failed", "5+")); got != 1 {
		t.Errorf("expected 1 retry record for attempt 5+, got %.0f", got)
	}
}

func TestObserveWebhook(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveWebhook("payment_intent.succeeded", "handled", 30*time.Millisecond)

	if got := promtest.ToFloat64(m.WebhooksTotal.WithLabelValues("payment_intent.succeeded", "handled")); got != 1 {
		t.Errorf("expected 1 webhook, got %.0f", got)
	}
}

func TestObserveRateLimit(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveRateLimit("per_order")

	if got := promtest.ToFloat64(m.RateLimitHitsTotal.WithLabelValues("per_order")); got != 1 {
		t.Errorf("expected 1 rate limit hit, got %.0f", got)
	}
}

func TestStoreTimer(t *testing.T) {
	var nilMetrics *Metrics
	nilMetrics.StoreTimer("memory").Start("get_order")()
	StoreTimer{}.Start("get_order")()

	m := New(prometheus.NewRegistry())
	timer := m.StoreTimer("postgres")
	timer.Start("get_order")()
	timer.Start("save_order")()
	if got := promtest.CollectAndCount(m.DBQueryDuration); got != 2 {
		t.Errorf("expected 2 histogram series, got %d", got)
	}
}

func TestObserveBreakerState(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveBreakerState("stripe_api", "open")
	if got := promtest.ToFloat64(m.CircuitBreakerState.WithLabelValues("stripe_api")); got != 2 {
		t.Errorf("open gauge = %v, want 2", got)
	}
	m.ObserveBreakerState("stripe_api", "closed")
	if got := promtest.ToFloat64(m.CircuitBreakerState.WithLabelValues("stripe_api")); got != 0 {
		t.Errorf("closed gauge = %v, want 0", got)
	}
	var nilMetrics *Metrics
	nilMetrics.ObserveBreakerState("callback", "open")
}
