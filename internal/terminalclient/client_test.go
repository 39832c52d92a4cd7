package terminalclient_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/CedrosPay/terminal/internal/apikey"
	"github.com/CedrosPay/terminal/internal/callbacks"
	"github.com/CedrosPay/terminal/internal/config"
	apierrors "github.com/CedrosPay/terminal/internal/errors"
	"github.com/CedrosPay/terminal/internal/httpserver"
	"github.com/CedrosPay/terminal/internal/idempotency"
	"github.com/CedrosPay/terminal/internal/metrics"
	"github.com/CedrosPay/terminal/internal/orchestrator"
	"github.com/CedrosPay/terminal/internal/orders"
	"github.com/CedrosPay/terminal/internal/payment"
	"github.com/CedrosPay/terminal/internal/processor/processortest"
	"github.com/CedrosPay/terminal/internal/reconciler"
	"github.com/CedrosPay/terminal/internal/terminalclient"
)

func TestClient_DecodesErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/shop/terminal/v1/create-payment-intent" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get(apikey.Header); got != "op_key" {
			t.Errorf("api key header = %q", got)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["order_id"] != "42" || body["amount"] != "12.5" || body["reader_id"] != "tmr_1" {
			t.Errorf("body = %v", body)
		}
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidRequest, "Reader is busy", "payment_intent_id", "pi_9")
	}))
	defer srv.Close()

	c := terminalclient.New(terminalclient.Config{ServerURL: srv.URL + "/", RoutePrefix: "/shop", APIKey: "op_key"})
	_, err := c.CreatePaymentIntent(context.Background(), orchestrator.OrderRef{ID: "42", Key: "k"}, "tmr_1", decimal.RequireFromString("12.50"))

	apiErr := apierrors.As(err)
	if apiErr.Code != apierrors.ErrCodeInvalidRequest || apiErr.Message != "Reader is busy" {
		t.Fatalf("error = %v", err)
	}
	if apiErr.Details["payment_intent_id"] != "pi_9" {
		t.Errorf("details = %v", apiErr.Details)
	}
}

func TestClient_NonEnvelopeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := terminalclient.New(terminalclient.Config{ServerURL: srv.URL})
	_, err := c.ListReaders(context.Background())
	if apierrors.CodeOf(err) != apierrors.ErrCodeInternalError {
		t.Fatalf("error = %v", err)
	}
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := terminalclient.New(terminalclient.Config{ServerURL: url, Timeout: time.Second})
	_, err := c.ValidateService(context.Background())
	apiErr := apierrors.As(err)
	if apiErr.Code != apierrors.ErrCodeProcessorConnectionFailed || !apiErr.Code.IsRetryable() {
		t.Fatalf("error = %v", err)
	}
}

func TestClient_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := terminalclient.New(terminalclient.Config{ServerURL: srv.URL})
	if _, err := c.ListReaders(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v", err)
	}
}

const (
	orderID  = "1001"
	orderKey = "wc_order_abc123"
	opKey    = "op_key_123"
)

type stack struct {
	fake   *processortest.Fake
	store  *orders.MemoryStore
	client *terminalclient.Client
	url    string
}

func newStack(t *testing.T) *stack {
	t.Helper()
	cfg := &config.Config{}
	cfg.Stripe.Mode = "test"
	cfg.Stripe.TestWebhookSecret = "whsec_test"
	cfg.APIKey = config.APIKeyConfig{Enabled: true, Keys: map[string]string{opKey: "front-desk"}}

	s := &stack{fake: processortest.New(), store: orders.NewMemoryStore()}
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	rec := reconciler.New(reconciler.ConfigFrom(cfg.Stripe, cfg.Terminal), s.fake, s.store,
		reconciler.WithMetrics(m),
		reconciler.WithGateway(reconciler.NewDefaultGateway(s.store, "https://shop.example.com")),
	)
	idem := idempotency.NewMemoryStore()
	t.Cleanup(idem.Stop)

	handler := httpserver.New(cfg, httpserver.Dependencies{
		Reconciler:  rec,
		Idempotency: idem,
		Metrics:     m,
		DeadLetters: callbacks.NewMemoryDeadLetterStore(),
		Gatherer:    registry,
		Logger:      zerolog.Nop(),
	}).Handler()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	s.fake.AddReader(payment.Reader{ID: "tmr_1", Label: "Front desk", Status: payment.ReaderOnline})
	if err := s.store.SaveOrder(context.Background(), orders.Order{
		ID:       orderID,
		Key:      orderKey,
		Status:   orders.StatusPending,
		Currency: "USD",
		Total:    decimal.RequireFromString("19.99"),
	}); err != nil {
		t.Fatalf("SaveOrder() error = %v", err)
	}
	s.url = srv.URL
	s.client = terminalclient.New(terminalclient.Config{ServerURL: srv.URL, APIKey: opKey, Timeout: 5 * time.Second})
	return s
}

func TestClient_OperatorEndpoints(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	status, err := s.client.ValidateService(ctx)
	if err != nil || !status.Valid || !status.TestMode {
		t.Fatalf("ValidateService() = %+v, %v", status, err)
	}
	readers, err := s.client.ListReaders(ctx)
	if err != nil || len(readers) != 1 || readers[0].ID != "tmr_1" {
		t.Fatalf("ListReaders() = %+v, %v", readers, err)
	}
	reader, err := s.client.GetReader(ctx, "tmr_1")
	if err != nil || !reader.Online() {
		t.Fatalf("GetReader() = %+v, %v", reader, err)
	}
	if _, err := s.client.GetReader(ctx, "tmr_404"); apierrors.CodeOf(err) != apierrors.ErrCodeReaderNotFound {
		t.Errorf("GetReader(unknown) error = %v", err)
	}
	secret, err := s.client.ConnectionToken(ctx, "")
	if err != nil || secret == "" {
		t.Fatalf("ConnectionToken() = %q, %v", secret, err)
	}
	deliveries, err := s.client.FailedCallbacks(ctx, 10)
	if err != nil || len(deliveries) != 0 {
		t.Fatalf("FailedCallbacks() = %+v, %v", deliveries, err)
	}

	anon := terminalclient.New(terminalclient.Config{ServerURL: s.url})
	if _, err := anon.ListReaders(ctx); apierrors.CodeOf(err) != apierrors.ErrCodeUnauthorizedAPIKey {
		t.Errorf("ListReaders() without key error = %v", err)
	}
}

func TestClient_WrongOrderKey(t *testing.T) {
	s := newStack(t)
	_, err := s.client.CheckPaymentStatus(context.Background(), orchestrator.OrderRef{ID: orderID, Key: "wrong"})
	if apierrors.CodeOf(err) != apierrors.ErrCodeUnauthorizedOrder {
		t.Fatalf("error = %v", err)
	}
}

// TestOrchestratorAgainstServer drives a full reader payment through the HTTP API.
func TestOrchestratorAgainstServer(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	completed := make(chan orchestrator.Outcome, 1)
	finalizer := orchestrator.FinalizerFunc{StepName: "confirm", Fn: func(ctx context.Context, out orchestrator.Outcome) (bool, error) {
		if _, err := s.client.ConfirmPayment(ctx, out.Order, out.PaymentIntentID); err != nil {
			return false, err
		}
		completed <- out
		return true, nil
	}}

	o := orchestrator.New(orchestrator.Config{PollInterval: 10 * time.Millisecond, PollTimeout: 5 * time.Second}, s.client,
		orchestrator.WithFinalizers(finalizer))
	defer o.Close()

	if err := o.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := o.Connect("tmr_1"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := o.Pay(ctx, orchestrator.PaymentRequest{OrderID: orderID, OrderKey: orderKey, Amount: decimal.RequireFromString("19.99")}); err != nil {
		t.Fatalf("Pay() error = %v", err)
	}
	if got := o.State(); got != orchestrator.StateAwaitingCard {
		t.Fatalf("state = %s", got)
	}
	if err := o.SimulatePayment(ctx); err != nil {
		t.Fatalf("SimulatePayment() error = %v", err)
	}

	var out orchestrator.Outcome
	select {
	case out = <-completed:
	case <-time.After(5 * time.Second):
		t.Fatalf("payment never finalized; state = %s", o.State())
	}
	if out.PaymentIntentID == "" || out.Order.ID != orderID {
		t.Errorf("outcome = %+v", out)
	}

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		t.Fatal(err)
	}
	if order.Status != orders.StatusCompleted || !order.IsPaid() {
		t.Errorf("order = %+v", order)
	}
	if s.fake.Calls("create_payment_intent") != 1 {
		t.Errorf("create calls = %d", s.fake.Calls("create_payment_intent"))
	}
}
