package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/CedrosPay/terminal/internal/config"
	"github.com/CedrosPay/terminal/internal/orchestrator"
	"github.com/CedrosPay/terminal/internal/orders"
	"github.com/CedrosPay/terminal/internal/payment"
	"github.com/CedrosPay/terminal/internal/processor/processortest"
	"github.com/CedrosPay/terminal/internal/terminalclient"
	"github.com/CedrosPay/terminal/pkg/terminal"
)

func newTestEnv(t *testing.T) (*env, *orders.MemoryStore) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Stripe.Mode = "test"
	cfg.Stripe.TestWebhookSecret = "whsec_test"
	cfg.Storage.Backend = "memory"
	cfg.Terminal.PollInterval = config.Duration{Duration: 10 * time.Millisecond}
	cfg.Terminal.PollTimeout = config.Duration{Duration: 5 * time.Second}
	cfg.Terminal.RedirectDelay = config.Duration{Duration: time.Millisecond}
	cfg.Terminal.ReaderMemoryPath = filepath.Join(t.TempDir(), "reader.json")

	fake := processortest.New()
	fake.AddReader(payment.Reader{ID: "tmr_1", Label: "Counter", Status: payment.ReaderOnline})
	store := orders.NewMemoryStore()
	if err := store.SaveOrder(context.Background(), orders.Order{
		ID: "55", Key: "wc_order_55", Status: orders.StatusPending, Currency: "USD", Total: decimal.NewFromInt(12),
	}); err != nil {
		t.Fatal(err)
	}

	app, err := terminal.NewApp(context.Background(), cfg,
		terminal.WithProcessor(fake),
		terminal.WithStore(store),
		terminal.WithRegistry(prometheus.NewRegistry()),
		terminal.WithLogger(zerolog.Nop()),
	)
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	srv := httptest.NewServer(app.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = app.Close()
	})

	return &env{
		cfg:    cfg,
		client: terminalclient.New(terminalclient.Config{ServerURL: srv.URL, Timeout: 5 * time.Second}),
		log:    zerolog.Nop(),
	}, store
}

func TestRunPay_SimulatedCardCompletesOrder(t *testing.T) {
	e, store := newTestEnv(t)
	var out bytes.Buffer

	err := runPay(context.Background(), e, payOptions{
		order:    orchestrator.OrderRef{ID: "55", Key: "wc_order_55"},
		amount:   decimal.NewFromInt(12),
		readerID: "tmr_1",
		simulate: true,
		in:       strings.NewReader(""),
		out:      &out,
	})
	if err != nil {
		t.Fatalf("runPay() error = %v\n%s", err, out.String())
	}

	order, err := store.GetOrder(context.Background(), "55")
	if err != nil {
		t.Fatal(err)
	}
	if order.Status != orders.StatusCompleted {
		t.Errorf("order status = %s", order.Status)
	}
	if !strings.Contains(out.String(), "Order 55 completed") {
		t.Errorf("output missing completion line:\n%s", out.String())
	}

	// The reader is remembered for the next run.
	mem := orchestrator.NewFileReaderMemory(e.cfg.Terminal.ReaderMemoryPath)
	if id, _ := mem.Load(); id != "tmr_1" {
		t.Errorf("remembered reader = %q", id)
	}
}

func TestRunPay_NoReader(t *testing.T) {
	e, _ := newTestEnv(t)
	err := runPay(context.Background(), e, payOptions{
		order:  orchestrator.OrderRef{ID: "55", Key: "wc_order_55"},
		amount: decimal.NewFromInt(12),
		in:     strings.NewReader(""),
		out:    &bytes.Buffer{},
	})
	if err == nil || !strings.Contains(err.Error(), "no reader connected") {
		t.Fatalf("error = %v", err)
	}
}

func TestConsoleView_Actions(t *testing.T) {
	var out bytes.Buffer
	v := newConsoleView(&out)
	v.SetActions(orchestrator.Actions{Retry: true, Cancel: true})
	v.SetActions(orchestrator.Actions{})
	if got := out.String(); got != "  [r]etry  [c]ancel  [s]tatus\n" {
		t.Errorf("output = %q", got)
	}
}
