// Package reconciler is the server-side authority for terminal payment intents.
// It creates and relays intents to readers and keeps the local order cache in step
// with the processor through status checks and webhooks.
package reconciler

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/CedrosPay/terminal/internal/callbacks"
	"github.com/CedrosPay/terminal/internal/config"
	apierrors "github.com/CedrosPay/terminal/internal/errors"
	"github.com/CedrosPay/terminal/internal/logger"
	"github.com/CedrosPay/terminal/internal/metrics"
	"github.com/CedrosPay/terminal/internal/orders"
	"github.com/CedrosPay/terminal/internal/payment"
	"github.com/CedrosPay/terminal/internal/processor"
)

// PaymentMethodID is recorded on orders paid through a reader.
const PaymentMethodID = "stripe_terminal"

// Config is the explicit configuration the reconciler runs with.
type Config struct {
	TestMode          bool
	WebhookSecret     string
	CaptureMethod     string
	ProcessDefaults   payment.ProcessConfig
	IntentSearchLimit int
}

// ConfigFrom derives the reconciler configuration from application config.
func ConfigFrom(stripeCfg config.StripeConfig, terminalCfg config.TerminalConfig) Config {
	enableCancel := true
	if stripeCfg.ProcessConfig.EnableCustomerCancellation != nil {
		enableCancel = *stripeCfg.ProcessConfig.EnableCustomerCancellation
	}
	return Config{
		TestMode:      stripeCfg.IsTestMode(),
		WebhookSecret: stripeCfg.WebhookSecret(),
		CaptureMethod: stripeCfg.CaptureMethod,
		ProcessDefaults: payment.ProcessConfig{
			EnableCustomerCancellation: enableCancel,
			SkipTipping:                stripeCfg.ProcessConfig.SkipTipping,
		},
		IntentSearchLimit: terminalCfg.IntentSearchLimit,
	}
}

// Reconciler is stateless per call and safe for concurrent use.
type Reconciler struct {
	cfg       Config
	processor processor.Client
	orders    orders.Store
	gateway   Gateway
	notifier  callbacks.Notifier
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithGateway replaces the default order completion gateway.
func WithGateway(g Gateway) Option {
	return func(r *Reconciler) { r.gateway = g }
}

// WithNotifier sets the merchant callback notifier.
func WithNotifier(n callbacks.Notifier) Option {
	return func(r *Reconciler) {
		if n != nil {
			r.notifier = n
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// WithLogger sets the fallback logger used when the context carries none.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// New builds a reconciler over the given processor client and order store.
func New(cfg Config, client processor.Client, store orders.Store, opts ...Option) *Reconciler {
	if cfg.CaptureMethod == "" {
		cfg.CaptureMethod = "automatic"
	}
	r := &Reconciler{
		cfg:       cfg,
		processor: client,
		orders:    store,
		notifier:  callbacks.NoopNotifier{},
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.gateway == nil {
		r.gateway = NewDefaultGateway(store, "")
	}
	return r
}

// Config returns the configuration the reconciler was built with.
func (r *Reconciler) Config() Config {
	return r.cfg
}

// Order loads an order, mapping store failures onto the error taxonomy.
func (r *Reconciler) Order(ctx context.Context, id string) (orders.Order, error) {
	order, err := r.orders.GetOrder(ctx, id)
	if errors.Is(err, orders.ErrNotFound) {
		return orders.Order{}, apierrors.Newf(apierrors.ErrCodeOrderNotFound, "Order %s not found", id)
	}
	if err != nil {
		return orders.Order{}, apierrors.Wrap(apierrors.ErrCodeDatabaseError, "Failed to load order", err)
	}
	return order, nil
}

// savePayment writes only the payment fields, so status and paid time written
// concurrently by a completion are kept. It returns the order as stored.
func (r *Reconciler) savePayment(ctx context.Context, orderID string, update orders.PaymentUpdate) (orders.Order, bool, error) {
	order, applied, err := r.orders.SavePayment(ctx, orderID, update)
	if errors.Is(err, orders.ErrNotFound) {
		return orders.Order{}, false, apierrors.Newf(apierrors.ErrCodeOrderNotFound, "Order %s not found", orderID)
	}
	if err != nil {
		return orders.Order{}, false, apierrors.Wrap(apierrors.ErrCodeDatabaseError, "Failed to save order", err)
	}
	return order, applied, nil
}

// addNote appends an audit note. Failures are logged, never returned.
func (r *Reconciler) addNote(ctx context.Context, orderID, message string) {
	if err := r.orders.AddNote(ctx, orderID, orders.NewNote(message)); err != nil {
		r.log(ctx).Warn().Err(err).Str("order_id", orderID).Msg("reconciler.note_failed")
	}
}

func (r *Reconciler) log(ctx context.Context) *zerolog.Logger {
	l := logger.FromContextOr(ctx, r.logger)
	return &l
}

func isNotFound(err error) bool {
	return apierrors.CodeOf(err).Kind() == apierrors.KindNotFound
}

// paidLocally reports whether the order or its cached payment record already shows success.
func paidLocally(order orders.Order) bool {
	return order.IsPaid() || order.Payment.Succeeded()
}

// ensureOwnership rejects intents created for a different order.
func ensureOwnership(pi payment.PaymentIntent, order orders.Order) error {
	if owner := pi.OrderID(); owner != "" && owner != order.ID {
		return apierrors.New(apierrors.ErrCodeUnauthorizedOrder, "Payment intent does not belong to this order")
	}
	return nil
}
