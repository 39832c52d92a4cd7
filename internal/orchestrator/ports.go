package orchestrator

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/CedrosPay/terminal/internal/payment"
	"github.com/CedrosPay/terminal/internal/reconciler"
)

// OrderRef identifies an order and carries the key that authorizes access to it.
type OrderRef struct {
	ID  string
	Key string
}

// PaymentRequest starts a reader payment for an order.
type PaymentRequest struct {
	OrderID  string
	OrderKey string
	Amount   decimal.Decimal
}

// CreateIntentResult is the server's answer to create-payment-intent.
type CreateIntentResult struct {
	PaymentIntent payment.PaymentIntent `json:"payment_intent"`
	Reader        payment.Reader        `json:"reader"`
}

// API is the server surface the orchestrator drives.
type API interface {
	ValidateService(ctx context.Context) (reconciler.ServiceStatus, error)
	ListReaders(ctx context.Context) ([]payment.Reader, error)
	CreatePaymentIntent(ctx context.Context, order OrderRef, readerID string, amount decimal.Decimal) (CreateIntentResult, error)
	RetryPayment(ctx context.Context, order OrderRef, readerID string) (reconciler.RetryResult, error)
	ConfirmPayment(ctx context.Context, order OrderRef, intentID string) (payment.PaymentIntent, error)
	CancelPayment(ctx context.Context, order OrderRef, intentID, readerID string) (payment.PaymentIntent, error)
	CheckPaymentStatus(ctx context.Context, order OrderRef) (reconciler.StatusSnapshot, error)
	CheckStripeStatus(ctx context.Context, order OrderRef) (reconciler.ReconciliationResult, error)
	SimulatePayment(ctx context.Context, readerID string) (payment.Reader, error)
}

// Layer names the part of the system an error came from.
type Layer string

const (
	LayerService Layer = "service"
	LayerReaders Layer = "readers"
	LayerPayment Layer = "payment"
)

// Actions is the set of user actions currently offered.
type Actions struct {
	Pay    bool
	Retry  bool
	Cancel bool
}

// BannerKind styles the message shown to the operator.
type BannerKind string

const (
	BannerInfo    BannerKind = "info"
	BannerSuccess BannerKind = "success"
	BannerError   BannerKind = "error"
)

// View renders the session. Calls arrive from operations and from the poll goroutine,
// never concurrently with each other.
type View interface {
	SetLoading(loading bool)
	ShowError(layer Layer, message string)
	ShowReaders(readers []payment.Reader, connectedID string)
	SetActions(actions Actions)
	ShowBanner(kind BannerKind, message string)
	SetStatus(state State, message string)
}

// ReaderMemory remembers the last connected reader between sessions.
type ReaderMemory interface {
	Load() (string, error)
	Save(readerID string) error
	Clear() error
}

// Outcome is what the finalizer knows about a successful payment.
type Outcome struct {
	Order           OrderRef
	PaymentIntentID string
	TransactionID   string
	ReturnURL       string
}

// Finalizer is one way of completing the order after payment. Finalizers are tried in order;
// the first one that reports handled stops the chain.
type Finalizer interface {
	Name() string
	Finalize(ctx context.Context, outcome Outcome) (handled bool, err error)
}

// FinalizerFunc adapts a function to Finalizer.
type FinalizerFunc struct {
	StepName string
	Fn       func(ctx context.Context, outcome Outcome) (bool, error)
}

func (f FinalizerFunc) Name() string { return f.StepName }

func (f FinalizerFunc) Finalize(ctx context.Context, outcome Outcome) (bool, error) {
	return f.Fn(ctx, outcome)
}

// Navigator sends the operator to the order's return page.
type Navigator interface {
	Navigate(url string) error
}

type noopView struct{}

func (noopView) SetLoading(bool)                      {}
func (noopView) ShowError(Layer, string)              {}
func (noopView) ShowReaders([]payment.Reader, string) {}
func (noopView) SetActions(Actions)                   {}
func (noopView) ShowBanner(BannerKind, string)        {}
func (noopView) SetStatus(State, string)              {}

type noopNavigator struct{}

func (noopNavigator) Navigate(string) error { return nil }
