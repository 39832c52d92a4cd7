// Package processor defines the payment processor surface used by the reconciler
// and the decorators layered over it.
package processor

import (
	"context"

	"github.com/CedrosPay/terminal/internal/payment"
)

// Client is the processor surface the reconciler depends on.
// *stripe.Client implements it; decorators in this package wrap it.
type Client interface {
	CreatePaymentIntent(ctx context.Context, req payment.CreateIntentParams) (payment.PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, id string) (payment.PaymentIntent, error)
	CancelPaymentIntent(ctx context.Context, id string) (payment.PaymentIntent, error)
	CapturePaymentIntent(ctx context.Context, id string) (payment.PaymentIntent, error)
	ListPaymentIntents(ctx context.Context, limit int) ([]payment.PaymentIntent, error)

	GetCharge(ctx context.Context, id string) (payment.Charge, error)
	LatestCharge(ctx context.Context, intentID string) (payment.Charge, bool, error)

	AccountCountry(ctx context.Context) (string, error)
	CreateConnectionToken(ctx context.Context, location string) (string, error)

	ListReaders(ctx context.Context) ([]payment.Reader, error)
	GetReader(ctx context.Context, readerID string) (payment.Reader, error)
	ProcessPaymentIntent(ctx context.Context, readerID, intentID string, cfg payment.ProcessConfig) (payment.Reader, error)
	CancelReaderAction(ctx context.Context, readerID string) (payment.Reader, error)
	PresentPaymentMethod(ctx context.Context, readerID string) (payment.Reader, error)

	ParseWebhook(payload []byte, signature, secret string) (payment.Event, error)
}

// Operation names used in logs and metrics.
const (
	OpCreatePaymentIntent   = "create_payment_intent"
	OpGetPaymentIntent      = "get_payment_intent"
	OpCancelPaymentIntent   = "cancel_payment_intent"
	OpCapturePaymentIntent  = "capture_payment_intent"
	OpListPaymentIntents    = "list_payment_intents"
	OpGetCharge             = "get_charge"
	OpLatestCharge          = "latest_charge"
	OpAccountCountry        = "account_country"
	OpCreateConnectionToken = "create_connection_token"
	OpListReaders           = "list_readers"
	OpGetReader             = "get_reader"
	OpProcessPaymentIntent  = "process_payment_intent"
	OpCancelReaderAction    = "cancel_reader_action"
	OpPresentPaymentMethod  = "present_payment_method"
	OpParseWebhook          = "parse_webhook"
)
