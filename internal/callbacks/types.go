// Package callbacks notifies the merchant's systems when a terminal payment is reconciled.
package callbacks

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types delivered to merchant callback URLs.
const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
)

// Notifier delivers payment outcomes to merchant callbacks.
type Notifier interface {
	PaymentSucceeded(ctx context.Context, event PaymentEvent)
	PaymentFailed(ctx context.Context, event PaymentEvent)
}

// NoopNotifier ignores all events.
type NoopNotifier struct{}

func (NoopNotifier) PaymentSucceeded(context.Context, PaymentEvent) {}
func (NoopNotifier) PaymentFailed(context.Context, PaymentEvent)    {}

// PaymentEvent describes a reconciled terminal payment.
// EventID is the idempotency key: it is generated once and reused across retries.
type PaymentEvent struct {
	EventID        string    `json:"eventId"`
	EventType      string    `json:"eventType"`
	EventTimestamp time.Time `json:"eventTimestamp"`

	OrderID         string `json:"orderId"`
	PaymentIntentID string `json:"paymentIntentId"`
	ChargeID        string `json:"chargeId,omitempty"`
	Amount          string `json:"amount,omitempty"`
	AmountUnits     int64  `json:"amountUnits,omitempty"`
	Currency        string `json:"currency,omitempty"`
	CardBrand       string `json:"cardBrand,omitempty"`
	// Source names the path that observed the outcome: webhook, status_check or confirm.
	Source         string `json:"source"`
	FailureCode    string `json:"failureCode,omitempty"`
	FailureMessage string `json:"failureMessage,omitempty"`
}

// PrepareEvent fills the idempotency fields that are still empty.
func PrepareEvent(event *PaymentEvent, eventType string) {
	if event.EventID == "" {
		event.EventID = "evt_" + uuid.NewString()
	}
	if event.EventType == "" {
		event.EventType = eventType
	}
	if event.EventTimestamp.IsZero() {
		event.EventTimestamp = time.Now().UTC()
	}
}
