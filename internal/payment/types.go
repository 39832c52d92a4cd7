// Package payment holds processor-neutral views of payment intents, charges and card readers.
package payment

import "time"

// IntentStatus mirrors the processor's payment intent lifecycle.
type IntentStatus string

const (
	StatusRequiresPaymentMethod IntentStatus = "requires_payment_method"
	StatusRequiresConfirmation  IntentStatus = "requires_confirmation"
	StatusRequiresAction        IntentStatus = "requires_action"
	StatusProcessing            IntentStatus = "processing"
	StatusRequiresCapture       IntentStatus = "requires_capture"
	StatusSucceeded             IntentStatus = "succeeded"
	StatusCanceled              IntentStatus = "canceled"
)

// Cancelable reports whether the intent can still be canceled without
// interfering with a payment already in flight.
func (s IntentStatus) Cancelable() bool {
	return s == StatusRequiresPaymentMethod || s == StatusRequiresConfirmation
}

// Processable reports whether the intent can be handed to a reader again.
func (s IntentStatus) Processable() bool {
	return s.Cancelable()
}

// PaymentIntent is one attempt to collect a specific amount for an order.
type PaymentIntent struct {
	ID                 string            `json:"id"`
	Amount             int64             `json:"amount"`
	Currency           string            `json:"currency"`
	Status             IntentStatus      `json:"status"`
	CaptureMethod      string            `json:"capture_method,omitempty"`
	PaymentMethodTypes []string          `json:"payment_method_types,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	LastPaymentError   *PaymentError     `json:"last_payment_error,omitempty"`
	Charges            []Charge          `json:"charges,omitempty"`
	Created            time.Time         `json:"created"`
}

// OrderID returns the order back-reference stored in metadata.
func (pi PaymentIntent) OrderID() string {
	return pi.Metadata[MetadataOrderID]
}

// LatestCharge returns the first charge, which the processor lists most recent first.
func (pi PaymentIntent) LatestCharge() (Charge, bool) {
	if len(pi.Charges) == 0 {
		return Charge{}, false
	}
	return pi.Charges[0], true
}

// Declined reports whether the last attempt was declined and the intent awaits a new card.
func (pi PaymentIntent) Declined() bool {
	return pi.Status == StatusRequiresPaymentMethod && pi.LastPaymentError != nil
}

// PaymentError is the processor's description of the last failed attempt.
type PaymentError struct {
	Code        string `json:"code,omitempty"`
	DeclineCode string `json:"decline_code,omitempty"`
	Message     string `json:"message"`
	// ChargeID is the failed charge. Every card presentment produces a new one.
	ChargeID        string `json:"charge,omitempty"`
	PaymentMethodID string `json:"payment_method,omitempty"`
}

// SameAttempt reports whether e and other describe the same failed charge. Errors
// without a charge id cannot be told apart and never match.
func (e *PaymentError) SameAttempt(other *PaymentError) bool {
	if e == nil || other == nil || e.ChargeID == "" || other.ChargeID == "" {
		return false
	}
	return e.ChargeID == other.ChargeID
}

// Charge is a completed or attempted capture tied to a payment intent.
type Charge struct {
	ID                string `json:"id"`
	Amount            int64  `json:"amount"`
	Currency          string `json:"currency"`
	Paid              bool   `json:"paid"`
	Captured          bool   `json:"captured"`
	Status            string `json:"status"`
	PaymentIntentID   string `json:"payment_intent,omitempty"`
	PaymentMethodType string `json:"payment_method_type,omitempty"`
	CardBrand         string `json:"card_brand,omitempty"`
	Last4             string `json:"last4,omitempty"`
}

// ReaderStatus is the network state reported for a reader.
type ReaderStatus string

const (
	ReaderOnline  ReaderStatus = "online"
	ReaderOffline ReaderStatus = "offline"
)

// Reader is a card-present terminal registered with the processor.
type Reader struct {
	ID           string        `json:"id"`
	Label        string        `json:"label"`
	DeviceType   string        `json:"device_type"`
	Status       ReaderStatus  `json:"status"`
	SerialNumber string        `json:"serial_number,omitempty"`
	Location     string        `json:"location,omitempty"`
	LastSeenAt   time.Time     `json:"last_seen_at,omitempty"`
	Action       *ReaderAction `json:"action,omitempty"`
}

// Online reports whether the reader can accept a payment.
func (r Reader) Online() bool {
	return r.Status == ReaderOnline
}

// ReaderAction is the work a reader is currently performing.
type ReaderAction struct {
	Type            string `json:"type"`
	Status          string `json:"status"`
	FailureCode     string `json:"failure_code,omitempty"`
	FailureMessage  string `json:"failure_message,omitempty"`
	PaymentIntentID string `json:"payment_intent,omitempty"`
}

// InProgressFor reports whether the action is still processing the given intent.
func (a *ReaderAction) InProgressFor(intentID string) bool {
	return a != nil && a.Status == "in_progress" && a.PaymentIntentID == intentID
}

// ProcessConfig controls how a reader collects the payment.
type ProcessConfig struct {
	EnableCustomerCancellation bool `json:"enable_customer_cancellation"`
	SkipTipping                bool `json:"skip_tipping"`
}

// Event is a verified processor webhook event.
type Event struct {
	ID      string
	Type    string
	Created time.Time
	// Exactly one of Intent or Charge is set for the event types handled here.
	Intent *PaymentIntent
	Charge *Charge
}

// Well-known webhook event types.
const (
	EventPaymentIntentSucceeded     = "payment_intent.succeeded"
	EventPaymentIntentPaymentFailed = "payment_intent.payment_failed"
	EventPaymentIntentCanceled      = "payment_intent.canceled"
	EventChargeSucceeded            = "charge.succeeded"
)

// Metadata keys written on every intent created for an order.
const (
	MetadataOrderID = "order_id"
	MetadataSource  = "source"
	SourceTerminal  = "terminal"
)

// CreateIntentParams describes a new card-present payment intent.
type CreateIntentParams struct {
	Amount             int64
	Currency           string
	PaymentMethodTypes []string
	CaptureMethod      string
	Description        string
	Metadata           map[string]string
	IdempotencyKey     string
}
