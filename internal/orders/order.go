// Package orders holds the shop order entity the terminal bridge reconciles against
// and the stores that persist it.
package orders

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when an order is missing from the store.
var ErrNotFound = errors.New("orders: not found")

// ErrInvalidRecord is returned when a payment record violates its invariants.
var ErrInvalidRecord = errors.New("orders: invalid payment record")

// Status is the shop-side order status.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusOnHold     Status = "on-hold"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Valid reports whether s is a known order status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusOnHold, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Order is the subset of a shop order the bridge reads and writes.
type Order struct {
	ID            string          `json:"id"`
	Key           string          `json:"-"`
	Total         decimal.Decimal `json:"total"`
	Currency      string          `json:"currency"`
	Status        Status          `json:"status"`
	TransactionID string          `json:"transaction_id,omitempty"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	Captured      bool            `json:"captured"`
	Payment       PaymentRecord   `json:"payment"`
	Notes         []Note          `json:"notes,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// NeedsPayment reports whether the order still awaits payment.
func (o Order) NeedsPayment() bool {
	return (o.Status == StatusPending || o.Status == StatusFailed) && o.PaidAt == nil
}

// IsPaid reports whether the shop considers the order paid.
func (o Order) IsPaid() bool {
	return o.PaidAt != nil || o.Status == StatusProcessing || o.Status == StatusCompleted
}

// KeyMatches compares key to the order key in constant time. An empty key never matches.
func (o Order) KeyMatches(key string) bool {
	if key == "" || o.Key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(o.Key), []byte(key)) == 1
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (o Order) Clone() Order {
	out := o
	if o.PaidAt != nil {
		paid := *o.PaidAt
		out.PaidAt = &paid
	}
	if o.Notes != nil {
		out.Notes = append([]Note(nil), o.Notes...)
	}
	return out
}

// Validate checks the fields every store requires.
func (o Order) Validate() error {
	if strings.TrimSpace(o.ID) == "" {
		return fmt.Errorf("orders: id is required")
	}
	if !o.Status.Valid() {
		return fmt.Errorf("orders: unknown status %q", o.Status)
	}
	return o.Payment.Validate()
}

// Note is an audit entry attached to an order.
type Note struct {
	ID        string    `json:"id" bson:"id"`
	Message   string    `json:"message" bson:"message"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// NewNote builds a note stamped with a fresh id and the current time.
func NewNote(message string) Note {
	return Note{
		ID:        uuid.NewString(),
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
}
