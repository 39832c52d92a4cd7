package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/CedrosPay/terminal/internal/config"
	"github.com/CedrosPay/terminal/internal/metrics"
)

// DefaultQueryTimeout bounds every database round trip that has no caller deadline.
const DefaultQueryTimeout = 5 * time.Second

// Store persists orders. Implementations validate the payment record on every save.
type Store interface {
	GetOrder(ctx context.Context, id string) (Order, error)
	// SaveOrder creates or replaces the order.
	SaveOrder(ctx context.Context, order Order) error
	// SavePayment writes the payment fields of a stored order and leaves the rest as
	// stored. It returns the order as stored after the call and whether the update was
	// applied. A missing order is ErrNotFound.
	SavePayment(ctx context.Context, orderID string, update PaymentUpdate) (Order, bool, error)
	// AddNote appends an audit note without touching other fields.
	AddNote(ctx context.Context, orderID string, note Note) error
	Close() error
}

// PaymentUpdate is a write of the payment fields of an order.
type PaymentUpdate struct {
	Record PaymentRecord
	// TransactionID and Captured are written together, and only when TransactionID is set.
	TransactionID string
	Captured      bool
	// MarkFailed also moves the order to StatusFailed.
	MarkFailed bool
	// IfUnpaid skips the update when the stored order is already paid or its
	// payment record already succeeded.
	IfUnpaid bool
}

// apply writes u into order. It reports false when IfUnpaid holds back the write.
func (u PaymentUpdate) apply(order *Order) bool {
	if u.IfUnpaid && (order.IsPaid() || order.Payment.Succeeded()) {
		return false
	}
	order.Payment = u.Record
	if u.TransactionID != "" {
		order.TransactionID = u.TransactionID
		order.Captured = u.Captured
	}
	if u.MarkFailed {
		order.Status = StatusFailed
	}
	order.UpdatedAt = time.Now().UTC()
	return true
}

// Open builds the store selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StorageConfig, m *metrics.Metrics) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "postgres":
		return NewPostgresStore(ctx, cfg.PostgresURL, cfg.OrdersTable, cfg.PostgresPool, m)
	case "mongodb":
		return NewMongoDBStore(ctx, cfg.MongoDBURL, cfg.MongoDBDatabase, cfg.OrdersTable, m)
	default:
		return nil, fmt.Errorf("orders: unknown storage backend %q", cfg.Backend)
	}
}

// withQueryTimeout applies DefaultQueryTimeout unless ctx already carries a deadline.
func withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultQueryTimeout)
}

func prepareForSave(order *Order) error {
	if err := order.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	return nil
}
