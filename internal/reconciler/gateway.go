package reconciler

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/CedrosPay/terminal/internal/orders"
)

// Gateway owns order completion and the post-payment redirect.
type Gateway interface {
	// ReturnURL is where the customer lands once the order is paid.
	ReturnURL(order orders.Order) string
	// CompletePayment marks the order paid with transactionID.
	CompletePayment(ctx context.Context, order orders.Order, transactionID string) (orders.Order, error)
}

// DefaultGateway completes orders directly in the order store.
type DefaultGateway struct {
	store     orders.Store
	publicURL string
}

// NewDefaultGateway returns a gateway building return URLs under publicURL.
func NewDefaultGateway(store orders.Store, publicURL string) *DefaultGateway {
	return &DefaultGateway{store: store, publicURL: strings.TrimSuffix(publicURL, "/")}
}

func (g *DefaultGateway) ReturnURL(order orders.Order) string {
	path := fmt.Sprintf("/checkout/order-received/%s/?key=%s", url.PathEscape(order.ID), url.QueryEscape(order.Key))
	return g.publicURL + path
}

func (g *DefaultGateway) CompletePayment(ctx context.Context, order orders.Order, transactionID string) (orders.Order, error) {
	if order.PaidAt != nil {
		return order, nil
	}
	now := time.Now().UTC()
	order.PaidAt = &now
	order.Status = orders.StatusProcessing
	order.TransactionID = transactionID
	order.PaymentMethod = PaymentMethodID
	if err := g.store.SaveOrder(ctx, order); err != nil {
		return orders.Order{}, fmt.Errorf("complete order %s: %w", order.ID, err)
	}
	// Audit notes are best effort once the order is saved.
	_ = g.store.AddNote(ctx, order.ID, orders.NewNote("Payment completed via card reader. Transaction ID: "+transactionID))
	return order, nil
}
