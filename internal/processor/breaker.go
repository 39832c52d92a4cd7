package processor

import (
	"context"
	"errors"

	"github.com/CedrosPay/terminal/internal/circuitbreaker"
	apierrors "github.com/CedrosPay/terminal/internal/errors"
	"github.com/CedrosPay/terminal/internal/payment"
)

type breakerClient struct {
	next    Client
	manager *circuitbreaker.Manager
}

// WithCircuitBreaker runs every network call through the processor breaker.
// Webhook parsing is local and bypasses it.
func WithCircuitBreaker(next Client, manager *circuitbreaker.Manager) Client {
	return &breakerClient{next: next, manager: manager}
}

// IsBreakerSuccess reports whether err should count as a success for breaker accounting.
// Only retryable processor failures trip the breaker; declines and not-found answers do not.
func IsBreakerSuccess(err error) bool {
	return err == nil || !apierrors.CodeOf(err).IsRetryable()
}

func execute[T any](m *circuitbreaker.Manager, fn func() (T, error)) (T, error) {
	out, err := circuitbreaker.Call(m, circuitbreaker.ServiceStripe, fn)
	switch {
	case err == nil:
		return out, nil
	case errors.Is(err, circuitbreaker.ErrOpen):
		var zero T
		return zero, apierrors.Wrap(apierrors.ErrCodeProcessorUnavailable, "Payment processor temporarily unavailable", err)
	default:
		var zero T
		return zero, err
	}
}

func (c *breakerClient) CreatePaymentIntent(ctx context.Context, req payment.CreateIntentParams) (payment.PaymentIntent, error) {
	return execute(c.manager, func() (payment.PaymentIntent, error) { return c.next.CreatePaymentIntent(ctx, req) })
}

func (c *breakerClient) GetPaymentIntent(ctx context.Context, id string) (payment.PaymentIntent, error) {
	return execute(c.manager, func() (payment.PaymentIntent, error) { return c.next.GetPaymentIntent(ctx, id) })
}

func (c *breakerClient) CancelPaymentIntent(ctx context.Context, id string) (payment.PaymentIntent, error) {
	return execute(c.manager, func() (payment.PaymentIntent, error) { return c.next.CancelPaymentIntent(ctx, id) })
}

func (c *breakerClient) CapturePaymentIntent(ctx context.Context, id string) (payment.PaymentIntent, error) {
	return execute(c.manager, func() (payment.PaymentIntent, error) { return c.next.CapturePaymentIntent(ctx, id) })
}

func (c *breakerClient) ListPaymentIntents(ctx context.Context, limit int) ([]payment.PaymentIntent, error) {
	return execute(c.manager, func() ([]payment.PaymentIntent, error) { return c.next.ListPaymentIntents(ctx, limit) })
}

func (c *breakerClient) GetCharge(ctx context.Context, id string) (payment.Charge, error) {
	return execute(c.manager, func() (payment.Charge, error) { return c.next.GetCharge(ctx, id) })
}

type latestCharge struct {
	charge payment.Charge
	found  bool
}

func (c *breakerClient) LatestCharge(ctx context.Context, intentID string) (payment.Charge, bool, error) {
	res, err := execute(c.manager, func() (latestCharge, error) {
		ch, ok, err := c.next.LatestCharge(ctx, intentID)
		return latestCharge{charge: ch, found: ok}, err
	})
	return res.charge, res.found, err
}

func (c *breakerClient) AccountCountry(ctx context.Context) (string, error) {
	return execute(c.manager, func() (string, error) { return c.next.AccountCountry(ctx) })
}

func (c *breakerClient) CreateConnectionToken(ctx context.Context, location string) (string, error) {
	return execute(c.manager, func() (string, error) { return c.next.CreateConnectionToken(ctx, location) })
}

func (c *breakerClient) ListReaders(ctx context.Context) ([]payment.Reader, error) {
	return execute(c.manager, func() ([]payment.Reader, error) { return c.next.ListReaders(ctx) })
}

func (c *breakerClient) GetReader(ctx context.Context, readerID string) (payment.Reader, error) {
	return execute(c.manager, func() (payment.Reader, error) { return c.next.GetReader(ctx, readerID) })
}

func (c *breakerClient) ProcessPaymentIntent(ctx context.Context, readerID, intentID string, cfg payment.ProcessConfig) (payment.Reader, error) {
	return execute(c.manager, func() (payment.Reader, error) {
		return c.next.ProcessPaymentIntent(ctx, readerID, intentID, cfg)
	})
}

func (c *breakerClient) CancelReaderAction(ctx context.Context, readerID string) (payment.Reader, error) {
	return execute(c.manager, func() (payment.Reader, error) { return c.next.CancelReaderAction(ctx, readerID) })
}

func (c *breakerClient) PresentPaymentMethod(ctx context.Context, readerID string) (payment.Reader, error) {
	return execute(c.manager, func() (payment.Reader, error) { return c.next.PresentPaymentMethod(ctx, readerID) })
}

func (c *breakerClient) ParseWebhook(payload []byte, signature, secret string) (payment.Event, error) {
	return c.next.ParseWebhook(payload, signature, secret)
}
