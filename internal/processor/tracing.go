package processor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	apierrors "github.com/CedrosPay/terminal/internal/errors"
	"github.com/CedrosPay/terminal/internal/logger"
	"github.com/CedrosPay/terminal/internal/metrics"
	"github.com/CedrosPay/terminal/internal/payment"
)

type tracingClient struct {
	next    Client
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// WithTracing logs every processor call with its duration and classified error code
// and records it in metrics. A nil metrics collector disables recording.
func WithTracing(next Client, log zerolog.Logger, m *metrics.Metrics) Client {
	return &tracingClient{next: next, log: log, metrics: m}
}

func (c *tracingClient) observe(ctx context.Context, op, target string, start time.Time, err error) {
	duration := time.Since(start)
	code := ""
	if err != nil {
		code = string(apierrors.CodeOf(err))
	}
	if c.metrics != nil {
		c.metrics.ObserveProcessorCall(op, duration, code)
	}

	log := logger.FromContextOr(ctx, c.log)
	var event *zerolog.Event
	if err != nil {
		event = log.Warn().Err(err).Str("error_code", code)
	} else {
		event = log.Debug()
	}
	if target != "" {
		event = event.Str("target", target)
	}
	event.Str("operation", op).
		Dur("duration", duration).
		Msg("processor.call")
}

func (c *tracingClient) CreatePaymentIntent(ctx context.Context, req payment.CreateIntentParams) (payment.PaymentIntent, error) {
	start := time.Now()
	pi, err := c.next.CreatePaymentIntent(ctx, req)
	c.observe(ctx, OpCreatePaymentIntent, req.Metadata[payment.MetadataOrderID], start, err)
	return pi, err
}

func (c *tracingClient) GetPaymentIntent(ctx context.Context, id string) (payment.PaymentIntent, error) {
	start := time.Now()
	pi, err := c.next.GetPaymentIntent(ctx, id)
	c.observe(ctx, OpGetPaymentIntent, id, start, err)
	return pi, err
}

func (c *tracingClient) CancelPaymentIntent(ctx context.Context, id string) (payment.PaymentIntent, error) {
	start := time.Now()
	pi, err := c.next.CancelPaymentIntent(ctx, id)
	c.observe(ctx, OpCancelPaymentIntent, id, start, err)
	return pi, err
}

func (c *tracingClient) CapturePaymentIntent(ctx context.Context, id string) (payment.PaymentIntent, error) {
	start := time.Now()
	pi, err := c.next.CapturePaymentIntent(ctx, id)
	c.observe(ctx, OpCapturePaymentIntent, id, start, err)
	return pi, err
}

func (c *tracingClient) ListPaymentIntents(ctx context.Context, limit int) ([]payment.PaymentIntent, error) {
	start := time.Now()
	out, err := c.next.ListPaymentIntents(ctx, limit)
	c.observe(ctx, OpListPaymentIntents, "", start, err)
	return out, err
}

func (c *tracingClient) GetCharge(ctx context.Context, id string) (payment.Charge, error) {
	start := time.Now()
	ch, err := c.next.GetCharge(ctx, id)
	c.observe(ctx, OpGetCharge, id, start, err)
	return ch, err
}

func (c *tracingClient) LatestCharge(ctx context.Context, intentID string) (payment.Charge, bool, error) {
	start := time.Now()
	ch, ok, err := c.next.LatestCharge(ctx, intentID)
	c.observe(ctx, OpLatestCharge, intentID, start, err)
	return ch, ok, err
}

func (c *tracingClient) AccountCountry(ctx context.Context) (string, error) {
	start := time.Now()
	country, err := c.next.AccountCountry(ctx)
	c.observe(ctx, OpAccountCountry, "", start, err)
	return country, err
}

func (c *tracingClient) CreateConnectionToken(ctx context.Context, location string) (string, error) {
	start := time.Now()
	secret, err := c.next.CreateConnectionToken(ctx, location)
	c.observe(ctx, OpCreateConnectionToken, location, start, err)
	return secret, err
}

func (c *tracingClient) ListReaders(ctx context.Context) ([]payment.Reader, error) {
	start := time.Now()
	out, err := c.next.ListReaders(ctx)
	c.observe(ctx, OpListReaders, "", start, err)
	return out, err
}

func (c *tracingClient) GetReader(ctx context.Context, readerID string) (payment.Reader, error) {
	start := time.Now()
	r, err := c.next.GetReader(ctx, readerID)
	c.observe(ctx, OpGetReader, readerID, start, err)
	return r, err
}

func (c *tracingClient) ProcessPaymentIntent(ctx context.Context, readerID, intentID string, cfg payment.ProcessConfig) (payment.Reader, error) {
	start := time.Now()
	r, err := c.next.ProcessPaymentIntent(ctx, readerID, intentID, cfg)
	c.observe(ctx, OpProcessPaymentIntent, readerID, start, err)
	if c.metrics != nil {
		c.metrics.ObserveReaderAction(OpProcessPaymentIntent, err)
	}
	return r, err
}

func (c *tracingClient) CancelReaderAction(ctx context.Context, readerID string) (payment.Reader, error) {
	start := time.Now()
	r, err := c.next.CancelReaderAction(ctx, readerID)
	c.observe(ctx, OpCancelReaderAction, readerID, start, err)
	if c.metrics != nil {
		c.metrics.ObserveReaderAction(OpCancelReaderAction, err)
	}
	return r, err
}

func (c *tracingClient) PresentPaymentMethod(ctx context.Context, readerID string) (payment.Reader, error) {
	start := time.Now()
	r, err := c.next.PresentPaymentMethod(ctx, readerID)
	c.observe(ctx, OpPresentPaymentMethod, readerID, start, err)
	if c.metrics != nil {
		c.metrics.ObserveReaderAction(OpPresentPaymentMethod, err)
	}
	return r, err
}

// ParseWebhook is local computation; only failures are logged.
func (c *tracingClient) ParseWebhook(payload []byte, signature, secret string) (payment.Event, error) {
	event, err := c.next.ParseWebhook(payload, signature, secret)
	if err != nil {
		c.log.Warn().Err(err).
			Str("operation", OpParseWebhook).
			Str("error_code", string(apierrors.CodeOf(err))).
			Msg("processor.call")
	}
	return event, err
}
