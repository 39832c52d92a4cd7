// Package terminalclient is the HTTP client for the terminal server's /terminal/v1 API.
// It implements orchestrator.API.
package terminalclient

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/CedrosPay/terminal/internal/apikey"
	"github.com/CedrosPay/terminal/internal/callbacks"
	apierrors "github.com/CedrosPay/terminal/internal/errors"
	"github.com/CedrosPay/terminal/internal/orchestrator"
	"github.com/CedrosPay/terminal/internal/payment"
	"github.com/CedrosPay/terminal/internal/reconciler"
)

// Config points the client at a server.
type Config struct {
	ServerURL   string
	RoutePrefix string
	APIKey      string
	Timeout     time.Duration
}

// Client talks to one terminal server.
type Client struct {
	http *resty.Client
}

var _ orchestrator.API = (*Client)(nil)

// New creates a client. Retries are left to the orchestrator, which knows which calls are safe to repeat.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	base := strings.TrimRight(cfg.ServerURL, "/") + cfg.RoutePrefix + "/terminal/v1"

	c := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		c.SetHeader(apikey.Header, cfg.APIKey)
	}
	return &Client{http: c}
}

type orderBody struct {
	OrderID  string `json:"order_id"`
	OrderKey string `json:"order_key"`
}

func bodyFor(order orchestrator.OrderRef) orderBody {
	return orderBody{OrderID: order.ID, OrderKey: order.Key}
}

// ValidateService checks the server's processor account.
func (c *Client) ValidateService(ctx context.Context) (reconciler.ServiceStatus, error) {
	var out reconciler.ServiceStatus
	err := c.do(ctx, http.MethodGet, "/validate-service", nil, &out)
	return out, err
}

// ListReaders returns the registered readers.
func (c *Client) ListReaders(ctx context.Context) ([]payment.Reader, error) {
	var out struct {
		Readers []payment.Reader `json:"readers"`
	}
	if err := c.do(ctx, http.MethodGet, "/list-readers", nil, &out); err != nil {
		return nil, err
	}
	return out.Readers, nil
}

// GetReader returns one reader.
func (c *Client) GetReader(ctx context.Context, readerID string) (payment.Reader, error) {
	var out payment.Reader
	err := c.do(ctx, http.MethodPost, "/get-reader-status", map[string]string{"reader_id": readerID}, &out)
	return out, err
}

// ConnectionToken issues a reader SDK connection token.
func (c *Client) ConnectionToken(ctx context.Context, location string) (string, error) {
	var out struct {
		Secret string `json:"secret"`
	}
	body := map[string]string{}
	if location != "" {
		body["location"] = location
	}
	if err := c.do(ctx, http.MethodPost, "/connection-token", body, &out); err != nil {
		return "", err
	}
	return out.Secret, nil
}

// CreatePaymentIntent creates an intent for the order and hands it to the reader.
func (c *Client) CreatePaymentIntent(ctx context.Context, order orchestrator.OrderRef, readerID string, amount decimal.Decimal) (orchestrator.CreateIntentResult, error) {
	body := struct {
		orderBody
		ReaderID string          `json:"reader_id"`
		Amount   decimal.Decimal `json:"amount"`
	}{bodyFor(order), readerID, amount}

	var out orchestrator.CreateIntentResult
	err := c.do(ctx, http.MethodPost, "/create-payment-intent", body, &out)
	return out, err
}

// RetryPayment hands the order's intent to the reader again.
func (c *Client) RetryPayment(ctx context.Context, order orchestrator.OrderRef, readerID string) (reconciler.RetryResult, error) {
	body := struct {
		orderBody
		ReaderID string `json:"reader_id"`
	}{bodyFor(order), readerID}

	var out reconciler.RetryResult
	err := c.do(ctx, http.MethodPost, "/retry-payment", body, &out)
	return out, err
}

type intentBody struct {
	orderBody
	PaymentIntentID string `json:"payment_intent_id"`
	ReaderID        string `json:"reader_id,omitempty"`
}

// ConfirmPayment verifies the intent succeeded and completes the order.
func (c *Client) ConfirmPayment(ctx context.Context, order orchestrator.OrderRef, intentID string) (payment.PaymentIntent, error) {
	var out payment.PaymentIntent
	err := c.do(ctx, http.MethodPost, "/confirm-payment", intentBody{orderBody: bodyFor(order), PaymentIntentID: intentID}, &out)
	return out, err
}

// CapturePayment captures a manually captured intent and completes the order.
func (c *Client) CapturePayment(ctx context.Context, order orchestrator.OrderRef, intentID string) (payment.PaymentIntent, error) {
	var out payment.PaymentIntent
	err := c.do(ctx, http.MethodPost, "/capture-payment", intentBody{orderBody: bodyFor(order), PaymentIntentID: intentID}, &out)
	return out, err
}

// CancelPayment cancels the intent and, when readerID is set, the reader's action.
func (c *Client) CancelPayment(ctx context.Context, order orchestrator.OrderRef, intentID, readerID string) (payment.PaymentIntent, error) {
	var out payment.PaymentIntent
	body := intentBody{orderBody: bodyFor(order), PaymentIntentID: intentID, ReaderID: readerID}
	err := c.do(ctx, http.MethodPost, "/cancel-payment", body, &out)
	return out, err
}

// CheckPaymentStatus reads the order's cached payment status.
func (c *Client) CheckPaymentStatus(ctx context.Context, order orchestrator.OrderRef) (reconciler.StatusSnapshot, error) {
	var out reconciler.StatusSnapshot
	err := c.do(ctx, http.MethodPost, "/check-payment-status", bodyFor(order), &out)
	return out, err
}

// CheckStripeStatus reconciles the order against the processor.
func (c *Client) CheckStripeStatus(ctx context.Context, order orchestrator.OrderRef) (reconciler.ReconciliationResult, error) {
	var out reconciler.ReconciliationResult
	err := c.do(ctx, http.MethodPost, "/check-stripe-status", bodyFor(order), &out)
	return out, err
}

// SimulatePayment presents a test card on the reader.
func (c *Client) SimulatePayment(ctx context.Context, readerID string) (payment.Reader, error) {
	var out payment.Reader
	err := c.do(ctx, http.MethodPost, "/simulate-payment", map[string]string{"reader_id": readerID}, &out)
	return out, err
}

// FailedCallbacks lists dead-lettered merchant callbacks, newest first.
func (c *Client) FailedCallbacks(ctx context.Context, limit int) ([]callbacks.FailedDelivery, error) {
	var out struct {
		Deliveries []callbacks.FailedDelivery `json:"deliveries"`
	}
	req := c.http.R().SetContext(ctx).SetResult(&out).SetError(&apierrors.ErrorResponse{})
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	resp, err := req.Get("/admin/failed-callbacks")
	if err := decodeError(ctx, resp, err); err != nil {
		return nil, err
	}
	return out.Deliveries, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req := c.http.R().
		SetContext(ctx).
		SetResult(out).
		SetError(&apierrors.ErrorResponse{})
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	resp, err := req.Execute(method, path)
	return decodeError(ctx, resp, err)
}

// decodeError turns a transport failure or an error envelope into an *apierrors.Error.
func decodeError(ctx context.Context, resp *resty.Response, err error) error {
	if err != nil {
		if ctxErr := context.Cause(ctx); ctxErr != nil {
			return ctxErr
		}
		return apierrors.Wrap(apierrors.ErrCodeProcessorConnectionFailed, "Unable to reach terminal server", err)
	}
	if !resp.IsError() {
		return nil
	}

	if env, ok := resp.Error().(*apierrors.ErrorResponse); ok {
		if apiErr := env.Err(); apiErr != nil {
			return apiErr
		}
	}
	return apierrors.Newf(apierrors.ErrCodeInternalError, "Terminal server returned status %d", resp.StatusCode()).
		WithDetail("status", resp.StatusCode())
}
