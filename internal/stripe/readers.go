package stripe

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	stripeapi "github.com/stripe/stripe-go/v72"

	apierrors "github.com/CedrosPay/terminal/internal/errors"
	"github.com/CedrosPay/terminal/internal/payment"
)

// Terminal reader endpoints are called through the raw backend so that
// server-driven actions and last_seen_at decode regardless of the typed
// bindings shipped with this stripe-go major version.

type readerResource struct {
	stripeapi.APIResource
	ID           string          `json:"id"`
	Label        string          `json:"label"`
	DeviceType   string          `json:"device_type"`
	Status       string          `json:"status"`
	SerialNumber string          `json:"serial_number"`
	Location     string          `json:"location"`
	LastSeenAt   int64           `json:"last_seen_at"`
	Action       *readerActionV1 `json:"action"`
}

type readerActionV1 struct {
	Type                 string `json:"type"`
	Status               string `json:"status"`
	FailureCode          string `json:"failure_code"`
	FailureMessage       string `json:"failure_message"`
	ProcessPaymentIntent *struct {
		PaymentIntent string `json:"payment_intent"`
	} `json:"process_payment_intent"`
}

type readerList struct {
	stripeapi.APIResource
	Data    []*readerResource `json:"data"`
	HasMore bool              `json:"has_more"`
}

const readerPageSize = 100

// ListReaders returns every registered reader.
func (c *Client) ListReaders(ctx context.Context) ([]payment.Reader, error) {
	var out []payment.Reader
	startingAfter := ""
	for {
		params := &stripeapi.Params{Context: ctx}
		params.AddExtra("limit", strconv.Itoa(readerPageSize))
		if startingAfter != "" {
			params.AddExtra("starting_after", startingAfter)
		}

		list := &readerList{}
		if err := c.backend.Call(http.MethodGet, "/v1/terminal/readers", c.key, params, list); err != nil {
			return nil, Classify(fmt.Errorf("stripe: list readers: %w", err))
		}
		for _, r := range list.Data {
			out = append(out, convertReader(r))
		}
		if !list.HasMore || len(list.Data) == 0 {
			return out, nil
		}
		startingAfter = list.Data[len(list.Data)-1].ID
	}
}

// GetReader retrieves one reader with its current action.
func (c *Client) GetReader(ctx context.Context, readerID string) (payment.Reader, error) {
	r := &readerResource{}
	path := "/v1/terminal/readers/" + readerID
	if err := c.backend.Call(http.MethodGet, path, c.key, &stripeapi.Params{Context: ctx}, r); err != nil {
		return payment.Reader{}, classifyResource(fmt.Errorf("stripe: get reader %s: %w", readerID, err), apierrors.ErrCodeReaderNotFound)
	}
	return convertReader(r), nil
}

// ProcessPaymentIntent hands an intent to a reader for card presentment.
func (c *Client) ProcessPaymentIntent(ctx context.Context, readerID, intentID string, cfg payment.ProcessConfig) (payment.Reader, error) {
	params := &stripeapi.Params{Context: ctx}
	params.AddExtra("payment_intent", intentID)
	params.AddExtra("process_config[enable_customer_cancellation]", strconv.FormatBool(cfg.EnableCustomerCancellation))
	if cfg.SkipTipping {
		params.AddExtra("process_config[skip_tipping]", "true")
	}

	r := &readerResource{}
	path := "/v1/terminal/readers/" + readerID + "/process_payment_intent"
	if err := c.backend.Call(http.MethodPost, path, c.key, params, r); err != nil {
		return payment.Reader{}, classifyResource(fmt.Errorf("stripe: process payment intent on %s: %w", readerID, err), apierrors.ErrCodeReaderNotFound)
	}
	return convertReader(r), nil
}

// CancelReaderAction cancels whatever the reader is currently doing.
func (c *Client) CancelReaderAction(ctx context.Context, readerID string) (payment.Reader, error) {
	r := &readerResource{}
	path := "/v1/terminal/readers/" + readerID + "/cancel_action"
	if err := c.backend.Call(http.MethodPost, path, c.key, &stripeapi.Params{Context: ctx}, r); err != nil {
		return payment.Reader{}, classifyResource(fmt.Errorf("stripe: cancel reader action on %s: %w", readerID, err), apierrors.ErrCodeReaderNotFound)
	}
	return convertReader(r), nil
}

// PresentPaymentMethod simulates a card tap on a simulated reader. Test mode only.
func (c *Client) PresentPaymentMethod(ctx context.Context, readerID string) (payment.Reader, error) {
	r := &readerResource{}
	path := "/v1/test_helpers/terminal/readers/" + readerID + "/present_payment_method"
	if err := c.backend.Call(http.MethodPost, path, c.key, &stripeapi.Params{Context: ctx}, r); err != nil {
		return payment.Reader{}, classifyResource(fmt.Errorf("stripe: present payment method on %s: %w", readerID, err), apierrors.ErrCodeReaderNotFound)
	}
	return convertReader(r), nil
}

func convertReader(r *readerResource) payment.Reader {
	if r == nil {
		return payment.Reader{}
	}
	out := payment.Reader{
		ID:           r.ID,
		Label:        r.Label,
		DeviceType:   r.DeviceType,
		Status:       payment.ReaderStatus(r.Status),
		SerialNumber: r.SerialNumber,
		Location:     r.Location,
		LastSeenAt:   unixMillis(r.LastSeenAt),
	}
	if out.Status == "" {
		out.Status = payment.ReaderOffline
	}
	if r.Action != nil {
		out.Action = &payment.ReaderAction{
			Type:           r.Action.Type,
			Status:         r.Action.Status,
			FailureCode:    r.Action.FailureCode,
			FailureMessage: r.Action.FailureMessage,
		}
		if r.Action.ProcessPaymentIntent != nil {
			out.Action.PaymentIntentID = r.Action.ProcessPaymentIntent.PaymentIntent
		}
	}
	return out
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// last_seen_at is reported in milliseconds.
func unixMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
