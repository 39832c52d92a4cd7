package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	stripeapi "github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/charge"
	"github.com/stripe/stripe-go/v72/paymentintent"
	"github.com/stripe/stripe-go/v72/terminal/connectiontoken"

	apierrors "github.com/CedrosPay/terminal/internal/errors"
	"github.com/CedrosPay/terminal/internal/config"
	"github.com/CedrosPay/terminal/internal/payment"
)

// Client wraps the stripe-go operations used by the terminal bridge.
// Every returned error is already classified into an *apierrors.Error.
type Client struct {
	cfg     config.StripeConfig
	key     string
	backend stripeapi.Backend
}

// NewClient sets up stripe-go with the provided credentials.
func NewClient(cfg config.StripeConfig) *Client {
	stripeapi.Key = cfg.SecretKey
	if cfg.BackendURL != "" {
		stripeapi.SetBackend(stripeapi.APIBackend, stripeapi.GetBackendWithConfig(stripeapi.APIBackend, &stripeapi.BackendConfig{
			URL: stripeapi.String(cfg.BackendURL),
		}))
	}
	return &Client{
		cfg:     cfg,
		key:     cfg.SecretKey,
		backend: stripeapi.GetBackend(stripeapi.APIBackend),
	}
}

// CreatePaymentIntent creates a card-present intent.
func (c *Client) CreatePaymentIntent(ctx context.Context, req payment.CreateIntentParams) (payment.PaymentIntent, error) {
	params := &stripeapi.PaymentIntentParams{
		Amount:             stripeapi.Int64(req.Amount),
		Currency:           stripeapi.String(req.Currency),
		PaymentMethodTypes: stripeapi.StringSlice(req.PaymentMethodTypes),
	}
	params.Context = ctx
	if req.CaptureMethod != "" {
		params.CaptureMethod = stripeapi.String(req.CaptureMethod)
	}
	if req.Description != "" {
		params.Description = stripeapi.String(req.Description)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return payment.PaymentIntent{}, Classify(fmt.Errorf("stripe: create payment intent: %w", err))
	}
	return convertIntent(pi), nil
}

// GetPaymentIntent retrieves an intent by id.
func (c *Client) GetPaymentIntent(ctx context.Context, id string) (payment.PaymentIntent, error) {
	params := &stripeapi.PaymentIntentParams{}
	params.Context = ctx
	pi, err := paymentintent.Get(id, params)
	if err != nil {
		return payment.PaymentIntent{}, classifyResource(fmt.Errorf("stripe: get payment intent %s: %w", id, err), apierrors.ErrCodePaymentIntentNotFound)
	}
	return convertIntent(pi), nil
}

// CancelPaymentIntent cancels an intent.
func (c *Client) CancelPaymentIntent(ctx context.Context, id string) (payment.PaymentIntent, error) {
	params := &stripeapi.PaymentIntentCancelParams{}
	params.Context = ctx
	pi, err := paymentintent.Cancel(id, params)
	if err != nil {
		return payment.PaymentIntent{}, classifyResource(fmt.Errorf("stripe: cancel payment intent %s: %w", id, err), apierrors.ErrCodePaymentIntentNotFound)
	}
	return convertIntent(pi), nil
}

// CapturePaymentIntent captures an intent authorized with manual capture.
func (c *Client) CapturePaymentIntent(ctx context.Context, id string) (payment.PaymentIntent, error) {
	params := &stripeapi.PaymentIntentCaptureParams{}
	params.Context = ctx
	pi, err := paymentintent.Capture(id, params)
	if err != nil {
		return payment.PaymentIntent{}, classifyResource(fmt.Errorf("stripe: capture payment intent %s: %w", id, err), apierrors.ErrCodePaymentIntentNotFound)
	}
	return convertIntent(pi), nil
}

// ListPaymentIntents returns up to limit intents, most recent first.
// The iterator pages transparently until the limit is reached.
func (c *Client) ListPaymentIntents(ctx context.Context, limit int) ([]payment.PaymentIntent, error) {
	if limit <= 0 {
		return nil, nil
	}
	pageSize := limit
	if pageSize > 100 {
		pageSize = 100
	}
	params := &stripeapi.PaymentIntentListParams{}
	params.Context = ctx
	params.Limit = stripeapi.Int64(int64(pageSize))

	out := make([]payment.PaymentIntent, 0, pageSize)
	iter := paymentintent.List(params)
	for iter.Next() {
		out = append(out, convertIntent(iter.PaymentIntent()))
		if len(out) >= limit {
			break
		}
	}
	if err := iter.Err(); err != nil {
		return nil, Classify(fmt.Errorf("stripe: list payment intents: %w", err))
	}
	return out, nil
}

// GetCharge retrieves a charge by id.
func (c *Client) GetCharge(ctx context.Context, id string) (payment.Charge, error) {
	params := &stripeapi.ChargeParams{}
	params.Context = ctx
	ch, err := charge.Get(id, params)
	if err != nil {
		return payment.Charge{}, classifyResource(fmt.Errorf("stripe: get charge %s: %w", id, err), apierrors.ErrCodePaymentIntentNotFound)
	}
	return convertCharge(ch), nil
}

// LatestCharge returns the most recent charge for an intent, if any.
func (c *Client) LatestCharge(ctx context.Context, intentID string) (payment.Charge, bool, error) {
	params := &stripeapi.ChargeListParams{
		PaymentIntent: stripeapi.String(intentID),
	}
	params.Context = ctx
	params.Limit = stripeapi.Int64(1)
	params.Single = true

	iter := charge.List(params)
	if iter.Next() {
		return convertCharge(iter.Charge()), true, nil
	}
	if err := iter.Err(); err != nil {
		return payment.Charge{}, false, Classify(fmt.Errorf("stripe: list charges for %s: %w", intentID, err))
	}
	return payment.Charge{}, false, nil
}

// AccountCountry returns the two-letter country of the connected account.
func (c *Client) AccountCountry(ctx context.Context) (string, error) {
	acct := &stripeapi.Account{}
	err := c.backend.Call(http.MethodGet, "/v1/account", c.key, &stripeapi.Params{Context: ctx}, acct)
	if err != nil {
		return "", Classify(fmt.Errorf("stripe: get account: %w", err))
	}
	return strings.ToUpper(acct.Country), nil
}

// CreateConnectionToken issues a token for Terminal SDK clients.
func (c *Client) CreateConnectionToken(ctx context.Context, location string) (string, error) {
	params := &stripeapi.TerminalConnectionTokenParams{}
	params.Context = ctx
	if location != "" {
		params.Location = location
	}
	token, err := connectiontoken.New(params)
	if err != nil {
		return "", Classify(fmt.Errorf("stripe: create connection token: %w", err))
	}
	return token.Secret, nil
}

func convertIntent(pi *stripeapi.PaymentIntent) payment.PaymentIntent {
	if pi == nil {
		return payment.PaymentIntent{}
	}
	out := payment.PaymentIntent{
		ID:                 pi.ID,
		Amount:             pi.Amount,
		Currency:           strings.ToLower(string(pi.Currency)),
		Status:             payment.IntentStatus(pi.Status),
		CaptureMethod:      string(pi.CaptureMethod),
		PaymentMethodTypes: pi.PaymentMethodTypes,
		Metadata:           pi.Metadata,
		Created:            unixTime(pi.Created),
	}
	if out.Metadata == nil {
		out.Metadata = map[string]string{}
	}
	if pi.LastPaymentError != nil {
		out.LastPaymentError = &payment.PaymentError{
			Code:        string(pi.LastPaymentError.Code),
			DeclineCode: string(pi.LastPaymentError.DeclineCode),
			Message:     pi.LastPaymentError.Msg,
			ChargeID:    pi.LastPaymentError.ChargeID,
		}
		if pm := pi.LastPaymentError.PaymentMethod; pm != nil {
			out.LastPaymentError.PaymentMethodID = pm.ID
		}
	}
	if pi.Charges != nil {
		for _, ch := range pi.Charges.Data {
			if ch == nil {
				continue
			}
			converted := convertCharge(ch)
			if converted.PaymentIntentID == "" {
				converted.PaymentIntentID = pi.ID
			}
			out.Charges = append(out.Charges, converted)
		}
	}
	return out
}

func convertCharge(ch *stripeapi.Charge) payment.Charge {
	if ch == nil {
		return payment.Charge{}
	}
	out := payment.Charge{
		ID:       ch.ID,
		Amount:   ch.Amount,
		Currency: strings.ToLower(string(ch.Currency)),
		Paid:     ch.Paid,
		Captured: ch.Captured,
		Status:   string(ch.Status),
	}
	if ch.PaymentIntent != nil {
		out.PaymentIntentID = ch.PaymentIntent.ID
	}
	if details := ch.PaymentMethodDetails; details != nil {
		out.PaymentMethodType = string(details.Type)
		switch {
		case details.CardPresent != nil:
			out.CardBrand = string(details.CardPresent.Brand)
			out.Last4 = details.CardPresent.Last4
		case details.InteracPresent != nil:
			out.CardBrand = string(details.InteracPresent.Brand)
			out.Last4 = details.InteracPresent.Last4
		case details.Card != nil:
			out.CardBrand = string(details.Card.Brand)
			out.Last4 = details.Card.Last4
		}
	}
	return out
}

func jsonExtract(data []byte, v any) error {
	if len(data) == 0 {
		return errors.New("stripe: webhook payload empty")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("stripe: decode webhook payload: %w", err)
	}
	return nil
}
