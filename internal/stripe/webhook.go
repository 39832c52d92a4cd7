package stripe

import (
	"encoding/json"
	"fmt"

	stripeapi "github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/webhook"

	apierrors "github.com/CedrosPay/terminal/internal/errors"
	"github.com/CedrosPay/terminal/internal/payment"
)

// ParseWebhook validates the event signature against secret and normalises the payload.
// Event types that carry neither an intent nor a charge are returned with only ID and Type set.
func (c *Client) ParseWebhook(payload []byte, signature, secret string) (payment.Event, error) {
	if secret == "" {
		return payment.Event{}, apierrors.New(apierrors.ErrCodeWebhookSecretMissing, "Webhook signing secret is not configured")
	}
	// Signature only: events are decoded locally so that endpoint API versions
	// newer than the bindings still parse.
	if err := webhook.ValidatePayload(payload, signature, secret); err != nil {
		return payment.Event{}, Classify(fmt.Errorf("stripe: verify webhook: %w", err))
	}

	var event stripeapi.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return payment.Event{}, apierrors.Wrap(apierrors.ErrCodeInvalidRequest, "Malformed webhook payload", err)
	}

	out := payment.Event{
		ID:      event.ID,
		Type:    event.Type,
		Created: unixTime(event.Created),
	}
	if event.Data == nil {
		return out, nil
	}

	switch event.Type {
	case payment.EventPaymentIntentSucceeded,
		payment.EventPaymentIntentPaymentFailed,
		payment.EventPaymentIntentCanceled:
		var pi stripeapi.PaymentIntent
		if err := jsonExtract(event.Data.Raw, &pi); err != nil {
			return payment.Event{}, apierrors.Wrap(apierrors.ErrCodeInvalidRequest, "Malformed payment intent in webhook", err)
		}
		intent := convertIntent(&pi)
		out.Intent = &intent
	case payment.EventChargeSucceeded:
		var ch stripeapi.Charge
		if err := jsonExtract(event.Data.Raw, &ch); err != nil {
			return payment.Event{}, apierrors.Wrap(apierrors.ErrCodeInvalidRequest, "Malformed charge in webhook", err)
		}
		converted := convertCharge(&ch)
		out.Charge = &converted
	}
	return out, nil
}
