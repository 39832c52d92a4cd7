package httpserver

import (
	"io"
	"net/http"

	apierrors "github.com/CedrosPay/terminal/internal/errors"
	"github.com/CedrosPay/terminal/internal/logger"
	"github.com/CedrosPay/terminal/pkg/responders"
)

const maxWebhookBody = 1 << 20

func (h *handlers) stripeWebhookInfo(w http.ResponseWriter, r *http.Request) {
	responders.OK(w, map[string]any{
		"endpoint": "stripe_webhook",
		"method":   http.MethodPost,
		"events": []string{
			"payment_intent.succeeded",
			"payment_intent.payment_failed",
			"payment_intent.canceled",
			"charge.succeeded",
		},
		"configured": h.cfg.Stripe.WebhookSecret() != "",
	})
}

// handleStripeWebhook verifies and applies a processor event. Any non-2xx response makes
// the processor redeliver, so only fully applied or deliberately ignored events return 200.
func (h *handlers) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		log.Error().Err(err).Msg("stripe.webhook.read_body_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "Unable to read webhook body")
		return
	}

	result, err := h.reconciler.HandleWebhook(r.Context(), body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		apierrors.WriteErr(w, err)
		return
	}

	responders.OK(w, map[string]any{
		"received": true,
		"result":   result,
	})
}
