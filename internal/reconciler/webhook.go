package reconciler

import (
	"context"
	"fmt"
	"time"

	apierrors "github.com/CedrosPay/terminal/internal/errors"
	"github.com/CedrosPay/terminal/internal/orders"
	"github.com/CedrosPay/terminal/internal/payment"
)

// WebhookResult describes how a verified event was applied.
type WebhookResult struct {
	EventID       string `json:"event_id"`
	EventType     string `json:"event_type"`
	Handled       bool   `json:"handled"`
	OrderID       string `json:"order_id,omitempty"`
	Message       string `json:"message,omitempty"`
	MetadataSaved bool   `json:"metadata_saved"`
}

// HandleWebhook verifies and applies a processor event. Errors are returned so the
// processor redelivers; event types this bridge does not track succeed with Handled=false.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, signature string) (WebhookResult, error) {
	start := time.Now()
	if r.cfg.WebhookSecret == "" {
		r.observeWebhook("unknown", "error", start)
		return WebhookResult{}, apierrors.New(apierrors.ErrCodeWebhookSecretMissing, "Webhook signing secret is not configured")
	}

	event, err := r.processor.ParseWebhook(payload, signature, r.cfg.WebhookSecret)
	if err != nil {
		r.observeWebhook("unknown", "rejected", start)
		return WebhookResult{}, err
	}

	log := r.log(ctx).With().Str("event_id", event.ID).Str("event_type", event.Type).Logger()
	log.Info().Msg("reconciler.webhook.received")

	result := WebhookResult{EventID: event.ID, EventType: event.Type}
	switch event.Type {
	case payment.EventPaymentIntentSucceeded, payment.EventChargeSucceeded:
		err = r.applySucceeded(ctx, event, &result)
	case payment.EventPaymentIntentPaymentFailed:
		err = r.applyFailed(ctx, event, &result)
	case payment.EventPaymentIntentCanceled:
		err = r.applyCanceled(ctx, event, &result)
	default:
		result.Message = "Event type not handled"
	}
	if err != nil {
		log.Error().Err(err).Str("order_id", result.OrderID).Msg("reconciler.webhook.failed")
		r.observeWebhook(event.Type, "error", start)
		return WebhookResult{}, err
	}

	status := "ignored"
	if result.Handled {
		status = "handled"
	}
	r.observeWebhook(event.Type, status, start)
	log.Info().
		Bool("handled", result.Handled).
		Bool("metadata_saved", result.MetadataSaved).
		Str("order_id", result.OrderID).
		Msg("reconciler.webhook.processed")
	return result, nil
}

// eventIntent returns the intent the event is about. Charge events fetch their parent intent.
func (r *Reconciler) eventIntent(ctx context.Context, event payment.Event) (payment.PaymentIntent, bool, error) {
	if event.Intent != nil {
		return *event.Intent, true, nil
	}
	if event.Charge == nil || event.Charge.PaymentIntentID == "" {
		return payment.PaymentIntent{}, false, nil
	}
	pi, err := r.processor.GetPaymentIntent(ctx, event.Charge.PaymentIntentID)
	if err != nil {
		return payment.PaymentIntent{}, false, err
	}
	pi.Charges = append([]payment.Charge{*event.Charge}, withoutCharge(pi.Charges, event.Charge.ID)...)
	return pi, true, nil
}

func withoutCharge(charges []payment.Charge, id string) []payment.Charge {
	out := charges[:0:0]
	for _, ch := range charges {
		if ch.ID != id {
			out = append(out, ch)
		}
	}
	return out
}

// eventOrder resolves the order an event refers to through the intent's order_id
// metadata. ok is false for intents that name no order.
func (r *Reconciler) eventOrder(ctx context.Context, event payment.Event, result *WebhookResult) (payment.PaymentIntent, orders.Order, bool, error) {
	pi, found, err := r.eventIntent(ctx, event)
	if err != nil {
		return payment.PaymentIntent{}, orders.Order{}, false, err
	}
	if !found || pi.OrderID() == "" {
		result.Message = "No order for this payment"
		return payment.PaymentIntent{}, orders.Order{}, false, nil
	}
	result.OrderID = pi.OrderID()
	order, err := r.Order(ctx, pi.OrderID())
	if err != nil {
		return payment.PaymentIntent{}, orders.Order{}, false, err
	}
	return pi, order, true, nil
}

func (r *Reconciler) applySucceeded(ctx context.Context, event payment.Event, result *WebhookResult) error {
	pi, order, ok, err := r.eventOrder(ctx, event, result)
	if err != nil || !ok {
		return err
	}
	result.Handled = true

	if paidLocally(order) {
		result.Message = "Order already paid"
		r.observeReconciliation("webhook", "paid")
		return nil
	}

	ch, hasCharge := pi.LatestCharge()
	if !hasCharge {
		ch, hasCharge, err = r.processor.LatestCharge(ctx, pi.ID)
		if err != nil {
			return err
		}
	}
	if !hasCharge {
		result.Message = "Payment intent has no charge yet"
		r.observeReconciliation("webhook", "pending")
		return nil
	}

	_, saved, err := r.writeBack(ctx, order, pi, ch, "webhook")
	if err != nil {
		return err
	}
	result.MetadataSaved = saved
	if saved {
		result.Message = "Payment recorded"
		r.observeReconciliation("webhook", "written_back")
	} else {
		result.Message = "Charge not paid"
		r.observeReconciliation("webhook", "pending")
	}
	return nil
}

func (r *Reconciler) applyFailed(ctx context.Context, event payment.Event, result *WebhookResult) error {
	pi, order, ok, err := r.eventOrder(ctx, event, result)
	if err != nil || !ok {
		return err
	}
	result.Handled = true

	if paidLocally(order) {
		result.Message = "Order already paid"
		return nil
	}

	record := order.Payment
	record.PaymentIntentID = pi.ID
	record.Status = orders.PaymentStatusFailed
	order, applied, err := r.savePayment(ctx, order.ID, orders.PaymentUpdate{Record: record, MarkFailed: true, IfUnpaid: true})
	if err != nil {
		return err
	}
	if !applied {
		result.Message = "Order already paid"
		return nil
	}
	result.MetadataSaved = true
	result.Message = "Payment failure recorded"

	reason := "unknown reason"
	if pi.LastPaymentError != nil && pi.LastPaymentError.Message != "" {
		reason = pi.LastPaymentError.Message
	}
	r.addNote(ctx, order.ID, fmt.Sprintf("Card reader payment failed (%s): %s", pi.ID, reason))
	r.observeReconciliation("webhook", "failed")
	r.notifyFailed(ctx, order, pi)
	return nil
}

func (r *Reconciler) applyCanceled(ctx context.Context, event payment.Event, result *WebhookResult) error {
	pi, order, ok, err := r.eventOrder(ctx, event, result)
	if err != nil || !ok {
		return err
	}
	result.Handled = true
	result.Message = "Cancellation noted"
	r.addNote(ctx, order.ID, fmt.Sprintf("Card reader payment intent %s was canceled.", pi.ID))
	return nil
}

func (r *Reconciler) observeWebhook(eventType, status string, start time.Time) {
	if r.metrics != nil {
		r.metrics.ObserveWebhook(eventType, status, time.Since(start))
	}
}
