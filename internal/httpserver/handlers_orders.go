package httpserver

import (
	"context"
	"net/http"

	apierrors "github.com/CedrosPay/terminal/internal/errors"
	"github.com/CedrosPay/terminal/internal/idempotency"
	"github.com/CedrosPay/terminal/internal/logger"
	"github.com/CedrosPay/terminal/internal/orders"
	"github.com/CedrosPay/terminal/internal/payment"
	"github.com/CedrosPay/terminal/internal/reconciler"
	"github.com/CedrosPay/terminal/pkg/responders"
)

// authorizeOrder loads the order and checks its key. Payment-mutating endpoints also
// require the order to still need payment. Both failures are 403; only an unknown id is 404.
func (h *handlers) authorizeOrder(ctx context.Context, auth orderAuth, mutating bool) (orders.Order, error) {
	order, err := h.reconciler.Order(ctx, auth.OrderID.String())
	if err != nil {
		return orders.Order{}, err
	}
	if !order.KeyMatches(auth.OrderKey) {
		log := logger.FromContext(ctx)
		log.Warn().
			Str("order_id", order.ID).
			Str("order_key", logger.RedactKey(auth.OrderKey)).
			Msg("terminal.order_key_mismatch")
		return orders.Order{}, apierrors.New(apierrors.ErrCodeUnauthorizedOrder, "Invalid order key")
	}
	if mutating && !order.NeedsPayment() {
		return orders.Order{}, apierrors.New(apierrors.ErrCodeUnauthorizedOrder, "Order does not need payment")
	}
	return order, nil
}

type createIntentResponse struct {
	PaymentIntent payment.PaymentIntent `json:"payment_intent"`
	Reader        payment.Reader        `json:"reader"`
}

// createPaymentIntent creates an intent for the order and hands it to the reader.
func (h *handlers) createPaymentIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req createIntentRequest
	if err := decodeRequest(r, &req); err != nil {
		apierrors.WriteErr(w, err)
		return
	}
	order, err := h.authorizeOrder(ctx, req.orderAuth, true)
	if err != nil {
		apierrors.WriteErr(w, err)
		return
	}

	var opts []reconciler.CreateOption
	if key := idempotency.KeyFromContext(ctx); key != "" {
		opts = append(opts, reconciler.IdempotencyKey("create:"+order.ID+":"+key))
	}
	pi, err := h.reconciler.CreatePaymentIntent(ctx, order, req.Amount, opts...)
	if err != nil {
		log.Warn().Err(err).Str("order_id", order.ID).Msg("terminal.create_intent_failed")
		apierrors.WriteErr(w, err)
		return
	}

	reader, err := h.reconciler.ProcessOnReader(ctx, req.ReaderID, pi.ID, reconciler.ProcessOverrides{})
	if err != nil {
		// The intent stays cached on the order, so retry-payment reuses it.
		log.Warn().Err(err).
			Str("order_id", order.ID).
			Str("payment_intent_id", pi.ID).
			Str("reader_id", req.ReaderID).
			Msg("terminal.process_on_reader_failed")
		apiErr := apierrors.As(err).WithDetail("payment_intent_id", pi.ID)
		apierrors.WriteErr(w, apiErr)
		return
	}

	responders.OK(w, createIntentResponse{PaymentIntent: pi, Reader: reader})
}

func (h *handlers) confirmPayment(w http.ResponseWriter, r *http.Request) {
	h.intentAction(w, r, h.reconciler.ConfirmPaymentIntent)
}

func (h *handlers) capturePayment(w http.ResponseWriter, r *http.Request) {
	h.intentAction(w, r, h.reconciler.CapturePaymentIntent)
}

func (h *handlers) cancelPayment(w http.ResponseWriter, r *http.Request) {
	var req intentRequest
	if err := decodeRequest(r, &req); err != nil {
		apierrors.WriteErr(w, err)
		return
	}
	order, err := h.authorizeOrder(r.Context(), req.orderAuth, true)
	if err != nil {
		apierrors.WriteErr(w, err)
		return
	}
	pi, err := h.reconciler.CancelPaymentIntent(r.Context(), req.PaymentIntentID, order, req.ReaderID)
	if err != nil {
		apierrors.WriteErr(w, err)
		return
	}
	responders.OK(w, pi)
}

type intentFunc func(ctx context.Context, intentID string, order orders.Order) (payment.PaymentIntent, error)

func (h *handlers) intentAction(w http.ResponseWriter, r *http.Request, fn intentFunc) {
	var req intentRequest
	if err := decodeRequest(r, &req); err != nil {
		apierrors.WriteErr(w, err)
		return
	}
	order, err := h.authorizeOrder(r.Context(), req.orderAuth, true)
	if err != nil {
		apierrors.WriteErr(w, err)
		return
	}
	pi, err := fn(r.Context(), req.PaymentIntentID, order)
	if err != nil {
		apierrors.WriteErr(w, err)
		return
	}
	responders.OK(w, pi)
}

func (h *handlers) retryPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req retryRequest
	if err := decodeRequest(r, &req); err != nil {
		apierrors.WriteErr(w, err)
		return
	}
	order, err := h.authorizeOrder(ctx, req.orderAuth, true)
	if err != nil {
		apierrors.WriteErr(w, err)
		return
	}

	var opts []reconciler.CreateOption
	if key := idempotency.KeyFromContext(ctx); key != "" {
		opts = append(opts, reconciler.IdempotencyKey("retry:"+order.ID+":"+key))
	}
	result, err := h.reconciler.RetryPayment(ctx, order, req.ReaderID, opts...)
	if err != nil {
		apierrors.WriteErr(w, err)
		return
	}
	responders.OK(w, result)
}

// checkPaymentStatus is the lightweight poll endpoint. It answers from the local cache when it can.
func (h *handlers) checkPaymentStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeRequest(r, &req); err != nil {
		apierrors.WriteErr(w, err)
		return
	}
	order, err := h.authorizeOrder(r.Context(), req.orderAuth, false)
	if err != nil {
		apierrors.WriteErr(w, err)
		return
	}
	snapshot, err := h.reconciler.CheckPaymentStatus(r.Context(), order)
	if err != nil {
		apierrors.WriteErr(w, err)
		return
	}
	responders.OK(w, snapshot)
}

// checkStripeStatus runs a full reconciliation against the processor.
func (h *handlers) checkStripeStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeRequest(r, &req); err != nil {
		apierrors.WriteErr(w, err)
		return
	}
	order, err := h.authorizeOrder(r.Context(), req.orderAuth, false)
	if err != nil {
		apierrors.WriteErr(w, err)
		return
	}
	result, err := h.reconciler.CheckPaymentStatusFromProcessor(r.Context(), order)
	if err != nil {
		apierrors.WriteErr(w, err)
		return
	}
	responders.OK(w, result)
}
