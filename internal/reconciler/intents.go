package reconciler

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	apierrors "github.com/CedrosPay/terminal/internal/errors"
	"github.com/CedrosPay/terminal/internal/money"
	"github.com/CedrosPay/terminal/internal/orders"
	"github.com/CedrosPay/terminal/internal/payment"
)

// CreateOption adjusts a single intent creation.
type CreateOption func(*payment.CreateIntentParams)

// IdempotencyKey forwards key to the processor so a repeated request returns the same intent.
func IdempotencyKey(key string) CreateOption {
	return func(p *payment.CreateIntentParams) { p.IdempotencyKey = key }
}

// CreatePaymentIntent creates a card-present intent for the order total or amountOverride.
// The new intent id is cached on the order so later status checks can find it.
func (r *Reconciler) CreatePaymentIntent(ctx context.Context, order orders.Order, amountOverride *decimal.Decimal, opts ...CreateOption) (payment.PaymentIntent, error) {
	amount := order.Total
	if amountOverride != nil {
		amount = *amountOverride
	}
	currency := strings.ToLower(strings.TrimSpace(order.Currency))

	units := int64(0)
	if currency != "" {
		units = money.ToProcessorUnits(amount, currency)
	}
	if units <= 0 || currency == "" {
		r.observeIntentFailure(apierrors.ErrCodeMissingParams)
		return payment.PaymentIntent{}, apierrors.New(apierrors.ErrCodeMissingParams, "Payment amount and currency are required")
	}

	supported := r.supportedCurrencies(ctx)
	if !containsCode(supported, currency) {
		r.observeIntentFailure(apierrors.ErrCodeUnsupportedCurrency)
		return payment.PaymentIntent{}, apierrors.Newf(apierrors.ErrCodeUnsupportedCurrency,
			"Currency %s is not supported for this account. Supported currencies: %s",
			strings.ToUpper(currency), strings.Join(supported, ", ")).
			WithDetail("supported_currencies", supported)
	}

	methods := []string{"card_present"}
	if currency == "cad" {
		methods = append(methods, "interac_present")
	}

	params := payment.CreateIntentParams{
		Amount:             units,
		Currency:           currency,
		PaymentMethodTypes: methods,
		CaptureMethod:      r.cfg.CaptureMethod,
		Description:        fmt.Sprintf("Order %s", order.ID),
		Metadata: map[string]string{
			payment.MetadataOrderID: order.ID,
			payment.MetadataSource:  payment.SourceTerminal,
		},
	}
	for _, opt := range opts {
		opt(&params)
	}

	pi, err := r.processor.CreatePaymentIntent(ctx, params)
	if err != nil {
		r.observeIntentFailure(apierrors.CodeOf(err))
		return payment.PaymentIntent{}, err
	}
	if r.metrics != nil {
		r.metrics.ObserveIntentCreated(currency, r.cfg.CaptureMethod, units)
	}

	record := order.Payment
	record.PaymentIntentID = pi.ID
	record.Status = orders.PaymentStatusNone
	if _, _, err := r.savePayment(ctx, order.ID, orders.PaymentUpdate{Record: record, IfUnpaid: true}); err != nil {
		return payment.PaymentIntent{}, err
	}
	r.log(ctx).Info().
		Str("order_id", order.ID).
		Str("payment_intent_id", pi.ID).
		Int64("amount", units).
		Str("currency", currency).
		Msg("reconciler.intent_created")
	return pi, nil
}

// supportedCurrencies resolves the account region. Lookup failures fall back to the US set.
func (r *Reconciler) supportedCurrencies(ctx context.Context) []string {
	country, err := r.processor.AccountCountry(ctx)
	if err != nil {
		r.log(ctx).Warn().Err(err).Msg("reconciler.account_lookup_failed")
		country = money.DefaultCountry
	}
	return money.SupportedCurrencies(country)
}

func containsCode(codes []string, currency string) bool {
	currency = money.NormalizeCode(currency)
	for _, c := range codes {
		if c == currency {
			return true
		}
	}
	return false
}

func (r *Reconciler) observeIntentFailure(code apierrors.ErrorCode) {
	if r.metrics != nil {
		r.metrics.ObserveIntentFailure(string(code))
	}
}

// ProcessOverrides are per-call reader options. Nil fields keep the configured default.
type ProcessOverrides struct {
	EnableCustomerCancellation *bool
	SkipTipping                *bool
}

// ProcessOnReader hands the intent to the reader. It never changes local order state.
func (r *Reconciler) ProcessOnReader(ctx context.Context, readerID, intentID string, overrides ProcessOverrides) (payment.Reader, error) {
	if readerID == "" || intentID == "" {
		return payment.Reader{}, apierrors.New(apierrors.ErrCodeMissingParams, "Reader and payment intent are required")
	}
	cfg := r.cfg.ProcessDefaults
	if overrides.EnableCustomerCancellation != nil {
		cfg.EnableCustomerCancellation = *overrides.EnableCustomerCancellation
	}
	if overrides.SkipTipping != nil {
		cfg.SkipTipping = *overrides.SkipTipping
	}
	reader, err := r.processor.ProcessPaymentIntent(ctx, readerID, intentID, cfg)
	if err != nil {
		return payment.Reader{}, err
	}
	r.log(ctx).Info().
		Str("reader_id", readerID).
		Str("payment_intent_id", intentID).
		Msg("reconciler.reader_processing")
	return reader, nil
}

// ConfirmPaymentIntent syncs and completes the order when the intent has succeeded.
// Any other status is returned unchanged; it never waits for completion.
func (r *Reconciler) ConfirmPaymentIntent(ctx context.Context, intentID string, order orders.Order) (payment.PaymentIntent, error) {
	pi, err := r.processor.GetPaymentIntent(ctx, intentID)
	if err != nil {
		return payment.PaymentIntent{}, err
	}
	if err := ensureOwnership(pi, order); err != nil {
		return payment.PaymentIntent{}, err
	}
	if pi.Status != payment.StatusSucceeded {
		return pi, nil
	}
	if err := r.syncAndComplete(ctx, order, pi, "confirm"); err != nil {
		return payment.PaymentIntent{}, err
	}
	return pi, nil
}

// CapturePaymentIntent captures an intent authorized with manual capture, then completes the order.
// Intents not awaiting capture are returned unchanged.
func (r *Reconciler) CapturePaymentIntent(ctx context.Context, intentID string, order orders.Order) (payment.PaymentIntent, error) {
	pi, err := r.processor.GetPaymentIntent(ctx, intentID)
	if err != nil {
		return payment.PaymentIntent{}, err
	}
	if err := ensureOwnership(pi, order); err != nil {
		return payment.PaymentIntent{}, err
	}
	if pi.Status != payment.StatusRequiresCapture {
		return pi, nil
	}
	captured, err := r.processor.CapturePaymentIntent(ctx, intentID)
	if err != nil {
		return payment.PaymentIntent{}, err
	}
	if captured.Status == payment.StatusSucceeded {
		if err := r.syncAndComplete(ctx, order, captured, "capture"); err != nil {
			return payment.PaymentIntent{}, err
		}
	}
	return captured, nil
}

func (r *Reconciler) syncAndComplete(ctx context.Context, order orders.Order, pi payment.PaymentIntent, source string) error {
	if len(pi.Charges) == 0 {
		ch, ok, err := r.processor.LatestCharge(ctx, pi.ID)
		if err != nil {
			return err
		}
		if ok {
			pi.Charges = []payment.Charge{ch}
		}
	}
	// The caller's copy may predate a webhook or status check that paid the order.
	current, err := r.Order(ctx, order.ID)
	if err != nil {
		return err
	}
	wasPaid := paidLocally(current)
	updated, changed, err := r.UpdateOrderFromPaymentIntent(ctx, current, pi)
	if err != nil {
		return err
	}
	if !changed || updated.PaidAt != nil {
		return nil
	}
	completed, err := r.gateway.CompletePayment(ctx, updated, updated.TransactionID)
	if err != nil {
		return apierrors.Wrap(apierrors.ErrCodeDatabaseError, "Failed to complete order", err)
	}
	r.log(ctx).Info().
		Str("order_id", completed.ID).
		Str("payment_intent_id", pi.ID).
		Str("source", source).
		Msg("reconciler.order_completed")
	if !wasPaid {
		r.notifySucceeded(ctx, completed, pi, source)
	}
	return nil
}

// CancelPaymentIntent cancels the intent only while it still awaits a payment method or confirmation.
// When readerID names a reader still collecting for this intent, its action is canceled first.
func (r *Reconciler) CancelPaymentIntent(ctx context.Context, intentID string, order orders.Order, readerID string) (payment.PaymentIntent, error) {
	pi, err := r.processor.GetPaymentIntent(ctx, intentID)
	if err != nil {
		return payment.PaymentIntent{}, err
	}
	if err := ensureOwnership(pi, order); err != nil {
		return payment.PaymentIntent{}, err
	}
	if !pi.Status.Cancelable() {
		return pi, nil
	}

	if readerID != "" {
		r.cancelReaderAction(ctx, readerID, intentID)
	}

	canceled, err := r.processor.CancelPaymentIntent(ctx, intentID)
	if err != nil {
		return payment.PaymentIntent{}, err
	}
	r.addNote(ctx, order.ID, fmt.Sprintf("Card reader payment canceled (%s).", intentID))
	r.log(ctx).Info().
		Str("order_id", order.ID).
		Str("payment_intent_id", intentID).
		Msg("reconciler.intent_canceled")
	return canceled, nil
}

func (r *Reconciler) cancelReaderAction(ctx context.Context, readerID, intentID string) {
	reader, err := r.processor.GetReader(ctx, readerID)
	if err != nil {
		r.log(ctx).Warn().Err(err).Str("reader_id", readerID).Msg("reconciler.reader_lookup_failed")
		return
	}
	if !reader.Action.InProgressFor(intentID) {
		return
	}
	if _, err := r.processor.CancelReaderAction(ctx, readerID); err != nil {
		r.log(ctx).Warn().Err(err).Str("reader_id", readerID).Msg("reconciler.reader_cancel_failed")
	}
}

// RetryResult is the outcome of RetryPayment.
type RetryResult struct {
	PaymentIntentID string         `json:"payment_intent_id"`
	Reader          payment.Reader `json:"reader"`
	Reused          bool           `json:"reused"`
}

// RetryPayment hands the order's cached intent to the reader again when it can still be processed,
// otherwise creates a new intent first.
func (r *Reconciler) RetryPayment(ctx context.Context, order orders.Order, readerID string, opts ...CreateOption) (RetryResult, error) {
	if readerID == "" {
		return RetryResult{}, apierrors.New(apierrors.ErrCodeMissingParams, "Reader is required")
	}

	intentID := ""
	if cached := order.Payment.PaymentIntentID; cached != "" {
		pi, err := r.processor.GetPaymentIntent(ctx, cached)
		switch {
		case err == nil && pi.Status.Processable() && ensureOwnership(pi, order) == nil:
			intentID = pi.ID
		case err != nil && !isNotFound(err):
			return RetryResult{}, err
		}
	}

	reused := intentID != ""
	if !reused {
		pi, err := r.CreatePaymentIntent(ctx, order, nil, opts...)
		if err != nil {
			return RetryResult{}, err
		}
		intentID = pi.ID
	}

	reader, err := r.ProcessOnReader(ctx, readerID, intentID, ProcessOverrides{})
	if err != nil {
		return RetryResult{}, err
	}
	return RetryResult{PaymentIntentID: intentID, Reader: reader, Reused: reused}, nil
}
