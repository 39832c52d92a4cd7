package reconciler

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/CedrosPay/terminal/internal/callbacks"
	apierrors "github.com/CedrosPay/terminal/internal/errors"
	"github.com/CedrosPay/terminal/internal/money"
	"github.com/CedrosPay/terminal/internal/orders"
	"github.com/CedrosPay/terminal/internal/payment"
)

// UpdateOrderFromPaymentIntent copies the intent's first charge into the order's payment record
// and persists it. It reports false without side effects when the intent has no charge yet.
// The returned order is the stored one, including a completion saved in the meantime.
func (r *Reconciler) UpdateOrderFromPaymentIntent(ctx context.Context, order orders.Order, pi payment.PaymentIntent) (orders.Order, bool, error) {
	ch, ok := pi.LatestCharge()
	if !ok {
		return order, false, nil
	}
	stored, _, err := r.savePayment(ctx, order.ID, chargeUpdate(order.Payment, pi, ch))
	if err != nil {
		return orders.Order{}, false, err
	}
	return stored, true, nil
}

// chargeUpdate writes the processor's view of a charge over record. A succeeded record is never reverted.
func chargeUpdate(record orders.PaymentRecord, pi payment.PaymentIntent, ch payment.Charge) orders.PaymentUpdate {
	currency := ch.Currency
	if currency == "" {
		currency = pi.Currency
	}
	amount := ch.Amount
	if amount == 0 {
		amount = pi.Amount
	}

	record.PaymentIntentID = pi.ID
	record.ChargeID = ch.ID
	record.Currency = strings.ToUpper(currency)
	record.Method = capitalize(ch.CardBrand)
	record.Amount = decimal.NewNullDecimal(money.FromProcessorUnits(amount, currency))
	if ch.Paid {
		record.Status = orders.PaymentStatusSucceeded
	}
	return orders.PaymentUpdate{Record: record, TransactionID: ch.ID, Captured: ch.Captured}
}

func capitalize(s string) string {
	if s == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}

// writeBack caches a paid charge on an order that is not yet paid locally.
// It reports whether the record was written; repeated calls for the same order are no-ops,
// as is a call with an order loaded before another path paid it.
func (r *Reconciler) writeBack(ctx context.Context, order orders.Order, pi payment.PaymentIntent, ch payment.Charge, source string) (orders.Order, bool, error) {
	if !ch.Paid || paidLocally(order) {
		return order, false, nil
	}
	update := chargeUpdate(order.Payment, pi, ch)
	update.IfUnpaid = true
	stored, applied, err := r.savePayment(ctx, order.ID, update)
	if err != nil {
		return orders.Order{}, false, err
	}
	if !applied {
		// Paid by another path since order was loaded.
		return stored, false, nil
	}
	order = stored

	brand := order.Payment.Method
	if brand == "" {
		brand = "Card"
	}
	note := fmt.Sprintf("Card reader payment confirmed by %s: %s %s, charge %s (%s ending %s).",
		strings.ReplaceAll(source, "_", " "),
		order.Payment.Amount.Decimal.String(), order.Payment.Currency, ch.ID, brand, orDash(ch.Last4))
	r.addNote(ctx, order.ID, note)
	order.Notes = append(order.Notes, orders.NewNote(note))

	if r.metrics != nil {
		r.metrics.ObserveWriteback(source)
	}
	r.log(ctx).Info().
		Str("order_id", order.ID).
		Str("payment_intent_id", pi.ID).
		Str("charge_id", ch.ID).
		Str("source", source).
		Msg("reconciler.writeback.saved")
	r.notifySucceeded(ctx, order, pi, source)
	return order, true, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// IntentSummary is the reconciliation view of a payment intent.
type IntentSummary struct {
	ID               string                `json:"id"`
	Status           payment.IntentStatus  `json:"status"`
	Amount           int64                 `json:"amount"`
	Currency         string                `json:"currency"`
	LastPaymentError *payment.PaymentError `json:"last_payment_error"`
}

// ChargeSummary is the reconciliation view of a charge.
type ChargeSummary struct {
	ID        string `json:"id"`
	Paid      bool   `json:"paid"`
	Captured  bool   `json:"captured"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	CardBrand string `json:"card_brand"`
	Last4     string `json:"last4"`
}

// ReconciliationResult is returned by CheckPaymentStatusFromProcessor.
type ReconciliationResult struct {
	PaymentIntent IntentSummary  `json:"payment_intent"`
	Charge        *ChargeSummary `json:"charge"`
	OrderStatus   orders.Status  `json:"order_status"`
	OrderPaid     bool           `json:"order_paid"`
	MetadataSaved bool           `json:"metadata_saved"`
	ReturnURL     string         `json:"return_url,omitempty"`
}

// CheckPaymentStatusFromProcessor reconciles the order against the processor.
// It resolves the order's intent from its transaction id, its cached intent id, or a
// most-recent-first search of up to IntentSearchLimit intents by metadata order_id.
// A paid charge is written back to an order not yet paid locally. The order is never completed here.
func (r *Reconciler) CheckPaymentStatusFromProcessor(ctx context.Context, order orders.Order) (ReconciliationResult, error) {
	pi, found, err := r.resolveIntent(ctx, order)
	if err != nil {
		return ReconciliationResult{}, err
	}
	if !found {
		r.observeReconciliation("status_check", "not_found")
		return ReconciliationResult{}, apierrors.Newf(apierrors.ErrCodePaymentIntentNotFound,
			"No payment intent found for order %s", order.ID)
	}

	result := ReconciliationResult{PaymentIntent: summarizeIntent(pi)}

	ch, hasCharge, err := r.processor.LatestCharge(ctx, pi.ID)
	if err != nil {
		return ReconciliationResult{}, err
	}
	if hasCharge {
		summary := summarizeCharge(ch)
		result.Charge = &summary
		order, result.MetadataSaved, err = r.writeBack(ctx, order, pi, ch, "status_check")
		if err != nil {
			return ReconciliationResult{}, err
		}
	}

	result.OrderStatus = order.Status
	result.OrderPaid = paidLocally(order)
	if result.OrderPaid {
		result.ReturnURL = r.gateway.ReturnURL(order)
	}

	outcome := "pending"
	switch {
	case result.MetadataSaved:
		outcome = "written_back"
	case result.OrderPaid:
		outcome = "paid"
	}
	r.observeReconciliation("status_check", outcome)
	return result, nil
}

func (r *Reconciler) resolveIntent(ctx context.Context, order orders.Order) (payment.PaymentIntent, bool, error) {
	if txn := order.TransactionID; txn != "" {
		pi, err := r.intentFromTransaction(ctx, txn)
		switch {
		case err == nil:
			return pi, true, nil
		case !isNotFound(err):
			return payment.PaymentIntent{}, false, err
		}
	}

	if cached := order.Payment.PaymentIntentID; cached != "" {
		pi, err := r.processor.GetPaymentIntent(ctx, cached)
		switch {
		case err == nil && pi.OrderID() == order.ID:
			return pi, true, nil
		case err != nil && !isNotFound(err):
			return payment.PaymentIntent{}, false, err
		}
	}

	intents, err := r.processor.ListPaymentIntents(ctx, r.cfg.IntentSearchLimit)
	if err != nil {
		return payment.PaymentIntent{}, false, err
	}
	for _, pi := range intents {
		if pi.OrderID() == order.ID {
			return pi, true, nil
		}
	}
	return payment.PaymentIntent{}, false, nil
}

// intentFromTransaction treats pi_ ids as intents and anything else as a charge id.
func (r *Reconciler) intentFromTransaction(ctx context.Context, txn string) (payment.PaymentIntent, error) {
	if strings.HasPrefix(txn, "pi_") {
		return r.processor.GetPaymentIntent(ctx, txn)
	}
	ch, err := r.processor.GetCharge(ctx, txn)
	if err != nil {
		return payment.PaymentIntent{}, err
	}
	if ch.PaymentIntentID == "" {
		return payment.PaymentIntent{}, apierrors.Newf(apierrors.ErrCodePaymentIntentNotFound, "Charge %s has no payment intent", txn)
	}
	return r.processor.GetPaymentIntent(ctx, ch.PaymentIntentID)
}

// StatusSnapshot is the lightweight status view polled by the orchestrator.
type StatusSnapshot struct {
	IsPaid              bool                  `json:"is_paid"`
	Status              orders.Status         `json:"status"`
	TransactionID       string                `json:"transaction_id"`
	ReturnURL           string                `json:"return_url,omitempty"`
	PaymentIntentStatus payment.IntentStatus  `json:"payment_intent_status,omitempty"`
	LastPaymentError    *payment.PaymentError `json:"last_payment_error"`
	PaymentMetadata     map[string]string     `json:"payment_metadata"`
}

// CheckPaymentStatus answers from the local cache first. Only an unpaid order with a cached
// intent id costs one live processor lookup.
func (r *Reconciler) CheckPaymentStatus(ctx context.Context, order orders.Order) (StatusSnapshot, error) {
	snapshot := StatusSnapshot{
		Status:          order.Status,
		TransactionID:   order.TransactionID,
		PaymentMetadata: order.Payment.Meta(),
	}
	if paidLocally(order) {
		snapshot.IsPaid = true
		snapshot.PaymentIntentStatus = payment.StatusSucceeded
		snapshot.ReturnURL = r.gateway.ReturnURL(order)
		return snapshot, nil
	}

	intentID := order.Payment.PaymentIntentID
	if intentID == "" {
		return snapshot, nil
	}
	pi, err := r.processor.GetPaymentIntent(ctx, intentID)
	if err != nil {
		return StatusSnapshot{}, err
	}
	snapshot.PaymentIntentStatus = pi.Status
	snapshot.LastPaymentError = pi.LastPaymentError
	return snapshot, nil
}

func summarizeIntent(pi payment.PaymentIntent) IntentSummary {
	return IntentSummary{
		ID:               pi.ID,
		Status:           pi.Status,
		Amount:           pi.Amount,
		Currency:         pi.Currency,
		LastPaymentError: pi.LastPaymentError,
	}
}

func summarizeCharge(ch payment.Charge) ChargeSummary {
	return ChargeSummary{
		ID:        ch.ID,
		Paid:      ch.Paid,
		Captured:  ch.Captured,
		Status:    ch.Status,
		Amount:    ch.Amount,
		Currency:  ch.Currency,
		CardBrand: ch.CardBrand,
		Last4:     ch.Last4,
	}
}

func (r *Reconciler) observeReconciliation(source, outcome string) {
	if r.metrics != nil {
		r.metrics.ObserveReconciliation(source, outcome)
	}
}

func (r *Reconciler) notifySucceeded(ctx context.Context, order orders.Order, pi payment.PaymentIntent, source string) {
	event := callbacks.PaymentEvent{
		OrderID:         order.ID,
		PaymentIntentID: pi.ID,
		ChargeID:        order.Payment.ChargeID,
		AmountUnits:     pi.Amount,
		Currency:        order.Payment.Currency,
		CardBrand:       order.Payment.Method,
		Source:          source,
	}
	if order.Payment.Amount.Valid {
		event.Amount = order.Payment.Amount.Decimal.String()
	}
	r.notifier.PaymentSucceeded(ctx, event)
}

func (r *Reconciler) notifyFailed(ctx context.Context, order orders.Order, pi payment.PaymentIntent) {
	event := callbacks.PaymentEvent{
		OrderID:         order.ID,
		PaymentIntentID: pi.ID,
		AmountUnits:     pi.Amount,
		Currency:        strings.ToUpper(pi.Currency),
		Source:          "webhook",
	}
	if pi.LastPaymentError != nil {
		event.FailureCode = pi.LastPaymentError.Code
		if pi.LastPaymentError.DeclineCode != "" {
			event.FailureCode = pi.LastPaymentError.DeclineCode
		}
		event.FailureMessage = pi.LastPaymentError.Message
	}
	r.notifier.PaymentFailed(ctx, event)
}
