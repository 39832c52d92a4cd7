package orders

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Persisted meta keys of the payment record.
const (
	MetaPaymentIntentID = "_stripe_terminal_payment_intent_id"
	MetaChargeID        = "_stripe_terminal_charge_id"
	MetaPaymentStatus   = "_stripe_terminal_payment_status"
	MetaPaymentAmount   = "_stripe_terminal_payment_amount"
	MetaPaymentCurrency = "_stripe_terminal_payment_currency"
	MetaPaymentMethod   = "_stripe_terminal_payment_method"
)

// PaymentStatus is the cached outcome of the terminal payment.
type PaymentStatus string

const (
	PaymentStatusNone      PaymentStatus = ""
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// PaymentRecord is the local cache of the processor's view of the order's payment.
// The processor is authoritative; a succeeded record is never reverted.
type PaymentRecord struct {
	PaymentIntentID string              `json:"_stripe_terminal_payment_intent_id"`
	ChargeID        string              `json:"_stripe_terminal_charge_id"`
	Status          PaymentStatus       `json:"_stripe_terminal_payment_status"`
	Amount          decimal.NullDecimal `json:"_stripe_terminal_payment_amount"`
	Currency        string              `json:"_stripe_terminal_payment_currency"`
	Method          string              `json:"_stripe_terminal_payment_method"`
}

// Succeeded reports whether the record caches a successful payment.
func (r PaymentRecord) Succeeded() bool {
	return r.Status == PaymentStatusSucceeded
}

// Validate enforces that a succeeded record names both its intent and its charge.
func (r PaymentRecord) Validate() error {
	switch r.Status {
	case PaymentStatusNone, PaymentStatusSucceeded, PaymentStatusFailed:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, r.Status)
	}
	if r.Status == PaymentStatusSucceeded && (r.PaymentIntentID == "" || r.ChargeID == "") {
		return fmt.Errorf("%w: succeeded record requires payment intent and charge ids", ErrInvalidRecord)
	}
	return nil
}

// Meta flattens the record into its six persisted keys. Unset values are empty strings.
func (r PaymentRecord) Meta() map[string]string {
	amount := ""
	if r.Amount.Valid {
		amount = r.Amount.Decimal.String()
	}
	return map[string]string{
		MetaPaymentIntentID: r.PaymentIntentID,
		MetaChargeID:        r.ChargeID,
		MetaPaymentStatus:   string(r.Status),
		MetaPaymentAmount:   amount,
		MetaPaymentCurrency: r.Currency,
		MetaPaymentMethod:   r.Method,
	}
}

// RecordFromMeta rebuilds a record from its persisted keys.
func RecordFromMeta(meta map[string]string) (PaymentRecord, error) {
	r := PaymentRecord{
		PaymentIntentID: meta[MetaPaymentIntentID],
		ChargeID:        meta[MetaChargeID],
		Status:          PaymentStatus(meta[MetaPaymentStatus]),
		Currency:        meta[MetaPaymentCurrency],
		Method:          meta[MetaPaymentMethod],
	}
	if raw := meta[MetaPaymentAmount]; raw != "" {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return PaymentRecord{}, fmt.Errorf("%w: amount %q: %v", ErrInvalidRecord, raw, err)
		}
		r.Amount = decimal.NewNullDecimal(amount)
	}
	return r, nil
}
