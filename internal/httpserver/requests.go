package httpserver

import (
	"github.com/shopspring/decimal"

	apierrors "github.com/CedrosPay/terminal/internal/errors"
)

// orderAuth is embedded by every order-scoped request.
type orderAuth struct {
	OrderID  idString `json:"order_id"`
	OrderKey string   `json:"order_key"`
}

func (a orderAuth) fields() []field {
	return []field{{"order_id", a.OrderID.String()}, {"order_key", a.OrderKey}}
}

type createIntentRequest struct {
	orderAuth
	ReaderID string           `json:"reader_id"`
	Amount   *decimal.Decimal `json:"amount,omitempty"`
}

func (r createIntentRequest) validate() error {
	if err := required(append(r.fields(), field{"reader_id", r.ReaderID})...); err != nil {
		return err
	}
	if r.Amount != nil && !r.Amount.IsPositive() {
		return apierrors.New(apierrors.ErrCodeInvalidAmount, "amount must be greater than zero")
	}
	return nil
}

type intentRequest struct {
	orderAuth
	PaymentIntentID string `json:"payment_intent_id"`
	// ReaderID is optional; when set, cancel also stops the reader's in-progress action.
	ReaderID string `json:"reader_id,omitempty"`
}

func (r intentRequest) validate() error {
	return required(append(r.fields(), field{"payment_intent_id", r.PaymentIntentID})...)
}

type retryRequest struct {
	orderAuth
	ReaderID string `json:"reader_id"`
}

func (r retryRequest) validate() error {
	return required(append(r.fields(), field{"reader_id", r.ReaderID})...)
}

type statusRequest struct {
	orderAuth
}

func (r statusRequest) validate() error {
	return required(r.fields()...)
}

type readerRequest struct {
	ReaderID string `json:"reader_id"`
}

func (r readerRequest) validate() error {
	return required(field{"reader_id", r.ReaderID})
}

type connectionTokenRequest struct {
	Location string `json:"location,omitempty"`
}

func (connectionTokenRequest) validate() error { return nil }

type emptyRequest struct{}

func (emptyRequest) validate() error { return nil }
