package reconciler

import (
	"context"

	apierrors "github.com/CedrosPay/terminal/internal/errors"
	"github.com/CedrosPay/terminal/internal/money"
	"github.com/CedrosPay/terminal/internal/payment"
)

// ListReaders returns the readers registered on the account.
func (r *Reconciler) ListReaders(ctx context.Context) ([]payment.Reader, error) {
	readers, err := r.processor.ListReaders(ctx)
	if err != nil {
		return nil, err
	}
	if readers == nil {
		readers = []payment.Reader{}
	}
	return readers, nil
}

// GetReader returns one reader, including its current action.
func (r *Reconciler) GetReader(ctx context.Context, readerID string) (payment.Reader, error) {
	if readerID == "" {
		return payment.Reader{}, apierrors.New(apierrors.ErrCodeMissingParams, "Reader is required")
	}
	return r.processor.GetReader(ctx, readerID)
}

// ServiceStatus reports that the processor credentials work.
type ServiceStatus struct {
	Valid               bool     `json:"valid"`
	Country             string   `json:"country"`
	TestMode            bool     `json:"test_mode"`
	SupportedCurrencies []string `json:"supported_currencies"`
}

// ValidateService performs one account lookup round-trip against the processor.
func (r *Reconciler) ValidateService(ctx context.Context) (ServiceStatus, error) {
	country, err := r.processor.AccountCountry(ctx)
	if err != nil {
		return ServiceStatus{}, err
	}
	if country == "" {
		country = money.DefaultCountry
	}
	return ServiceStatus{
		Valid:               true,
		Country:             country,
		TestMode:            r.cfg.TestMode,
		SupportedCurrencies: money.SupportedCurrencies(country),
	}, nil
}

// CreateConnectionToken issues a token for SDK-driven readers, optionally scoped to location.
func (r *Reconciler) CreateConnectionToken(ctx context.Context, location string) (string, error) {
	return r.processor.CreateConnectionToken(ctx, location)
}

// SimulatePayment presents a test card on a simulated reader. Only available in test mode.
func (r *Reconciler) SimulatePayment(ctx context.Context, readerID string) (payment.Reader, error) {
	if !r.cfg.TestMode {
		return payment.Reader{}, apierrors.New(apierrors.ErrCodeTestModeOnly, "Simulated payments are only available in test mode")
	}
	if readerID == "" {
		return payment.Reader{}, apierrors.New(apierrors.ErrCodeMissingParams, "Reader is required")
	}
	reader, err := r.processor.PresentPaymentMethod(ctx, readerID)
	if err != nil {
		return payment.Reader{}, err
	}
	r.log(ctx).Info().Str("reader_id", readerID).Msg("reconciler.simulated_payment")
	return reader, nil
}
