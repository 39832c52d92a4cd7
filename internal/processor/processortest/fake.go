// Package processortest provides an in-memory processor.Client for tests.
package processortest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	apierrors "github.com/CedrosPay/terminal/internal/errors"
	"github.com/CedrosPay/terminal/internal/payment"
)

// Fake is an in-memory processor. Errors set in Errors, keyed by operation name
// (see the processor.Op constants), are returned instead of performing the operation.
type Fake struct {
	mu sync.Mutex

	Country    string
	CountryErr error
	Errors     map[string]error

	// Event and WebhookErr are returned by ParseWebhook. LastSecret records the secret used.
	Event      payment.Event
	WebhookErr error
	LastSecret string

	intents map[string]payment.PaymentIntent
	created []string
	charges map[string]payment.Charge
	readers map[string]payment.Reader
	calls   map[string]int
	lastReq payment.CreateIntentParams
	nextID  int
	clock   time.Time
}

// New returns an empty fake for a US account.
func New() *Fake {
	return &Fake{
		Country: "US",
		Errors:  make(map[string]error),
		intents: make(map[string]payment.PaymentIntent),
		charges: make(map[string]payment.Charge),
		readers: make(map[string]payment.Reader),
		calls:   make(map[string]int),
		clock:   time.Unix(1700000000, 0).UTC(),
	}
}

// Calls returns how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// TotalCalls returns the number of network operations invoked.
func (f *Fake) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for op, c := range f.calls {
		if op != "parse_webhook" {
			n += c
		}
	}
	return n
}

// LastCreate returns the parameters of the most recent CreatePaymentIntent call.
func (f *Fake) LastCreate() payment.CreateIntentParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}

// AddIntent stores pi, keeping creation order for listing.
func (f *Fake) AddIntent(pi payment.PaymentIntent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addIntentLocked(pi)
}

func (f *Fake) addIntentLocked(pi payment.PaymentIntent) {
	if pi.Metadata == nil {
		pi.Metadata = map[string]string{}
	}
	if pi.Created.IsZero() {
		f.clock = f.clock.Add(time.Second)
		pi.Created = f.clock
	}
	if _, ok := f.intents[pi.ID]; !ok {
		f.created = append(f.created, pi.ID)
	}
	f.intents[pi.ID] = pi
}

// SetIntentStatus changes the status of a stored intent.
func (f *Fake) SetIntentStatus(id string, status payment.IntentStatus, lastErr *payment.PaymentError) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pi := f.intents[id]
	pi.Status = status
	pi.LastPaymentError = lastErr
	f.intents[id] = pi
}

// Intent returns a stored intent.
func (f *Fake) Intent(id string) (payment.PaymentIntent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pi, ok := f.intents[id]
	return pi, ok
}

// AddCharge stores ch and attaches it to its parent intent.
func (f *Fake) AddCharge(ch payment.Charge) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.charges[ch.ID] = ch
	if pi, ok := f.intents[ch.PaymentIntentID]; ok {
		pi.Charges = append([]payment.Charge{ch}, pi.Charges...)
		f.intents[pi.ID] = pi
	}
}

// Succeed marks intent id succeeded with a paid card_present charge.
func (f *Fake) Succeed(id, chargeID, brand string) payment.Charge {
	f.mu.Lock()
	pi := f.intents[id]
	pi.Status = payment.StatusSucceeded
	pi.LastPaymentError = nil
	f.intents[id] = pi
	f.mu.Unlock()

	ch := payment.Charge{
		ID:                chargeID,
		Amount:            pi.Amount,
		Currency:          pi.Currency,
		Paid:              true,
		Captured:          true,
		Status:            "succeeded",
		PaymentIntentID:   id,
		PaymentMethodType: "card_present",
		CardBrand:         brand,
		Last4:             "4242",
	}
	f.AddCharge(ch)
	return ch
}

// AddReader registers a reader.
func (f *Fake) AddReader(r payment.Reader) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readers[r.ID] = r
}

// Reader returns a stored reader.
func (f *Fake) Reader(id string) (payment.Reader, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.readers[id]
	return r, ok
}

func (f *Fake) begin(op string) error {
	f.calls[op]++
	return f.Errors[op]
}

func (f *Fake) CreatePaymentIntent(_ context.Context, req payment.CreateIntentParams) (payment.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("create_payment_intent"); err != nil {
		return payment.PaymentIntent{}, err
	}
	f.lastReq = req
	f.nextID++
	metadata := make(map[string]string, len(req.Metadata))
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	pi := payment.PaymentIntent{
		ID:                 fmt.Sprintf("pi_test_%d", f.nextID),
		Amount:             req.Amount,
		Currency:           req.Currency,
		Status:             payment.StatusRequiresPaymentMethod,
		CaptureMethod:      req.CaptureMethod,
		PaymentMethodTypes: append([]string(nil), req.PaymentMethodTypes...),
		Metadata:           metadata,
	}
	f.addIntentLocked(pi)
	return f.intents[pi.ID], nil
}

func (f *Fake) GetPaymentIntent(_ context.Context, id string) (payment.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("get_payment_intent"); err != nil {
		return payment.PaymentIntent{}, err
	}
	pi, ok := f.intents[id]
	if !ok {
		return payment.PaymentIntent{}, notFound(apierrors.ErrCodePaymentIntentNotFound, id)
	}
	return pi, nil
}

func (f *Fake) CancelPaymentIntent(_ context.Context, id string) (payment.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("cancel_payment_intent"); err != nil {
		return payment.PaymentIntent{}, err
	}
	pi, ok := f.intents[id]
	if !ok {
		return payment.PaymentIntent{}, notFound(apierrors.ErrCodePaymentIntentNotFound, id)
	}
	pi.Status = payment.StatusCanceled
	f.intents[id] = pi
	return pi, nil
}

func (f *Fake) CapturePaymentIntent(_ context.Context, id string) (payment.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("capture_payment_intent"); err != nil {
		return payment.PaymentIntent{}, err
	}
	pi, ok := f.intents[id]
	if !ok {
		return payment.PaymentIntent{}, notFound(apierrors.ErrCodePaymentIntentNotFound, id)
	}
	pi.Status = payment.StatusSucceeded
	for i := range pi.Charges {
		pi.Charges[i].Captured = true
	}
	f.intents[id] = pi
	return pi, nil
}

// ListPaymentIntents returns intents most recent first.
func (f *Fake) ListPaymentIntents(_ context.Context, limit int) ([]payment.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("list_payment_intents"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}
	out := make([]payment.PaymentIntent, 0, len(f.created))
	for i := len(f.created) - 1; i >= 0; i-- {
		out = append(out, f.intents[f.created[i]])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Created.After(out[j].Created) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *Fake) GetCharge(_ context.Context, id string) (payment.Charge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("get_charge"); err != nil {
		return payment.Charge{}, err
	}
	ch, ok := f.charges[id]
	if !ok {
		return payment.Charge{}, notFound(apierrors.ErrCodePaymentIntentNotFound, id)
	}
	return ch, nil
}

func (f *Fake) LatestCharge(_ context.Context, intentID string) (payment.Charge, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("latest_charge"); err != nil {
		return payment.Charge{}, false, err
	}
	pi, ok := f.intents[intentID]
	if !ok || len(pi.Charges) == 0 {
		return payment.Charge{}, false, nil
	}
	return pi.Charges[0], true, nil
}

func (f *Fake) AccountCountry(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("account_country"); err != nil {
		return "", err
	}
	if f.CountryErr != nil {
		return "", f.CountryErr
	}
	return f.Country, nil
}

func (f *Fake) CreateConnectionToken(_ context.Context, location string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("create_connection_token"); err != nil {
		return "", err
	}
	return "pst_test_" + location, nil
}

// ListReaders returns readers sorted by id.
func (f *Fake) ListReaders(_ context.Context) ([]payment.Reader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("list_readers"); err != nil {
		return nil, err
	}
	out := make([]payment.Reader, 0, len(f.readers))
	for _, r := range f.readers {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *Fake) GetReader(_ context.Context, readerID string) (payment.Reader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("get_reader"); err != nil {
		return payment.Reader{}, err
	}
	r, ok := f.readers[readerID]
	if !ok {
		return payment.Reader{}, notFound(apierrors.ErrCodeReaderNotFound, readerID)
	}
	return r, nil
}

// ProcessPaymentIntent records an in-progress action on the reader.
func (f *Fake) ProcessPaymentIntent(_ context.Context, readerID, intentID string, _ payment.ProcessConfig) (payment.Reader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("process_payment_intent"); err != nil {
		return payment.Reader{}, err
	}
	r, ok := f.readers[readerID]
	if !ok {
		return payment.Reader{}, notFound(apierrors.ErrCodeReaderNotFound, readerID)
	}
	r.Action = &payment.ReaderAction{
		Type:            "process_payment_intent",
		Status:          "in_progress",
		PaymentIntentID: intentID,
	}
	f.readers[readerID] = r
	return r, nil
}

func (f *Fake) CancelReaderAction(_ context.Context, readerID string) (payment.Reader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("cancel_reader_action"); err != nil {
		return payment.Reader{}, err
	}
	r, ok := f.readers[readerID]
	if !ok {
		return payment.Reader{}, notFound(apierrors.ErrCodeReaderNotFound, readerID)
	}
	r.Action = nil
	f.readers[readerID] = r
	return r, nil
}

// PresentPaymentMethod completes the reader's in-progress intent with a test card.
func (f *Fake) PresentPaymentMethod(ctx context.Context, readerID string) (payment.Reader, error) {
	f.mu.Lock()
	if err := f.begin("present_payment_method"); err != nil {
		f.mu.Unlock()
		return payment.Reader{}, err
	}
	r, ok := f.readers[readerID]
	if !ok {
		f.mu.Unlock()
		return payment.Reader{}, notFound(apierrors.ErrCodeReaderNotFound, readerID)
	}
	var intentID string
	if r.Action != nil {
		intentID = r.Action.PaymentIntentID
		r.Action.Status = "succeeded"
		f.readers[readerID] = r
	}
	f.nextID++
	chargeID := fmt.Sprintf("ch_test_%d", f.nextID)
	f.mu.Unlock()

	if intentID != "" {
		f.Succeed(intentID, chargeID, "visa")
	}
	return r, nil
}

func (f *Fake) ParseWebhook(_ []byte, _ string, secret string) (payment.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["parse_webhook"]++
	f.LastSecret = secret
	if secret == "" {
		return payment.Event{}, apierrors.New(apierrors.ErrCodeWebhookSecretMissing, "Webhook signing secret is not configured")
	}
	if f.WebhookErr != nil {
		return payment.Event{}, f.WebhookErr
	}
	return f.Event, nil
}

func notFound(code apierrors.ErrorCode, id string) *apierrors.Error {
	return apierrors.Newf(code, "No such resource: '%s'", id)
}
