package orchestrator

import (
	"context"
	"fmt"

	apierrors "github.com/CedrosPay/terminal/internal/errors"
	"github.com/CedrosPay/terminal/internal/payment"
)

// Init starts a new session: validate the service, load readers, then reconnect the
// remembered reader when it is still online. A failure at either step leaves a distinct
// error state so the operator knows which layer failed.
func (o *Orchestrator) Init(ctx context.Context) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	o.stopPolling()

	o.mu.Lock()
	o.state = StateIdle
	o.readers = nil
	o.reader = nil
	o.order = OrderRef{}
	o.resetPaymentLocked()
	o.view.SetLoading(true)
	o.view.SetActions(Actions{})
	_ = o.transitionLocked(StateServiceValidating, "Checking payment service")
	o.mu.Unlock()

	status, err := o.api.ValidateService(ctx)
	if err == nil && !status.Valid {
		err = apierrors.New(apierrors.ErrCodeConfigError, "Payment service is not configured")
	}
	if err != nil {
		msg := "Payment service unavailable: " + apierrors.As(err).Message
		o.mu.Lock()
		_ = o.transitionLocked(StateServiceError, msg)
		o.view.SetLoading(false)
		o.view.ShowError(LayerService, msg)
		o.mu.Unlock()
		o.logActivity(ActivityError, msg)
		return err
	}

	o.mu.Lock()
	_ = o.transitionLocked(StateReadersLoading, "Loading readers")
	o.mu.Unlock()

	readers, err := o.api.ListReaders(ctx)
	if err != nil {
		msg := "Unable to load readers: " + apierrors.As(err).Message
		o.mu.Lock()
		_ = o.transitionLocked(StateReadersError, msg)
		o.view.SetLoading(false)
		o.view.ShowError(LayerReaders, msg)
		o.mu.Unlock()
		o.logActivity(ActivityError, msg)
		return err
	}

	saved, memErr := o.memory.Load()
	if memErr != nil {
		o.logActivity(ActivityWarning, "Ignoring saved reader: "+memErr.Error())
		saved = ""
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.readers = readers
	o.view.SetLoading(false)

	if r, ok := findReader(readers, saved); ok && r.Online() {
		o.reader = &r
		o.view.ShowReaders(readers, r.ID)
		o.view.SetActions(o.connectedActionsLocked())
		_ = o.transitionLocked(StateReaderConnected, "Connected to "+readerName(r))
		o.logActivity(ActivityInfo, "Reconnected to "+readerName(r))
		return nil
	}

	o.view.ShowReaders(readers, "")
	msg := "Select a reader"
	if len(readers) == 0 {
		msg = "No readers registered"
	}
	_ = o.transitionLocked(StateNoReader, msg)
	o.logActivity(ActivityInfo, fmt.Sprintf("Found %d reader(s)", len(readers)))
	return nil
}

// Connect selects an online reader and remembers it. A new connection replaces the old one.
func (o *Orchestrator) Connect(readerID string) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	o.mu.Lock()
	defer o.mu.Unlock()

	if !canTransition(o.state, StateReaderConnected) {
		return transitionError(o.state, StateReaderConnected)
	}
	r, ok := findReader(o.readers, readerID)
	if !ok {
		return apierrors.Newf(apierrors.ErrCodeReaderNotFound, "Reader %s not found", readerID)
	}
	if !r.Online() {
		msg := readerName(r) + " is offline"
		o.view.ShowError(LayerReaders, msg)
		o.logActivity(ActivityError, msg)
		return apierrors.New(apierrors.ErrCodeReaderOffline, msg).WithDetail("reader_id", r.ID)
	}

	if err := o.memory.Save(r.ID); err != nil {
		o.logActivity(ActivityWarning, "Unable to remember reader: "+err.Error())
	}
	o.reader = &r
	o.view.ShowReaders(o.readers, r.ID)
	o.view.SetActions(o.connectedActionsLocked())
	o.logActivity(ActivityInfo, "Connected to "+readerName(r))
	return o.transitionLocked(StateReaderConnected, "Connected to "+readerName(r))
}

// Disconnect forgets the reader. It is refused while a payment is on the reader.
func (o *Orchestrator) Disconnect() error {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	o.mu.Lock()
	defer o.mu.Unlock()

	if !canTransition(o.state, StateNoReader) {
		return transitionError(o.state, StateNoReader)
	}
	if err := o.memory.Clear(); err != nil {
		o.logActivity(ActivityWarning, "Unable to clear saved reader: "+err.Error())
	}
	o.reader = nil
	o.resetPaymentLocked()
	o.view.ShowReaders(o.readers, "")
	o.view.SetActions(Actions{})
	o.logActivity(ActivityInfo, "Reader disconnected")
	return o.transitionLocked(StateNoReader, "Select a reader")
}

func findReader(readers []payment.Reader, id string) (payment.Reader, bool) {
	if id == "" {
		return payment.Reader{}, false
	}
	for _, r := range readers {
		if r.ID == id {
			return r, true
		}
	}
	return payment.Reader{}, false
}

func readerName(r payment.Reader) string {
	if r.Label != "" {
		return r.Label
	}
	return r.ID
}
