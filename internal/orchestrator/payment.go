package orchestrator

import (
	"context"
	"fmt"
	"time"

	apierrors "github.com/CedrosPay/terminal/internal/errors"
	"github.com/CedrosPay/terminal/internal/payment"
)

// Pay creates an intent for the order and hands it to the connected reader, then polls
// until the payment resolves. When an earlier attempt for the same order left an intent
// behind, that intent is handed to the reader again instead of creating a duplicate.
func (o *Orchestrator) Pay(ctx context.Context, req PaymentRequest) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	o.mu.Lock()
	if o.reader == nil {
		o.mu.Unlock()
		return o.reject(apierrors.New(apierrors.ErrCodeReaderNotConnected, "Connect a reader first"))
	}
	if o.state != StateReaderConnected {
		defer o.mu.Unlock()
		return transitionError(o.state, StateAwaitingCard)
	}
	o.mu.Unlock()

	if req.OrderID == "" {
		return o.reject(apierrors.New(apierrors.ErrCodeMissingField, "Order id is required").WithDetail("field", "order_id"))
	}
	if !req.Amount.IsPositive() {
		return o.reject(apierrors.New(apierrors.ErrCodeInvalidAmount, "Amount must be greater than zero"))
	}

	order := OrderRef{ID: req.OrderID, Key: req.OrderKey}

	o.mu.Lock()
	reuse := o.intentID != "" && o.order == order
	if !reuse {
		o.resetPaymentLocked()
	}
	o.order = order
	o.amount = req.Amount
	reader := *o.reader
	o.view.SetLoading(true)
	o.view.SetActions(Actions{})
	o.mu.Unlock()

	if reuse {
		return o.rehandoff(ctx, reader)
	}

	result, err := o.api.CreatePaymentIntent(ctx, order, reader.ID, req.Amount)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.view.SetLoading(false)

	if err != nil {
		apiErr := apierrors.As(err)
		// The intent exists even though the reader refused it; keep it for Retry.
		if id, _ := apiErr.Details["payment_intent_id"].(string); id != "" && !terminalKind(apiErr) {
			o.intentID = id
			o.failLocked("Reader could not start the payment: "+apiErr.Message, true)
			return err
		}
		o.failLocked(apiErr.Message, false)
		return err
	}

	o.intentID = result.PaymentIntent.ID
	o.logActivity(ActivityInfo, fmt.Sprintf("Payment intent %s sent to %s for order %s", result.PaymentIntent.ID, readerName(reader), order.ID))
	o.awaitCardLocked(reader)
	return nil
}

// Retry hands the existing intent to the same reader again after a decline or a reader
// failure. Only the reader step is re-issued; no new intent is created.
func (o *Orchestrator) Retry(ctx context.Context) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	o.mu.Lock()
	if o.reader == nil {
		o.mu.Unlock()
		return o.reject(apierrors.New(apierrors.ErrCodeReaderNotConnected, "Connect a reader first"))
	}
	if o.intentID == "" || !canTransition(o.state, StateRetrying) {
		defer o.mu.Unlock()
		return transitionError(o.state, StateRetrying)
	}
	reader := *o.reader
	o.view.SetLoading(true)
	o.view.SetActions(Actions{})
	o.mu.Unlock()

	return o.rehandoff(ctx, reader)
}

// rehandoff runs the retry-payment call. Callers hold opMu.
func (o *Orchestrator) rehandoff(ctx context.Context, reader payment.Reader) error {
	o.mu.Lock()
	_ = o.transitionLocked(StateRetrying, "Retrying on "+readerName(reader))
	order := o.order
	o.mu.Unlock()

	result, err := o.api.RetryPayment(ctx, order, reader.ID)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.view.SetLoading(false)

	if err != nil {
		apiErr := apierrors.As(err)
		if apiErr.Code == apierrors.ErrCodeCardDeclined {
			o.declineLocked(&payment.PaymentError{Code: string(apiErr.Code), Message: apiErr.Message})
			return err
		}
		o.failLocked(apiErr.Message, false)
		return err
	}

	if result.PaymentIntentID != o.intentID {
		o.logActivity(ActivityInfo, fmt.Sprintf("Previous intent could not be reused; created %s", result.PaymentIntentID))
		o.intentID = result.PaymentIntentID
		o.staleDecline = nil
	} else {
		o.logActivity(ActivityInfo, fmt.Sprintf("Payment intent %s sent to %s again", o.intentID, readerName(reader)))
	}
	o.awaitCardLocked(reader)
	return nil
}

// Cancel stops polling, then cancels the current intent. Polling is fully stopped before
// the cancel request goes out, so no status observed afterwards can change the session.
func (o *Orchestrator) Cancel(ctx context.Context) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	deadline := o.stopPolling()

	o.mu.Lock()
	if !canTransition(o.state, StateCanceled) || o.intentID == "" {
		defer o.mu.Unlock()
		return transitionError(o.state, StateCanceled)
	}
	order, intentID := o.order, o.intentID
	readerID := ""
	if o.reader != nil {
		readerID = o.reader.ID
	}
	o.view.SetActions(Actions{})
	o.mu.Unlock()

	pi, err := o.api.CancelPayment(ctx, order, intentID, readerID)

	o.mu.Lock()
	if err != nil {
		msg := "Unable to cancel: " + apierrors.As(err).Message
		o.view.ShowError(LayerPayment, msg)
		o.logActivity(ActivityError, msg)
		o.resumeLocked(deadline)
		o.mu.Unlock()
		return err
	}

	switch pi.Status {
	case payment.StatusCanceled:
		o.resetPaymentLocked()
		_ = o.transitionLocked(StateCanceled, "Payment canceled")
		o.view.SetActions(Actions{})
		o.view.ShowBanner(BannerInfo, "Payment canceled")
		o.logActivity(ActivityInfo, "Payment "+intentID+" canceled")
		o.mu.Unlock()
		return nil

	case payment.StatusSucceeded:
		outcome := Outcome{Order: order, PaymentIntentID: intentID}
		ok := o.succeedLocked(outcome)
		o.mu.Unlock()
		if ok {
			o.finalize(ctx, outcome)
		}
		return apierrors.New(apierrors.ErrCodeInvalidRequest, "Payment already succeeded")

	default:
		msg := fmt.Sprintf("Payment can no longer be canceled (status %s)", pi.Status)
		o.view.ShowError(LayerPayment, msg)
		o.logActivity(ActivityWarning, msg)
		o.resumeLocked(deadline)
		o.mu.Unlock()
		return apierrors.New(apierrors.ErrCodeInvalidRequest, msg).WithDetail("status", string(pi.Status))
	}
}

// CheckStatus runs a full reconciliation against the processor. It is the recovery path
// when polling timed out or missed an update.
func (o *Orchestrator) CheckStatus(ctx context.Context) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	o.mu.Lock()
	order, intentID := o.order, o.intentID
	state := o.state
	o.mu.Unlock()

	if order.ID == "" {
		return o.reject(apierrors.New(apierrors.ErrCodeMissingField, "No order to check").WithDetail("field", "order_id"))
	}
	if state == StateSucceeded {
		return nil
	}

	result, err := o.api.CheckStripeStatus(ctx, order)
	if err != nil {
		apiErr := apierrors.As(err)
		if apiErr.Code.Kind() == apierrors.KindNotFound {
			o.mu.Lock()
			o.view.ShowBanner(BannerInfo, "No payment found for this order yet")
			o.mu.Unlock()
			o.logActivity(ActivityWarning, "Status check: "+apiErr.Message)
			return err
		}
		o.mu.Lock()
		o.view.ShowError(LayerPayment, "Status check failed: "+apiErr.Message)
		o.mu.Unlock()
		o.logActivity(ActivityError, "Status check failed: "+apiErr.Message)
		return err
	}

	paid := result.OrderPaid || (result.Charge != nil && result.Charge.Paid)
	if !paid {
		msg := fmt.Sprintf("Payment status: %s", result.PaymentIntent.Status)
		o.mu.Lock()
		o.view.ShowBanner(BannerInfo, msg)
		o.mu.Unlock()
		o.logActivity(ActivityInfo, msg)
		return nil
	}

	o.stopPolling()

	outcome := Outcome{Order: order, PaymentIntentID: result.PaymentIntent.ID, ReturnURL: result.ReturnURL}
	if outcome.PaymentIntentID == "" {
		outcome.PaymentIntentID = intentID
	}
	if result.Charge != nil {
		outcome.TransactionID = result.Charge.ID
	}

	o.mu.Lock()
	ok := o.succeedLocked(outcome)
	o.mu.Unlock()
	if !ok {
		return transitionError(state, StateSucceeded)
	}
	o.finalize(ctx, outcome)
	return nil
}

// SimulatePayment presents a test card on the connected reader. Test mode only.
func (o *Orchestrator) SimulatePayment(ctx context.Context) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	o.mu.Lock()
	if o.reader == nil {
		o.mu.Unlock()
		return o.reject(apierrors.New(apierrors.ErrCodeReaderNotConnected, "Connect a reader first"))
	}
	if o.intentID == "" || !o.state.Active() {
		defer o.mu.Unlock()
		return apierrors.New(apierrors.ErrCodeInvalidRequest, "No payment is waiting on the reader")
	}
	readerID := o.reader.ID
	o.mu.Unlock()

	if _, err := o.api.SimulatePayment(ctx, readerID); err != nil {
		o.logActivity(ActivityError, "Simulated card failed: "+apierrors.As(err).Message)
		return err
	}
	o.logActivity(ActivityInfo, "Simulated card presented on "+readerID)
	return nil
}

// reject reports an error that leaves the session unchanged.
func (o *Orchestrator) reject(err *apierrors.Error) error {
	o.mu.Lock()
	o.view.ShowError(LayerPayment, err.Message)
	o.mu.Unlock()
	o.logActivity(ActivityError, err.Message)
	return err
}

func (o *Orchestrator) awaitCardLocked(reader payment.Reader) {
	_ = o.transitionLocked(StateAwaitingCard, "Present card on "+readerName(reader))
	o.view.SetActions(Actions{Cancel: true})
	o.view.ShowBanner(BannerInfo, "Waiting for card on "+readerName(reader))
	o.startPollingLocked(time.Time{})
}

// resumeLocked restarts polling after a cancel that did not go through. Polling keeps
// the deadline of the run that was stopped.
func (o *Orchestrator) resumeLocked(deadline time.Time) {
	switch {
	case o.state.Active():
		o.view.SetActions(Actions{Cancel: true})
		o.startPollingLocked(deadline)
	case o.state == StateDeclined:
		o.view.SetActions(Actions{Retry: true, Cancel: true})
	}
}

func (o *Orchestrator) declineLocked(perr *payment.PaymentError) {
	msg := "Card declined"
	if perr != nil && perr.Message != "" {
		msg = "Card declined: " + perr.Message
	}
	_ = o.transitionLocked(StateDeclined, msg)
	if perr != nil {
		stale := *perr
		o.staleDecline = &stale
	}
	o.view.ShowError(LayerPayment, msg)
	o.view.ShowBanner(BannerError, msg)
	o.view.SetActions(Actions{Retry: true, Cancel: true})
	o.logActivity(ActivityError, msg)
}

// failLocked ends the attempt and returns to the connected reader. Unless keepIntent is
// set the intent is forgotten and the next Pay starts over.
func (o *Orchestrator) failLocked(message string, keepIntent bool) {
	_ = o.transitionLocked(StateFailed, message)
	if !keepIntent {
		o.resetPaymentLocked()
	}
	o.view.ShowError(LayerPayment, message)
	o.view.ShowBanner(BannerError, message)
	o.logActivity(ActivityError, message)
	o.settleLocked()
}

func (o *Orchestrator) settleLocked() {
	_ = o.transitionLocked(StateReaderConnected, "Ready")
	actions := o.connectedActionsLocked()
	actions.Retry = o.intentID != ""
	o.view.SetActions(actions)
}

func (o *Orchestrator) succeedLocked(outcome Outcome) bool {
	if err := o.transitionLocked(StateSucceeded, "Payment received"); err != nil {
		o.logger.Warn().Err(err).Msg("orchestrator.success_ignored")
		return false
	}
	o.staleDecline = nil
	o.view.SetActions(Actions{})
	o.view.ShowBanner(BannerSuccess, "Payment successful")
	msg := "Payment succeeded for order " + outcome.Order.ID
	if outcome.TransactionID != "" {
		msg += " (transaction " + outcome.TransactionID + ")"
	}
	o.logActivity(ActivitySuccess, msg)
	return true
}

// finalize tries each finalizer in order. When none handles the order the operator is
// sent to the return URL after the redirect delay.
func (o *Orchestrator) finalize(ctx context.Context, outcome Outcome) {
	for _, f := range o.finalizers {
		handled, err := f.Finalize(ctx, outcome)
		if err != nil {
			o.logActivity(ActivityWarning, fmt.Sprintf("Finalizer %s failed: %v", f.Name(), err))
			continue
		}
		if handled {
			o.logActivity(ActivityInfo, "Order finalized by "+f.Name())
			return
		}
	}

	o.mu.Lock()
	o.view.ShowBanner(BannerSuccess, "Payment successful. Opening the order.")
	o.mu.Unlock()
	if outcome.ReturnURL == "" {
		return
	}

	timer := time.NewTimer(o.cfg.RedirectDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	if err := o.nav.Navigate(outcome.ReturnURL); err != nil {
		o.logActivity(ActivityError, "Unable to open the order: "+err.Error())
	}
}

// terminalKind reports errors the operator must fix; retrying the same request cannot help.
func terminalKind(err *apierrors.Error) bool {
	switch err.Code.Kind() {
	case apierrors.KindValidation, apierrors.KindAuthorization, apierrors.KindNotFound:
		return true
	}
	return false
}
