package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	apierrors "github.com/CedrosPay/terminal/internal/errors"
	"github.com/CedrosPay/terminal/internal/orders"
	"github.com/CedrosPay/terminal/internal/payment"
	"github.com/CedrosPay/terminal/internal/reconciler"
)

// poller is one polling run. Its loop goroutine owns the ticker and the timeout timer.
type poller struct {
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	inFlight atomic.Bool
	order    OrderRef
	intentID string
	deadline time.Time
}

// startPollingLocked starts a poller for the current intent. A zero deadline
// starts a full PollTimeout window. Callers hold mu and have stopped any
// previous poller.
func (o *Orchestrator) startPollingLocked(deadline time.Time) {
	if deadline.IsZero() {
		deadline = time.Now().Add(o.cfg.PollTimeout)
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &poller{cancel: cancel, order: o.order, intentID: o.intentID, deadline: deadline}
	o.poll = p

	p.wg.Add(1)
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		defer p.wg.Done()
		o.pollLoop(ctx, p)
	}()
}

// stopPolling cancels the active poller and waits for its goroutines, including a
// status request still in flight. It returns the stopped poller's deadline, or
// the zero time when nothing was polling. Callers hold opMu but not mu.
func (o *Orchestrator) stopPolling() time.Time {
	o.mu.Lock()
	p := o.poll
	o.poll = nil
	o.mu.Unlock()

	if p == nil {
		return time.Time{}
	}
	p.cancel()
	p.wg.Wait()
	return p.deadline
}

func (o *Orchestrator) pollLoop(ctx context.Context, p *poller) {
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()
	timeout := time.NewTimer(time.Until(p.deadline))
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timeout.C:
			o.pollTimedOut(p)
			return
		case <-ticker.C:
			if !p.inFlight.CompareAndSwap(false, true) {
				o.logger.Debug().Str("payment_intent_id", p.intentID).Msg("orchestrator.poll_skipped")
				continue
			}
			p.wg.Add(1)
			o.bg.Add(1)
			go func() {
				defer o.bg.Done()
				defer p.wg.Done()
				defer p.inFlight.Store(false)
				o.pollOnce(ctx, p)
			}()
		}
	}
}

type pollOutcome int

const (
	pollPending pollOutcome = iota
	pollPaid
	pollDeclined
	pollFailed
)

// classify maps a status snapshot onto exactly one outcome.
func classify(s reconciler.StatusSnapshot) pollOutcome {
	switch {
	case s.IsPaid || s.PaymentIntentStatus == payment.StatusSucceeded:
		return pollPaid
	case s.PaymentIntentStatus == payment.StatusRequiresPaymentMethod && s.LastPaymentError != nil:
		return pollDeclined
	case s.PaymentIntentStatus == payment.StatusCanceled || s.Status == orders.StatusCancelled:
		return pollFailed
	default:
		return pollPending
	}
}

func (o *Orchestrator) pollOnce(ctx context.Context, p *poller) {
	snapshot, err := o.api.CheckPaymentStatus(ctx, p.order)

	o.mu.Lock()
	// A stopped poller never touches the session, even with a response in hand.
	if ctx.Err() != nil || o.poll != p {
		o.mu.Unlock()
		return
	}

	if err != nil {
		apiErr := apierrors.As(err)
		switch apiErr.Code.Kind() {
		case apierrors.KindValidation, apierrors.KindAuthorization, apierrors.KindNotFound:
			o.haltLocked(p)
			o.failLocked(apiErr.Message, false)
		default:
			o.logActivity(ActivityWarning, "Status check failed, still waiting: "+apiErr.Message)
		}
		o.mu.Unlock()
		return
	}

	switch classify(snapshot) {
	case pollPaid:
		o.haltLocked(p)
		outcome := Outcome{
			Order:           p.order,
			PaymentIntentID: p.intentID,
			TransactionID:   snapshot.TransactionID,
			ReturnURL:       snapshot.ReturnURL,
		}
		ok := o.succeedLocked(outcome)
		o.mu.Unlock()
		if ok {
			o.finalize(context.WithoutCancel(ctx), outcome)
		}
		return

	case pollDeclined:
		if o.lingeringDeclineLocked(snapshot.LastPaymentError) {
			break
		}
		o.haltLocked(p)
		o.declineLocked(snapshot.LastPaymentError)

	case pollFailed:
		o.haltLocked(p)
		o.failLocked("Payment was canceled", false)

	case pollPending:
		// The reader has picked up the new attempt, so any decline from here on is fresh.
		o.staleDecline = nil
		if snapshot.PaymentIntentStatus == payment.StatusProcessing && o.state == StateAwaitingCard {
			_ = o.transitionLocked(StateProcessing, "Processing payment")
		}
	}
	o.mu.Unlock()
}

// lingeringDeclineLocked reports whether perr is the decline already shown for this
// intent rather than the outcome of the attempt started since. Charge ids tell attempts
// apart. Without them, a decline counts as stale until a poll has seen the intent
// without an error.
func (o *Orchestrator) lingeringDeclineLocked(perr *payment.PaymentError) bool {
	prev := o.staleDecline
	if prev == nil {
		return false
	}
	if prev.ChargeID != "" && perr.ChargeID != "" {
		return prev.SameAttempt(perr)
	}
	return true
}

// pollTimedOut gives up on the attempt. The intent is forgotten: past this point its
// state is ambiguous and the operator starts again from a new intent.
func (o *Orchestrator) pollTimedOut(p *poller) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.poll != p {
		return
	}
	o.haltLocked(p)

	msg := "Timed out waiting for the card reader"
	_ = o.transitionLocked(StateTimedOut, msg)
	o.resetPaymentLocked()
	o.view.ShowError(LayerPayment, msg)
	o.view.ShowBanner(BannerError, msg)
	o.logActivity(ActivityError, msg)
	o.settleLocked()
}

// haltLocked retires p from inside its own goroutines, where waiting on it would deadlock.
func (o *Orchestrator) haltLocked(p *poller) {
	if o.poll == p {
		o.poll = nil
	}
	p.cancel()
}
