// Package orchestrator drives a card reader payment session: reader selection, intent
// handoff, status polling, decline and retry, cancellation and order finalization.
package orchestrator

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/CedrosPay/terminal/internal/config"
	"github.com/CedrosPay/terminal/internal/payment"
)

// Config holds the session timings.
type Config struct {
	PollInterval  time.Duration
	PollTimeout   time.Duration
	RedirectDelay time.Duration
}

// DefaultConfig polls every 2s for up to 5 minutes and redirects 1.5s after success.
func DefaultConfig() Config {
	return Config{
		PollInterval:  2 * time.Second,
		PollTimeout:   5 * time.Minute,
		RedirectDelay: 1500 * time.Millisecond,
	}
}

// ConfigFrom reads the terminal section, keeping defaults for unset values.
func ConfigFrom(cfg config.TerminalConfig) Config {
	out := DefaultConfig()
	if cfg.PollInterval.Duration > 0 {
		out.PollInterval = cfg.PollInterval.Duration
	}
	if cfg.PollTimeout.Duration > 0 {
		out.PollTimeout = cfg.PollTimeout.Duration
	}
	if cfg.RedirectDelay.Duration > 0 {
		out.RedirectDelay = cfg.RedirectDelay.Duration
	}
	return out
}

// Orchestrator owns one reader payment session. Public operations are serialized;
// the poll goroutine is the only background activity.
type Orchestrator struct {
	cfg        Config
	api        API
	view       View
	memory     ReaderMemory
	finalizers []Finalizer
	nav        Navigator
	logger     zerolog.Logger
	activity   activityLog

	// opMu serializes public operations, including their network calls.
	opMu sync.Mutex
	// bg tracks every poll goroutine so Close can join them.
	bg sync.WaitGroup

	// mu guards the session below. It is never held across a network call.
	mu       sync.Mutex
	state    State
	readers  []payment.Reader
	reader   *payment.Reader
	order    OrderRef
	amount   decimal.Decimal
	intentID string
	// staleDecline is the decline already reported for the current intent. A retry keeps
	// the intent, whose last error lingers until the reader collects a new card.
	staleDecline *payment.PaymentError
	poll         *poller
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithView renders the session.
func WithView(v View) Option {
	return func(o *Orchestrator) { o.view = v }
}

// WithReaderMemory persists the connected reader between sessions.
func WithReaderMemory(m ReaderMemory) Option {
	return func(o *Orchestrator) { o.memory = m }
}

// WithFinalizers sets the finalization steps, tried in order.
func WithFinalizers(f ...Finalizer) Option {
	return func(o *Orchestrator) { o.finalizers = f }
}

// WithNavigator sets where the operator is sent after success.
func WithNavigator(n Navigator) Option {
	return func(o *Orchestrator) { o.nav = n }
}

// WithLogger sets the structured logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an idle orchestrator.
func New(cfg Config, api API, opts ...Option) *Orchestrator {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = def.PollTimeout
	}
	if cfg.RedirectDelay < 0 {
		cfg.RedirectDelay = 0
	}
	o := &Orchestrator{
		cfg:    cfg,
		api:    api,
		view:   noopView{},
		memory: &MemoryReaderMemory{},
		nav:    noopNavigator{},
		logger: zerolog.Nop(),
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current session state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Snapshot is a read-only copy of the session.
type Snapshot struct {
	State           State
	Reader          *payment.Reader
	Readers         []payment.Reader
	Order           OrderRef
	Amount          decimal.Decimal
	PaymentIntentID string
	Polling         bool
}

// Snapshot returns a copy of the session.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := Snapshot{
		State:           o.state,
		Readers:         append([]payment.Reader(nil), o.readers...),
		Order:           o.order,
		Amount:          o.amount,
		PaymentIntentID: o.intentID,
		Polling:         o.poll != nil,
	}
	if o.reader != nil {
		r := *o.reader
		s.Reader = &r
	}
	return s
}

// Activity returns the session's activity log, oldest first.
func (o *Orchestrator) Activity() []Activity {
	return o.activity.all()
}

// Errors returns the error entries of the activity log, oldest first.
// The banner only ever shows the last one.
func (o *Orchestrator) Errors() []Activity {
	return o.activity.errors()
}

// Close stops polling and waits for background work to finish.
func (o *Orchestrator) Close() error {
	o.opMu.Lock()
	defer o.opMu.Unlock()
	o.stopPolling()
	o.bg.Wait()
	return nil
}

// transitionLocked moves to the next state. Callers hold mu.
func (o *Orchestrator) transitionLocked(to State, message string) error {
	from := o.state
	if !canTransition(from, to) {
		return transitionError(from, to)
	}
	o.state = to
	o.view.SetStatus(to, message)
	o.logger.Debug().
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("orchestrator.transition")
	return nil
}

func (o *Orchestrator) logActivity(kind ActivityType, message string) {
	o.activity.add(kind, message)
	level := zerolog.InfoLevel
	switch kind {
	case ActivityError:
		level = zerolog.WarnLevel
	case ActivityWarning:
		level = zerolog.DebugLevel
	}
	o.logger.WithLevel(level).Str("activity", string(kind)).Msg(message)
}

// resetPaymentLocked forgets the current attempt. The order and reader stay.
func (o *Orchestrator) resetPaymentLocked() {
	o.intentID = ""
	o.staleDecline = nil
}

func (o *Orchestrator) connectedActionsLocked() Actions {
	return Actions{Pay: o.reader != nil}
}
