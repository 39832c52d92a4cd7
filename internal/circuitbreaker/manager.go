// Package circuitbreaker isolates the bridge from a failing processor or
// merchant callback endpoint. Each external service has its own breaker.
package circuitbreaker

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/CedrosPay/terminal/internal/config"
)

// Service names an external dependency guarded by its own breaker.
type Service string

const (
	ServiceStripe   Service = "stripe_api"
	ServiceCallback Service = "callback"
)

// Services lists every guarded service in reporting order.
var Services = []Service{ServiceStripe, ServiceCallback}

// ErrOpen is returned without calling fn while a breaker rejects requests.
var ErrOpen = errors.New("circuit breaker open")

// Policy tunes one breaker.
type Policy struct {
	MaxRequests uint32        // requests admitted while half-open
	Interval    time.Duration // closed-state window after which counts reset
	Timeout     time.Duration // time spent open before probing

	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32 // requests in the window before FailureRatio applies
}

func (p Policy) tripped(c gobreaker.Counts) bool {
	if p.ConsecutiveFailures > 0 && c.ConsecutiveFailures >= p.ConsecutiveFailures {
		return true
	}
	if p.FailureRatio <= 0 || p.MinRequests == 0 || c.Requests < p.MinRequests {
		return false
	}
	return float64(c.TotalFailures)/float64(c.Requests) >= p.FailureRatio
}

// Config configures a Manager. Services without a policy run unguarded.
type Config struct {
	Enabled  bool
	Policies map[Service]Policy

	// IsSuccessful decides which errors count against a breaker. Nil counts every error.
	IsSuccessful func(err error) bool

	// OnStateChange is told about every transition, after it is logged.
	OnStateChange func(service Service, to string)
}

// FromConfig converts the application's breaker section.
func FromConfig(cfg config.CircuitBreakerConfig) Config {
	policy := func(s config.BreakerServiceConfig) Policy {
		return Policy{
			MaxRequests:         s.MaxRequests,
			Interval:            s.Interval.Duration,
			Timeout:             s.Timeout.Duration,
			ConsecutiveFailures: s.ConsecutiveFailures,
			FailureRatio:        s.FailureRatio,
			MinRequests:         s.MinRequests,
		}
	}
	return Config{
		Enabled: cfg.Enabled,
		Policies: map[Service]Policy{
			ServiceStripe:   policy(cfg.StripeAPI),
			ServiceCallback: policy(cfg.Callback),
		},
	}
}

// DefaultConfig mirrors the shipped configuration defaults.
func DefaultConfig() Config {
	return FromConfig(config.Defaults().CircuitBreaker)
}

// Manager owns the breakers. A nil *Manager runs everything unguarded.
type Manager struct {
	breakers map[Service]*gobreaker.CircuitBreaker
}

// NewManager builds one breaker per configured service.
func NewManager(cfg Config, logger zerolog.Logger) *Manager {
	m := &Manager{breakers: make(map[Service]*gobreaker.CircuitBreaker)}
	if !cfg.Enabled {
		return m
	}
	for svc, p := range cfg.Policies {
		svc, p := svc, p
		m.breakers[svc] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:         string(svc),
			MaxRequests:  p.MaxRequests,
			Interval:     p.Interval,
			Timeout:      p.Timeout,
			ReadyToTrip:  p.tripped,
			IsSuccessful: cfg.IsSuccessful,
			OnStateChange: func(_ string, from, to gobreaker.State) {
				logger.Warn().
					Str("breaker", string(svc)).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("circuitbreaker.state_changed")
				if cfg.OnStateChange != nil {
					cfg.OnStateChange(svc, to.String())
				}
			},
		})
	}
	return m
}

func (m *Manager) breaker(svc Service) *gobreaker.CircuitBreaker {
	if m == nil {
		return nil
	}
	return m.breakers[svc]
}

// Execute runs fn through the service's breaker. A rejected call returns an
// error wrapping ErrOpen.
func (m *Manager) Execute(svc Service, fn func() (interface{}, error)) (interface{}, error) {
	b := m.breaker(svc)
	if b == nil {
		return fn()
	}
	out, err := b.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, errors.Join(ErrOpen, err)
	}
	return out, err
}

// Call is Execute with a typed result.
func Call[T any](m *Manager, svc Service, fn func() (T, error)) (T, error) {
	out, err := m.Execute(svc, func() (interface{}, error) { return fn() })
	if v, ok := out.(T); ok {
		return v, err
	}
	var zero T
	return zero, err
}

// State reports closed, half-open or open, or disabled for an unguarded service.
func (m *Manager) State(svc Service) string {
	if b := m.breaker(svc); b != nil {
		return b.State().String()
	}
	return "disabled"
}

// Counts returns the breaker's counters for the current window.
func (m *Manager) Counts(svc Service) gobreaker.Counts {
	if b := m.breaker(svc); b != nil {
		return b.Counts()
	}
	return gobreaker.Counts{}
}
