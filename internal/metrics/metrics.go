package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the terminal bridge.
type Metrics struct {
	// Payment intent metrics
	IntentsCreatedTotal *prometheus.CounterVec
	IntentFailuresTotal *prometheus.CounterVec
	IntentAmountTotal   *prometheus.CounterVec
	ReaderActionsTotal  *prometheus.CounterVec

	// Processor call metrics
	ProcessorCallsTotal   *prometheus.CounterVec
	ProcessorCallDuration *prometheus.HistogramVec
	ProcessorErrorsTotal  *prometheus.CounterVec

	// Reconciliation metrics
	ReconciliationsTotal *prometheus.CounterVec
	WritebacksTotal      *prometheus.CounterVec

	// Incoming processor webhooks
	WebhooksTotal   *prometheus.CounterVec
	WebhookDuration *prometheus.HistogramVec

	// Outgoing merchant callbacks
	CallbacksTotal       *prometheus.CounterVec
	CallbackRetriesTotal *prometheus.CounterVec
	CallbackDuration     *prometheus.HistogramVec

	// Rate limiting metrics
	RateLimitHitsTotal *prometheus.CounterVec

	// Order store metrics
	DBQueryDuration *prometheus.HistogramVec

	// 0 closed, 1 half-open, 2 open
	CircuitBreakerState *prometheus.GaugeVec
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		IntentsCreatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cedros_terminal_intents_created_total",
				Help: "Total number of payment intents created for terminal orders",
			},
			[]string{"currency", "capture_method"},
		),
		IntentFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cedros_terminal_intent_failures_total",
				Help: "Total number of payment intent creations rejected, by error code",
			},
			[]string{"code"},
		),
		IntentAmountTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cedros_terminal_intent_amount_units_total",
				Help: "Sum of created intent amounts in processor units",
			},
			[]string{"currency"},
		),
		ReaderActionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cedros_terminal_reader_actions_total",
				Help: "Total number of reader actions requested",
			},
			[]string{"action", "status"},
		),

		ProcessorCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cedros_terminal_processor_calls_total",
				Help: "Total number of payment processor API calls",
			},
			[]string{"operation", "status"},
		),
		ProcessorCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cedros_terminal_processor_call_duration_seconds",
				Help:    "Payment processor API call duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"},
		),
		ProcessorErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cedros_terminal_processor_errors_total",
				Help: "Total number of payment processor API errors by classified code",
			},
			[]string{"operation", "code"},
		),

		ReconciliationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cedros_terminal_reconciliations_total",
				Help: "Total number of order reconciliations against the processor",
			},
			[]string{"source", "outcome"},
		),
		WritebacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cedros_terminal_writebacks_total",
				Help: "Total number of order payment record write-backs",
			},
			[]string{"source"},
		),

		WebhooksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cedros_terminal_webhooks_total",
				Help: "Total number of processor webhook events received",
			},
			[]string{"event_type", "status"},
		),
		WebhookDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cedros_terminal_webhook_duration_seconds",
				Help:    "Processor webhook handling duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"event_type"},
		),

		CallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cedros_terminal_callbacks_total",
				Help: "Total number of merchant callback deliveries",
			},
			[]string{"event", "status"},
		),
		CallbackRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cedros_terminal_callback_retries_total",
				Help: "Total number of merchant callback retry attempts",
			},
			[]string{"event", "attempt"},
		),
		CallbackDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cedros_terminal_callback_duration_seconds",
				Help:    "Merchant callback delivery duration in seconds",
				Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"event"},
		),

		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cedros_terminal_rate_limit_hits_total",
				Help: "Total number of rate limited requests",
			},
			[]string{"limit_type"},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cedros_terminal_db_query_duration_seconds",
				Help:    "Order store query duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation", "backend"},
		),
		CircuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cedros_terminal_circuit_breaker_state",
				Help: "Circuit breaker state per external service (0 closed, 1 half-open, 2 open)",
			},
			[]string{"service"},
		),
	}
}

// ObserveIntentCreated records a successfully created payment intent.
func (m *Metrics) ObserveIntentCreated(currency, captureMethod string, amountUnits int64) {
	m.IntentsCreatedTotal.WithLabelValues(currency, captureMethod).Inc()
	m.IntentAmountTotal.WithLabelValues(currency).Add(float64(amountUnits))
}

// ObserveIntentFailure records an intent creation rejected with code.
func (m *Metrics) ObserveIntentFailure(code string) {
	m.IntentFailuresTotal.WithLabelValues(code).Inc()
}

// ObserveReaderAction records a reader action request (process, cancel, present).
func (m *Metrics) ObserveReaderAction(action string, err error) {
	m.ReaderActionsTotal.WithLabelValues(action, statusLabel(err)).Inc()
}

// ObserveProcessorCall records a processor API call. code is the classified error code, empty on success.
func (m *Metrics) ObserveProcessorCall(operation string, duration time.Duration, code string) {
	status := "success"
	if code != "" {
		status = "error"
		m.ProcessorErrorsTotal.WithLabelValues(operation, code).Inc()
	}
	m.ProcessorCallsTotal.WithLabelValues(operation, status).Inc()
	m.ProcessorCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveReconciliation records the outcome of a reconciliation pass.
func (m *Metrics) ObserveReconciliation(source, outcome string) {
	m.ReconciliationsTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveWriteback records an order payment record write-back.
func (m *Metrics) ObserveWriteback(source string) {
	m.WritebacksTotal.WithLabelValues(source).Inc()
}

// ObserveWebhook records processor webhook handling.
func (m *Metrics) ObserveWebhook(eventType, status string, duration time.Duration) {
	m.WebhooksTotal.WithLabelValues(eventType, status).Inc()
	m.WebhookDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

// ObserveCallback records merchant callback delivery.
func (m *Metrics) ObserveCallback(event, status string, duration time.Duration, attempt int) {
	m.CallbacksTotal.WithLabelValues(event, status).Inc()
	m.CallbackDuration.WithLabelValues(event).Observe(duration.Seconds())

	if attempt > 1 {
		m.CallbackRetriesTotal.WithLabelValues(event, formatAttempt(attempt)).Inc()
	}
}

// ObserveRateLimit records a rate limit hit.
func (m *Metrics) ObserveRateLimit(limitType string) {
	m.RateLimitHitsTotal.WithLabelValues(limitType).Inc()
}

// ObserveDBQuery records an order store query.
func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	m.DBQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// ObserveBreakerState records a breaker transition. state is one of closed, half-open or open.
func (m *Metrics) ObserveBreakerState(service, state string) {
	if m == nil {
		return
	}
	var v float64
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	m.CircuitBreakerState.WithLabelValues(service).Set(v)
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func formatAttempt(attempt int) string {
	if attempt <= 5 {
		return strconv.Itoa(attempt)
	}
	return "5+"
}
