package callbacks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/CedrosPay/terminal/internal/circuitbreaker"
	"github.com/CedrosPay/terminal/internal/config"
	"github.com/CedrosPay/terminal/internal/metrics"
)

// RetryConfig holds callback retry configuration.
type RetryConfig struct {
	MaxAttempts     int           // Maximum attempts (default: 5)
	InitialInterval time.Duration // Initial backoff interval (default: 1s)
	MaxInterval     time.Duration // Maximum backoff interval (default: 5m)
	Multiplier      float64       // Backoff multiplier (default: 2.0)
	Timeout         time.Duration // Per-attempt timeout (default: 10s)
}

// DefaultRetryConfig returns sensible defaults for callback retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     5,
		InitialInterval: 1 * time.Second,
		MaxInterval:     5 * time.Minute,
		Multiplier:      2.0,
		Timeout:         10 * time.Second,
	}
}

// RetryableClient posts payment events with exponential backoff.
// Deliveries run in background goroutines; Close cancels pending backoffs and waits for them.
type RetryableClient struct {
	cfg         config.CallbacksConfig
	retryCfg    RetryConfig
	httpClient  *http.Client
	logger      zerolog.Logger
	metrics     *metrics.Metrics
	breakers    *circuitbreaker.Manager
	deadLetters DeadLetterStore

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RetryOption customizes the retry client behavior.
type RetryOption func(*RetryableClient)

// WithRetryLogger sets a custom logger for retry operations.
func WithRetryLogger(logger zerolog.Logger) RetryOption {
	return func(c *RetryableClient) {
		c.logger = logger
	}
}

// WithRetryConfig sets custom retry configuration.
func WithRetryConfig(cfg RetryConfig) RetryOption {
	return func(c *RetryableClient) {
		c.retryCfg = cfg
	}
}

// WithMetrics sets the metrics collector for callback observability.
func WithMetrics(m *metrics.Metrics) RetryOption {
	return func(c *RetryableClient) {
		c.metrics = m
	}
}

// WithCircuitBreaker routes every HTTP attempt through the callback breaker.
func WithCircuitBreaker(m *circuitbreaker.Manager) RetryOption {
	return func(c *RetryableClient) {
		c.breakers = m
	}
}

// WithDeadLetterStore keeps deliveries that exhausted their retries.
func WithDeadLetterStore(store DeadLetterStore) RetryOption {
	return func(c *RetryableClient) {
		c.deadLetters = store
	}
}

// NewRetryableClient constructs a callback client. It returns nil when no callback URL is configured.
func NewRetryableClient(cfg config.CallbacksConfig, opts ...RetryOption) *RetryableClient {
	if cfg.PaymentSucceededURL == "" && cfg.PaymentFailedURL == "" {
		return nil
	}

	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	retryCfg := DefaultRetryConfig()
	retryCfg.Timeout = timeout
	if cfg.Retry.MaxAttempts > 0 {
		retryCfg.MaxAttempts = cfg.Retry.MaxAttempts
	}
	if cfg.Retry.InitialInterval.Duration > 0 {
		retryCfg.InitialInterval = cfg.Retry.InitialInterval.Duration
	}
	if cfg.Retry.MaxInterval.Duration > 0 {
		retryCfg.MaxInterval = cfg.Retry.MaxInterval.Duration
	}
	if cfg.Retry.Multiplier > 0 {
		retryCfg.Multiplier = cfg.Retry.Multiplier
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &RetryableClient{
		cfg:      cfg,
		retryCfg: retryCfg,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: zerolog.Nop(),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// PaymentSucceeded dispatches the event asynchronously.
func (c *RetryableClient) PaymentSucceeded(_ context.Context, event PaymentEvent) {
	if c == nil || c.cfg.PaymentSucceededURL == "" {
		return
	}
	PrepareEvent(&event, EventPaymentSucceeded)
	c.dispatch(c.cfg.PaymentSucceededURL, event)
}

// PaymentFailed dispatches the event asynchronously.
func (c *RetryableClient) PaymentFailed(_ context.Context, event PaymentEvent) {
	if c == nil || c.cfg.PaymentFailedURL == "" {
		return
	}
	PrepareEvent(&event, EventPaymentFailed)
	c.dispatch(c.cfg.PaymentFailedURL, event)
}

// Wait blocks until every dispatched delivery has finished or exhausted its retries.
func (c *RetryableClient) Wait() {
	if c == nil {
		return
	}
	c.wg.Wait()
}

// Close stops pending retries and waits for in-flight deliveries.
func (c *RetryableClient) Close() error {
	if c == nil {
		return nil
	}
	c.cancel()
	c.wg.Wait()
	return nil
}

func (c *RetryableClient) dispatch(url string, event PaymentEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		c.logger.Error().Err(err).Str("event_id", event.EventID).Msg("callbacks.serialize_failed")
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		attempts, err := c.sendWithRetry(c.ctx, url, payload, event.EventType)
		if err == nil {
			return
		}
		c.logger.Error().
			Err(err).
			Str("event_id", event.EventID).
			Str("order_id", event.OrderID).
			Int("attempts", attempts).
			Msg("callbacks.delivery_failed")
		c.saveDeadLetter(url, payload, event, attempts, err)
	}()
}

// sendWithRetry attempts delivery with exponential backoff and reports the attempts made.
func (c *RetryableClient) sendWithRetry(ctx context.Context, url string, payload []byte, eventType string) (int, error) {
	maxAttempts := c.retryCfg.MaxAttempts
	if !c.cfg.Retry.Enabled || maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	interval := c.retryCfg.InitialInterval
	start := time.Now()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, c.retryCfg.Timeout)
		err := c.send(reqCtx, url, payload)
		cancel()

		if err == nil {
			c.observe(eventType, "success", start, attempt)
			if attempt > 1 {
				c.logger.Info().
					Int("attempt", attempt).
					Str("event_type", eventType).
					Msg("callbacks.delivered_after_retry")
			}
			return attempt, nil
		}

		lastErr = err
		c.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Str("event_type", eventType).
			Dur("next_retry", interval).
			Msg("callbacks.attempt_failed")

		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			c.observe(eventType, "canceled", start, attempt)
			return attempt, fmt.Errorf("callback canceled after %d attempts: %w", attempt, lastErr)
		case <-time.After(interval):
		}
		interval = time.Duration(float64(interval) * c.retryCfg.Multiplier)
		if interval > c.retryCfg.MaxInterval {
			interval = c.retryCfg.MaxInterval
		}
	}

	c.observe(eventType, "failed", start, maxAttempts)
	return maxAttempts, fmt.Errorf("callback failed after %d attempts: %w", maxAttempts, lastErr)
}

func (c *RetryableClient) send(ctx context.Context, url string, payload []byte) error {
	_, err := c.breakers.Execute(circuitbreaker.ServiceCallback, func() (interface{}, error) {
		return nil, c.sendHTTP(ctx, url, payload)
	})
	return err
}

func (c *RetryableClient) sendHTTP(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	contentType := c.cfg.Headers["Content-Type"]
	if contentType == "" {
		contentType = "application/json"
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range c.cfg.Headers {
		if k == "" || strings.EqualFold(k, "content-type") {
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("received status %d from %s", resp.StatusCode, url)
	}
	return nil
}

func (c *RetryableClient) observe(eventType, status string, start time.Time, attempt int) {
	if c.metrics != nil {
		c.metrics.ObserveCallback(eventType, status, time.Since(start), attempt)
	}
}

func (c *RetryableClient) saveDeadLetter(url string, payload []byte, event PaymentEvent, attempts int, lastErr error) {
	if c.deadLetters == nil {
		return
	}
	delivery := FailedDelivery{
		ID:          "cb_" + uuid.NewString(),
		URL:         url,
		EventType:   event.EventType,
		Payload:     json.RawMessage(payload),
		Attempts:    attempts,
		LastError:   lastErr.Error(),
		LastAttempt: time.Now().UTC(),
	}
	if err := c.deadLetters.SaveFailedDelivery(context.Background(), delivery); err != nil {
		c.logger.Error().Err(err).Str("delivery_id", delivery.ID).Msg("callbacks.dead_letter_failed")
		return
	}
	c.logger.Info().
		Str("delivery_id", delivery.ID).
		Str("event_id", event.EventID).
		Msg("callbacks.dead_lettered")
}
