// Package terminal assembles the card reader payment bridge for embedding or standalone serving.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/CedrosPay/terminal/internal/callbacks"
	"github.com/CedrosPay/terminal/internal/circuitbreaker"
	"github.com/CedrosPay/terminal/internal/config"
	"github.com/CedrosPay/terminal/internal/httpserver"
	"github.com/CedrosPay/terminal/internal/idempotency"
	"github.com/CedrosPay/terminal/internal/lifecycle"
	"github.com/CedrosPay/terminal/internal/logger"
	"github.com/CedrosPay/terminal/internal/metrics"
	"github.com/CedrosPay/terminal/internal/orders"
	"github.com/CedrosPay/terminal/internal/processor"
	"github.com/CedrosPay/terminal/internal/reconciler"
	stripesvc "github.com/CedrosPay/terminal/internal/stripe"
)

// App wires the terminal components.
type App struct {
	Config           *config.Config
	Store            orders.Store
	Processor        processor.Client
	Reconciler       *reconciler.Reconciler
	Notifier         callbacks.Notifier
	DeadLetters      callbacks.DeadLetterStore
	Breakers         *circuitbreaker.Manager
	IdempotencyStore *idempotency.MemoryStore
	Metrics          *metrics.Metrics
	Logger           zerolog.Logger

	registry        *prometheus.Registry
	router          chi.Router
	server          *httpserver.Server
	resourceManager *lifecycle.Manager
}

// Option configures App construction.
type Option func(*options)

type options struct {
	store     orders.Store
	processor processor.Client
	notifier  callbacks.Notifier
	router    chi.Router
	registry  *prometheus.Registry
	logger    *zerolog.Logger
}

// WithStore sets a custom order store. The caller keeps ownership and closes it.
func WithStore(store orders.Store) Option {
	return func(o *options) { o.store = store }
}

// WithProcessor replaces the Stripe client, for example with a test double.
// Circuit breaking and tracing are still applied on top.
func WithProcessor(p processor.Client) Option {
	return func(o *options) { o.processor = p }
}

// WithNotifier injects a payment callback notifier.
func WithNotifier(n callbacks.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithRouter registers the routes onto an existing chi.Router instead of a private one.
func WithRouter(router chi.Router) Option {
	return func(o *options) { o.router = router }
}

// WithRegistry registers metrics on registry instead of a fresh one.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(o *options) { o.registry = registry }
}

// WithLogger sets the base logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = &l }
}

// NewApp assembles the terminal services.
func NewApp(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("terminal: config required")
	}

	var optState options
	for _, opt := range opts {
		opt(&optState)
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "terminal-server",
		Environment: cfg.Logging.Environment,
	})
	if optState.logger != nil {
		appLogger = *optState.logger
	}

	app := &App{
		Config:          cfg,
		Logger:          appLogger,
		resourceManager: lifecycle.NewManager(appLogger),
	}

	app.registry = optState.registry
	if app.registry == nil {
		app.registry = prometheus.NewRegistry()
		app.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	app.Metrics = metrics.New(app.registry)

	if optState.store != nil {
		app.Store = optState.store
	} else {
		store, err := orders.Open(ctx, cfg.Storage, app.Metrics)
		if err != nil {
			return nil, fmt.Errorf("open order store: %w", err)
		}
		app.Store = store
		app.resourceManager.Register("order-store", store)
		if _, ok := store.(*orders.MemoryStore); ok {
			appLogger.Warn().Msg("terminal: defaulting to in-memory order store, do not use this backend in production")
		}
	}

	breakerCfg := circuitbreaker.FromConfig(cfg.CircuitBreaker)
	breakerCfg.IsSuccessful = processor.IsBreakerSuccess
	breakerCfg.OnStateChange = func(svc circuitbreaker.Service, to string) {
		app.Metrics.ObserveBreakerState(string(svc), to)
	}
	app.Breakers = circuitbreaker.NewManager(breakerCfg, appLogger)

	base := optState.processor
	if base == nil {
		base = stripesvc.NewClient(cfg.Stripe)
	}
	app.Processor = processor.WithTracing(processor.WithCircuitBreaker(base, app.Breakers), appLogger, app.Metrics)

	deadLetters := callbacks.NewMemoryDeadLetterStore()
	app.DeadLetters = deadLetters

	if optState.notifier != nil {
		app.Notifier = optState.notifier
	} else if client := callbacks.NewRetryableClient(cfg.Callbacks,
		callbacks.WithRetryLogger(appLogger),
		callbacks.WithMetrics(app.Metrics),
		callbacks.WithCircuitBreaker(app.Breakers),
		callbacks.WithDeadLetterStore(deadLetters),
	); client != nil {
		app.Notifier = client
		app.resourceManager.Register("callbacks", client)
	}

	recOpts := []reconciler.Option{
		reconciler.WithGateway(reconciler.NewDefaultGateway(app.Store, cfg.Server.PublicURL)),
		reconciler.WithMetrics(app.Metrics),
		reconciler.WithLogger(appLogger),
	}
	if app.Notifier != nil {
		recOpts = append(recOpts, reconciler.WithNotifier(app.Notifier))
	}
	app.Reconciler = reconciler.New(reconciler.ConfigFrom(cfg.Stripe, cfg.Terminal), app.Processor, app.Store, recOpts...)

	// One store for the app so a single sweeper goroutine runs.
	app.IdempotencyStore = idempotency.NewMemoryStore()
	app.resourceManager.Register("idempotency-store", app.IdempotencyStore)

	deps := app.Dependencies()
	if optState.router != nil {
		app.router = optState.router
		httpserver.ConfigureRouter(app.router, cfg, deps)
	} else {
		app.server = httpserver.New(cfg, deps)
	}

	appLogger.Info().
		Str("mode", cfg.Stripe.Mode).
		Str("storage", cfg.Storage.Backend).
		Bool("callbacks", app.Notifier != nil).
		Msg("terminal.app_ready")
	return app, nil
}

// Dependencies returns the services the HTTP layer needs.
func (a *App) Dependencies() httpserver.Dependencies {
	return httpserver.Dependencies{
		Reconciler:  a.Reconciler,
		Idempotency: a.IdempotencyStore,
		Metrics:     a.Metrics,
		Breakers:    a.Breakers,
		DeadLetters: a.DeadLetters,
		Gatherer:    a.registry,
		Logger:      a.Logger,
	}
}

// Handler exposes the routes as an http.Handler.
func (a *App) Handler() http.Handler {
	if a.router != nil {
		return a.router
	}
	return a.server.Handler()
}

// ListenAndServe serves on the configured address. It is not available when the app
// was built onto a caller's router.
func (a *App) ListenAndServe() error {
	if a.server == nil {
		return errors.New("terminal: app was mounted on an external router")
	}
	return a.server.ListenAndServe()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (a *App) Shutdown(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}

// Close releases resources owned by the app, newest first.
func (a *App) Close() error {
	return a.resourceManager.Close()
}
