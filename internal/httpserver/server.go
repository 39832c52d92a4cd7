package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/CedrosPay/terminal/internal/apikey"
	"github.com/CedrosPay/terminal/internal/callbacks"
	"github.com/CedrosPay/terminal/internal/circuitbreaker"
	"github.com/CedrosPay/terminal/internal/config"
	"github.com/CedrosPay/terminal/internal/idempotency"
	"github.com/CedrosPay/terminal/internal/logger"
	"github.com/CedrosPay/terminal/internal/metrics"
	"github.com/CedrosPay/terminal/internal/ratelimit"
	"github.com/CedrosPay/terminal/internal/reconciler"
)

var (
	serverStartTime = time.Now()
)

// Dependencies are the services the HTTP layer calls into.
type Dependencies struct {
	Reconciler  *reconciler.Reconciler
	Idempotency idempotency.Store
	Metrics     *metrics.Metrics
	Breakers    *circuitbreaker.Manager   // Optional, reported by the health endpoint
	DeadLetters callbacks.DeadLetterStore // Optional, listed by the admin endpoint
	Gatherer    prometheus.Gatherer       // Defaults to the global registry
	Logger      zerolog.Logger
}

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg              *config.Config
	reconciler       *reconciler.Reconciler
	idempotencyStore idempotency.Store
	metrics          *metrics.Metrics
	breakers         *circuitbreaker.Manager
	deadLetters      callbacks.DeadLetterStore
	logger           zerolog.Logger
}

func newHandlers(cfg *config.Config, deps Dependencies) handlers {
	store := deps.Idempotency
	if store == nil {
		store = idempotency.NewMemoryStore()
	}
	return handlers{
		cfg:              cfg,
		reconciler:       deps.Reconciler,
		idempotencyStore: store,
		metrics:          deps.Metrics,
		breakers:         deps.Breakers,
		deadLetters:      deps.DeadLetters,
		logger:           deps.Logger,
	}
}

// New builds the HTTP server with configured router.
func New(cfg *config.Config, deps Dependencies) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: newHandlers(cfg, deps),
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	s.routes(router, deps.Gatherer)
	return s
}

// ConfigureRouter attaches terminal routes to an existing router.
func ConfigureRouter(router chi.Router, cfg *config.Config, deps Dependencies) {
	if router == nil {
		return
	}
	h := newHandlers(cfg, deps)
	h.routes(router, deps.Gatherer)
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (h handlers) routes(router chi.Router, gatherer prometheus.Gatherer) {
	cfg := h.cfg

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "Idempotency-Key", apikey.Header},
			ExposedHeaders:   []string{idempotency.HeaderReplay, "Retry-After"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(secureHeaders)

	// Logging runs before RequestID so the request id lands in the context logger.
	router.Use(logger.Middleware(h.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	keys := apikey.Config{Enabled: cfg.APIKey.Enabled, Keys: cfg.APIKey.Keys}
	router.Use(apikey.Identify(keys))

	limits := ratelimit.FromConfig(cfg.RateLimit, h.metrics)
	router.Use(ratelimit.GlobalLimiter(limits))
	router.Use(ratelimit.IPLimiter(limits))

	prefix := cfg.Server.RoutePrefix

	metricsHandler := promhttp.Handler()
	if gatherer != nil {
		metricsHandler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}

	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get("/terminal-health", h.health)
		r.With(bearerGuard(cfg.Server.AdminMetricsAPIKey)).Handle(prefix+"/metrics", metricsHandler)
	})

	ttl := cfg.Storage.IdempotencyTTL.Duration
	if ttl <= 0 {
		ttl = idempotency.DefaultTTL
	}
	idempotencyMW := idempotency.Middleware(h.idempotencyStore, ttl)

	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		// Webhooks stay unversioned so the URL registered with the processor never moves.
		r.Get(prefix+"/webhook/stripe", h.stripeWebhookInfo)
		r.Post(prefix+"/webhook/stripe", h.handleStripeWebhook)

		base := prefix + "/terminal/v1"

		// Order-scoped endpoints, authorized by order key.
		r.Group(func(r chi.Router) {
			r.Use(ratelimit.OrderLimiter(limits))
			r.With(idempotencyMW).Post(base+"/create-payment-intent", h.createPaymentIntent)
			r.With(idempotencyMW).Post(base+"/retry-payment", h.retryPayment)
			r.Post(base+"/confirm-payment", h.confirmPayment)
			r.Post(base+"/cancel-payment", h.cancelPayment)
			r.Post(base+"/capture-payment", h.capturePayment)
			r.Get(base+"/check-payment-status", h.checkPaymentStatus)
			r.Post(base+"/check-payment-status", h.checkPaymentStatus)
			r.Get(base+"/check-stripe-status", h.checkStripeStatus)
			r.Post(base+"/check-stripe-status", h.checkStripeStatus)
		})

		// Reader management, for operators.
		r.Group(func(r chi.Router) {
			r.Use(apikey.Require(keys))
			r.Get(base+"/list-readers", h.listReaders)
			r.Post(base+"/list-readers", h.listReaders)
			r.Get(base+"/get-reader-status", h.getReaderStatus)
			r.Post(base+"/get-reader-status", h.getReaderStatus)
			r.Get(base+"/validate-service", h.validateService)
			r.Post(base+"/validate-service", h.validateService)
			r.Post(base+"/connection-token", h.connectionToken)
			r.Post(base+"/simulate-payment", h.simulatePayment)
			r.Get(base+"/admin/failed-callbacks", h.listFailedCallbacks)
		})
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
