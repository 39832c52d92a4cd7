package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/CedrosPay/terminal/internal/config"
	"github.com/CedrosPay/terminal/internal/logger"
	"github.com/CedrosPay/terminal/pkg/terminal"
)

var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("TERMINAL_CONFIG"), "path to config yaml")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before the config")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatal().Err(err).Str("path", *envFile).Msg("load env file")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "terminal-server",
		Version:     version,
		Environment: cfg.Logging.Environment,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := terminal.NewApp(ctx, cfg, terminal.WithLogger(appLogger))
	if err != nil {
		appLogger.Fatal().Err(err).Msg("terminal.init_failed")
	}

	errCh := make(chan error, 1)
	go func() {
		appLogger.Info().
			Str("address", cfg.Server.Address).
			Str("route_prefix", cfg.Server.RoutePrefix).
			Str("mode", cfg.Stripe.Mode).
			Msg("terminal.listening")
		errCh <- app.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		appLogger.Info().Msg("terminal.shutting_down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error().Err(err).Msg("terminal.server_failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		appLogger.Error().Err(err).Msg("terminal.shutdown_failed")
	}
	if err := app.Close(); err != nil {
		appLogger.Error().Err(err).Msg("terminal.close_failed")
	}
	appLogger.Info().Msg("terminal.stopped")
}
