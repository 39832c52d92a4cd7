package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/CedrosPay/terminal/internal/config"
	"github.com/CedrosPay/terminal/internal/logger"
	"github.com/CedrosPay/terminal/internal/terminalclient"
)

var Version = "dev"

// globals are the persistent flags shared by every command.
type globals struct {
	configPath string
	envFile    string
	serverURL  string
	prefix     string
	apiKey     string
	verbose    bool
}

// env is what a command runs against, built once the flags are parsed.
type env struct {
	cfg    *config.Config
	client *terminalclient.Client
	log    zerolog.Logger
}

func (g *globals) load() (*env, error) {
	if err := godotenv.Load(g.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", g.envFile, err)
	}
	cfg, err := config.LoadClient(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.serverURL != "" {
		cfg.Terminal.ServerURL = g.serverURL
	}
	if g.prefix != "" {
		cfg.Server.RoutePrefix = g.prefix
	}
	apiKey := g.apiKey
	if apiKey == "" {
		apiKey = os.Getenv("CEDROS_TERMINAL_OPERATOR_KEY")
	}

	level := "warn"
	if g.verbose {
		level = "debug"
	}
	log := logger.NewWithWriter(logger.Config{
		Level:   level,
		Format:  "console",
		Service: "terminal-cli",
		Version: Version,
	}, os.Stderr)

	client := terminalclient.New(terminalclient.Config{
		ServerURL:   cfg.Terminal.ServerURL,
		RoutePrefix: cfg.Server.RoutePrefix,
		APIKey:      apiKey,
		Timeout:     cfg.Terminal.RequestTimeout.Duration,
	})
	return &env{cfg: cfg, client: client, log: log}, nil
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	rootCmd := &cobra.Command{
		Use:           "terminal-cli",
		Short:         "Take card reader payments through a terminal server",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&g.configPath, "config", "c", os.Getenv("TERMINAL_CONFIG"), "path to config yaml")
	flags.StringVar(&g.envFile, "env-file", ".env", "dotenv file loaded before the config")
	flags.StringVar(&g.serverURL, "server", "", "terminal server base URL (overrides terminal.server_url)")
	flags.StringVar(&g.prefix, "prefix", "", "route prefix the server is mounted under")
	flags.StringVar(&g.apiKey, "api-key", "", "operator API key (default $CEDROS_TERMINAL_OPERATOR_KEY)")
	flags.BoolVarP(&g.verbose, "verbose", "v", false, "debug logging on stderr")

	rootCmd.AddCommand(validateCmd(g))
	rootCmd.AddCommand(readersCmd(g))
	rootCmd.AddCommand(payCmd(g))
	rootCmd.AddCommand(statusCmd(g))
	rootCmd.AddCommand(cancelCmd(g))
	rootCmd.AddCommand(simulateCmd(g))
	rootCmd.AddCommand(failedCallbacksCmd(g))
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
