package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sondrele/tibber-data-poller/internal/api"
	"github.com/sondrele/tibber-data-poller/internal/auth"
	"github.com/sondrele/tibber-data-poller/internal/core"
	"github.com/sondrele/tibber-data-poller/internal/handlers"
	"github.com/sondrele/tibber-data-poller/internal/logging"
	"github.com/sondrele/tibber-data-poller/pkg/config"
	"github.com/sondrele/tibber-data-poller/pkg/retry"
)

var (
	configFile    = flag.String("config", "config.yaml", "Path to configuration file")
	exampleConfig = flag.String("example-config", "", "Write an example configuration file to the given path and exit")
	version       = flag.Bool("version", false, "Show version information")
)

const (
	appName    = "tibber-data-poller"
	appVersion = "1.0.0"
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", appName, appVersion)
		os.Exit(0)
	}

	if *exampleConfig != "" {
		if err := config.CreateExampleConfig(*exampleConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write example config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Example configuration written to %s\n", *exampleConfig)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info().
		Str("version", appVersion).
		Str("config_file", *configFile).
		Msg("starting tibber data poller")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	app, err := initializeApp(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize application")
		os.Exit(1)
	}
	defer func() {
		_ = app.BlobStore.Close()
	}()

	startHTTPServers(ctx, app, cfg, logger)

	logger.Info().Dur("interval", cfg.Poller.PollInterval).Msg("starting poll loop")
	err = app.Coordinator.Run(ctx)
	switch {
	case errors.Is(err, core.ErrNeedsReauth):
		logger.Error().Msg("refresh token expired, run tdp-auth to re-authorize")
		os.Exit(2)
	case errors.Is(err, context.Canceled):
		logger.Info().Msg("application stopped")
	case err != nil:
		logger.Error().Err(err).Msg("poll loop failed")
		os.Exit(1)
	}
}

// Application holds all the application components
type Application struct {
	BlobStore     *auth.SQLiteBlobStore
	TokenStore    *auth.Store
	Client        *api.Client
	Coordinator   *core.Coordinator
	HealthChecker *core.HealthChecker
	Handlers      *handlers.Server
}

// initializeApp wires all application components
func initializeApp(cfg *config.Config, logger zerolog.Logger) (*Application, error) {
	blobs, err := auth.NewSQLiteBlobStore(cfg.Storage.TokenDB)
	if err != nil {
		return nil, fmt.Errorf("opening token store: %w", err)
	}

	tokens, err := auth.NewStore(blobs, logger)
	if err != nil {
		_ = blobs.Close()
		if errors.Is(err, auth.ErrNoSession) {
			return nil, fmt.Errorf("no stored credentials, run tdp-auth first: %w", err)
		}
		return nil, err
	}

	oauthClient, err := auth.NewOAuthClient(auth.OAuthConfig{
		ClientID:     cfg.OAuth.ClientID,
		AuthorizeURL: cfg.OAuth.AuthorizeURL,
		TokenURL:     cfg.OAuth.TokenURL,
	}, logger)
	if err != nil {
		_ = blobs.Close()
		return nil, fmt.Errorf("initializing oauth client: %w", err)
	}

	client := api.NewClient(api.Config{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout,
		Retry:   retry.DefaultConfig(),
	}, tokens, logger)

	mapper := core.NewMapper(cfg.Poller.AssumeOnline)
	coordinator := core.NewCoordinator(client, tokens, oauthClient, mapper, cfg.Poller.PollInterval, logger)

	return &Application{
		BlobStore:     blobs,
		TokenStore:    tokens,
		Client:        client,
		Coordinator:   coordinator,
		HealthChecker: core.NewHealthChecker(coordinator, tokens, cfg.Poller.PollInterval),
		Handlers:      handlers.NewServer(coordinator, client, tokens, logger),
	}, nil
}

// startHTTPServers starts the health/API server and the metrics server
func startHTTPServers(ctx context.Context, app *Application, cfg *config.Config, logger zerolog.Logger) {
	healthMux := http.NewServeMux()
	healthMux.Handle("/healthz", app.HealthChecker.ServeHealth())
	app.Handlers.RegisterRoutes(healthMux)

	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Poller.HealthPort),
		Handler: healthMux,
	}

	go func() {
		logger.Info().Int("port", cfg.Poller.HealthPort).Msg("starting health and API server")
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("health server failed")
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Poller.MetricsPort),
		Handler: metricsMux,
	}

	go func() {
		logger.Info().Int("port", cfg.Poller.MetricsPort).Msg("starting metrics server")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		logger.Info().Msg("shutting down HTTP servers")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer shutdownCancel()

		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown health server")
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown metrics server")
		}
	}()
}
