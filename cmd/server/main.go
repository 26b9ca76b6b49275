// Package main provides the HTTP entry point for the Ad Manager gateway.
// It wires together all components and manages the server lifecycle with
// graceful shutdown.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jamesprial/admanager-gateway/internal/config"
	"github.com/jamesprial/admanager-gateway/internal/gateway"
	"github.com/jamesprial/admanager-gateway/internal/transport"
)

func main() {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := gateway.NewLogger(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	os.Exit(run(cfg, logger))
}

func run(cfg *config.Config, logger *slog.Logger) int {
	logger.Info("server configuration loaded",
		"addr", cfg.Addr,
		"soap_endpoint", cfg.SOAPEndpoint,
		"token_url", cfg.TokenURL,
		"credentials_configured", cfg.HasCredentials(),
		"policy_file", cfg.PolicyFile,
		"redis", cfg.RedisAddr != "",
		"rate_limit", cfg.RateLimitMaxRequests,
	)

	// Create context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := gateway.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build gateway", "error", err)
		return 1
	}
	defer func() {
		if err := gw.Close(); err != nil {
			logger.Warn("failed to release resources", "error", err)
		}
	}()

	server, _, err := transport.NewTransportServices(&transport.Config{
		ServerConfig: cfg,
		Dispatcher:   gw.Router,
		Metrics:      gw.Metrics,
		Limiter:      gw.Limiter,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("failed to create transport services", "error", err)
		return 1
	}

	// Start server in background goroutine
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.Addr)
		if err := server.Start(); err != nil {
			serverErrCh <- err
		}
	}()

	// Wait for shutdown signal or server error
	code := 0
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping server gracefully...")
	case err := <-serverErrCh:
		logger.Error("server error", "error", err)
		code = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return 1
	}

	if code == 0 {
		logger.Info("server stopped successfully")
	}
	return code
}
