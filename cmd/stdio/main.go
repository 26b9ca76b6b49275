// Package main provides the line-oriented entry point for the Ad Manager
// gateway: one request envelope per stdin line, one response per stdout line.
// Logs go to stderr because stdout carries envelopes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jamesprial/admanager-gateway/internal/config"
	"github.com/jamesprial/admanager-gateway/internal/gateway"
	"github.com/jamesprial/admanager-gateway/internal/transport/stdio"
)

// Exit codes. Envelope errors never change the exit code.
const (
	exitOK        = 0
	exitTransport = 1
	exitUsage     = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("admanager-stdio", flag.ContinueOnError)
	fs.SetOutput(stderr)
	logLevel := fs.String("log-level", "", "log level (debug, info, warn, error); overrides LOG_LEVEL")
	policyFile := fs.String("policy", "", "YAML fault policy file; overrides GATEWAY_POLICY_FILE")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "unexpected arguments: %v\n", fs.Args())
		return exitUsage
	}

	if *policyFile != "" {
		if err := os.Setenv("GATEWAY_POLICY_FILE", *policyFile); err != nil {
			fmt.Fprintf(stderr, "failed to apply -policy: %v\n", err)
			return exitUsage
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "failed to load config: %v\n", err)
		return exitUsage
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := gateway.NewLogger(stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	gw, err := gateway.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build gateway", "error", err)
		return exitTransport
	}
	defer func() {
		if err := gw.Close(); err != nil {
			logger.Warn("failed to release resources", "error", err)
		}
	}()

	logger.Info("serving envelopes on stdin/stdout",
		"soap_endpoint", cfg.SOAPEndpoint,
		"credentials_configured", cfg.HasCredentials(),
	)

	err = stdio.Serve(ctx, stdin, stdout, gw.Router, stdio.WithLogger(logger))
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, context.Canceled):
		logger.Info("interrupted")
		return exitOK
	default:
		logger.Error("line transport failed", "error", err)
		return exitTransport
	}
}
