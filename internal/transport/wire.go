package transport

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jamesprial/admanager-gateway/internal/config"
	"github.com/jamesprial/admanager-gateway/internal/metrics"
	"github.com/jamesprial/admanager-gateway/internal/ratelimit"
	"github.com/jamesprial/admanager-gateway/internal/transport/internal/handlers"
	transporthttp "github.com/jamesprial/admanager-gateway/internal/transport/internal/http"
	"github.com/jamesprial/admanager-gateway/internal/transport/internal/middleware"
)

// Endpoints served outside the dispatcher's route table.
const (
	PathEnvelope = "/_envelope"
	PathMetrics  = "/metrics"
)

// NewServer creates a configured HTTP server.
func NewServer(cfg *config.Config, handler http.Handler) Server {
	return transporthttp.NewServer(cfg, handler)
}

// NewErrorResponder creates the envelope responder.
// If logger is nil, it uses the default slog logger.
func NewErrorResponder(logger *slog.Logger) ErrorResponder {
	return transporthttp.NewErrorResponder(logger)
}

// NewRouter creates a chi router whose 404 and 405 answers are envelopes.
func NewRouter(responder ErrorResponder) Router {
	return transporthttp.NewRouter(responder)
}

// Config holds the dependencies of the HTTP transport.
type Config struct {
	// ServerConfig is the server configuration.
	ServerConfig *config.Config

	// Dispatcher handles every request envelope.
	Dispatcher Dispatcher

	// Metrics, if set, instruments responses and serves GET /metrics.
	Metrics *metrics.Metrics

	// Limiter, if set, bounds requests per client address. /metrics is exempt.
	Limiter ratelimit.Limiter

	// MaxBodyBytes bounds request bodies. Zero means 4 MiB.
	MaxBodyBytes int64

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// NewTransportServices wires the HTTP transport: middleware, the envelope
// endpoints, and the server that serves them.
func NewTransportServices(cfg *Config) (Server, Router, error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.ServerConfig == nil {
		return nil, nil, fmt.Errorf("server config cannot be nil")
	}
	if cfg.Dispatcher == nil {
		return nil, nil, fmt.Errorf("dispatcher cannot be nil")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	responder := transporthttp.NewErrorResponder(logger)
	router := transporthttp.NewRouter(responder)

	// Order matters: recovery is outermost so it sees panics from every layer,
	// and the request id exists before anything logs.
	router.Use(
		middleware.NewRecoveryMiddleware(responder, logger),
		middleware.NewRequestIDMiddleware(),
		middleware.NewLoggingMiddleware(logger),
	)

	var onLimited func()
	if cfg.Metrics != nil {
		router.Use(middleware.NewMetricsMiddleware(cfg.Metrics.HTTPResponse))
		router.Method(http.MethodGet, PathMetrics, cfg.Metrics.Handler())
		onLimited = cfg.Metrics.RateLimited
	}

	envelopeHandler := handlers.NewEnvelopeHandler(cfg.Dispatcher, responder, cfg.MaxBodyBytes, logger)
	rawHandler := handlers.NewRawEnvelopeHandler(cfg.Dispatcher, responder, cfg.MaxBodyBytes, logger)

	router.Group(func(r chi.Router) {
		if cfg.Limiter != nil {
			r.Use(middleware.NewRateLimitMiddleware(cfg.Limiter, responder, onLimited))
		}
		r.Method(http.MethodPost, PathEnvelope, rawHandler)
		r.Handle("/*", envelopeHandler)
	})

	server := transporthttp.NewServer(cfg.ServerConfig, router)
	return server, router, nil
}
