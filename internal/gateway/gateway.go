// Package gateway assembles the token manager, SOAP client, router, limiter,
// and metrics from configuration. Both binaries build on it.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jamesprial/admanager-gateway/internal/auth"
	"github.com/jamesprial/admanager-gateway/internal/config"
	"github.com/jamesprial/admanager-gateway/internal/metrics"
	"github.com/jamesprial/admanager-gateway/internal/ratelimit"
	"github.com/jamesprial/admanager-gateway/internal/router"
	"github.com/jamesprial/admanager-gateway/internal/soap"
)

const redisPingTimeout = 3 * time.Second

// Gateway holds the assembled services.
type Gateway struct {
	Router  *router.Router
	Tokens  *auth.Manager
	SOAP    *soap.Client
	Metrics *metrics.Metrics

	// Limiter is nil when rate limiting is disabled.
	Limiter ratelimit.Limiter

	redis *redis.Client
}

// Build creates every service described by cfg. When cfg.RedisAddr is set the
// token cache and rate limiter share state through Redis, which must answer a
// ping. If logger is nil, it uses the default slog logger.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{Metrics: metrics.New()}

	if cfg.RedisAddr != "" {
		g.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		err := g.redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = g.redis.Close()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
		}
		logger.Info("redis connected", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
	}

	g.Tokens = auth.NewTokenManager(&auth.Config{
		TokenURL:     cfg.TokenURL,
		Scope:        cfg.Scope,
		SafetyMargin: cfg.SafetyMargin,
		DefaultTTL:   cfg.DefaultTokenTTL,
		Timeout:      cfg.OAuthTimeout,
		Redis:        g.redis,
		KeyPrefix:    cfg.RedisKeyPrefix,
	},
		auth.WithLogger(logger),
		auth.WithRefreshObserver(g.Metrics.TokenRefresh),
	)

	client, err := soap.NewClient(soap.Config{
		Endpoint:        cfg.SOAPEndpoint,
		NetworkCode:     cfg.NetworkCode,
		ApplicationName: cfg.ApplicationName,
		Timeout:         cfg.SOAPTimeout,
		MaxAttempts:     cfg.MaxAttempts,
		InitialBackoff:  cfg.InitialBackoff,
		MaxBackoff:      cfg.MaxBackoff,
		Jitter:          cfg.BackoffJitter,
		Rules:           faultRules(cfg.Policy),
		Logger:          logger,
		Observer: func(op soap.Operation, outcome string) {
			g.Metrics.UpstreamAttempt(op.Service, op.Method, outcome)
		},
	})
	if err != nil {
		_ = g.Close()
		return nil, fmt.Errorf("failed to create soap client: %w", err)
	}
	g.SOAP = client

	g.Router = router.New(g.Tokens, g.SOAP,
		router.Credentials{ClientID: cfg.ClientID, ClientSecret: cfg.ClientSecret},
		router.WithLogger(logger),
		router.WithStatuses(statuses(cfg.Policy)),
		router.WithDispatchObserver(g.Metrics.Dispatch),
	)

	if cfg.RateLimitMaxRequests > 0 {
		if g.redis != nil {
			g.Limiter = ratelimit.NewRedis(g.redis, cfg.RedisKeyPrefix, cfg.RateLimitMaxRequests, cfg.RateLimitWindow, logger)
		} else {
			g.Limiter = ratelimit.NewMemory(cfg.RateLimitMaxRequests, cfg.RateLimitWindow)
		}
	}

	return g, nil
}

// Close releases the token store and the Redis connection.
func (g *Gateway) Close() error {
	var firstErr error
	if g.Tokens != nil {
		if err := g.Tokens.Close(); err != nil {
			firstErr = err
		}
	}
	if g.redis != nil {
		if err := g.redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func faultRules(p *config.Policy) []soap.Rule {
	if p == nil {
		return nil
	}
	rules := make([]soap.Rule, 0, len(p.Faults))
	for _, f := range p.Faults {
		rules = append(rules, soap.Rule{Prefix: f.Prefix, Class: soap.FaultClass(f.Class)})
	}
	return rules
}

func statuses(p *config.Policy) router.Statuses {
	if p == nil {
		return router.Statuses{}
	}
	return router.Statuses{
		Validation:  p.Statuses.Validation,
		Permission:  p.Statuses.Permission,
		NotFound:    p.Statuses.NotFound,
		Unavailable: p.Statuses.Unavailable,
	}
}
