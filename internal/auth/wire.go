package auth

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jamesprial/admanager-gateway/internal/auth/internal/provider"
	"github.com/jamesprial/admanager-gateway/internal/auth/internal/store"
)

// lockGrace is added to the exchange timeout to bound the shared refresh lock.
const lockGrace = 5 * time.Second

// providerAdapter adapts provider.ClientCredentials to the Provider interface.
type providerAdapter struct {
	cc *provider.ClientCredentials
}

func (a *providerAdapter) Exchange(ctx context.Context, clientID, clientSecret, scope string) (Token, error) {
	res, err := a.cc.Exchange(ctx, clientID, clientSecret, scope)
	if err != nil {
		return Token{}, err
	}
	return Token{
		AccessToken: res.AccessToken,
		TokenType:   res.TokenType,
		Scope:       res.Scope,
		ExpiresAt:   res.ExpiresAt,
		IssuedAt:    res.IssuedAt,
	}, nil
}

// Config holds the configuration needed to construct auth services.
type Config struct {
	// TokenURL is the identity provider's token endpoint.
	TokenURL string

	// Scope is requested on every exchange.
	Scope string

	// SafetyMargin is subtracted from expiry when judging freshness.
	SafetyMargin time.Duration

	// DefaultTTL applies when the provider reports no lifetime.
	DefaultTTL time.Duration

	// Timeout bounds one exchange.
	Timeout time.Duration

	// Redis, when set, shares cached tokens between instances.
	Redis *redis.Client

	// KeyPrefix namespaces Redis keys.
	KeyPrefix string
}

// NewProvider creates a client-credentials provider for cfg.TokenURL.
func NewProvider(cfg *Config) Provider {
	return &providerAdapter{
		cc: provider.NewClientCredentials(cfg.TokenURL, cfg.Timeout, cfg.DefaultTTL),
	}
}

// NewTokenManager creates a Manager backed by the configured identity
// provider, caching in Redis when a client is configured and in memory otherwise.
func NewTokenManager(cfg *Config, opts ...Option) *Manager {
	base := []Option{WithSafetyMargin(cfg.SafetyMargin)}
	if cfg.Redis != nil {
		base = append(base, withStore(store.NewRedis(cfg.Redis, cfg.KeyPrefix)))
		if cfg.Timeout > 0 {
			// The lock must outlive one exchange or a second instance could start another.
			base = append(base, WithRefreshLock(cfg.Timeout+lockGrace, 0))
		}
	}
	return NewManager(NewProvider(cfg), cfg.Scope, append(base, opts...)...)
}
