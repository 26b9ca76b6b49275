// Package auth obtains and caches OAuth2 access tokens for the upstream API
// using the client-credentials grant.
package auth

import (
	"context"
	"time"
)

// Token is an issued access token. Callers receive copies; a refresh replaces
// the cached token rather than changing it.
type Token struct {
	AccessToken string
	TokenType   string
	Scope       string
	ExpiresAt   time.Time
	IssuedAt    time.Time
}

// ExpiresIn returns the remaining lifetime at now, never negative.
func (t Token) ExpiresIn(now time.Time) time.Duration {
	d := t.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// State describes the cached token for a client.
type State string

const (
	// StateUnissued means no usable token is cached.
	StateUnissued State = "unissued"

	// StateValid means the cached token is fresh.
	StateValid State = "valid"

	// StateExpiring means the cached token is inside the safety margin and
	// the next request will refresh it.
	StateExpiring State = "expiring"

	// StateRefreshing means an exchange with the identity provider is in flight.
	StateRefreshing State = "refreshing"

	// StateError means the last exchange failed and nothing is cached.
	StateError State = "error"
)

// Provider exchanges client credentials for a token at the identity provider.
// Failures should be *ierrors.OAuthError.
type Provider interface {
	Exchange(ctx context.Context, clientID, clientSecret, scope string) (Token, error)
}

// TokenManager hands out valid tokens, refreshing them as needed.
type TokenManager interface {
	// GetValidToken returns a token for clientID that is fresh for at least
	// the safety margin. At most one exchange per client and scope runs at a
	// time; concurrent callers share its outcome.
	GetValidToken(ctx context.Context, clientID, clientSecret string) (Token, error)

	// Invalidate discards the cached token for clientID and scope. An empty
	// scope means the manager's configured scope.
	Invalidate(ctx context.Context, clientID, scope string) error

	// State reports the cache state for clientID.
	State(ctx context.Context, clientID string) State

	// Scope returns the scope requested on every exchange.
	Scope() string
}
