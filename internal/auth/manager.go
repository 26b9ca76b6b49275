package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jamesprial/admanager-gateway/internal/auth/autherr"
	"github.com/jamesprial/admanager-gateway/internal/auth/internal/store"
)

// Refresh outcomes reported to the observer.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Manager is the TokenManager implementation. Tokens are cached per
// (client id, scope); refreshes for the same key are collapsed into one
// exchange with the identity provider.
type Manager struct {
	provider     Provider
	store        store.Store
	scope        string
	safetyMargin time.Duration
	now          func() time.Time
	logger       *slog.Logger
	observe      func(outcome string)

	lockTTL  time.Duration
	lockPoll time.Duration

	group singleflight.Group

	mu         sync.Mutex
	refreshing map[string]int
	failed     map[string]bool
}

// flightResult carries the fingerprint of the secret a flight exchanged with,
// so waiters holding another secret know the result is not theirs.
type flightResult struct {
	token       Token
	fingerprint string
}

var _ TokenManager = (*Manager)(nil)

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now for freshness decisions.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger. Secrets and token values are never logged.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithSafetyMargin sets how long before expiry a token stops being handed out.
func WithSafetyMargin(d time.Duration) Option {
	return func(m *Manager) { m.safetyMargin = d }
}

// WithRefreshObserver registers a callback invoked once per exchange with its outcome.
func WithRefreshObserver(fn func(outcome string)) Option {
	return func(m *Manager) { m.observe = fn }
}

// WithRefreshLock bounds how long a shared store's refresh lock is held and how
// often other instances re-check the store while waiting for it.
func WithRefreshLock(ttl, poll time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.lockTTL = ttl
		}
		if poll > 0 {
			m.lockPoll = poll
		}
	}
}

func withStore(s store.Store) Option {
	return func(m *Manager) { m.store = s }
}

// NewManager creates a token manager requesting scope from provider.
// Tokens are kept in memory unless a shared store is configured via wire.
func NewManager(provider Provider, scope string, opts ...Option) *Manager {
	if provider == nil {
		panic("provider cannot be nil")
	}

	m := &Manager{
		provider:     provider,
		scope:        scope,
		safetyMargin: time.Minute,
		now:          time.Now,
		logger:       slog.Default(),
		observe:      func(string) {},
		lockTTL:      30 * time.Second,
		lockPoll:     50 * time.Millisecond,
		refreshing:   make(map[string]int),
		failed:       make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.store == nil {
		m.store = store.NewMemory(m.now)
	}
	return m
}

// Scope returns the scope requested on every exchange.
func (m *Manager) Scope() string {
	return m.scope
}

// GetValidToken returns a token fresh for at least the safety margin.
//
// At most one exchange per cache key runs at a time. A caller whose secret
// differs from the one the running exchange uses waits for it to finish and
// then starts its own.
func (m *Manager) GetValidToken(ctx context.Context, clientID, clientSecret string) (Token, error) {
	if clientID == "" || clientSecret == "" {
		return Token{}, autherr.NewMissingCredentialsError("GetValidToken")
	}

	key := cacheKey(clientID, m.scope)
	fingerprint := secretFingerprint(clientSecret)

	for {
		if tok, ok := m.lookup(ctx, key, fingerprint); ok {
			return tok, nil
		}

		ch := m.group.DoChan(key, func() (any, error) {
			res := flightResult{fingerprint: fingerprint}
			if tok, ok := m.lookup(ctx, key, fingerprint); ok {
				res.token = tok
				return res, nil
			}
			// The exchange outlives any single waiter so the others still get a result.
			tok, err := m.exchange(context.WithoutCancel(ctx), key, fingerprint, clientID, clientSecret)
			res.token = tok
			return res, err
		})

		var res singleflight.Result
		select {
		case <-ctx.Done():
			return Token{}, ctx.Err()
		case res = <-ch:
		}

		flight, _ := res.Val.(flightResult)
		if flight.fingerprint != fingerprint {
			continue
		}
		if res.Err != nil {
			return Token{}, res.Err
		}
		return flight.token, nil
	}
}

// exchange refreshes key. With a store shared between instances it first takes
// the store's refresh lock; while another instance holds it, the store is
// re-checked until that instance writes a token or the lock expires.
func (m *Manager) exchange(ctx context.Context, key, fingerprint, clientID, clientSecret string) (Token, error) {
	m.setRefreshing(key, true)
	defer m.setRefreshing(key, false)

	locker, ok := m.store.(store.Locker)
	if !ok {
		return m.refresh(ctx, key, fingerprint, clientID, clientSecret)
	}

	for {
		release, acquired, err := locker.TryLock(ctx, key, m.lockTTL)
		if err != nil {
			m.logger.Warn("token refresh lock unavailable, refreshing without it",
				"client_id", clientID,
				"error", err,
			)
			return m.refresh(ctx, key, fingerprint, clientID, clientSecret)
		}
		if acquired {
			defer release()
			if tok, ok := m.lookup(ctx, key, fingerprint); ok {
				return tok, nil
			}
			return m.refresh(ctx, key, fingerprint, clientID, clientSecret)
		}

		timer := time.NewTimer(m.lockPoll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Token{}, ctx.Err()
		case <-timer.C:
		}
		if tok, ok := m.lookup(ctx, key, fingerprint); ok {
			return tok, nil
		}
	}
}

func (m *Manager) refresh(ctx context.Context, key, fingerprint, clientID, clientSecret string) (Token, error) {
	start := m.now()
	tok, err := m.provider.Exchange(ctx, clientID, clientSecret, m.scope)
	if err != nil {
		derr := autherr.NewExchangeError("GetValidToken", clientID, err)
		// A rejected secret does not make a cached token for the key unusable.
		if !m.hasFreshEntry(ctx, key) {
			m.setFailed(key, true)
		}
		m.observe(OutcomeFailure)
		m.logger.Warn("token exchange failed",
			"client_id", clientID,
			"scope", m.scope,
			"oauth_error", autherr.OAuthCode(derr),
		)
		return Token{}, derr
	}

	entry := &store.Entry{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
		Scope:       tok.Scope,
		ExpiresAt:   tok.ExpiresAt,
		IssuedAt:    tok.IssuedAt,
		SecretHash:  fingerprint,
	}
	if err := m.store.Set(ctx, key, entry); err != nil {
		// The token is still good for this caller; the next one will refresh.
		m.logger.Warn("failed to cache token", "client_id", clientID, "error", err)
	}

	m.setFailed(key, false)
	m.observe(OutcomeSuccess)
	m.logger.Info("token refreshed",
		"client_id", clientID,
		"scope", tok.Scope,
		"expires_at", tok.ExpiresAt,
		"duration", m.now().Sub(start),
	)
	return tok, nil
}

// lookup returns the cached token when it was obtained with the same secret
// and is outside the safety margin.
func (m *Manager) lookup(ctx context.Context, key, fingerprint string) (Token, bool) {
	entry, err := m.store.Get(ctx, key)
	if err != nil {
		m.logger.Warn("token cache read failed", "error", err)
		return Token{}, false
	}
	if entry == nil || entry.SecretHash != fingerprint {
		return Token{}, false
	}
	if !m.fresh(entry.ExpiresAt) {
		return Token{}, false
	}
	return entryToken(entry), true
}

// hasFreshEntry reports whether key holds a token outside the safety margin,
// whichever secret obtained it.
func (m *Manager) hasFreshEntry(ctx context.Context, key string) bool {
	entry, err := m.store.Get(ctx, key)
	return err == nil && entry != nil && m.fresh(entry.ExpiresAt)
}

func (m *Manager) fresh(expiresAt time.Time) bool {
	return m.now().Before(expiresAt.Add(-m.safetyMargin))
}

// Invalidate discards the cached token for clientID and scope.
func (m *Manager) Invalidate(ctx context.Context, clientID, scope string) error {
	if scope == "" {
		scope = m.scope
	}
	key := cacheKey(clientID, scope)
	m.setFailed(key, false)

	if err := m.store.Delete(ctx, key); err != nil {
		return err
	}
	m.logger.Info("token invalidated", "client_id", clientID, "scope", scope)
	return nil
}

// State reports the cache state for clientID at the configured scope.
func (m *Manager) State(ctx context.Context, clientID string) State {
	key := cacheKey(clientID, m.scope)

	m.mu.Lock()
	refreshing, failed := m.refreshing[key] > 0, m.failed[key]
	m.mu.Unlock()

	if refreshing {
		return StateRefreshing
	}

	entry, err := m.store.Get(ctx, key)
	switch {
	case err == nil && entry != nil && m.fresh(entry.ExpiresAt):
		return StateValid
	case failed:
		return StateError
	case err != nil || entry == nil:
		return StateUnissued
	}
	return StateExpiring
}

// Close releases the token store. Cached tokens are discarded.
func (m *Manager) Close() error {
	return m.store.Close()
}

func (m *Manager) setRefreshing(key string, v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v {
		m.refreshing[key]++
		return
	}
	if m.refreshing[key]--; m.refreshing[key] <= 0 {
		delete(m.refreshing, key)
	}
}

func (m *Manager) setFailed(key string, v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v {
		m.failed[key] = true
	} else {
		delete(m.failed, key)
	}
}

func cacheKey(clientID, scope string) string {
	return clientID + ":" + scope
}

func secretFingerprint(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func entryToken(e *store.Entry) Token {
	return Token{
		AccessToken: e.AccessToken,
		TokenType:   e.TokenType,
		Scope:       e.Scope,
		ExpiresAt:   e.ExpiresAt,
		IssuedAt:    e.IssuedAt,
	}
}
