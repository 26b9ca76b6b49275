package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesprial/admanager-gateway/internal/auth/autherr"
	"github.com/jamesprial/admanager-gateway/internal/auth/internal/store"
	ierrors "github.com/jamesprial/admanager-gateway/internal/errors"
)

const testScope = "https://www.googleapis.com/auth/dfp"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeProvider issues tokens valid for ttl. When gate is non-nil every
// exchange blocks until it is closed.
type fakeProvider struct {
	clock   *fakeClock
	ttl     time.Duration
	calls   atomic.Int32
	active  atomic.Int32
	peak    atomic.Int32
	gate    chan struct{}
	secrets map[string]string
	err     error
}

func (p *fakeProvider) Exchange(ctx context.Context, clientID, clientSecret, scope string) (Token, error) {
	n := p.calls.Add(1)
	cur := p.active.Add(1)
	defer p.active.Add(-1)
	for {
		peak := p.peak.Load()
		if cur <= peak || p.peak.CompareAndSwap(peak, cur) {
			break
		}
	}
	if p.gate != nil {
		<-p.gate
	}
	if p.err != nil {
		return Token{}, p.err
	}
	if want, ok := p.secrets[clientID]; ok && want != clientSecret {
		return Token{}, ierrors.NewOAuthError(ierrors.ErrorCodeInvalidClient, "bad secret")
	}
	now := p.clock.Now()
	return Token{
		AccessToken: fmt.Sprintf("token-%d", n),
		TokenType:   "Bearer",
		Scope:       scope,
		IssuedAt:    now,
		ExpiresAt:   now.Add(p.ttl),
	}, nil
}

func newTestManager(p *fakeProvider, opts ...Option) *Manager {
	return NewManager(p, testScope, append([]Option{WithClock(p.clock.Now), WithSafetyMargin(time.Minute)}, opts...)...)
}

func TestManager_FreshTokenIsCached(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{clock: newFakeClock(), ttl: time.Hour}
	m := newTestManager(p)
	ctx := context.Background()

	first, err := m.GetValidToken(ctx, "client-1", "secret-1")
	require.NoError(t, err)
	second, err := m.GetValidToken(ctx, "client-1", "secret-1")
	require.NoError(t, err)

	assert.Equal(t, int32(1), p.calls.Load())
	assert.Equal(t, first, second)
	assert.Equal(t, testScope, first.Scope)
	assert.Equal(t, StateValid, m.State(ctx, "client-1"))
}

func TestManager_RefreshInsideSafetyMargin(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	p := &fakeProvider{clock: clock, ttl: time.Hour}
	m := newTestManager(p)
	ctx := context.Background()

	first, err := m.GetValidToken(ctx, "client-1", "secret-1")
	require.NoError(t, err)

	clock.Advance(58 * time.Minute)
	assert.Equal(t, StateValid, m.State(ctx, "client-1"))
	_, err = m.GetValidToken(ctx, "client-1", "secret-1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), p.calls.Load(), "token outside the margin must be reused")

	clock.Advance(90 * time.Second)
	assert.Equal(t, StateExpiring, m.State(ctx, "client-1"))

	second, err := m.GetValidToken(ctx, "client-1", "secret-1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), p.calls.Load())
	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	assert.True(t, clock.Now().Before(second.ExpiresAt.Add(-time.Minute)))
}

func TestManager_SingleFlight(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{clock: newFakeClock(), ttl: time.Hour, gate: make(chan struct{})}
	m := newTestManager(p)
	ctx := context.Background()

	const callers = 50
	var wg sync.WaitGroup
	tokens := make([]Token, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = m.GetValidToken(ctx, "client-1", "secret-1")
		}(i)
	}

	require.Eventually(t, func() bool { return p.calls.Load() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return m.State(ctx, "client-1") == StateRefreshing }, time.Second, time.Millisecond)
	close(p.gate)
	wg.Wait()

	assert.Equal(t, int32(1), p.calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, tokens[0].AccessToken, tokens[i].AccessToken)
	}
	assert.Equal(t, StateValid, m.State(ctx, "client-1"))
}

func TestManager_DistinctClientsRefreshIndependently(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{clock: newFakeClock(), ttl: time.Hour}
	m := newTestManager(p)
	ctx := context.Background()

	a, err := m.GetValidToken(ctx, "client-a", "secret")
	require.NoError(t, err)
	b, err := m.GetValidToken(ctx, "client-b", "secret")
	require.NoError(t, err)

	assert.Equal(t, int32(2), p.calls.Load())
	assert.NotEqual(t, a.AccessToken, b.AccessToken)
}

func TestManager_FailureCachesNothing(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{clock: newFakeClock(), ttl: time.Hour, err: ierrors.NewOAuthError(ierrors.ErrorCodeInvalidClient, "")}
	m := newTestManager(p)
	ctx := context.Background()

	_, err := m.GetValidToken(ctx, "client-1", "secret-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ierrors.ErrAuth)
	assert.ErrorIs(t, err, ErrExchangeFailed)
	assert.Equal(t, ierrors.ErrorCodeInvalidClient, autherr.OAuthCode(err))
	assert.Equal(t, StateError, m.State(ctx, "client-1"))

	// no internal retry, and the next call goes back to the provider
	assert.Equal(t, int32(1), p.calls.Load())
	p.err = nil
	_, err = m.GetValidToken(ctx, "client-1", "secret-1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), p.calls.Load())
	assert.Equal(t, StateValid, m.State(ctx, "client-1"))
}

func TestManager_SecretMismatchIsCacheMiss(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{clock: newFakeClock(), ttl: time.Hour, secrets: map[string]string{"client-1": "right"}}
	m := newTestManager(p)
	ctx := context.Background()

	good, err := m.GetValidToken(ctx, "client-1", "right")
	require.NoError(t, err)

	_, err = m.GetValidToken(ctx, "client-1", "wrong")
	require.Error(t, err, "a cached token must not be handed to a caller with another secret")
	assert.ErrorIs(t, err, ierrors.ErrAuth)
	assert.Equal(t, int32(2), p.calls.Load())

	again, err := m.GetValidToken(ctx, "client-1", "right")
	require.NoError(t, err)
	assert.Equal(t, good.AccessToken, again.AccessToken, "failed exchange must not evict the good token")
}

func TestManager_Invalidate(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{clock: newFakeClock(), ttl: time.Hour}
	m := newTestManager(p)
	ctx := context.Background()

	first, err := m.GetValidToken(ctx, "client-1", "secret-1")
	require.NoError(t, err)

	require.NoError(t, m.Invalidate(ctx, "client-1", ""))
	assert.Equal(t, StateUnissued, m.State(ctx, "client-1"))

	second, err := m.GetValidToken(ctx, "client-1", "secret-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	assert.Equal(t, int32(2), p.calls.Load())

	// other scopes are untouched
	require.NoError(t, m.Invalidate(ctx, "client-1", "other-scope"))
	assert.Equal(t, StateValid, m.State(ctx, "client-1"))
}

func TestManager_MissingCredentials(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{clock: newFakeClock(), ttl: time.Hour}
	m := newTestManager(p)

	for _, creds := range [][2]string{{"", "secret"}, {"client", ""}} {
		_, err := m.GetValidToken(context.Background(), creds[0], creds[1])
		assert.ErrorIs(t, err, ierrors.ErrAuth)
		assert.ErrorIs(t, err, ErrMissingCredentials)
	}
	assert.Equal(t, int32(0), p.calls.Load())
	assert.Equal(t, StateUnissued, m.State(context.Background(), "client"))
}

func TestManager_AbandonedWaiterDoesNotCancelExchange(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{clock: newFakeClock(), ttl: time.Hour, gate: make(chan struct{})}
	m := newTestManager(p)

	cancelled, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := m.GetValidToken(cancelled, "client-1", "secret-1")
		errCh <- err
	}()
	require.Eventually(t, func() bool { return p.calls.Load() == 1 }, time.Second, time.Millisecond)

	tokCh := make(chan Token, 1)
	go func() {
		tok, _ := m.GetValidToken(context.Background(), "client-1", "secret-1")
		tokCh <- tok
	}()

	cancel()
	assert.True(t, errors.Is(<-errCh, context.Canceled))

	close(p.gate)
	tok := <-tokCh
	assert.Equal(t, "token-1", tok.AccessToken)
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestManager_RefreshObserver(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var outcomes []string
	observer := WithRefreshObserver(func(o string) {
		mu.Lock()
		defer mu.Unlock()
		outcomes = append(outcomes, o)
	})

	p := &fakeProvider{clock: newFakeClock(), ttl: time.Hour, err: errors.New("boom")}
	m := newTestManager(p, observer)

	_, _ = m.GetValidToken(context.Background(), "c", "s")
	p.err = nil
	_, _ = m.GetValidToken(context.Background(), "c", "s")
	_, _ = m.GetValidToken(context.Background(), "c", "s")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{OutcomeFailure, OutcomeSuccess}, outcomes)
}

func TestManager_SharedRedisStore(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	// Redis judges expiry with the wall clock, so the fake clock starts now.
	clock := &fakeClock{now: time.Now()}
	p := &fakeProvider{clock: clock, ttl: time.Hour}
	shared := withStore(store.NewRedis(client, "gaas:"))

	a := newTestManager(p, shared)
	b := newTestManager(p, shared)
	ctx := context.Background()

	tokA, err := a.GetValidToken(ctx, "client-1", "secret-1")
	require.NoError(t, err)
	tokB, err := b.GetValidToken(ctx, "client-1", "secret-1")
	require.NoError(t, err)

	assert.Equal(t, int32(1), p.calls.Load())
	assert.Equal(t, tokA.AccessToken, tokB.AccessToken)

	require.NoError(t, b.Invalidate(ctx, "client-1", ""))
	assert.Equal(t, StateUnissued, a.State(ctx, "client-1"))
}

func TestManager_Close(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{clock: newFakeClock(), ttl: time.Hour}
	m := newTestManager(p)
	_, err := m.GetValidToken(context.Background(), "client-1", "secret-1")
	require.NoError(t, err)

	require.NoError(t, m.Close())
	assert.Equal(t, StateUnissued, m.State(context.Background(), "client-1"))
}

func TestToken_ExpiresIn(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tok := Token{ExpiresAt: now.Add(10 * time.Minute)}
	assert.Equal(t, 10*time.Minute, tok.ExpiresIn(now))
	assert.Equal(t, time.Duration(0), tok.ExpiresIn(now.Add(time.Hour)))
}

func TestManager_OneExchangePerKeyAcrossSecrets(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{clock: newFakeClock(), ttl: time.Hour, gate: make(chan struct{})}
	m := newTestManager(p)
	ctx := context.Background()

	secrets := []string{"secret-1", "secret-2", "secret-3"}
	tokens := make([]Token, len(secrets))
	errs := make([]error, len(secrets))
	var wg sync.WaitGroup
	for i, secret := range secrets {
		wg.Add(1)
		go func(i int, secret string) {
			defer wg.Done()
			tokens[i], errs[i] = m.GetValidToken(ctx, "client-1", secret)
		}(i, secret)
	}

	require.Eventually(t, func() bool { return p.calls.Load() == 1 }, time.Second, time.Millisecond)
	assert.Never(t, func() bool { return p.calls.Load() > 1 }, 50*time.Millisecond, 5*time.Millisecond,
		"a second secret must wait for the running exchange")
	close(p.gate)
	wg.Wait()

	for i := range secrets {
		require.NoError(t, errs[i])
	}
	assert.Equal(t, int32(3), p.calls.Load(), "each secret is exchanged once, in turn")
	assert.Equal(t, int32(1), p.peak.Load())
	assert.NotEqual(t, tokens[0].AccessToken, tokens[1].AccessToken)
	assert.NotEqual(t, tokens[1].AccessToken, tokens[2].AccessToken)
}

func TestManager_StateAfterRejectedSecret(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{clock: newFakeClock(), ttl: time.Hour, secrets: map[string]string{"client-1": "right"}}
	m := newTestManager(p)
	ctx := context.Background()

	good, err := m.GetValidToken(ctx, "client-1", "right")
	require.NoError(t, err)

	_, err = m.GetValidToken(ctx, "client-1", "wrong")
	require.Error(t, err)
	assert.Equal(t, StateValid, m.State(ctx, "client-1"), "a cached token is still being served")

	again, err := m.GetValidToken(ctx, "client-1", "right")
	require.NoError(t, err)
	assert.Equal(t, good.AccessToken, again.AccessToken)
	assert.Equal(t, StateValid, m.State(ctx, "client-1"))

	// Once the good token is gone the failure is what remains to report.
	require.NoError(t, m.Invalidate(ctx, "client-1", ""))
	_, err = m.GetValidToken(ctx, "client-1", "wrong")
	require.Error(t, err)
	assert.Equal(t, StateError, m.State(ctx, "client-1"))
}

func newSharedRedis(t *testing.T) (*miniredis.Miniredis, Option) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, withStore(store.NewRedis(client, "gaas:"))
}

func TestManager_SharedRedisConcurrentRefresh(t *testing.T) {
	t.Parallel()

	mr, shared := newSharedRedis(t)
	clock := &fakeClock{now: time.Now()}
	p := &fakeProvider{clock: clock, ttl: time.Hour, gate: make(chan struct{})}
	lock := WithRefreshLock(10*time.Second, 5*time.Millisecond)

	instances := []*Manager{newTestManager(p, shared, lock), newTestManager(p, shared, lock)}
	ctx := context.Background()

	tokens := make([]Token, len(instances))
	errs := make([]error, len(instances))
	var wg sync.WaitGroup
	for i, m := range instances {
		wg.Add(1)
		go func(i int, m *Manager) {
			defer wg.Done()
			tokens[i], errs[i] = m.GetValidToken(ctx, "client-1", "secret-1")
		}(i, m)
	}

	require.Eventually(t, func() bool { return p.calls.Load() == 1 }, time.Second, time.Millisecond)
	assert.True(t, mr.Exists("gaas:lock:client-1:"+testScope))
	assert.Never(t, func() bool { return p.calls.Load() > 1 }, 100*time.Millisecond, 5*time.Millisecond,
		"the other instance must wait for the lock holder")
	close(p.gate)
	wg.Wait()

	for i := range instances {
		require.NoError(t, errs[i])
		assert.Equal(t, "token-1", tokens[i].AccessToken)
	}
	assert.Equal(t, int32(1), p.calls.Load())
	assert.False(t, mr.Exists("gaas:lock:client-1:"+testScope), "lock released after the exchange")
}

func TestManager_SharedRedisLockReleasedOnFailure(t *testing.T) {
	t.Parallel()

	mr, shared := newSharedRedis(t)
	p := &fakeProvider{clock: &fakeClock{now: time.Now()}, ttl: time.Hour, err: errors.New("boom")}
	m := newTestManager(p, shared)
	ctx := context.Background()

	_, err := m.GetValidToken(ctx, "client-1", "secret-1")
	require.Error(t, err)
	assert.False(t, mr.Exists("gaas:lock:client-1:"+testScope))

	p.err = nil
	_, err = m.GetValidToken(ctx, "client-1", "secret-1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestManager_SharedRedisWaitsOutAbandonedLock(t *testing.T) {
	t.Parallel()

	mr, shared := newSharedRedis(t)
	p := &fakeProvider{clock: &fakeClock{now: time.Now()}, ttl: time.Hour}
	m := newTestManager(p, shared, WithRefreshLock(10*time.Second, 5*time.Millisecond))

	// An instance that died mid-refresh left its lock behind.
	require.NoError(t, mr.Set("gaas:lock:client-1:"+testScope, "dead-instance"))

	done := make(chan error, 1)
	go func() {
		_, err := m.GetValidToken(context.Background(), "client-1", "secret-1")
		done <- err
	}()

	assert.Never(t, func() bool { return p.calls.Load() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	mr.Del("gaas:lock:client-1:" + testScope)

	require.NoError(t, <-done)
	assert.Equal(t, int32(1), p.calls.Load())
}
