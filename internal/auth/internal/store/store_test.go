package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

func TestMemory_GetSetDelete(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	s := NewMemory(clock.Now)
	ctx := context.Background()

	if got, err := s.Get(ctx, "k"); err != nil || got != nil {
		t.Fatalf("Get() on empty store = %v, %v; want nil, nil", got, err)
	}

	entry := &Entry{AccessToken: "at-1", ExpiresAt: clock.Now().Add(time.Hour), SecretHash: "h"}
	if err := s.Set(ctx, "k", entry); err != nil {
		t.Fatalf("Set() unexpected error: %v", err)
	}

	got, err := s.Get(ctx, "k")
	if err != nil || got == nil {
		t.Fatalf("Get() = %v, %v; want entry", got, err)
	}
	if got.AccessToken != "at-1" {
		t.Errorf("AccessToken = %q, want at-1", got.AccessToken)
	}

	// returned entries are copies
	got.AccessToken = "mutated"
	again, _ := s.Get(ctx, "k")
	if again.AccessToken != "at-1" {
		t.Errorf("stored entry was mutated through Get result")
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() unexpected error: %v", err)
	}
	if got, _ := s.Get(ctx, "k"); got != nil {
		t.Errorf("Get() after Delete = %v, want nil", got)
	}
}

func TestMemory_Expiry(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	s := NewMemory(clock.Now)
	ctx := context.Background()

	_ = s.Set(ctx, "short", &Entry{AccessToken: "a", ExpiresAt: clock.Now().Add(time.Minute)})
	_ = s.Set(ctx, "long", &Entry{AccessToken: "b", ExpiresAt: clock.Now().Add(time.Hour)})

	clock.Advance(time.Minute)

	if got, _ := s.Get(ctx, "short"); got != nil {
		t.Errorf("Get(short) at expiry = %v, want nil", got)
	}
	if s.Size() != 2 {
		t.Errorf("Size() before Cleanup = %d, want 2", s.Size())
	}

	s.Cleanup()

	if s.Size() != 1 {
		t.Errorf("Size() after Cleanup = %d, want 1", s.Size())
	}
	if got, _ := s.Get(ctx, "long"); got == nil {
		t.Error("Get(long) = nil, want entry")
	}
}

func TestMemory_Close(t *testing.T) {
	t.Parallel()

	s := NewMemory(nil)
	_ = s.Set(context.Background(), "k", &Entry{ExpiresAt: time.Now().Add(time.Hour)})
	if err := s.Close(); err != nil {
		t.Fatalf("Close() unexpected error: %v", err)
	}
	if s.Size() != 0 {
		t.Errorf("Size() after Close = %d, want 0", s.Size())
	}
}

func newRedisStore(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, "gaas:"), mr
}

func TestRedis_RoundTrip(t *testing.T) {
	t.Parallel()

	s, mr := newRedisStore(t)
	ctx := context.Background()

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	entry := &Entry{AccessToken: "at-1", TokenType: "Bearer", Scope: "scope-a", ExpiresAt: expires, SecretHash: "h"}
	if err := s.Set(ctx, "client-1:scope-a", entry); err != nil {
		t.Fatalf("Set() unexpected error: %v", err)
	}

	if !mr.Exists("gaas:token:client-1:scope-a") {
		t.Fatalf("expected key gaas:token:client-1:scope-a, have %v", mr.Keys())
	}
	if ttl := mr.TTL("gaas:token:client-1:scope-a"); ttl <= 0 || ttl > time.Hour {
		t.Errorf("TTL = %v, want (0, 1h]", ttl)
	}

	got, err := s.Get(ctx, "client-1:scope-a")
	if err != nil || got == nil {
		t.Fatalf("Get() = %v, %v; want entry", got, err)
	}
	if got.AccessToken != "at-1" || got.SecretHash != "h" || !got.ExpiresAt.Equal(expires) {
		t.Errorf("Get() = %+v, want round-tripped entry", got)
	}

	if err := s.Delete(ctx, "client-1:scope-a"); err != nil {
		t.Fatalf("Delete() unexpected error: %v", err)
	}
	if got, _ := s.Get(ctx, "client-1:scope-a"); got != nil {
		t.Errorf("Get() after Delete = %v, want nil", got)
	}
}

func TestRedis_TTLExpiry(t *testing.T) {
	t.Parallel()

	s, mr := newRedisStore(t)
	ctx := context.Background()

	_ = s.Set(ctx, "k", &Entry{AccessToken: "a", ExpiresAt: time.Now().Add(time.Minute)})
	mr.FastForward(2 * time.Minute)

	if got, err := s.Get(ctx, "k"); err != nil || got != nil {
		t.Errorf("Get() after TTL = %v, %v; want nil, nil", got, err)
	}
}

func TestRedis_SkipsExpiredEntries(t *testing.T) {
	t.Parallel()

	s, mr := newRedisStore(t)
	_ = s.Set(context.Background(), "k", &Entry{AccessToken: "a", ExpiresAt: time.Now().Add(-time.Second)})

	if len(mr.Keys()) != 0 {
		t.Errorf("expired entry was stored: %v", mr.Keys())
	}
}

func TestRedis_Unavailable(t *testing.T) {
	t.Parallel()

	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 5 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	s := NewRedis(client, "gaas:")

	if _, err := s.Get(context.Background(), "k"); err == nil {
		t.Error("Get() against unreachable redis should return error")
	}
}

func TestRedis_TryLock(t *testing.T) {
	t.Parallel()

	s, mr := newRedisStore(t)
	ctx := context.Background()

	release, ok, err := s.TryLock(ctx, "client-1:scope-a", 10*time.Second)
	if err != nil || !ok {
		t.Fatalf("TryLock() = %v, %v; want acquired", ok, err)
	}
	if !mr.Exists("gaas:lock:client-1:scope-a") {
		t.Fatalf("expected key gaas:lock:client-1:scope-a, have %v", mr.Keys())
	}
	if ttl := mr.TTL("gaas:lock:client-1:scope-a"); ttl <= 0 || ttl > 10*time.Second {
		t.Errorf("lock TTL = %v, want (0, 10s]", ttl)
	}

	if _, ok, err := s.TryLock(ctx, "client-1:scope-a", 10*time.Second); err != nil || ok {
		t.Errorf("second TryLock() = %v, %v; want not acquired", ok, err)
	}
	if _, ok, _ := s.TryLock(ctx, "client-2:scope-a", 10*time.Second); !ok {
		t.Error("TryLock() on another key should be acquired")
	}

	release()
	if mr.Exists("gaas:lock:client-1:scope-a") {
		t.Error("lock still present after release")
	}
	if _, ok, _ := s.TryLock(ctx, "client-1:scope-a", 10*time.Second); !ok {
		t.Error("TryLock() after release should be acquired")
	}
}

func TestRedis_ReleaseKeepsOtherHoldersLock(t *testing.T) {
	t.Parallel()

	s, mr := newRedisStore(t)
	ctx := context.Background()

	staleRelease, ok, _ := s.TryLock(ctx, "k", time.Second)
	if !ok {
		t.Fatal("TryLock() not acquired")
	}
	mr.FastForward(2 * time.Second)

	if _, ok, _ := s.TryLock(ctx, "k", 10*time.Second); !ok {
		t.Fatal("TryLock() after expiry not acquired")
	}

	staleRelease()
	if !mr.Exists("gaas:lock:k") {
		t.Error("expired holder released the current holder's lock")
	}
}
