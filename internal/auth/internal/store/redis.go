package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const unlockTimeout = 2 * time.Second

// unlockScript deletes the lock only when it still carries the caller's token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis shares entries between gateway instances. Keys expire with the token.
// Refresh locks live under <prefix>lock:<key>.
type Redis struct {
	client     *redis.Client
	prefix     string
	lockPrefix string
	now        func() time.Time
}

var (
	_ Store  = (*Redis)(nil)
	_ Locker = (*Redis)(nil)
)

// NewRedis creates a store on client. prefix is prepended to every key.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if client == nil {
		panic("redis client cannot be nil")
	}
	return &Redis{
		client: client,
		prefix:     prefix + "token:",
		lockPrefix: prefix + "lock:",
		now:        time.Now,
	}
}

// Get loads and decodes the entry for key.
func (r *Redis) Get(ctx context.Context, key string) (*Entry, error) {
	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decode cached token: %w", err)
	}
	if !r.now().Before(entry.ExpiresAt) {
		return nil, nil
	}
	return &entry, nil
}

// Set stores entry until its ExpiresAt. Already expired entries are not stored.
func (r *Redis) Set(ctx context.Context, key string, entry *Entry) error {
	ttl := entry.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes the entry for key.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// TryLock takes the refresh lock for key with SET NX. The lock expires after
// ttl even if release is never called.
func (r *Redis) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	lockKey := r.lockPrefix + key
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
		defer cancel()
		_ = unlockScript.Run(ctx, r.client, []string{lockKey}, token).Err()
	}
	return release, true, nil
}

// Close is a no-op; the client is owned by the caller.
func (r *Redis) Close() error {
	return nil
}
