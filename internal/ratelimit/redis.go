package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisTimeout = 2 * time.Second

// fixedWindowScript counts a request and returns the count with the window's
// remaining lifetime in milliseconds.
var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

// Redis is a fixed-window limiter shared by every instance using the same
// Redis. When Redis is unreachable it falls back to an in-process limiter.
type Redis struct {
	client   *redis.Client
	prefix   string
	limit    int
	window   time.Duration
	fallback *Memory
	logger   *slog.Logger
}

var _ Limiter = (*Redis)(nil)

// NewRedis creates a limiter storing counters under prefix+"rate_limit:".
// If logger is nil, it uses the default slog logger.
func NewRedis(client *redis.Client, prefix string, limit int, window time.Duration, logger *slog.Logger) *Redis {
	if client == nil {
		panic("redis client cannot be nil")
	}
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{
		client:   client,
		prefix:   prefix + "rate_limit:",
		limit:    limit,
		window:   window,
		fallback: NewMemory(limit, window),
		logger:   logger,
	}
}

// Allow counts one request for key in the current window.
func (l *Redis) Allow(ctx context.Context, key string) Decision {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	res, err := fixedWindowScript.Run(ctx, l.client, []string{l.prefix + key}, l.window.Milliseconds()).Result()
	if err != nil {
		l.logger.Warn("rate limit store unavailable, using local limiter", "error", err)
		return l.fallback.Allow(ctx, key)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		l.logger.Warn("unexpected rate limit script result, using local limiter")
		return l.fallback.Allow(ctx, key)
	}

	count, _ := vals[0].(int64)
	ttl, _ := vals[1].(int64)
	if ttl < 0 {
		ttl = l.window.Milliseconds()
	}

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   int(count) <= l.limit,
		Limit:     l.limit,
		Remaining: remaining,
		ResetAt:   time.Now().Add(time.Duration(ttl) * time.Millisecond),
	}
}
