package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/webinar-reminder/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec = 10
	rateLimitKeyPrefix = "reminder:ratelimit:"
	rateLimitWindow    = time.Second
	minRetryDelay      = 5 * time.Millisecond
)

// acquireScript counts a send against the current window and returns how many
// milliseconds remain until the window resets when the limit is exceeded, 0
// otherwise. The window starts with the first send, not on a clock boundary.
var acquireScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if current <= tonumber(ARGV[1]) then
  return 0
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  ttl = tonumber(ARGV[2])
end
return ttl
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter caps sends per key across every process sharing the Redis
// instance. One key per provider account.
type RedisRateLimiter struct {
	client *goredis.Client
	limit  int
	window time.Duration
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, limitPerSec int) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}

	return &RedisRateLimiter{
		client: client,
		limit:  limitPerSec,
		window: rateLimitWindow,
		sleep:  sleepWithContext,
	}, nil
}

// Allow takes a slot if one is free and reports whether it did.
func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	retryIn, err := r.acquire(ctx, key)
	if err != nil {
		return false, err
	}
	return retryIn == 0, nil
}

// Wait blocks until a slot is taken or ctx is done. It sleeps until the
// current window expires rather than polling.
func (r *RedisRateLimiter) Wait(ctx context.Context, key string) error {
	for {
		retryIn, err := r.acquire(ctx, key)
		if err != nil {
			return err
		}
		if retryIn == 0 {
			return nil
		}

		if err := r.sleep(ctx, retryIn); err != nil {
			return err
		}
	}
}

func (r *RedisRateLimiter) acquire(ctx context.Context, key string) (time.Duration, error) {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if normalized == "" {
		return 0, fmt.Errorf("rate limit key is required")
	}

	ms, err := acquireScript.Run(ctx, r.client, []string{rateLimitKeyPrefix + normalized}, r.limit, r.window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate rate limit for %s: %w", normalized, err)
	}
	if ms <= 0 {
		return 0, nil
	}

	retryIn := time.Duration(ms) * time.Millisecond
	if retryIn < minRetryDelay {
		retryIn = minRetryDelay
	}
	return retryIn, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
