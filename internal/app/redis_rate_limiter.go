package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRateLimitPrefix = "adreel:rate_limit"

// minRateLimitWindow is the smallest window the Redis counter will expire.
const minRateLimitWindow = time.Second

// windowCounterScript bumps a per-window counter and starts its expiry on the
// first hit. It replies with the count and the milliseconds left in the window.
var windowCounterScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local left = redis.call("PTTL", KEYS[1])
if left < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  left = tonumber(ARGV[1])
end
return {n, left}
`)

// RateLimiter counts requests per subject within a fixed window.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// RedisRateLimiter shares generate counters between API replicas.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultRateLimitPrefix
	}
	return &RedisRateLimiter{client: client, prefix: prefix}
}

func (r *RedisRateLimiter) counterKey(scope, subject string) (string, bool) {
	scope, subject = strings.TrimSpace(scope), strings.TrimSpace(subject)
	if scope == "" || subject == "" {
		return "", false
	}
	return r.prefix + ":" + scope + ":" + subject, true
}

// ConsumeRateLimit increments the subject's counter. A nil client, a
// non-positive limit or an empty key disables limiting.
func (r *RedisRateLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}
	key, ok := r.counterKey(scope, subject)
	if !ok {
		return 0, 0, nil
	}
	window = max(window, minRateLimitWindow)

	reply, err := windowCounterScript.Run(ctx, r.client, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(reply) != 2 {
		return 0, 0, fmt.Errorf("rate limit %s: unexpected reply %v", key, reply)
	}
	return int(reply[0]), retryAfterSeconds(time.Duration(reply[1]) * time.Millisecond), nil
}

// retryAfterSeconds rounds the time left in a window up to whole seconds.
func retryAfterSeconds(left time.Duration) int {
	secs := int((left + time.Second - 1) / time.Second)
	return max(secs, 1)
}
