package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smallbiznis/sso-auth/internal/repository"
)

// RedisRateLimiter is a fixed-window counter: the first hit in a window sets
// the expiry, and hits beyond max are denied until the key expires.
type RedisRateLimiter struct {
	client redis.UniversalClient
	max    int64
	window time.Duration
}

var _ repository.RateLimiter = (*RedisRateLimiter)(nil)

func NewRedisRateLimiter(client redis.UniversalClient, max int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, max: int64(max), window: window}
}

// incrWindowScript increments the counter and sets its expiry in one step.
// A counter left without a TTL gets one on its next hit.
var incrWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 or redis.call('PTTL', KEYS[1]) < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// Allow records one attempt for key and reports whether it is within budget.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	count, err := incrWindowScript.Run(ctx, l.client, []string{key}, l.window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("rate limit incr: %w", err)
	}
	return count <= l.max, nil
}
