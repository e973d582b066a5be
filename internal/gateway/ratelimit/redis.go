package ratelimit

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/edgecomet/mediacache/internal/common/redis"
)

// fixedWindowScript increments the identity's counter and starts the window
// expiry on the first hit. Returns {count, pttl}.
var fixedWindowScript = goredis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisLimiter shares windows across gateway processes through Redis
type RedisLimiter struct {
	client *redis.Client
	limit  int
	period time.Duration
}

func NewRedisLimiter(client *redis.Client, limit int, period time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, period: period}
}

func (r *RedisLimiter) Allow(ctx context.Context, identity string) (Decision, error) {
	raw, err := r.client.RunScript(ctx, fixedWindowScript, []string{redis.RateLimitKey(identity)}, r.period.Milliseconds())
	if err != nil {
		return Decision{}, err
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return Decision{}, fmt.Errorf("unexpected rate limit script result: %v", raw)
	}
	count, okCount := values[0].(int64)
	ttl, okTTL := values[1].(int64)
	if !okCount || !okTTL {
		return Decision{}, fmt.Errorf("unexpected rate limit script result: %v", raw)
	}

	decision := Decision{
		Limit:      r.limit,
		ResetAfter: time.Duration(ttl) * time.Millisecond,
	}
	if int(count) > r.limit {
		return decision, nil
	}

	decision.Allowed = true
	decision.Remaining = r.limit - int(count)
	return decision, nil
}
