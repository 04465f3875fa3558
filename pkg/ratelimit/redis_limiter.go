package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/portarium/core/pkg/apperr"
	"github.com/portarium/core/pkg/primitives"
)

// redisWindowScript counts a hit in the current fixed window atomically.
// KEYS[1] = window key ("rl:<tenant>:<command>:<windowStartUnix>")
// ARGV[1] = limit
// ARGV[2] = window TTL in seconds
// Returns {allowed, count}.
var redisWindowScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local count = tonumber(redis.call("GET", key) or "0")
if count >= limit then
    return {0, count}
end
count = redis.call("INCR", key)
if count == 1 then
    redis.call("EXPIRE", key, ttl)
end
if count > limit then
    return {0, count}
end
return {1, count}
`)

// RedisLimiter enforces fixed windows across processes. The window start
// is baked into the key, so rollover needs no coordination: a new window
// is simply a new key and the old one expires on its own.
type RedisLimiter struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisLimiter creates a Redis-backed fixed-window limiter.
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client, now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, tenant primitives.TenantID, command string, rule Rule) (Decision, error) {
	if err := rule.Validate(); err != nil {
		return Decision{}, err
	}
	now := l.now()
	start := windowStart(now, rule.Window)
	key := fmt.Sprintf("rl:%s:%s:%d", tenant, command, start.Unix())
	ttl := int(rule.Window/time.Second) + 1

	res, err := redisWindowScript.Run(ctx, l.client, []string{key}, rule.Limit, ttl).Result()
	if err != nil {
		return Decision{}, apperr.Dependencyf("redis limiter: %v", err)
	}
	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return Decision{}, apperr.Dependencyf("redis limiter: unexpected script reply %T", res)
	}
	allowed, _ := results[0].(int64)
	count, _ := results[1].(int64)

	remaining := rule.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   allowed == 1,
		Remaining: remaining,
		ResetsAt:  start.Add(rule.Window),
	}, nil
}
