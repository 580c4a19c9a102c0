// Package ratelimit implements a Redis token bucket used to pace outbound
// marketplace API calls per source.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrRedisClientNil = errors.New("redis client is nil")

// keyPrefix namespaces limiter buckets per upstream source.
const keyPrefix = "brickradar:ratelimit:"

const tokenBucketLua = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

if rate <= 0 or burst <= 0 then
  return 1
end

local data = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil then
  tokens = burst
end
if ts == nil then
  ts = now
end

local delta = math.max(0, now - ts)
local refill = (delta * rate) / 1000.0
if refill > 0 then
  tokens = math.min(burst, tokens + refill)
  ts = now
end

if tokens < requested then
  redis.call("HMSET", key, "tokens", tokens, "ts", ts)
  redis.call("PEXPIRE", key, math.ceil((burst / rate) * 1000.0 * 2))
  return 0
end

tokens = tokens - requested
redis.call("HMSET", key, "tokens", tokens, "ts", ts)
redis.call("PEXPIRE", key, math.ceil((burst / rate) * 1000.0 * 2))
return 1
`

// Limiter paces outbound calls using a per-source token bucket in Redis.
type Limiter struct {
	rdb    *redis.Client
	script *redis.Script
	rate   int
	burst  int
}

// New creates a limiter. rate is tokens per second, burst the bucket size.
func New(rdb *redis.Client, rate, burst int) *Limiter {
	return &Limiter{
		rdb:    rdb,
		script: redis.NewScript(tokenBucketLua),
		rate:   rate,
		burst:  burst,
	}
}

// Allow tries to take one token from the bucket for the given source.
func (l *Limiter) Allow(ctx context.Context, source string) (bool, error) {
	if l == nil || l.rdb == nil {
		return false, ErrRedisClientNil
	}
	if source == "" {
		return false, fmt.Errorf("rate limit source is empty")
	}
	if l.rate <= 0 || l.burst <= 0 {
		return true, nil
	}

	now := time.Now().UnixMilli()
	res, err := l.script.Run(ctx, l.rdb, []string{keyPrefix + source}, l.rate, l.burst, now, 1).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit eval: %w", err)
	}

	return toInt64(res) == 1, nil
}

// Wait blocks until a token is available or the context is done.
func (l *Limiter) Wait(ctx context.Context, source string) error {
	for {
		ok, err := l.Allow(ctx, source)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if parsed, err := strconv.ParseInt(t, 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}
