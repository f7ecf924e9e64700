// Package ratelimit meters derivative submissions per caller with a token
// bucket held in Redis and shared by every API replica.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "imageq:ratelimit"

var ErrCostExceedsCapacity = errors.New("request cost exceeds rate limit capacity")

// Limits sizes every caller's bucket: Capacity tokens, refilled in full over
// Window.
type Limits struct {
	Capacity int64
	Window   time.Duration
	Prefix   string
}

type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// takeTokens refills the bucket for the elapsed time, then removes the
// requested cost if the level allows it. Reply: {granted, level, wait_ms}.
var takeTokens = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local state = redis.call("HMGET", KEYS[1], "level", "updated")
local level = tonumber(state[1]) or capacity
local updated = tonumber(state[2]) or now
if now > updated then
  level = math.min(capacity, level + (now - updated) * rate)
end

local granted = 0
local wait = 0
if level >= cost then
  level = level - cost
  granted = 1
else
  wait = math.ceil((cost - level) / rate)
end

redis.call("HSET", KEYS[1], "level", level, "updated", now)
redis.call("PEXPIRE", KEYS[1], ttl)
return {granted, math.floor(level), wait}
`)

type RedisTokenBucket struct {
	rdb    redis.UniversalClient
	limits Limits
	// tokens regained per millisecond
	rate float64
	now  func() time.Time
}

func NewRedisTokenBucket(rdb redis.UniversalClient, limits Limits) (*RedisTokenBucket, error) {
	switch {
	case rdb == nil:
		return nil, fmt.Errorf("redis client is required")
	case limits.Capacity <= 0:
		return nil, fmt.Errorf("capacity must be positive")
	case limits.Window <= 0:
		return nil, fmt.Errorf("window must be positive")
	}

	limits.Prefix = strings.TrimSpace(limits.Prefix)
	if limits.Prefix == "" {
		limits.Prefix = defaultPrefix
	}

	return &RedisTokenBucket{
		rdb:    rdb,
		limits: limits,
		rate:   float64(limits.Capacity) / float64(max(limits.Window.Milliseconds(), 1)),
		now:    time.Now,
	}, nil
}

// Allow takes cost tokens from subject's bucket. A cost above the bucket
// capacity can never succeed and is rejected without touching Redis.
func (b *RedisTokenBucket) Allow(ctx context.Context, subject string, cost int64) (Decision, error) {
	cost = max(cost, 1)
	if cost > b.limits.Capacity {
		return Decision{}, fmt.Errorf("%w: cost=%d capacity=%d", ErrCostExceedsCapacity, cost, b.limits.Capacity)
	}

	reply, err := takeTokens.Run(ctx, b.rdb,
		[]string{b.key(subject)},
		b.limits.Capacity,
		b.rate,
		b.now().UTC().UnixMilli(),
		cost,
		(2 * b.limits.Window).Milliseconds(),
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("take tokens: %w", err)
	}
	if len(reply) != 3 {
		return Decision{}, fmt.Errorf("take tokens: unexpected reply length %d", len(reply))
	}

	var fields [3]int64
	for i, v := range reply {
		if fields[i], err = toInt64(v); err != nil {
			return Decision{}, fmt.Errorf("take tokens: reply[%d]: %w", i, err)
		}
	}

	return Decision{
		Allowed:    fields[0] == 1,
		Remaining:  fields[1],
		RetryAfter: time.Duration(fields[2]) * time.Millisecond,
	}, nil
}

func (b *RedisTokenBucket) key(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "anonymous"
	}
	return b.limits.Prefix + ":" + subject
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	}
	return 0, fmt.Errorf("unsupported type %T", v)
}
