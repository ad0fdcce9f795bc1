package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// 令牌桶算法的Lua脚本，时间单位为毫秒
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(data[1]) or burst
local last = tonumber(data[2]) or now

-- 按经过的时间补充令牌
local elapsed = math.max(0, now - last) / 1000
tokens = math.min(burst, tokens + elapsed * rate)

local allowed = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
end

redis.call("HSET", key, "tokens", tokens, "ts", now)
redis.call("PEXPIRE", key, ttl)
return allowed
`)

// TokenBucketRateLimiter 按键限流的Redis令牌桶，多个进程共享同一个桶
type TokenBucketRateLimiter struct {
	client redis.Scripter
	prefix string
	rate   float64 // 每秒生成的令牌数量
	burst  int     // 令牌桶最大容量
	clock  clockwork.Clock
}

// NewTokenBucketRateLimiter 创建新的令牌桶限流器
func NewTokenBucketRateLimiter(client redis.Scripter, prefix string, rate float64, burst int, clock clockwork.Clock) *TokenBucketRateLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TokenBucketRateLimiter{
		client: client,
		prefix: fmt.Sprintf("rate_limit:%s:", prefix),
		rate:   rate,
		burst:  burst,
		clock:  clock,
	}
}

// Allow 判断该键的请求是否允许通过
func (l *TokenBucketRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.client == nil {
		return false, ErrRedisNotAvailable
	}

	// 桶在完全补满所需时间的两倍后过期
	refill := time.Duration(float64(l.burst)/l.rate*float64(time.Second)) * 2
	if refill < time.Second {
		refill = time.Second
	}

	now := l.clock.Now().UnixMilli()
	res, err := tokenBucketScript.Run(ctx, l.client, []string{l.prefix + key},
		now, l.rate, l.burst, refill.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("token bucket %s: %w", key, err)
	}
	return res == 1, nil
}
