package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/MattieTK/newsroom-polling/fingerprint"
	"github.com/MattieTK/newsroom-polling/poll"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Limiter 按键限流
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalRateLimiter 进程内的按键令牌桶，Redis不可用时兜底
type LocalRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	rate    rate.Limit
	burst   int
	idleTTL time.Duration
	clock   clockwork.Clock
	lastGC  time.Time
}

// NewLocalRateLimiter 每个键每秒 perSecond 个请求，突发 burst
func NewLocalRateLimiter(perSecond float64, burst int, clock clockwork.Clock) *LocalRateLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &LocalRateLimiter{
		entries: make(map[string]*limiterEntry),
		rate:    rate.Limit(perSecond),
		burst:   burst,
		idleTTL: 10 * time.Minute,
		clock:   clock,
		lastGC:  clock.Now(),
	}
}

// Allow 检查并消耗一个令牌
func (l *LocalRateLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastGC) > l.idleTTL {
		l.evictIdle(now)
	}

	entry, ok := l.entries[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.entries[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1), nil
}

// Len 当前跟踪的键数量
func (l *LocalRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *LocalRateLimiter) evictIdle(now time.Time) {
	for key, entry := range l.entries {
		if now.Sub(entry.lastSeen) > l.idleTTL {
			delete(l.entries, key)
		}
	}
	l.lastGC = now
}

// FallbackLimiter 优先使用共享的限流器，出错时退回本地限流器
type FallbackLimiter struct {
	Primary  Limiter
	Fallback Limiter
	Logger   zerolog.Logger
}

// Allow 实现 Limiter
func (f *FallbackLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if f.Primary != nil {
		allowed, err := f.Primary.Allow(ctx, key)
		if err == nil {
			return allowed, nil
		}
		f.Logger.Warn().Err(err).Msg("共享限流器不可用，使用本地限流")
	}
	return f.Fallback.Allow(ctx, key)
}

// VoteRateLimitMiddleware 按来源IP和投票限制投票请求频率
func VoteRateLimitMiddleware(limiter Limiter, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		key := fingerprint.ShortHash(c.ClientIP()) + ":" + c.Param("id")
		allowed, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			// 限流器故障时放行，不影响投票
			log.Error().Err(err).Msg("限流检查失败")
			c.Next()
			return
		}
		if !allowed {
			limited := poll.RateLimited("too many vote requests, please slow down")
			c.AbortWithStatusJSON(StatusFor(limited.Kind), ErrorResponse{
				Error:     limited.Message,
				Kind:      limited.Kind,
				Retryable: limited.Retryable(),
			})
			return
		}
		c.Next()
	}
}
