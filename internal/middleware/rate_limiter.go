package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"restopos/internal/apierror"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RateLimiter is a fixed-window limiter keyed by client IP. Counters live in
// Redis when a client is given, so every API instance shares them; otherwise
// they are kept in process.
type RateLimiter struct {
	name   string
	limit  int
	window time.Duration
	rdb    *redis.Client
	now    func() time.Time

	mu        sync.Mutex
	entries   map[string]*rateEntry
	lastPurge time.Time
}

type rateEntry struct {
	count     int
	windowEnd time.Time
}

const purgeInterval = 5 * time.Minute

// NewRateLimiter returns an in-process limiter.
func NewRateLimiter(name string, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		name:    name,
		limit:   limit,
		window:  window,
		now:     time.Now,
		entries: make(map[string]*rateEntry),
	}
}

// NewRedisRateLimiter returns a limiter whose counters are shared through rdb.
// Redis errors let the request through.
func NewRedisRateLimiter(rdb *redis.Client, name string, limit int, window time.Duration) *RateLimiter {
	rl := NewRateLimiter(name, limit, window)
	rl.rdb = rdb
	return rl
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, retryAfter := rl.allow(c.Request.Context(), c.ClientIP())
		if !allowed {
			c.Header("Retry-After", strconv.Itoa(int(retryAfter.Round(time.Second)/time.Second)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, apierror.New("Too many requests, try again shortly"))
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) allow(ctx context.Context, ip string) (bool, time.Duration) {
	if rl.rdb != nil {
		return rl.allowRedis(ctx, ip)
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastPurge) > purgeInterval {
		rl.purgeLocked(now)
	}
	entry, ok := rl.entries[ip]
	if !ok || now.After(entry.windowEnd) {
		entry = &rateEntry{windowEnd: now.Add(rl.window)}
		rl.entries[ip] = entry
	}
	entry.count++
	return entry.count <= rl.limit, entry.windowEnd.Sub(now)
}

func (rl *RateLimiter) allowRedis(ctx context.Context, ip string) (bool, time.Duration) {
	key := "ratelimit:" + rl.name + ":" + ip
	pipe := rl.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, rl.window)
	ttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Str("limiter", rl.name).Msg("rate limiter: redis unavailable, allowing request")
		return true, 0
	}
	return incr.Val() <= int64(rl.limit), ttl.Val()
}

func (rl *RateLimiter) purgeLocked(now time.Time) {
	purged := 0
	for ip, entry := range rl.entries {
		if now.After(entry.windowEnd) {
			delete(rl.entries, ip)
			purged++
		}
	}
	rl.lastPurge = now
	if purged > 0 {
		log.Debug().
			Str("limiter", rl.name).
			Int("purged", purged).
			Int("remaining", len(rl.entries)).
			Msg("rate limiter entries purged")
	}
}
