package middlewares

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/repogenesis/qrcheckin/config"
	"github.com/repogenesis/qrcheckin/i18n"
	"github.com/repogenesis/qrcheckin/utils"
)

// RateCounter is the subset of the Redis client the limiter uses.
type RateCounter interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
}

// Translator renders the 429 message in the request locale.
type Translator interface {
	T(locale, key string, data map[string]any) string
}

// RateLimiter is a fixed-window per-IP limiter kept in Redis.
type RateLimiter struct {
	client func() RateCounter
	limit  int64
	window time.Duration

	// Translator defaults to the embedded catalog.
	Translator Translator
}

// NewRateLimiter limits every client IP to limit requests per window.
// The client is resolved per request so the limiter starts working once Redis connects.
func NewRateLimiter(client func() RateCounter, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client:     client,
		limit:      limit,
		window:     window,
		Translator: i18n.Default(),
	}
}

// RedisRateCounter resolves the shared Redis client, or nil while it is not connected.
func RedisRateCounter() RateCounter {
	if rdb := config.GetRedisDB(); rdb != nil {
		return rdb
	}
	return nil
}

// RateLimitMiddleware fails open when Redis is unavailable. It reads the locale from the
// request context, so LocaleMiddleware must run first.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	client := rl.client()
	if client == nil {
		c.Next()
		return
	}

	ctx := c.Request.Context()
	key := "ratelimit:" + c.ClientIP()

	// The window's key is created with its TTL in one command; INCR keeps the TTL.
	if err := client.SetNX(ctx, key, 0, rl.window).Err(); err != nil {
		_ = c.Error(err)
		c.Next()
		return
	}
	count, err := client.Incr(ctx, key).Result()
	if err != nil {
		_ = c.Error(err)
		c.Next()
		return
	}

	if count > rl.limit {
		tr := rl.Translator
		if tr == nil {
			tr = i18n.Default()
		}
		msg := tr.T(utils.GetLocaleFromContext(ctx), i18n.RateLimited, map[string]any{"Seconds": int(rl.window.Seconds())})
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"success": false, "message": msg})
		return
	}

	c.Next()
}
