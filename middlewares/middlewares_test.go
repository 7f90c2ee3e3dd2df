package middlewares

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/repogenesis/qrcheckin/utils"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCorrelationMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(CorrelationMiddleware())
	var seen string
	r.GET("/x", func(c *gin.Context) {
		seen, _ = utils.GetCorrelationIdFromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(CorrelationHeader, "abc-123")
	w := serve(r, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", w.Header().Get(CorrelationHeader))

	w = serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Len(t, seen, 36)
	assert.Equal(t, seen, w.Header().Get(CorrelationHeader))
}

func TestReadinessMiddleware(t *testing.T) {
	ready := false
	r := gin.New()
	r.Use(ReadinessMiddleware(func() bool { return ready }))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/scan", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusNoContent, serve(r, httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code)
	assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/metrics", nil)).Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(r, httptest.NewRequest(http.MethodGet, "/scan", nil)).Code)

	ready = true
	assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/scan", nil)).Code)
}

type fakeCounter struct {
	mu      sync.Mutex
	counts  map[string]int64
	expires map[string]time.Duration
	err     error
	incrErr error
}

func (f *fakeCounter) SetNX(ctx context.Context, key string, value interface{}, d time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if _, ok := f.counts[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.counts[key] = 0
	f.expires[key] = d
	return redis.NewBoolResult(true, nil)
}

func (f *fakeCounter) Incr(ctx context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	if f.incrErr != nil {
		return redis.NewIntResult(0, f.incrErr)
	}
	f.counts[key]++
	return redis.NewIntResult(f.counts[key], nil)
}

type localeRecorder struct {
	locales []string
}

func (l *localeRecorder) T(locale, key string, data map[string]any) string {
	l.locales = append(l.locales, locale)
	return key
}

func TestRateLimitMiddleware(t *testing.T) {
	counter := &fakeCounter{counts: map[string]int64{}, expires: map[string]time.Duration{}}
	rl := NewRateLimiter(func() RateCounter { return counter }, 2, time.Minute)
	r := gin.New()
	r.Use(rl.RateLimitMiddleware)
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/x", nil)).Code)
	assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/x", nil)).Code)
	w := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "Try again in 60 seconds")
	assert.Len(t, counter.expires, 1)
	for _, d := range counter.expires {
		assert.Equal(t, time.Minute, d)
	}
}

func TestRateLimitWindowHasTTLEvenWhenIncrFails(t *testing.T) {
	counter := &fakeCounter{counts: map[string]int64{}, expires: map[string]time.Duration{}, incrErr: errors.New("timeout")}
	r := gin.New()
	r.Use(NewRateLimiter(func() RateCounter { return counter }, 1, time.Minute).RateLimitMiddleware)
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/x", nil)).Code)
	assert.Len(t, counter.expires, 1, "the window key is created with its TTL")
}

func TestRateLimitUsesRequestLocale(t *testing.T) {
	counter := &fakeCounter{counts: map[string]int64{}, expires: map[string]time.Duration{}}
	rl := NewRateLimiter(func() RateCounter { return counter }, 0, time.Minute)
	tr := &localeRecorder{}
	rl.Translator = tr
	r := gin.New()
	r.Use(LocaleMiddleware(), rl.RateLimitMiddleware)
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Accept-Language", "en-GB")
	w := serve(r, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, []string{"en"}, tr.locales)
}

func TestRateLimitFailsOpen(t *testing.T) {
	r := gin.New()
	r.Use(NewRateLimiter(func() RateCounter { return nil }, 1, time.Minute).RateLimitMiddleware)
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/x", nil)).Code)
	}

	broken := &fakeCounter{err: errors.New("redis down")}
	r = gin.New()
	r.Use(NewRateLimiter(func() RateCounter { return broken }, 1, time.Minute).RateLimitMiddleware)
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/x", nil)).Code)
}

func TestOpsAuthMiddleware(t *testing.T) {
	build := func(token string) *gin.Engine {
		r := gin.New()
		r.POST("/ops", OpsAuthMiddleware(token), func(c *gin.Context) { c.Status(http.StatusOK) })
		return r
	}

	assert.Equal(t, http.StatusNotFound, serve(build(""), httptest.NewRequest(http.MethodPost, "/ops", nil)).Code)

	r := build("s3cret")
	assert.Equal(t, http.StatusUnauthorized, serve(r, httptest.NewRequest(http.MethodPost, "/ops", nil)).Code)

	req := httptest.NewRequest(http.MethodPost, "/ops", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/ops", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, serve(r, req).Code)
}

func TestLocaleMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(LocaleMiddleware())
	var locale string
	r.GET("/x", func(c *gin.Context) {
		locale = utils.GetLocaleFromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Accept-Language", "en-GB,en;q=0.8")
	serve(r, req)
	assert.Equal(t, "en", locale)

	serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, "", locale)
}

func TestMetricsMiddlewarePassesThrough(t *testing.T) {
	r := gin.New()
	r.Use(MetricsMiddleware())
	r.GET("/x/:id", func(c *gin.Context) { c.Status(http.StatusAccepted) })
	assert.Equal(t, http.StatusAccepted, serve(r, httptest.NewRequest(http.MethodGet, "/x/1", nil)).Code)
	assert.Equal(t, http.StatusNotFound, serve(r, httptest.NewRequest(http.MethodGet, "/nope", nil)).Code)
}
