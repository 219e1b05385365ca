package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"agentstudio/internal/logging"
	"agentstudio/internal/observability"
)

// requestMiddleware traces each request and logs its latency.
func requestMiddleware(tracer *observability.TracerProvider, logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx, span := tracer.StartSpan(c.Request.Context(), observability.SpanHTTPServerAction,
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.target", c.Request.URL.Path),
		)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()
		span.SetAttributes(
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
		)
		var err error
		if len(c.Errors) > 0 {
			err = c.Errors.Last()
		}
		observability.EndSpan(span, err)
		logger.Debug("route=%s method=%s status=%d latency_ms=%.2f",
			route, c.Request.Method, status, float64(time.Since(start).Microseconds())/1000.0)
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type keyedLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	entries map[string]*limiterEntry
	ttl     time.Duration
}

func (k *keyedLimiter) allow(key string, now time.Time) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	for name, e := range k.entries {
		if now.Sub(e.lastSeen) > k.ttl {
			delete(k.entries, name)
		}
	}
	e, ok := k.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// rateLimitMiddleware caps task starts per client address.
func rateLimitMiddleware(perMinute int) gin.HandlerFunc {
	if perMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	limiter := &keyedLimiter{
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   perMinute,
		entries: make(map[string]*limiterEntry),
		ttl:     15 * time.Minute,
	}
	return func(c *gin.Context) {
		if !limiter.allow(c.ClientIP(), time.Now()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
