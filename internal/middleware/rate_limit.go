package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"fintelligence/internal/logger"
)

const rateLimitMessage = "Rate limit exceeded. Please try again later."

// Limiter decides whether the client identified by key may make another request.
// retryAfter is meaningful only when allowed is false.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// RateLimit rejects clients over their budget with 429. Limiter errors are
// logged and the request is let through.
func RateLimit(limiter Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		allowed, retryAfter, err := limiter.Allow(c.Request.Context(), clientIP)
		if err != nil {
			logger.FromContext(c.Request.Context()).Warn().Err(err).
				Str("client_ip", clientIP).
				Msg("rate limiter unavailable")
			c.Next()
			return
		}
		if !allowed {
			logger.FromContext(c.Request.Context()).Warn().
				Str("client_ip", clientIP).
				Msg("rate limit exceeded")
			if secs := int(retryAfter.Round(time.Second) / time.Second); secs > 0 {
				c.Header("Retry-After", strconv.Itoa(secs))
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": rateLimitMessage})
			return
		}
		c.Next()
	}
}

// MemoryLimiter is a per-process sliding window limiter.
type MemoryLimiter struct {
	limit     int
	window    time.Duration
	mu        sync.Mutex
	hits      map[string][]time.Time
	lastSweep time.Time
	now       func() time.Time
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:     limit,
		window:    window,
		hits:      make(map[string][]time.Time),
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	if now.Sub(l.lastSweep) > l.window {
		l.sweep(cutoff)
		l.lastSweep = now
	}

	queue := trimBefore(l.hits[key], cutoff)
	if len(queue) >= l.limit {
		l.hits[key] = queue
		return false, queue[0].Add(l.window).Sub(now), nil
	}
	l.hits[key] = append(queue, now)
	return true, 0, nil
}

// sweep drops clients with no hits inside the window.
func (l *MemoryLimiter) sweep(cutoff time.Time) {
	for key, queue := range l.hits {
		if queue = trimBefore(queue, cutoff); len(queue) == 0 {
			delete(l.hits, key)
		} else {
			l.hits[key] = queue
		}
	}
}

func trimBefore(queue []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for _, t := range queue {
		if t.After(cutoff) {
			break
		}
		idx++
	}
	return queue[idx:]
}

// WindowCounter is the shared-store primitive behind RedisLimiter.
type WindowCounter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// RedisLimiter is a fixed window limiter shared by every replica.
type RedisLimiter struct {
	counter WindowCounter
	limit   int
	window  time.Duration
	prefix  string
}

func NewRedisLimiter(counter WindowCounter, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{counter: counter, limit: limit, window: window, prefix: "fintelligence:ratelimit:"}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	count, ttl, err := l.counter.IncrWindow(ctx, l.prefix+key, l.window)
	if err != nil {
		return false, 0, err
	}
	if count > int64(l.limit) {
		return false, ttl, nil
	}
	return true, 0, nil
}
