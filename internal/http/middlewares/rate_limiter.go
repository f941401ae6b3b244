package middlewares

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimiter is a fixed-window counter keyed by caller. It guards the
// credential endpoints against online guessing; it is per-process, which is
// enough for a single API replica and a floor rather than a ceiling beyond
// that.
type RateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	limit   int
	buckets map[string]*window
}

type window struct {
	count int
	until time.Time
}

func NewRateLimiter(limit int, windowLen time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  windowLen,
		buckets: make(map[string]*window),
	}
}

func (rl *RateLimiter) RateLimiterMiddleware(keyFn func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFn(c)

		if key == "" {
			key = clientIP(c)
		}

		retryAfter, allowed := rl.take(key)

		if !allowed {
			c.Header("Retry-After", strconv.Itoa(retryAfter))

			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"code":    "rate_limited",
					"message": "Too many requests. Please try again shortly.",
				},
			})
			return
		}

		c.Next()
	}
}

func (rl *RateLimiter) take(key string) (retryAfter int, allowed bool) {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.buckets[key]

	if !ok || now.After(w.until) {
		// expired buckets for other keys are collected lazily here so the
		// map does not grow with every scanner that probes the API once
		if len(rl.buckets) > 10_000 {
			for k, b := range rl.buckets {
				if now.After(b.until) {
					delete(rl.buckets, k)
				}
			}
		}

		rl.buckets[key] = &window{count: 1, until: now.Add(rl.window)}
		return 0, true
	}

	if w.count >= rl.limit {
		retryAfter = int(time.Until(w.until).Seconds())

		if retryAfter < 0 {
			retryAfter = 0
		}

		return retryAfter, false
	}

	w.count++
	return 0, true
}

// KeyByIP buckets unauthenticated callers by address.
func KeyByIP(c *gin.Context) string {
	return clientIP(c)
}

// KeyByUserOrIP buckets authenticated callers by account, so one user behind
// a shared NAT cannot exhaust the budget for everyone else on it.
func KeyByUserOrIP(c *gin.Context) string {
	id, ok := UserIDFromContext(c)

	if ok && id > 0 {
		return "user:" + strconv.FormatInt(id, 10)
	}

	return clientIP(c)
}

func clientIP(c *gin.Context) string {
	ip := c.ClientIP()

	if host, _, err := net.SplitHostPort(ip); err == nil && host != "" {
		return host
	}

	return ip
}
