package mw

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// visitorLimiters hands out one token bucket per client IP.
type visitorLimiters struct {
	mu       sync.Mutex
	visitors map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func (v *visitorLimiters) get(ip string) *rate.Limiter {
	v.mu.Lock()
	defer v.mu.Unlock()

	limiter, ok := v.visitors[ip]
	if !ok {
		limiter = rate.NewLimiter(v.limit, v.burst)
		v.visitors[ip] = limiter
	}
	return limiter
}

// RateLimiter rejects requests from clients exceeding the per-IP rate
// with 429.
func RateLimiter(limit rate.Limit, burst int) gin.HandlerFunc {
	limiters := &visitorLimiters{
		visitors: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
	return func(c *gin.Context) {
		if !limiters.get(c.ClientIP()).Allow() {
			c.AbortWithStatus(http.StatusTooManyRequests)
			return
		}
		c.Next()
	}
}
