// README: Per-caller token bucket rate limiting.
package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type limiterSet struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func (s *limiterSet) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[key]
	if !ok {
		l = rate.NewLimiter(s.rps, s.burst)
		s.limiters[key] = l
	}
	return l
}

// RateLimit keys on the authenticated uid, falling back to the client IP.
// A non-positive rps disables limiting.
func RateLimit(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst <= 0 {
		burst = 1
	}
	set := &limiterSet{limiters: map[string]*rate.Limiter{}, rps: rate.Limit(rps), burst: burst}
	return func(c *gin.Context) {
		key := CallerUID(c)
		if key == "" {
			key = c.ClientIP()
		}
		if !set.get(key).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
