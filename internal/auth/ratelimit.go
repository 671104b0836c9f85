package auth

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles requests per authenticated wallet, falling back to
// the client IP for unauthenticated routes.
type RateLimiter struct {
	perSecond rate.Limit
	burst     int
	idle      time.Duration

	mu      sync.Mutex
	clients map[string]*limiterEntry
	now     func() time.Time
}

func NewRateLimiter(perMinute float64, burst int) *RateLimiter {
	perSecond := perMinute / 60.0
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		idle:      10 * time.Minute,
		clients:   make(map[string]*limiterEntry),
		now:       time.Now,
	}
}

func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.ClientIP()
		if w, ok := Wallet(c); ok {
			id = w.Hex()
		}
		if !r.allow(id) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (r *RateLimiter) allow(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	e, ok := r.clients[id]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(r.perSecond, r.burst)}
		r.clients[id] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Sweep drops limiters idle for longer than the idle window.
func (r *RateLimiter) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-r.idle)
	n := 0
	for id, e := range r.clients {
		if e.lastSeen.Before(cutoff) {
			delete(r.clients, id)
			n++
		}
	}
	return n
}
