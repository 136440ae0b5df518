package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	// ipMultiplier scales the per-participant limits into the client IP
	// bucket every request also draws from.
	ipMultiplier = 4

	// Buckets idle this long are dropped on the next sweep.
	limiterIdleTTL = 10 * time.Minute
	sweepInterval  = time.Minute
)

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// participantLimiter keeps one token bucket per key and forgets keys that
// have been idle for limiterIdleTTL.
type participantLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	rate      rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

func newParticipantLimiter(r rate.Limit, burst int) *participantLimiter {
	if burst < 1 {
		burst = 1
	}
	return &participantLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     r,
		burst:    burst,
		now:      time.Now,
	}
}

func (l *participantLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= sweepInterval {
		l.sweep(now)
	}
	e, ok := l.limiters[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = now
	return e.lim.AllowN(now, 1)
}

func (l *participantLimiter) sweep(now time.Time) {
	for key, e := range l.limiters {
		if now.Sub(e.lastSeen) >= limiterIdleTTL {
			delete(l.limiters, key)
		}
	}
	l.lastSweep = now
}

func (l *participantLimiter) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// rateLimit draws from the client IP bucket first, so rotating the
// participant header cannot exceed the IP's allowance, then from the
// participant's own bucket.
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}
		allowed := s.ipLimiter.allow(c.ClientIP())
		if p := c.GetHeader(ParticipantHeader); allowed && p != "" {
			allowed = s.limiter.allow(p)
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody{Error: errorDetail{
				Code:    "RATE_LIMITED",
				Message: "too many requests",
			}})
			return
		}
		c.Next()
	}
}
