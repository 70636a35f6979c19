package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

type tenantLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// TenantRateLimiter keeps one token bucket per tenant.
type TenantRateLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu        sync.Mutex
	limiters  map[string]*tenantLimiter
	lastPrune time.Time
}

// NewTenantRateLimiter allows perMinute requests per tenant with the given burst.
func NewTenantRateLimiter(perMinute, burst int) *TenantRateLimiter {
	if perMinute <= 0 {
		perMinute = 10
	}
	if burst <= 0 {
		burst = 1
	}
	return &TenantRateLimiter{
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    burst,
		now:      time.Now,
		limiters: make(map[string]*tenantLimiter),
	}
}

// Reserve reports whether the tenant may proceed now, and otherwise how long
// until a token frees up.
func (l *TenantRateLimiter) Reserve(tenantID string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastPrune) > limiterIdleTTL {
		for id, tl := range l.limiters {
			if now.Sub(tl.lastSeen) > limiterIdleTTL {
				delete(l.limiters, id)
			}
		}
		l.lastPrune = now
	}

	tl, ok := l.limiters[tenantID]
	if !ok {
		tl = &tenantLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[tenantID] = tl
	}
	tl.lastSeen = now

	r := tl.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Minute
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// RateLimit rejects requests over the tenant's budget with 429.
// It runs after Tenant.
func RateLimit(l *TenantRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, retryAfter := l.Reserve(c.GetString(TenantIDKey))
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Upload rate limit exceeded"})
			return
		}
		c.Next()
	}
}
