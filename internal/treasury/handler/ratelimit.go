package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	limiterSweepInterval = 5 * time.Minute
	limiterIdleTTL       = 10 * time.Minute
)

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimits holds one token bucket per client address.
type clientLimits struct {
	mu      sync.Mutex
	rps     rate.Limit
	burst   int
	buckets map[string]*clientBucket
}

func newClientLimits(rps float64, burst int) *clientLimits {
	if burst < 1 {
		burst = 1
	}
	return &clientLimits{rps: rate.Limit(rps), burst: burst, buckets: make(map[string]*clientBucket)}
}

func (l *clientLimits) allow(client string, now time.Time) bool {
	l.mu.Lock()
	b, ok := l.buckets[client]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[client] = b
	}
	b.lastSeen = now
	l.mu.Unlock()
	return b.limiter.AllowN(now, 1)
}

// sweep drops buckets idle for longer than ttl.
func (l *clientLimits) sweep(now time.Time, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for client, b := range l.buckets {
		if now.Sub(b.lastSeen) > ttl {
			delete(l.buckets, client)
		}
	}
}

// RateLimiter returns a Gin middleware that limits each client IP to rps
// requests per second with bursts of up to burst. Rejections are counted in
// treasury_rate_limited_total. Idle buckets are swept until ctx ends.
func RateLimiter(ctx context.Context, rps float64, burst int) gin.HandlerFunc {
	limits := newClientLimits(rps, burst)

	go func() {
		ticker := time.NewTicker(limiterSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				limits.sweep(now, limiterIdleTTL)
			}
		}
	}()

	return func(c *gin.Context) {
		if limits.allow(c.ClientIP(), time.Now()) {
			c.Next()
			return
		}
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		treasuryRateLimitedTotal.WithLabelValues(path).Inc()
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
	}
}
