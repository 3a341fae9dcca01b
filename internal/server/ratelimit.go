package server

import (
	"net/http"
	"sync"
	"time"
)

// bucketIdleTTL is how long an idle per-IP bucket is kept.
const bucketIdleTTL = 10 * time.Minute

// RateLimit configures a per-IP token bucket. A zero RequestsPerMinute
// disables limiting.
type RateLimit struct {
	RequestsPerMinute int
	BurstLimit        int
}

// RateLimiter implements a token bucket rate limiter per IP address.
type RateLimiter struct {
	config      RateLimit
	buckets     map[string]*tokenBucket
	mutex       sync.Mutex
	lastCleanup time.Time
	now         func() time.Time
}

type tokenBucket struct {
	tokens     int
	maxTokens  int
	refillRate time.Duration
	lastRefill time.Time
}

// NewRateLimiter creates a limiter. It returns nil when limiting is disabled;
// a nil limiter allows everything.
func NewRateLimiter(config RateLimit) *RateLimiter {
	if config.RequestsPerMinute <= 0 {
		return nil
	}
	if config.BurstLimit <= 0 {
		config.BurstLimit = config.RequestsPerMinute
	}
	return &RateLimiter{
		config:      config,
		buckets:     make(map[string]*tokenBucket),
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

// Middleware rejects requests over the limit with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Allow consumes a token for ip and reports whether one was available.
func (rl *RateLimiter) Allow(ip string) bool {
	if rl == nil {
		return true
	}
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	if now.Sub(rl.lastCleanup) > bucketIdleTTL {
		rl.cleanup(now)
	}

	bucket, exists := rl.buckets[ip]
	if !exists {
		bucket = &tokenBucket{
			tokens:     rl.config.BurstLimit,
			maxTokens:  rl.config.BurstLimit,
			refillRate: time.Minute / time.Duration(rl.config.RequestsPerMinute),
			lastRefill: now,
		}
		rl.buckets[ip] = bucket
	}
	return bucket.consume(now)
}

func (tb *tokenBucket) consume(now time.Time) bool {
	if add := int(now.Sub(tb.lastRefill) / tb.refillRate); add > 0 {
		tb.tokens = min(tb.maxTokens, tb.tokens+add)
		tb.lastRefill = tb.lastRefill.Add(time.Duration(add) * tb.refillRate)
	}
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

func (rl *RateLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-bucketIdleTTL)
	for ip, bucket := range rl.buckets {
		if bucket.lastRefill.Before(cutoff) {
			delete(rl.buckets, ip)
		}
	}
	rl.lastCleanup = now
}
