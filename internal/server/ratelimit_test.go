package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, cfg RateLimit) (*RateLimiter, *time.Time) {
	t.Helper()
	rl := NewRateLimiter(cfg)
	require.NotNil(t, rl)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	rl.lastCleanup = now
	return rl, &now
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(RateLimit{})
	assert.Nil(t, rl)
	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow("1.2.3.4"))
	}
}

func TestRateLimiterBurstAndRefill(t *testing.T) {
	rl, now := newTestLimiter(t, RateLimit{RequestsPerMinute: 60, BurstLimit: 3})

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("10.0.0.1"), "burst request %d", i)
	}
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"), "buckets are per IP")

	*now = now.Add(time.Second)
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))

	*now = now.Add(time.Hour)
	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("10.0.0.1"))
	}
	assert.False(t, rl.Allow("10.0.0.1"), "refill stops at the burst limit")
}

func TestRateLimiterPartialRefillKeepsRemainder(t *testing.T) {
	rl, now := newTestLimiter(t, RateLimit{RequestsPerMinute: 60, BurstLimit: 1})
	require.True(t, rl.Allow("ip"))

	*now = now.Add(1500 * time.Millisecond)
	require.True(t, rl.Allow("ip"))
	*now = now.Add(500 * time.Millisecond)
	assert.True(t, rl.Allow("ip"), "half a second carried over from the previous refill")
}

func TestRateLimiterDefaultsBurst(t *testing.T) {
	rl, _ := newTestLimiter(t, RateLimit{RequestsPerMinute: 2})
	assert.True(t, rl.Allow("ip"))
	assert.True(t, rl.Allow("ip"))
	assert.False(t, rl.Allow("ip"))
}

func TestRateLimiterCleanup(t *testing.T) {
	rl, now := newTestLimiter(t, RateLimit{RequestsPerMinute: 60, BurstLimit: 1})
	rl.Allow("old")
	*now = now.Add(2 * bucketIdleTTL)
	rl.Allow("new")

	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	assert.NotContains(t, rl.buckets, "old")
	assert.Contains(t, rl.buckets, "new")
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl, _ := newTestLimiter(t, RateLimit{RequestsPerMinute: 1, BurstLimit: 1})
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	// Forwarding headers do not open a fresh bucket.
	req.Header.Set("X-Forwarded-For", "198.51.100.7")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTeapot, rec.Code)

	req.Header.Set("X-Forwarded-For", "198.51.100.8")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
