package httpmiddleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doFrom(h http.Handler, addr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = addr
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit(t *testing.T) {
	t.Run("under limit", func(t *testing.T) {
		h := RateLimit(RateLimitConfig{Max: 5, Window: time.Minute})(okHandler())

		for i := range 5 {
			w := doFrom(h, "192.168.1.1:12345")
			assert.Equal(t, http.StatusOK, w.Code, "request %d should pass", i+1)
			assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
			assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
		}
	})

	t.Run("over limit", func(t *testing.T) {
		h := RateLimit(RateLimitConfig{Max: 2, Window: time.Minute})(okHandler())

		for range 2 {
			require.Equal(t, http.StatusOK, doFrom(h, "10.0.0.1:9999").Code)
		}

		w := doFrom(h, "10.0.0.1:9999")
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, w.Header().Get("Retry-After"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, float64(429), body["code"])
		assert.Equal(t, "rate limit exceeded", body["message"])
	})

	t.Run("remaining counts down", func(t *testing.T) {
		h := RateLimit(RateLimitConfig{Max: 3, Window: time.Minute})(okHandler())

		assert.Equal(t, "2", doFrom(h, "10.1.1.1:1").Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, "1", doFrom(h, "10.1.1.1:1").Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, "0", doFrom(h, "10.1.1.1:1").Header().Get("X-RateLimit-Remaining"))
	})

	t.Run("keys are independent", func(t *testing.T) {
		h := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute})(okHandler())

		assert.Equal(t, http.StatusOK, doFrom(h, "10.0.0.1:1234").Code)
		assert.Equal(t, http.StatusOK, doFrom(h, "10.0.0.2:1234").Code)
		// Same client on a new port is still the same key.
		assert.Equal(t, http.StatusTooManyRequests, doFrom(h, "10.0.0.1:5678").Code)
	})

	t.Run("window rollover resets the budget", func(t *testing.T) {
		rl := newRateLimiter(RateLimitConfig{Max: 1, Window: time.Minute})
		now := time.Now()

		_, _, allowed := rl.take("k", now)
		require.True(t, allowed)
		_, _, allowed = rl.take("k", now)
		require.False(t, allowed)

		_, _, allowed = rl.take("k", now.Add(time.Minute))
		assert.True(t, allowed, "new window should grant a fresh budget")
	})

	t.Run("custom key func", func(t *testing.T) {
		h := RateLimit(RateLimitConfig{
			Max:    1,
			Window: time.Minute,
			KeyFunc: func(r *http.Request) string {
				return r.Header.Get("X-API-Key")
			},
		})(okHandler())

		do := func(key string) int {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("X-API-Key", key)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			return w.Code
		}

		assert.Equal(t, http.StatusOK, do("key-a"))
		assert.Equal(t, http.StatusTooManyRequests, do("key-a"))
		assert.Equal(t, http.StatusOK, do("key-b"))
	})

	t.Run("honors X-Forwarded-For", func(t *testing.T) {
		h := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute})(okHandler())

		do := func(addr string) int {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = addr
			req.Header.Set("X-Forwarded-For", "203.0.113.50, 70.41.3.18")
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			return w.Code
		}

		assert.Equal(t, http.StatusOK, do("192.168.1.1:4444"))
		// Different transport address, same forwarded client.
		assert.Equal(t, http.StatusTooManyRequests, do("192.168.1.2:5555"))
	})
}

func TestRateLimiterSweep(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{Max: 1, Window: time.Minute})
	now := time.Now()

	rl.take("stale", now)
	rl.take("fresh", now.Add(30*time.Second))
	rl.sweep(now.Add(70 * time.Second))

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.buckets, "stale")
	assert.Contains(t, rl.buckets, "fresh")
}
