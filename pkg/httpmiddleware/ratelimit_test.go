package httpmiddleware

import (
	"context"
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

func doReq(h http.Handler, ip string) int {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = ip + ":1234"
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestRateLimit_BlocksAboveMax(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := RateLimit(ctx, RateLimitConfig{Max: 2, Window: time.Minute})(okHandler())

	assert.Equal(t, http.StatusOK, doReq(h, "10.0.0.1"))
	assert.Equal(t, http.StatusOK, doReq(h, "10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, doReq(h, "10.0.0.1"))

	// A different client has its own window.
	assert.Equal(t, http.StatusOK, doReq(h, "10.0.0.2"))
}

func TestRateLimit_WindowResets(t *testing.T) {
	rl := &rateLimiter{
		cfg:     RateLimitConfig{Max: 1, Window: 10 * time.Millisecond},
		windows: make(map[string]*window),
	}

	now := time.Now()
	require.True(t, rl.allow("k", now))
	require.False(t, rl.allow("k", now))
	require.True(t, rl.allow("k", now.Add(11*time.Millisecond)))
}

func TestRateLimit_XForwardedFor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := RateLimit(ctx, RateLimitConfig{Max: 1, Window: time.Minute})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
