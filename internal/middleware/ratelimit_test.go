package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/session-enrollment/internal/config"
)

func localBucketConfig(capacity int) config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled:        true,
		Capacity:       capacity,
		RefillTokens:   1,
		RefillInterval: time.Hour, // no refill within a test run
		TTL:            time.Hour,
		KeyStrategy:    "ip",
		Prefix:         "rl",
	}
}

func doRequest(e *echo.Echo, mw echo.MiddlewareFunc, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(echo.HeaderXRealIP, ip)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	h := mw(func(c echo.Context) error { return c.String(http.StatusOK, "pong") })
	_ = h(c)
	return rec
}

func TestLocalBucketExhaustsAndBlocks(t *testing.T) {
	e := echo.New()
	mw := NewTokenBucket(localBucketConfig(2), nil)

	for i := 0; i < 2; i++ {
		rec := doRequest(e, mw, "10.0.0.1")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := doRequest(e, mw, "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "too_many_requests")
}

func TestLocalBucketKeysAreIndependent(t *testing.T) {
	e := echo.New()
	mw := NewTokenBucket(localBucketConfig(1), nil)

	require.Equal(t, http.StatusOK, doRequest(e, mw, "10.0.0.1").Code)
	require.Equal(t, http.StatusTooManyRequests, doRequest(e, mw, "10.0.0.1").Code)

	// A different client still has its own full bucket.
	assert.Equal(t, http.StatusOK, doRequest(e, mw, "10.0.0.2").Code)
}

func TestTokenBucketDisabledPassesThrough(t *testing.T) {
	e := echo.New()
	cfg := localBucketConfig(1)
	cfg.Enabled = false
	mw := NewTokenBucket(cfg, nil)

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, doRequest(e, mw, "10.0.0.1").Code)
	}
}
