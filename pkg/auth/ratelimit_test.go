package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterExhaustsBurst(t *testing.T) {
	t.Parallel()

	mw := NewRateLimiter(3).Middleware(okHandler())

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/sse", nil)
		req.RemoteAddr = "192.0.2.1:5000"
		mw.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, "request %d within burst", i)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/sse", nil)
	req.RemoteAddr = "192.0.2.1:5000"
	mw.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// Ports vary per connection; the bucket is keyed by host only.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/sse", nil)
	req.RemoteAddr = "192.0.2.1:5001"
	mw.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// A different peer still has its full burst.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/sse", nil)
	req.RemoteAddr = "192.0.2.2:5000"
	mw.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiterDisabled(t *testing.T) {
	t.Parallel()

	mw := NewRateLimiter(0).Middleware(okHandler())
	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/sse", nil)
		req.RemoteAddr = "192.0.2.9:1"
		mw.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestIsLoopbackHost(t *testing.T) {
	t.Parallel()

	assert.True(t, IsLoopbackHost("localhost"))
	assert.True(t, IsLoopbackHost("127.0.0.1"))
	assert.True(t, IsLoopbackHost("127.0.0.1:8080"))
	assert.True(t, IsLoopbackHost("::1"))
	assert.False(t, IsLoopbackHost("example.com"))
	assert.False(t, IsLoopbackHost("192.0.2.1"))
}
