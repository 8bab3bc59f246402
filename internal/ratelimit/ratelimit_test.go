package ratelimit_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tazuna-ai/tazuna/internal/ratelimit"
)

func limited(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"error":{"code":"RATE_LIMITED"}}`))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doReq(t *testing.T, h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/admin/auth/login", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareDeniesAfterBurst(t *testing.T) {
	m := ratelimit.NewMemoryLimiter(0.01, 2)
	defer func() { require.NoError(t, m.Close()) }()

	h := ratelimit.Middleware(m, ratelimit.IPKeyFunc("auth"), limited)(okHandler())

	assert.Equal(t, http.StatusOK, doReq(t, h, "10.0.0.1:1234").Code)
	assert.Equal(t, http.StatusOK, doReq(t, h, "10.0.0.1:1234").Code)

	rec := doReq(t, h, "10.0.0.1:1234")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "RATE_LIMITED")
}

func TestMiddlewareKeysAreIndependent(t *testing.T) {
	m := ratelimit.NewMemoryLimiter(0.01, 1)
	defer func() { require.NoError(t, m.Close()) }()

	h := ratelimit.Middleware(m, ratelimit.IPKeyFunc("auth"), limited)(okHandler())

	assert.Equal(t, http.StatusOK, doReq(t, h, "10.0.0.1:1234").Code)
	assert.Equal(t, http.StatusOK, doReq(t, h, "10.0.0.2:1234").Code)
	assert.Equal(t, http.StatusTooManyRequests, doReq(t, h, "10.0.0.1:9999").Code)
}

func TestMiddlewareNilLimiterPassesThrough(t *testing.T) {
	h := ratelimit.Middleware(nil, ratelimit.IPKeyFunc("auth"), limited)(okHandler())
	for i := 0; i < 10; i++ {
		assert.Equal(t, http.StatusOK, doReq(t, h, "10.0.0.1:1234").Code)
	}
}

func TestMiddlewareEmptyKeySkips(t *testing.T) {
	m := ratelimit.NewMemoryLimiter(0.01, 1)
	defer func() { require.NoError(t, m.Close()) }()

	exempt := func(*http.Request) string { return "" }
	h := ratelimit.Middleware(m, exempt, limited)(okHandler())
	for i := 0; i < 10; i++ {
		assert.Equal(t, http.StatusOK, doReq(t, h, "10.0.0.1:1234").Code)
	}
}

func TestIPKeyFunc(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.7:5511"
	assert.Equal(t, "auth:192.168.1.7", ratelimit.IPKeyFunc("auth")(req))

	req.RemoteAddr = "192.168.1.7"
	assert.Equal(t, "auth:192.168.1.7", ratelimit.IPKeyFunc("auth")(req))
}
