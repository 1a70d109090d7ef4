package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{"write": {RatePerSecond: 1, Burst: 1}}, nil)
	handler := limiter.Middleware("write")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/debt/borrow", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusTooManyRequests, res.Code)
}

func TestRateLimiterKeysByCaller(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{"write": {RatePerSecond: 1, Burst: 1}}, nil)
	handler := limiter.Middleware("write")(okHandler())

	for _, caller := range [][20]byte{{0x01}, {0x02}} {
		req := httptest.NewRequest(http.MethodPost, "/v1/debt/repay", nil)
		req = req.WithContext(WithCaller(req.Context(), caller))
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		require.Equal(t, http.StatusOK, res.Code, "caller %x", caller)
	}
}

func TestRateLimiterSeparatesRoutesAndEvicts(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	limiter := NewRateLimiter(map[string]RateLimit{
		"write": {RatePerSecond: 1, Burst: 1},
		"read":  {RatePerSecond: 1, Burst: 1},
	}, nil)
	limiter.clockNow = func() time.Time { return now }

	write := limiter.Middleware("write")(okHandler())
	read := limiter.Middleware("read")(okHandler())
	unlimited := limiter.Middleware("admin")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/registries/WETH", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	for _, h := range []http.Handler{write, read, unlimited, unlimited} {
		res := httptest.NewRecorder()
		h.ServeHTTP(res, req)
		require.Equal(t, http.StatusOK, res.Code)
	}
	require.Len(t, limiter.visitors, 2)
	require.Contains(t, limiter.visitors, "read|10.0.0.1")

	now = now.Add(10 * time.Minute)
	res := httptest.NewRecorder()
	read.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	require.Len(t, limiter.visitors, 1)
}
