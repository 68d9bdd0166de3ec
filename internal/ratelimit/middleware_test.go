package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/warecell/internal/model"
)

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, error) { return false, errors.New("down") }
func (brokenLimiter) Close() error                                { return nil }

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
}

func TestMiddleware_RejectsAfterBurst(t *testing.T) {
	m, _ := newTestLimiter(t, 1, 2)
	h := Middleware(m, Rule{Prefix: "sensors", RetryAfter: 1500 * time.Millisecond}, IPKeyFunc,
		func(*http.Request) string { return "req-1" })(okHandler())

	do := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/sensors", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, do("10.0.0.7:5000").Code)
	assert.Equal(t, http.StatusNoContent, do("10.0.0.7:5001").Code)

	rec := do("10.0.0.7:5002")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	var body model.APIError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, model.ErrCodeRateLimited, body.Error.Code)
	assert.Equal(t, "req-1", body.Meta.RequestID)

	assert.Equal(t, http.StatusNoContent, do("10.0.0.8:5000").Code, "other clients keep their own bucket")
}

func TestMiddleware_FailsOpen(t *testing.T) {
	h := Middleware(brokenLimiter{}, Rule{Prefix: "ops"}, IPKeyFunc, nil)(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/operations", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMiddleware_NilLimiterAndEmptyKey(t *testing.T) {
	h := Middleware(nil, Rule{Prefix: "ops"}, IPKeyFunc, nil)(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	m, _ := newTestLimiter(t, 1, 1)
	h = Middleware(m, Rule{Prefix: "ops"}, func(*http.Request) string { return "" }, nil)(okHandler())
	for range 3 {
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}
}

func TestIPKeyFunc(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[::1]:8080"
	assert.Equal(t, "::1", IPKeyFunc(req))
	req.RemoteAddr = "device"
	assert.Equal(t, "device", IPKeyFunc(req))
}
