package ratelimit

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/warecell/internal/model"
	"github.com/ashita-ai/warecell/internal/telemetry"
)

// KeyFunc extracts the client identity from a request. An empty key skips
// rate limiting for that request.
type KeyFunc func(r *http.Request) string

// RequestIDFunc extracts the request ID, injected to avoid importing the
// server package.
type RequestIDFunc func(r *http.Request) string

// Rule scopes a limiter to one group of routes.
type Rule struct {
	Prefix     string        // namespaces the key, e.g. "sensors"
	RetryAfter time.Duration // advertised to rejected clients
}

// Middleware rejects requests with 429 once the client's bucket is empty.
// A nil limiter disables the check. Limiter errors fail open.
func Middleware(limiter Limiter, rule Rule, keyFunc KeyFunc, reqIDFunc RequestIDFunc) func(http.Handler) http.Handler {
	rejected, _ := telemetry.Meter("warecell/ratelimit").Int64Counter("warecell.ratelimit.rejected",
		metric.WithDescription("Requests rejected by the rate limiter"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			ok, err := limiter.Allow(r.Context(), rule.Prefix+":"+key)
			if err != nil || ok {
				next.ServeHTTP(w, r)
				return
			}

			rejected.Add(r.Context(), 1, metric.WithAttributes(attribute.String("rule", rule.Prefix)))
			retry := int(math.Ceil(rule.RetryAfter.Seconds()))
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			var requestID string
			if reqIDFunc != nil {
				requestID = reqIDFunc(r)
			}
			writeRateLimitError(w, requestID)
		})
	}
}

func writeRateLimitError(w http.ResponseWriter, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(model.APIError{
		Error: model.ErrorDetail{
			Code:    model.ErrCodeRateLimited,
			Message: "too many requests",
		},
		Meta: model.ResponseMeta{
			RequestID: requestID,
			Timestamp: time.Now().UTC(),
		},
	})
}

// IPKeyFunc keys on the client IP from RemoteAddr. X-Forwarded-For is not
// trusted; any client can set it.
func IPKeyFunc(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
