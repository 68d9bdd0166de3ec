// Package ratelimit throttles the command and sensor endpoints.
//
// The device posts sensor reports on a fixed cadence and dashboards submit
// commands by hand, so a per-client token bucket is enough to stop a runaway
// client from flooding the dispatch path.
package ratelimit

import "context"

// Limiter decides whether a request identified by key should be allowed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow returns true if the request should proceed. Keys are opaque,
	// e.g. "sensors:10.0.0.7". An error signals a limiter malfunction and
	// callers fail open.
	Allow(ctx context.Context, key string) (bool, error)

	// Close releases background resources.
	Close() error
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
