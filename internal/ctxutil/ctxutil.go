// Package ctxutil provides shared context key accessors.
//
// The server sets the request ID and the MCP tools read it for their logs.
// Both import ctxutil instead of each other.
package ctxutil

import "context"

type contextKey string

const (
	keyRequestID contextKey = "request_id"
	keySurface   contextKey = "surface"
)

// Surface names the interface a request arrived on.
type Surface string

const (
	SurfaceHTTP Surface = "http"
	SurfaceMCP  Surface = "mcp"
	SurfaceWS   Surface = "ws"

	SurfaceScheduler Surface = "scheduler"
)

// WithRequestID returns a new context carrying the request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestIDFromContext extracts the request ID, or "".
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(keyRequestID).(string); ok {
		return v
	}
	return ""
}

// WithSurface returns a new context tagged with the originating surface.
func WithSurface(ctx context.Context, s Surface) context.Context {
	return context.WithValue(ctx, keySurface, s)
}

// SurfaceFromContext returns the originating surface, defaulting to HTTP.
func SurfaceFromContext(ctx context.Context) Surface {
	if v, ok := ctx.Value(keySurface).(Surface); ok {
		return v
	}
	return SurfaceHTTP
}
