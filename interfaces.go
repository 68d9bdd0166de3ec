package warecell

import (
	"net/http"
)

// RouteRegistrar registers additional routes on the shared HTTP mux. Extra
// routes share the middleware chain and OTEL instrumentation with the
// built-in API. It is called once during New after the built-in routes.
type RouteRegistrar func(mux *http.ServeMux)

// Middleware wraps the root HTTP handler.
// Applied outermost (before routing), so it sees all requests including /health.
type Middleware func(http.Handler) http.Handler
