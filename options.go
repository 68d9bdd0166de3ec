package warecell

import (
	"log/slog"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
type resolvedOptions struct {
	port            int
	databaseURL     *string
	deviceAddress   string
	logger          *slog.Logger
	version         string
	routeRegistrars []RouteRegistrar
	middlewares     []Middleware
}

// WithPort overrides the TCP port from config (WARECELL_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the storage location from config (DATABASE_URL
// env var). An empty url selects in-memory storage.
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = &url }
}

// WithDeviceAddress pre-registers the device instead of waiting for its
// check-in (WARECELL_DEVICE_ADDRESS env var).
func WithDeviceAddress(addr string) Option {
	return func(o *resolvedOptions) { o.deviceAddress = addr }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithExtraRoutes registers additional routes on the shared HTTP mux.
// Registrars are called in registration order.
func WithExtraRoutes(fn RouteRegistrar) Option {
	return func(o *resolvedOptions) { o.routeRegistrars = append(o.routeRegistrars, fn) }
}

// WithMiddleware registers an outermost HTTP middleware. The first
// registered middleware is outermost.
func WithMiddleware(mw Middleware) Option {
	return func(o *resolvedOptions) { o.middlewares = append(o.middlewares, mw) }
}
