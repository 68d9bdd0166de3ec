package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/warecell/internal/hub"
	"github.com/ashita-ai/warecell/internal/ratelimit"
	"github.com/ashita-ai/warecell/internal/service/warehouse"
)

// Server is the warecell HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Hub, Storage, Limiter, MCPServer, OpenAPISpec, ExtraRoutes.
type ServerConfig struct {
	// Required dependencies.
	Svc    *warehouse.Service
	Logger *slog.Logger

	// Optional dependencies (nil = disabled).
	Hub       *hub.Hub
	Storage   HealthChecker
	Limiter   ratelimit.Limiter
	MCPServer *mcpserver.MCPServer

	// RetryAfter is advertised on 429 responses.
	RetryAfter time.Duration

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	OpenAPISpec         []byte

	// ExtraRoutes, when set, registers additional routes after the built-in ones.
	ExtraRoutes func(*http.ServeMux)
	// Middlewares wrap the whole chain; the first is outermost.
	Middlewares []func(http.Handler) http.Handler
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Svc:                 cfg.Svc,
		Storage:             cfg.Storage,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         cfg.OpenAPISpec,
	})

	// Request ID extractor for rate limit error responses.
	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	// Sensor reports and commands draw from separate buckets so a chatty
	// device cannot starve the operator.
	sensorRL := ratelimit.Middleware(cfg.Limiter, ratelimit.Rule{
		Prefix: "sensors", RetryAfter: cfg.RetryAfter,
	}, ratelimit.IPKeyFunc, reqIDFunc)
	commandRL := ratelimit.Middleware(cfg.Limiter, ratelimit.Rule{
		Prefix: "commands", RetryAfter: cfg.RetryAfter,
	}, ratelimit.IPKeyFunc, reqIDFunc)
	rl := func(mw func(http.Handler) http.Handler, fn http.HandlerFunc) http.Handler { return mw(fn) }

	mux := http.NewServeMux()

	// Device check-in and telemetry.
	mux.HandleFunc("GET /api/device/register", h.HandleRegisterDevice)
	mux.HandleFunc("POST /api/device/register", h.HandleRegisterDevice)
	mux.HandleFunc("GET /api/device/status", h.HandleDeviceStatus)
	mux.Handle("POST /api/sensors", rl(sensorRL, h.HandleIngestSensors))
	mux.HandleFunc("GET /api/sensors", h.HandleGetSensors)

	// Operations and tasks.
	mux.Handle("POST /api/operations", rl(commandRL, h.HandleSubmitOperation))
	mux.HandleFunc("GET /api/operations", h.HandleListOperations)
	mux.HandleFunc("GET /api/operations/{id}", h.HandleGetOperation)
	mux.Handle("POST /api/tasks", rl(commandRL, h.HandleCreateTask))
	mux.HandleFunc("GET /api/tasks", h.HandleListTasks)
	mux.HandleFunc("GET /api/tasks/{id}", h.HandleGetTask)
	mux.Handle("POST /api/tasks/{id}/cancel", rl(commandRL, h.HandleCancelTask))

	// Settings and equipment.
	mux.HandleFunc("GET /api/mode", h.HandleGetMode)
	mux.Handle("POST /api/mode", rl(commandRL, h.HandleSetMode))
	mux.HandleFunc("GET /api/storage-strategy", h.HandleGetStrategy)
	mux.Handle("POST /api/storage-strategy", rl(commandRL, h.HandleSetStrategy))
	mux.Handle("POST /api/conveyor/manual", rl(commandRL, h.HandleConveyorManual))
	mux.Handle("POST /api/loading-zone/control", rl(commandRL, h.HandleLoadingZoneControl))
	mux.HandleFunc("GET /api/loading-zone", h.HandleGetLoadingZone)
	mux.HandleFunc("GET /api/conveyor", h.HandleGetConveyor)

	// Inventory.
	mux.HandleFunc("GET /api/cells", h.HandleListCells)
	mux.Handle("POST /api/cells/{id}/assign", rl(commandRL, h.HandleAssignCell))
	mux.HandleFunc("GET /api/products", h.HandleListProducts)
	mux.HandleFunc("POST /api/products", h.HandleCreateProduct)

	// Aggregates.
	mux.HandleFunc("GET /api/status", h.HandleStatus)
	mux.HandleFunc("GET /api/snapshot", h.HandleSnapshot)

	// Observer channel (long-lived, no rate limit).
	if cfg.Hub != nil {
		mux.Handle("GET /ws", cfg.Hub.HandleWS(cfg.Svc))
	}

	// MCP StreamableHTTP transport.
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	// Health (no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)

	if cfg.ExtraRoutes != nil {
		cfg.ExtraRoutes(mux)
	}

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)
	for i := len(cfg.Middlewares) - 1; i >= 0; i-- {
		handler = cfg.Middlewares[i](handler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Start begins serving HTTP requests. It returns nil after Shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
