package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashita-ai/warecell/internal/device"
	"github.com/ashita-ai/warecell/internal/model"
	"github.com/ashita-ai/warecell/internal/service/warehouse"
)

// HealthChecker is the storage backend as seen by GET /health.
type HealthChecker interface {
	Name() string
	Ping(ctx context.Context) error
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	svc                 *warehouse.Service
	storage             HealthChecker
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
	openapiSpec         []byte
}

// HandlersDeps holds all dependencies for constructing Handlers.
type HandlersDeps struct {
	Svc                 *warehouse.Service
	Storage             HealthChecker
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	OpenAPISpec         []byte
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		svc:                 d.Svc,
		storage:             d.Storage,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		openapiSpec:         d.OpenAPISpec,
	}
}

// HandleHealth handles GET /health. A missing device degrades health but
// never fails it; only an unreachable storage backend does.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	httpStatus := http.StatusOK

	resp := model.HealthResponse{
		Version: h.version,
		Storage: "none",
		Uptime:  int64(time.Since(h.startedAt).Seconds()),
	}
	if h.storage != nil {
		resp.Storage = h.storage.Name()
		if err := h.storage.Ping(r.Context()); err != nil {
			h.logger.Warn("health: storage ping failed", "error", err)
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		}
	}

	reg, ok := h.svc.DeviceStatus()
	resp.DeviceRegistered = ok
	resp.DeviceConnected = ok && reg.Connected
	if status == "healthy" && !resp.DeviceConnected {
		status = "degraded"
	}
	resp.Status = status

	writeJSON(w, r, httpStatus, resp)
}

// HandleStatus handles GET /api/status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.svc.Status())
}

// HandleSnapshot handles GET /api/snapshot.
func (h *Handlers) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.svc.Snapshot())
}

// HandleOpenAPISpec serves the embedded OpenAPI specification.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}

// writeServiceError maps control-plane errors onto the HTTP error envelope.
// details, when non-nil, carries the record of a failed device exchange.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error, details any) {
	var te *device.TransportError
	switch {
	case errors.As(err, &te) && te.Rejected():
		writeErrorDetails(w, r, http.StatusBadGateway, model.ErrCodeDeviceRejected, err.Error(), details)
	case errors.Is(err, model.ErrTransport):
		writeErrorDetails(w, r, http.StatusBadGateway, model.ErrCodeDeviceUnreachable, err.Error(), details)
	case errors.Is(err, model.ErrNotRegistered):
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeDeviceNotRegistered, "no device registered")
	case errors.Is(err, model.ErrBusy):
		w.Header().Set("Retry-After", "1")
		writeError(w, r, http.StatusConflict, model.ErrCodeDeviceBusy, err.Error())
	case errors.Is(err, model.ErrInvalidCommand):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidCommand, err.Error())
	case errors.Is(err, model.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, err.Error())
	case errors.Is(err, model.ErrInvalidState), errors.Is(err, model.ErrConflict):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, err.Error())
	case errors.Is(err, context.Canceled):
		// Client went away; nobody reads the response.
		h.logger.Debug("request cancelled", "path", r.URL.Path, "request_id", RequestIDFromContext(r.Context()))
	default:
		h.writeInternalError(w, r, "internal error", err)
	}
}

func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg,
		"error", err,
		"path", r.URL.Path,
		"request_id", RequestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, msg)
}

// pathID parses a positive int64 path parameter.
func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}
