package server

import (
	"net/http"
	"strings"

	"github.com/ashita-ai/warecell/internal/model"
)

// HandleRegisterDevice handles GET /api/device/register?ip= (the firmware's
// check-in) and POST /api/device/register {"address"}.
func (h *Handlers) HandleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var address string
	if r.Method == http.MethodGet {
		address = r.URL.Query().Get("ip")
	} else {
		var req model.RegisterDeviceRequest
		if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
			handleDecodeError(w, r, err)
			return
		}
		address = req.Address
	}
	if strings.TrimSpace(address) == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "device address is required")
		return
	}

	reg, err := h.svc.RegisterDevice(address)
	if err != nil {
		h.writeServiceError(w, r, err, nil)
		return
	}
	h.logger.Info("device registered", "address", reg.Address, "remote_addr", r.RemoteAddr)
	writeJSON(w, r, http.StatusOK, reg)
}

// HandleDeviceStatus handles GET /api/device/status.
func (h *Handlers) HandleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	reg, ok := h.svc.DeviceStatus()
	if !ok {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeDeviceNotRegistered, "no device registered")
		return
	}
	writeJSON(w, r, http.StatusOK, reg)
}

// HandleIngestSensors handles POST /api/sensors.
func (h *Handlers) HandleIngestSensors(w http.ResponseWriter, r *http.Request) {
	var report model.SensorReport
	if err := decodeLenient(w, r, &report, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := h.svc.IngestSensors(r.Context(), report); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleGetSensors handles GET /api/sensors.
func (h *Handlers) HandleGetSensors(w http.ResponseWriter, r *http.Request) {
	report, ok := h.svc.Sensors()
	if !ok {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no sensor report received yet")
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}
