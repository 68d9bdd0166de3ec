package server

import (
	"net/http"

	"github.com/ashita-ai/warecell/internal/model"
)

// HandleSetMode handles POST /api/mode. Device signal failures are reported
// in the result and do not fail the request.
func (h *Handlers) HandleSetMode(w http.ResponseWriter, r *http.Request) {
	var req model.ModeRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	res, err := h.svc.SetMode(r.Context(), req.Mode)
	if err != nil {
		h.writeServiceError(w, r, err, nil)
		return
	}
	if len(res.SignalErrors) > 0 {
		h.logger.Warn("mode switched with device signal failures",
			"mode", res.Mode, "errors", res.SignalErrors)
	}
	writeJSON(w, r, http.StatusOK, res)
}

// HandleGetMode handles GET /api/mode.
func (h *Handlers) HandleGetMode(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]model.Mode{"mode": h.svc.Mode()})
}

// HandleGetStrategy handles GET /api/storage-strategy.
func (h *Handlers) HandleGetStrategy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, model.StrategyResult{Strategy: h.svc.Strategy()})
}

// HandleSetStrategy handles POST /api/storage-strategy.
func (h *Handlers) HandleSetStrategy(w http.ResponseWriter, r *http.Request) {
	var req model.StrategyRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	res, err := h.svc.SetStrategy(r.Context(), req.Strategy)
	if err != nil {
		h.writeServiceError(w, r, err, nil)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// HandleConveyorManual handles POST /api/conveyor/manual.
func (h *Handlers) HandleConveyorManual(w http.ResponseWriter, r *http.Request) {
	var req model.ActionRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	res, err := h.svc.ConveyorManual(r.Context(), req.Action)
	if err != nil {
		h.writeServiceError(w, r, err, recordOrNil(res.Operation))
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// HandleLoadingZoneControl handles POST /api/loading-zone/control.
func (h *Handlers) HandleLoadingZoneControl(w http.ResponseWriter, r *http.Request) {
	var req model.ActionRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	res, err := h.svc.LoadingZoneControl(r.Context(), req.Action)
	if err != nil {
		h.writeServiceError(w, r, err, recordOrNil(res.Operation))
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// HandleGetLoadingZone handles GET /api/loading-zone.
func (h *Handlers) HandleGetLoadingZone(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.svc.LoadingZone())
}

// HandleGetConveyor handles GET /api/conveyor.
func (h *Handlers) HandleGetConveyor(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.svc.Conveyor())
}

// HandleListCells handles GET /api/cells.
func (h *Handlers) HandleListCells(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.svc.Cells())
}

// HandleAssignCell handles POST /api/cells/{id}/assign.
func (h *Handlers) HandleAssignCell(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid cell id")
		return
	}
	var req model.AssignCellRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	cell, err := h.svc.AssignCell(r.Context(), id, req)
	if err != nil {
		h.writeServiceError(w, r, err, nil)
		return
	}
	writeJSON(w, r, http.StatusOK, cell)
}

// HandleListProducts handles GET /api/products.
func (h *Handlers) HandleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.svc.Products(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err, nil)
		return
	}
	writeJSON(w, r, http.StatusOK, products)
}

// HandleCreateProduct handles POST /api/products.
func (h *Handlers) HandleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req model.CreateProductRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	p, err := h.svc.CreateProduct(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err, nil)
		return
	}
	writeJSON(w, r, http.StatusCreated, p)
}
