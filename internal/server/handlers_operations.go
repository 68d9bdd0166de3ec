package server

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/warecell/internal/model"
)

// HandleSubmitOperation handles POST /api/operations. The call blocks until
// the device answers. A device failure still returns the ERROR record in
// the error details.
func (h *Handlers) HandleSubmitOperation(w http.ResponseWriter, r *http.Request) {
	var req model.SubmitOperationRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("warecell.command", req.Command))

	op, err := h.svc.Submit(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err, recordOrNil(op))
		return
	}
	writeJSON(w, r, http.StatusCreated, op)
}

// HandleListOperations handles GET /api/operations?limit=.
func (h *Handlers) HandleListOperations(w http.ResponseWriter, r *http.Request) {
	ops, err := h.svc.Operations(r.Context(), queryInt(r, "limit", 0))
	if err != nil {
		h.writeServiceError(w, r, err, nil)
		return
	}
	writeJSON(w, r, http.StatusOK, ops)
}

// HandleGetOperation handles GET /api/operations/{id}.
func (h *Handlers) HandleGetOperation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid operation id")
		return
	}
	op, err := h.svc.Operation(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err, nil)
		return
	}
	writeJSON(w, r, http.StatusOK, op)
}

// HandleCreateTask handles POST /api/tasks.
func (h *Handlers) HandleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req model.CreateTaskRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	task, err := h.svc.CreateTask(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err, nil)
		return
	}
	writeJSON(w, r, http.StatusCreated, task)
}

// HandleListTasks handles GET /api/tasks?status=&limit=.
func (h *Handlers) HandleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.svc.Tasks(r.Context(), r.URL.Query().Get("status"), queryInt(r, "limit", 0))
	if err != nil {
		h.writeServiceError(w, r, err, nil)
		return
	}
	writeJSON(w, r, http.StatusOK, tasks)
}

// HandleGetTask handles GET /api/tasks/{id}.
func (h *Handlers) HandleGetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid task id")
		return
	}
	task, err := h.svc.Task(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err, nil)
		return
	}
	writeJSON(w, r, http.StatusOK, task)
}

// HandleCancelTask handles POST /api/tasks/{id}/cancel.
func (h *Handlers) HandleCancelTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid task id")
		return
	}
	task, err := h.svc.CancelTask(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err, nil)
		return
	}
	writeJSON(w, r, http.StatusOK, task)
}

// recordOrNil returns op when a record was persisted before the failure.
func recordOrNil(op model.Operation) any {
	if op.ID == 0 {
		return nil
	}
	return op
}
