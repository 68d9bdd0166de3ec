package warecell

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// mockServer creates an httptest server that mimics the warecell API.
func mockServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for pattern, handler := range handlers {
		mux.HandleFunc(pattern, handler)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{
		"data": data,
		"meta": map[string]any{"request_id": "req-1", "timestamp": time.Now().UTC()},
	})
}

func writeAPIError(w http.ResponseWriter, status int, code, msg string, details any) {
	body := map[string]any{"code": code, "message": msg}
	if details != nil {
		body["details"] = details
	}
	writeJSON(w, status, map[string]any{"error": body})
}

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{BaseURL: serverURL + "/", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error for empty BaseURL")
	}
}

func TestSubmitReturnsOperation(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /api/operations": func(w http.ResponseWriter, r *http.Request) {
			var req SubmitRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode: %v", err)
			}
			if req.Command != "HOME" || req.Kind != "HOME" {
				t.Errorf("unexpected request: %+v", req)
			}
			resp := "OK"
			writeData(w, http.StatusCreated, Operation{ID: 7, Kind: "HOME", Command: "HOME", Status: "COMPLETED", Response: &resp})
		},
	})
	c := newTestClient(t, srv.URL)

	op, err := c.Submit(context.Background(), SubmitRequest{Kind: "HOME", Command: "HOME"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if op.ID != 7 || op.Status != "COMPLETED" {
		t.Errorf("unexpected operation: %+v", op)
	}
	if op.Response == nil || *op.Response != "OK" {
		t.Errorf("expected response OK, got %v", op.Response)
	}
}

func TestSubmitDeviceFailureCarriesRecord(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /api/operations": func(w http.ResponseWriter, r *http.Request) {
			writeAPIError(w, http.StatusBadGateway, CodeDeviceUnreachable, "device unreachable",
				Operation{ID: 12, Command: "HOME", Status: "ERROR"})
		},
	})
	c := newTestClient(t, srv.URL)

	_, err := c.Submit(context.Background(), SubmitRequest{Kind: "HOME", Command: "HOME"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsDeviceError(err) {
		t.Errorf("expected device error, got %v", err)
	}
	apiErr := err.(*Error)
	if apiErr.Details == nil || apiErr.Details.ID != 12 || apiErr.Details.Status != "ERROR" {
		t.Errorf("expected failed record in details, got %+v", apiErr.Details)
	}
}

func TestBusyAndRateLimitedErrors(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /api/operations": func(w http.ResponseWriter, r *http.Request) {
			writeAPIError(w, http.StatusConflict, CodeDeviceBusy, "device busy", nil)
		},
		"POST /api/tasks": func(w http.ResponseWriter, r *http.Request) {
			writeAPIError(w, http.StatusTooManyRequests, "RATE_LIMITED", "slow down", nil)
		},
	})
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	_, err := c.Submit(ctx, SubmitRequest{Kind: "HOME", Command: "HOME"})
	if !IsBusy(err) || !IsConflict(err) {
		t.Errorf("expected busy conflict, got %v", err)
	}
	if IsDeviceError(err) {
		t.Error("busy is not a device failure")
	}

	_, err = c.CreateTask(ctx, CreateTaskRequest{Type: "RETRIEVE"})
	if !IsRateLimited(err) {
		t.Errorf("expected rate limited, got %v", err)
	}
}

func TestNonEnvelopeErrorBody(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /api/tasks/{id}": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "gone", http.StatusNotFound)
		},
	})
	c := newTestClient(t, srv.URL)

	_, err := c.Task(context.Background(), 3)
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err.(*Error).Code != "Not Found" {
		t.Errorf("expected status text code, got %q", err.(*Error).Code)
	}
}

func TestTasksQueryParameters(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /api/tasks": func(w http.ResponseWriter, r *http.Request) {
			if got := r.URL.Query().Get("status"); got != "PENDING" {
				t.Errorf("status = %q", got)
			}
			if got := r.URL.Query().Get("limit"); got != "5" {
				t.Errorf("limit = %q", got)
			}
			writeData(w, http.StatusOK, []Task{{ID: 1, Type: "STOCK", Status: "PENDING"}})
		},
	})
	c := newTestClient(t, srv.URL)

	tasks, err := c.Tasks(context.Background(), &TasksOptions{Status: "PENDING", Limit: 5})
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Type != "STOCK" {
		t.Errorf("unexpected tasks: %+v", tasks)
	}
}

func TestCancelTaskSendsNoBody(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /api/tasks/{id}/cancel": func(w http.ResponseWriter, r *http.Request) {
			if r.PathValue("id") != "4" {
				t.Errorf("id = %q", r.PathValue("id"))
			}
			if ct := r.Header.Get("Content-Type"); ct != "" {
				t.Errorf("unexpected content type %q", ct)
			}
			writeData(w, http.StatusOK, Task{ID: 4, Status: "CANCELLED"})
		},
	})
	c := newTestClient(t, srv.URL)

	task, err := c.CancelTask(context.Background(), 4)
	if err != nil {
		t.Fatalf("CancelTask: %v", err)
	}
	if task.Status != "CANCELLED" {
		t.Errorf("status = %q", task.Status)
	}
}

func TestSetModeReportsSignalErrors(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /api/mode": func(w http.ResponseWriter, r *http.Request) {
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			writeData(w, http.StatusOK, ModeResult{
				Mode:           body["mode"],
				SignalErrors:   []string{"AUTO_MODE: device unreachable"},
				SchedulerArmed: true,
			})
		},
	})
	c := newTestClient(t, srv.URL)

	res, err := c.SetMode(context.Background(), "auto")
	if err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	if res.Mode != "auto" || !res.SchedulerArmed || len(res.SignalErrors) != 1 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestCellsAndStatus(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /api/cells": func(w http.ResponseWriter, r *http.Request) {
			writeData(w, http.StatusOK, []Cell{
				{ID: 1, Row: 1, Column: 1, Label: "R1C1", Status: "EMPTY"},
				{ID: 2, Row: 1, Column: 2, Label: "R1C2", Status: "OCCUPIED", Quantity: 3},
			})
		},
		"GET /api/status": func(w http.ResponseWriter, r *http.Request) {
			writeData(w, http.StatusOK, map[string]any{
				"cells_total":    12,
				"cells_occupied": 1,
				"settings":       map[string]string{"mode": "manual", "storage_strategy": "NEAREST_EMPTY"},
				"arm":            map[string]string{"status": "IDLE"},
			})
		},
	})
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	cells, err := c.Cells(ctx)
	if err != nil {
		t.Fatalf("Cells: %v", err)
	}
	if len(cells) != 2 || cells[1].Quantity != 3 {
		t.Errorf("unexpected cells: %+v", cells)
	}

	st, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.CellsTotal != 12 || st.Settings.Mode != "manual" || st.Arm.Status != "IDLE" {
		t.Errorf("unexpected status: %+v", st)
	}
}

func TestHealthUnhealthy(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /health": func(w http.ResponseWriter, r *http.Request) {
			writeData(w, http.StatusServiceUnavailable, Health{Status: "unhealthy"})
		},
	})
	c := newTestClient(t, srv.URL)

	if _, err := c.Health(context.Background()); err == nil {
		t.Fatal("expected error for 503")
	}
}

func TestContextCancellation(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /api/snapshot": func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		},
	})
	c := newTestClient(t, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Snapshot(ctx); err == nil {
		t.Fatal("expected context error")
	}
}
