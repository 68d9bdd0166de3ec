package mcp

import (
	"github.com/ashita-ai/warecell/internal/model"
)

// maxCompactResponse caps device response text echoed back to agents.
const maxCompactResponse = 200

// compactOperation drops timestamps agents don't act on and truncates the
// device response.
func compactOperation(op model.Operation) map[string]any {
	m := map[string]any{
		"id":      op.ID,
		"command": op.Command,
		"status":  op.Status,
	}
	if op.Kind != "" {
		m["kind"] = op.Kind
	}
	if op.CellID != nil {
		m["cell_id"] = *op.CellID
	}
	if op.Response != nil && *op.Response != "" {
		m["response"] = truncate(*op.Response, maxCompactResponse)
	}
	if op.ErrorMessage != nil && *op.ErrorMessage != "" {
		m["error"] = truncate(*op.ErrorMessage, maxCompactResponse)
	}
	if op.DurationMS != nil {
		m["duration_ms"] = *op.DurationMS
	}
	return m
}

// compactTask returns the fields an agent needs to follow a task.
func compactTask(t model.Task) map[string]any {
	m := map[string]any{
		"id":       t.ID,
		"type":     t.Type,
		"status":   t.Status,
		"priority": t.Priority,
	}
	if t.CellID != nil {
		m["cell_id"] = *t.CellID
	}
	if t.ProductID != nil {
		m["product_id"] = *t.ProductID
	}
	if t.ProductTag != nil {
		m["product_tag"] = *t.ProductTag
	}
	if t.OperationID != nil {
		m["operation_id"] = *t.OperationID
	}
	if t.ErrorMessage != "" {
		m["error"] = truncate(t.ErrorMessage, maxCompactResponse)
	}
	return m
}

// compactCells summarizes the grid: counts plus the occupied cells only.
func compactCells(cells []model.Cell) map[string]any {
	occupied := make([]map[string]any, 0)
	for _, c := range cells {
		if c.Status != model.CellOccupied {
			continue
		}
		entry := map[string]any{"id": c.ID, "row": c.Row, "column": c.Column, "quantity": c.Quantity}
		if c.ProductID != nil {
			entry["product_id"] = *c.ProductID
		}
		occupied = append(occupied, entry)
	}
	return map[string]any{
		"total":    len(cells),
		"occupied": occupied,
		"free":     len(cells) - len(occupied),
	}
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
