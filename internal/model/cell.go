package model

import (
	"fmt"
	"time"
)

// CellStatus is the occupancy state of a storage cell.
type CellStatus string

const (
	CellEmpty    CellStatus = "EMPTY"
	CellOccupied CellStatus = "OCCUPIED"
	CellReserved CellStatus = "RESERVED"
)

// Cell is one addressable storage position in the grid.
type Cell struct {
	ID              int64      `json:"id"`
	Row             int        `json:"row"`
	Column          int        `json:"column"`
	Label           string     `json:"label"`
	ProductID       *int64     `json:"product_id,omitempty"`
	Quantity        int        `json:"quantity"`
	Status          CellStatus `json:"status"`
	LastSensorCheck *time.Time `json:"last_sensor_check,omitempty"`
}

// Layout is the grid shape. Rows and columns are 1-based.
type Layout struct {
	Rows    int `json:"rows"`
	Columns int `json:"columns"`
}

// DefaultLayout is the 3x4 grid of the reference cell.
var DefaultLayout = Layout{Rows: 3, Columns: 4}

// CellLabel formats the display label for a grid position.
func CellLabel(row, column int) string {
	return fmt.Sprintf("R%dC%d", row, column)
}

// CellID returns the row-major id of a position, starting at 1.
func (l Layout) CellID(row, column int) int64 {
	return int64((row-1)*l.Columns + column)
}

// SeedCells returns the empty grid for l in id order.
func (l Layout) SeedCells() []Cell {
	cells := make([]Cell, 0, l.Rows*l.Columns)
	for r := 1; r <= l.Rows; r++ {
		for c := 1; c <= l.Columns; c++ {
			cells = append(cells, Cell{
				ID:     l.CellID(r, c),
				Row:    r,
				Column: c,
				Label:  CellLabel(r, c),
				Status: CellEmpty,
			})
		}
	}
	return cells
}
