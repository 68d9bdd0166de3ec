// Package state holds the authoritative view of the cell: grid occupancy,
// loading zone, conveyor, arm and operator settings. Every mutation publishes
// a delta while the store lock is held, so observers see deltas in the same
// order the mutations happened.
package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashita-ai/warecell/internal/model"
)

// Publisher receives state deltas. Publish must not block.
type Publisher interface {
	Publish(eventType model.EventType, data any)
}

// ProductResolver maps an identification tag to a catalog product. It returns
// an error matching model.ErrNotFound for unknown tags.
type ProductResolver interface {
	ProductByTag(ctx context.Context, tag string) (model.Product, error)
}

// Checkpoint is the persisted form of the store.
type Checkpoint struct {
	Cells       []model.Cell      `json:"cells"`
	LoadingZone model.LoadingZone `json:"loading_zone"`
	Conveyor    model.Conveyor    `json:"conveyor"`
	Settings    model.Settings    `json:"settings"`
	Arm         model.ArmState    `json:"arm"`
}

// Store is the single mutex-guarded state instance.
type Store struct {
	layout   model.Layout
	pub      Publisher
	products ProductResolver
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	cells    []model.Cell // index is id-1
	loading  model.LoadingZone
	conveyor model.Conveyor
	settings model.Settings
	arm      model.ArmState
	sensors  *model.SensorReport
	dirty    bool
}

// New creates a store seeded with an empty grid for layout.
func New(layout model.Layout, pub Publisher, products ProductResolver, logger *slog.Logger) *Store {
	return &Store{
		layout:   layout,
		pub:      pub,
		products: products,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		cells:    layout.SeedCells(),
		loading:  model.LoadingZone{ServoAngle: model.ServoClosed, Status: model.LoadingEmpty},
		conveyor: model.Conveyor{Mode: model.ConveyorAuto, State: model.ConveyorIdle},
		settings: model.DefaultSettings,
		arm:      model.ArmState{Status: "UNKNOWN"},
	}
}

// Layout returns the grid shape.
func (s *Store) Layout() model.Layout { return s.layout }

// Restore replaces the state with a checkpoint. Cells outside the current
// layout are ignored. Mode always starts manual because the device state is
// unknown after a restart.
func (s *Store) Restore(cp Checkpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cp.Cells {
		if c.Row < 1 || c.Row > s.layout.Rows || c.Column < 1 || c.Column > s.layout.Columns {
			continue
		}
		idx := s.layout.CellID(c.Row, c.Column) - 1
		restored := s.cells[idx]
		restored.ProductID = c.ProductID
		restored.Quantity = c.Quantity
		restored.Status = c.Status
		restored.LastSensorCheck = c.LastSensorCheck
		s.cells[idx] = restored
	}
	s.loading = cp.LoadingZone
	if s.loading.Status == model.LoadingProcessing {
		s.loading.Status = model.LoadingEmpty
		if s.loading.ProductID != nil {
			s.loading.Status = model.LoadingOccupied
		}
	}
	if cp.Conveyor.State != "" {
		s.conveyor = cp.Conveyor
	}
	if cp.Settings.StorageStrategy != "" {
		s.settings.StorageStrategy = cp.Settings.StorageStrategy
	}
	s.settings.Mode = model.ModeManual
	if cp.Arm.Status != "" {
		s.arm = cp.Arm
	}
}

// TakeCheckpoint returns the current state if anything changed since the
// last call and clears the dirty flag. Callers that fail to persist the
// checkpoint call MarkDirty.
func (s *Store) TakeCheckpoint() (Checkpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return Checkpoint{}, false
	}
	s.dirty = false
	return s.checkpointLocked(), true
}

// MarkDirty forces the next TakeCheckpoint to return state.
func (s *Store) MarkDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

func (s *Store) checkpointLocked() Checkpoint {
	return Checkpoint{
		Cells:       append([]model.Cell(nil), s.cells...),
		LoadingZone: s.loading,
		Conveyor:    s.conveyor,
		Settings:    s.settings,
		Arm:         s.arm,
	}
}

// View calls fn with a snapshot while holding the read lock. No mutation can
// publish a delta until fn returns, which lets the hub register an observer
// atomically with its initial snapshot.
func (s *Store) View(fn func(model.Snapshot)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.snapshotLocked())
}

// Snapshot returns a copy of the full state.
func (s *Store) Snapshot() model.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() model.Snapshot {
	snap := model.Snapshot{
		Cells:       append([]model.Cell(nil), s.cells...),
		LoadingZone: s.loading,
		Conveyor:    s.conveyor,
		Settings:    s.settings,
		Arm:         s.arm,
		Timestamp:   s.now(),
	}
	if s.sensors != nil {
		r := *s.sensors
		snap.Sensors = &r
	}
	return snap
}

// Cells returns all cells in id order.
func (s *Store) Cells() []model.Cell {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Cell(nil), s.cells...)
}

// Cell returns one cell by id.
func (s *Store) Cell(id int64) (model.Cell, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.cellLocked(id)
	if err != nil {
		return model.Cell{}, err
	}
	return *c, nil
}

func (s *Store) cellLocked(id int64) (*model.Cell, error) {
	if id < 1 || id > int64(len(s.cells)) {
		return nil, fmt.Errorf("state: cell %d: %w", id, model.ErrNotFound)
	}
	return &s.cells[id-1], nil
}

// LoadingZone returns the loading zone.
func (s *Store) LoadingZone() model.LoadingZone {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Conveyor returns the conveyor.
func (s *Store) Conveyor() model.Conveyor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conveyor
}

// Settings returns the operator settings.
func (s *Store) Settings() model.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Arm returns the last reported arm state.
func (s *Store) Arm() model.ArmState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.arm
}

// Sensors returns the most recent raw sensor report, if any.
func (s *Store) Sensors() (model.SensorReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sensors == nil {
		return model.SensorReport{}, false
	}
	return *s.sensors, true
}

// OccupyCell places productID in the cell.
func (s *Store) OccupyCell(id int64, productID *int64, quantity int) (model.Cell, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.cellLocked(id)
	if err != nil {
		return model.Cell{}, err
	}
	c.ProductID = productID
	c.Quantity = quantity
	c.Status = model.CellOccupied
	s.changedLocked(model.EventCellUpdate, []model.Cell{*c})
	return *c, nil
}

// EmptyCell clears the cell.
func (s *Store) EmptyCell(id int64) (model.Cell, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.cellLocked(id)
	if err != nil {
		return model.Cell{}, err
	}
	c.ProductID = nil
	c.Quantity = 0
	c.Status = model.CellEmpty
	s.changedLocked(model.EventCellUpdate, []model.Cell{*c})
	return *c, nil
}

// MoveCellToLoadingZone empties the cell and puts its product (or
// productID when given) into the loading zone.
func (s *Store) MoveCellToLoadingZone(id int64, productID *int64) (model.Cell, model.LoadingZone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.cellLocked(id)
	if err != nil {
		return model.Cell{}, model.LoadingZone{}, err
	}
	moved := productID
	if moved == nil {
		moved = c.ProductID
	}
	c.ProductID = nil
	c.Quantity = 0
	c.Status = model.CellEmpty
	s.changedLocked(model.EventCellUpdate, []model.Cell{*c})

	now := s.now()
	s.loading.ProductID = moved
	s.loading.Quantity = 1
	s.loading.Status = model.LoadingOccupied
	s.loading.LastChecked = &now
	s.changedLocked(model.EventLoadingZoneUpdate, s.loading)
	return *c, s.loading, nil
}

// BeginLoadingZoneWork marks the loading zone PROCESSING and returns the
// status it had before.
func (s *Store) BeginLoadingZoneWork() model.LoadingZoneStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.loading.Status
	if prev != model.LoadingProcessing {
		s.loading.Status = model.LoadingProcessing
		s.changedLocked(model.EventLoadingZoneUpdate, s.loading)
	}
	return prev
}

// EndLoadingZoneWork restores prev if nothing else moved the loading zone
// out of PROCESSING in the meantime.
func (s *Store) EndLoadingZoneWork(prev model.LoadingZoneStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loading.Status != model.LoadingProcessing || prev == model.LoadingProcessing {
		return
	}
	s.loading.Status = prev
	s.changedLocked(model.EventLoadingZoneUpdate, s.loading)
}

// SetServo records the gate angle set by an open or close action. Sensor
// reports never change it.
func (s *Store) SetServo(angle int) model.LoadingZone {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading.ServoAngle = angle
	s.changedLocked(model.EventLoadingZoneUpdate, s.loading)
	return s.loading
}

// SetConveyorManual records a manual conveyor command.
func (s *Store) SetConveyorManual(moving bool) model.Conveyor {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conveyor.Mode = model.ConveyorManual
	if moving {
		s.conveyor.State = model.ConveyorManualState
	} else {
		s.conveyor.State = model.ConveyorIdle
	}
	s.changedLocked(model.EventConveyorUpdate, s.conveyor)
	return s.conveyor
}

// SetMode records the operating mode.
func (s *Store) SetMode(mode model.Mode) model.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.Mode = mode
	s.changedLocked(model.EventModeUpdate, s.settings)
	return s.settings
}

// SetStrategy records the storage strategy.
func (s *Store) SetStrategy(strategy model.StorageStrategy) model.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.StorageStrategy = strategy
	s.changedLocked(model.EventStrategyUpdate, s.settings)
	return s.settings
}

// AssignCell sets a cell's contents directly. A nil product empties it.
func (s *Store) AssignCell(id int64, productID *int64, quantity int) (model.Cell, error) {
	if productID == nil {
		return s.EmptyCell(id)
	}
	if quantity < 1 {
		quantity = 1
	}
	return s.OccupyCell(id, productID, quantity)
}

func (s *Store) changedLocked(eventType model.EventType, data any) {
	s.dirty = true
	if s.pub != nil {
		s.pub.Publish(eventType, data)
	}
}

// ApplySensorReport reconciles a device report into the store. Each field
// is applied independently: a malformed field is reported in the returned
// error while the others still take effect. Cell status is last-writer-wins
// and never touches the cell's product reference.
func (s *Store) ApplySensorReport(ctx context.Context, r model.SensorReport) error {
	var errs []error

	// Resolve outside the lock; it may hit storage.
	var (
		tag      string
		product  *model.Product
		hasTag   = r.Tag != nil && strings.TrimSpace(*r.Tag) != ""
		convErr  error
		convTo   model.ConveyorState
		stratTo  model.StorageStrategy
		stratErr error
	)
	if hasTag {
		tag = strings.TrimSpace(*r.Tag)
		if s.products != nil {
			p, err := s.products.ProductByTag(ctx, tag)
			switch {
			case err == nil:
				product = &p
			case errors.Is(err, model.ErrNotFound):
				errs = append(errs, fmt.Errorf("rfid: unknown tag %q", tag))
			default:
				errs = append(errs, fmt.Errorf("rfid: resolve tag %q: %w", tag, err))
			}
		}
	}
	if r.ConveyorState != nil {
		convTo, convErr = model.ParseConveyorTag(*r.ConveyorState)
		if convErr != nil {
			errs = append(errs, fmt.Errorf("conveyorState: %w", convErr))
		}
	}
	if r.StorageStrategy != nil && strings.TrimSpace(*r.StorageStrategy) != "" {
		stratTo, stratErr = model.ParseStorageStrategy(*r.StorageStrategy)
		if stratErr != nil {
			errs = append(errs, fmt.Errorf("storageStrategy: %w", stratErr))
		}
	}
	gridOK := true
	if r.Cells != nil {
		if err := s.checkGrid(r.Cells); err != nil {
			gridOK = false
			errs = append(errs, fmt.Errorf("cells: %w", err))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()

	conveyorChanged := false
	if r.LDR1 != nil || r.LDR2 != nil {
		has := (r.LDR1 != nil && *r.LDR1) || (r.LDR2 != nil && *r.LDR2)
		if has != s.conveyor.HasProduct {
			conveyorChanged = true
		}
		s.conveyor.HasProduct = has
		if !has && !hasTag {
			if s.conveyor.ProductID != nil || s.conveyor.ProductTag != nil {
				conveyorChanged = true
			}
			s.conveyor.ProductID = nil
			s.conveyor.ProductTag = nil
		}
	}
	if r.ConveyorState != nil && convErr == nil {
		if s.conveyor.State != convTo {
			conveyorChanged = true
		}
		s.conveyor.State = convTo
		switch convTo {
		case model.ConveyorManualState:
			s.conveyor.Mode = model.ConveyorManual
		case model.ConveyorMoving, model.ConveyorAwaitingIdentification, model.ConveyorStopped:
			s.conveyor.Mode = model.ConveyorAuto
		}
	}
	if hasTag {
		conveyorChanged = true
		t := tag
		s.conveyor.ProductTag = &t
		s.conveyor.LastDetectedAt = &now
		s.conveyor.ProductID = nil
		if product != nil {
			id := product.ID
			s.conveyor.ProductID = &id
		}
	}
	if conveyorChanged {
		s.changedLocked(model.EventConveyorUpdate, s.conveyor)
	}
	if product != nil {
		s.changedLocked(model.EventTagDetected, model.TagDetection{Tag: tag, Product: product})
	}

	if r.ArmStatus != nil || r.CurrentOperation != nil {
		if r.ArmStatus != nil {
			s.arm.Status = *r.ArmStatus
		}
		if r.CurrentOperation != nil {
			s.arm.CurrentOperation = *r.CurrentOperation
		}
		s.dirty = true
	}

	if r.LoadingZoneOccupied != nil || r.LoadingZoneDistance != nil {
		if r.LoadingZoneOccupied != nil {
			if *r.LoadingZoneOccupied {
				s.loading.Status = model.LoadingOccupied
			} else {
				s.loading.Status = model.LoadingEmpty
			}
		}
		if r.LoadingZoneDistance != nil {
			d := *r.LoadingZoneDistance
			s.loading.DistanceCM = &d
		}
		s.loading.LastChecked = &now
		s.changedLocked(model.EventLoadingZoneUpdate, s.loading)
	}

	if stratTo != "" && stratErr == nil && stratTo != s.settings.StorageStrategy {
		s.settings.StorageStrategy = stratTo
		s.changedLocked(model.EventStrategyUpdate, s.settings)
	}

	if r.Cells != nil && gridOK {
		var changed []model.Cell
		for ri, row := range r.Cells {
			for ci, occupied := range row {
				c := &s.cells[s.layout.CellID(ri+1, ci+1)-1]
				status := model.CellEmpty
				if occupied {
					status = model.CellOccupied
				}
				c.LastSensorCheck = &now
				if c.Status != status {
					c.Status = status
					changed = append(changed, *c)
				}
			}
		}
		s.dirty = true
		if len(changed) > 0 {
			s.changedLocked(model.EventCellUpdate, changed)
		}
	}

	report := r
	s.sensors = &report
	if s.pub != nil {
		s.pub.Publish(model.EventSensorUpdate, report)
	}

	if err := errors.Join(errs...); err != nil {
		s.logger.Warn("sensor report partially rejected", "error", err)
		return fmt.Errorf("state: apply sensor report: %w", err)
	}
	return nil
}

func (s *Store) checkGrid(grid [][]bool) error {
	if len(grid) != s.layout.Rows {
		return fmt.Errorf("expected %d rows, got %d", s.layout.Rows, len(grid))
	}
	for i, row := range grid {
		if len(row) != s.layout.Columns {
			return fmt.Errorf("row %d: expected %d columns, got %d", i+1, s.layout.Columns, len(row))
		}
	}
	return nil
}
