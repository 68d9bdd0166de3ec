package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/warecell/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func ptr[T any](v T) *T { return &v }

type recorder struct {
	mu     sync.Mutex
	events []model.EventType
	data   []any
}

func (r *recorder) Publish(t model.EventType, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, t)
	r.data = append(r.data, data)
}

func (r *recorder) types() []model.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.EventType(nil), r.events...)
}

type tagCatalog map[string]model.Product

func (c tagCatalog) ProductByTag(_ context.Context, tag string) (model.Product, error) {
	p, ok := c[tag]
	if !ok {
		return model.Product{}, fmt.Errorf("product tag %q: %w", tag, model.ErrNotFound)
	}
	return p, nil
}

func newTestStore(pub Publisher) *Store {
	catalog := tagCatalog{"04A1": {ID: 9, Name: "bolt", Tag: ptr("04A1")}}
	return New(model.DefaultLayout, pub, catalog, testLogger())
}

func grid(occupied ...[2]int) [][]bool {
	g := make([][]bool, 3)
	for i := range g {
		g[i] = make([]bool, 4)
	}
	for _, rc := range occupied {
		g[rc[0]-1][rc[1]-1] = true
	}
	return g
}

func TestNew_SeedsEmptyGrid(t *testing.T) {
	s := newTestStore(nil)
	cells := s.Cells()
	require.Len(t, cells, 12)
	for _, c := range cells {
		assert.Equal(t, model.CellEmpty, c.Status)
	}
	assert.Equal(t, model.ServoClosed, s.LoadingZone().ServoAngle)
	assert.Equal(t, model.ModeManual, s.Settings().Mode)
}

func TestCell_NotFound(t *testing.T) {
	s := newTestStore(nil)
	_, err := s.Cell(13)
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = s.OccupyCell(0, ptr(int64(1)), 1)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestOccupyAndEmptyCell_PublishDeltas(t *testing.T) {
	rec := &recorder{}
	s := newTestStore(rec)

	c, err := s.OccupyCell(5, ptr(int64(3)), 1)
	require.NoError(t, err)
	assert.Equal(t, model.CellOccupied, c.Status)
	assert.Equal(t, int64(3), *c.ProductID)

	c, err = s.EmptyCell(5)
	require.NoError(t, err)
	assert.Equal(t, model.CellEmpty, c.Status)
	assert.Nil(t, c.ProductID)
	assert.Zero(t, c.Quantity)

	assert.Equal(t, []model.EventType{model.EventCellUpdate, model.EventCellUpdate}, rec.types())
}

func TestMoveCellToLoadingZone(t *testing.T) {
	s := newTestStore(nil)
	_, err := s.OccupyCell(2, ptr(int64(4)), 1)
	require.NoError(t, err)

	cell, lz, err := s.MoveCellToLoadingZone(2, nil)
	require.NoError(t, err)
	assert.Equal(t, model.CellEmpty, cell.Status)
	assert.Equal(t, model.LoadingOccupied, lz.Status)
	require.NotNil(t, lz.ProductID)
	assert.Equal(t, int64(4), *lz.ProductID)
	assert.Equal(t, 1, lz.Quantity)
}

func TestSensorReport_LastWriterWinsKeepsProduct(t *testing.T) {
	s := newTestStore(nil)
	_, err := s.OccupyCell(1, ptr(int64(7)), 1)
	require.NoError(t, err)

	// The sensor has not seen the placement yet and reports the cell empty.
	require.NoError(t, s.ApplySensorReport(context.Background(), model.SensorReport{Cells: grid()}))

	c, err := s.Cell(1)
	require.NoError(t, err)
	assert.Equal(t, model.CellEmpty, c.Status, "sensor status overwrites command status")
	require.NotNil(t, c.ProductID, "product reference is left as is")
	assert.Equal(t, int64(7), *c.ProductID)
	assert.NotNil(t, c.LastSensorCheck)

	require.NoError(t, s.ApplySensorReport(context.Background(), model.SensorReport{Cells: grid([2]int{1, 1}, [2]int{3, 4})}))
	c, _ = s.Cell(1)
	assert.Equal(t, model.CellOccupied, c.Status)
	c, _ = s.Cell(12)
	assert.Equal(t, model.CellOccupied, c.Status)
}

func TestSensorReport_ReservedIsOverwritten(t *testing.T) {
	s := newTestStore(nil)
	s.mu.Lock()
	s.cells[3].Status = model.CellReserved
	s.mu.Unlock()

	require.NoError(t, s.ApplySensorReport(context.Background(), model.SensorReport{Cells: grid()}))
	c, _ := s.Cell(4)
	assert.Equal(t, model.CellEmpty, c.Status)
}

func TestSensorReport_PartialFailureAppliesOtherFields(t *testing.T) {
	rec := &recorder{}
	s := newTestStore(rec)

	badGrid := [][]bool{{true, true}}
	err := s.ApplySensorReport(context.Background(), model.SensorReport{
		Cells:               badGrid,
		ConveyorState:       ptr("TELEPORTING"),
		LoadingZoneOccupied: ptr(true),
		ArmStatus:           ptr("READY"),
		LDR1:                ptr(true),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cells")
	assert.Contains(t, err.Error(), "conveyorState")

	assert.Equal(t, model.LoadingOccupied, s.LoadingZone().Status)
	assert.Equal(t, "READY", s.Arm().Status)
	assert.True(t, s.Conveyor().HasProduct)
	assert.Equal(t, model.ConveyorIdle, s.Conveyor().State)
	for _, c := range s.Cells() {
		assert.Equal(t, model.CellEmpty, c.Status, "malformed grid is not applied")
	}
	_, ok := s.Sensors()
	assert.True(t, ok)
}

func TestSensorReport_ConveyorTagsAndDetection(t *testing.T) {
	rec := &recorder{}
	s := newTestStore(rec)

	require.NoError(t, s.ApplySensorReport(context.Background(), model.SensorReport{
		ConveyorState: ptr("WAIT_RFID"),
		LDR2:          ptr(true),
		Tag:           ptr("04A1"),
	}))
	conv := s.Conveyor()
	assert.Equal(t, model.ConveyorAwaitingIdentification, conv.State)
	assert.Equal(t, model.ConveyorAuto, conv.Mode)
	require.NotNil(t, conv.ProductID)
	assert.Equal(t, int64(9), *conv.ProductID)
	assert.Contains(t, rec.types(), model.EventTagDetected)

	err := s.ApplySensorReport(context.Background(), model.SensorReport{Tag: ptr("FFFF")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tag")
	conv = s.Conveyor()
	assert.Nil(t, conv.ProductID)
	assert.Equal(t, "FFFF", *conv.ProductTag)

	require.NoError(t, s.ApplySensorReport(context.Background(), model.SensorReport{ConveyorState: ptr("MANUAL_MODE")}))
	assert.Equal(t, model.ConveyorManual, s.Conveyor().Mode)
}

func TestSensorReport_ServoNeverOverwritten(t *testing.T) {
	s := newTestStore(nil)
	s.SetServo(model.ServoOpen)
	require.NoError(t, s.ApplySensorReport(context.Background(), model.SensorReport{
		LoadingZoneOccupied: ptr(false),
		LoadingZoneDistance: ptr(12.5),
	}))
	lz := s.LoadingZone()
	assert.Equal(t, model.ServoOpen, lz.ServoAngle)
	assert.Equal(t, model.LoadingEmpty, lz.Status)
	assert.InDelta(t, 12.5, *lz.DistanceCM, 0.001)
}

func TestSensorReport_Strategy(t *testing.T) {
	rec := &recorder{}
	s := newTestStore(rec)
	require.NoError(t, s.ApplySensorReport(context.Background(), model.SensorReport{StorageStrategy: ptr("ROUND ROBIN")}))
	assert.Equal(t, model.StrategyRoundRobin, s.Settings().StorageStrategy)
	assert.Contains(t, rec.types(), model.EventStrategyUpdate)

	err := s.ApplySensorReport(context.Background(), model.SensorReport{StorageStrategy: ptr("BIGGEST")})
	assert.Error(t, err)
	assert.Equal(t, model.StrategyRoundRobin, s.Settings().StorageStrategy)
}

func TestLoadingZoneWork_RestoresOnlyIfStillProcessing(t *testing.T) {
	s := newTestStore(nil)
	prev := s.BeginLoadingZoneWork()
	assert.Equal(t, model.LoadingEmpty, prev)
	assert.Equal(t, model.LoadingProcessing, s.LoadingZone().Status)
	s.EndLoadingZoneWork(prev)
	assert.Equal(t, model.LoadingEmpty, s.LoadingZone().Status)

	prev = s.BeginLoadingZoneWork()
	require.NoError(t, s.ApplySensorReport(context.Background(), model.SensorReport{LoadingZoneOccupied: ptr(true)}))
	s.EndLoadingZoneWork(prev)
	assert.Equal(t, model.LoadingOccupied, s.LoadingZone().Status, "sensor update wins over restore")
}

func TestSetConveyorManual(t *testing.T) {
	s := newTestStore(nil)
	c := s.SetConveyorManual(true)
	assert.Equal(t, model.ConveyorManual, c.Mode)
	assert.Equal(t, model.ConveyorManualState, c.State)
	c = s.SetConveyorManual(false)
	assert.Equal(t, model.ConveyorIdle, c.State)
}

func TestRestore_StartsManualAndClearsProcessing(t *testing.T) {
	s := newTestStore(nil)
	cells := model.DefaultLayout.SeedCells()
	cells[0].Status = model.CellOccupied
	cells[0].ProductID = ptr(int64(2))
	s.Restore(Checkpoint{
		Cells:       append(cells, model.Cell{Row: 9, Column: 9, Status: model.CellOccupied}),
		LoadingZone: model.LoadingZone{Status: model.LoadingProcessing, ServoAngle: model.ServoOpen},
		Settings:    model.Settings{StorageStrategy: model.StrategyFixed, Mode: model.ModeAuto},
	})
	c, _ := s.Cell(1)
	assert.Equal(t, model.CellOccupied, c.Status)
	assert.Equal(t, model.LoadingEmpty, s.LoadingZone().Status)
	assert.Equal(t, model.ModeManual, s.Settings().Mode)
	assert.Equal(t, model.StrategyFixed, s.Settings().StorageStrategy)
	assert.Len(t, s.Cells(), 12)
}

type memRepo struct {
	mu    sync.Mutex
	saved []Checkpoint
	fail  bool
}

func (m *memRepo) SaveState(_ context.Context, cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("disk full")
	}
	m.saved = append(m.saved, cp)
	return nil
}

func (m *memRepo) LoadState(context.Context) (Checkpoint, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saved) == 0 {
		return Checkpoint{}, false, nil
	}
	return m.saved[len(m.saved)-1], true, nil
}

func (m *memRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

func TestCheckpointer_FlushesOnlyWhenDirty(t *testing.T) {
	s := newTestStore(nil)
	repo := &memRepo{}
	cp := NewCheckpointer(s, repo, testLogger(), time.Hour)
	cp.Start(context.Background())

	cp.Flush()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, repo.count())

	_, err := s.OccupyCell(3, ptr(int64(1)), 1)
	require.NoError(t, err)
	cp.Flush()
	require.Eventually(t, func() bool { return repo.count() == 1 }, time.Second, 5*time.Millisecond)

	_, err = s.EmptyCell(3)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	cp.Drain(ctx)
	assert.Equal(t, 2, repo.count(), "drain writes the final checkpoint")
}

func TestCheckpointer_FailureKeepsDirty(t *testing.T) {
	s := newTestStore(nil)
	repo := &memRepo{fail: true}
	cp := NewCheckpointer(s, repo, testLogger(), time.Hour)

	s.SetMode(model.ModeAuto)
	cp.flush(context.Background())
	_, dirty := s.TakeCheckpoint()
	assert.True(t, dirty)
}

func TestCheckpointer_Load(t *testing.T) {
	repo := &memRepo{}
	cells := model.DefaultLayout.SeedCells()
	cells[11].Status = model.CellOccupied
	repo.saved = append(repo.saved, Checkpoint{Cells: cells})

	s := newTestStore(nil)
	require.NoError(t, NewCheckpointer(s, repo, testLogger(), time.Hour).Load(context.Background()))
	c, _ := s.Cell(12)
	assert.Equal(t, model.CellOccupied, c.Status)
}
