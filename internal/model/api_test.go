package model_test

import (
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/warecell/internal/model"
)

// ptr is a convenience helper for pointer literals in test cases.
func ptr[T any](v T) *T { return &v }

// ---- ValidateCommand -----------------------------------------------------

func TestValidateCommand_Accepts(t *testing.T) {
	for _, cmd := range []string{"HOME", "TAKE 2 3", "AUTO_STOCK:04A1B2", "GOTO_COLUMN 4", "speed-1.5"} {
		assert.NoError(t, model.ValidateCommand(cmd), cmd)
	}
}

func TestValidateCommand_Rejects(t *testing.T) {
	cases := map[string]string{
		"empty":      "",
		"blank":      "   ",
		"newline":    "HOME\nRESET",
		"ampersand":  "HOME&c=RESET",
		"too long":   strings.Repeat("X", model.MaxCommandLen+1),
		"query mark": "HOME?x",
	}
	for name, cmd := range cases {
		t.Run(name, func(t *testing.T) {
			err := model.ValidateCommand(cmd)
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrInvalidCommand))
		})
	}
}

func TestIsPassThrough(t *testing.T) {
	assert.True(t, model.IsPassThrough("CONVEYOR_MOVE"))
	assert.True(t, model.IsPassThrough("LOADING_OPEN"))
	assert.False(t, model.IsPassThrough("CHECK_LOADING"))
	assert.False(t, model.IsPassThrough("TAKE 1 1"))
}

func TestTargetsLoadingZone(t *testing.T) {
	assert.True(t, model.TargetsLoadingZone(model.OpLoadingZone, "CHECK_LOADING"))
	assert.True(t, model.TargetsLoadingZone(model.OpMoveToLoading, "MOVE_TO_LOADING 2 2"))
	assert.False(t, model.TargetsLoadingZone(model.OpLoadingZone, "LOADING_OPEN"))
	assert.False(t, model.TargetsLoadingZone(model.OpManual, "LOADING_CLOSE"))
	assert.False(t, model.TargetsLoadingZone(model.OpManual, "HOME"))
}

// ---- Operation lifecycle -------------------------------------------------

func TestParseOperationKind_Aliases(t *testing.T) {
	cases := map[string]model.OperationKind{
		"PLACE_IN_CELL":          model.OpPlace,
		"take_from_cell":         model.OpTake,
		"PICK_FROM_CONVEYOR":     model.OpPick,
		"MANUAL_CMD":             model.OpManual,
		"LOADING_ZONE_OPERATION": model.OpLoadingZone,
		"AUTO_RETRIEVE":          model.OpAutoRetrieve,
	}
	for in, want := range cases {
		got, err := model.ParseOperationKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := model.ParseOperationKind("DANCE")
	assert.ErrorIs(t, err, model.ErrInvalidCommand)
}

func TestOperationTransition_Monotonic(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	op := &model.Operation{ID: 7, Status: model.OpPending}

	require.NoError(t, op.Transition(model.OpProcessing, start))
	require.NoError(t, op.Transition(model.OpCompleted, start.Add(1500*time.Millisecond)))
	require.NotNil(t, op.DurationMS)
	assert.Equal(t, int64(1500), *op.DurationMS)

	for _, next := range []model.OperationStatus{model.OpPending, model.OpProcessing, model.OpError, model.OpCancelled} {
		err := op.Transition(next, start)
		assert.ErrorIs(t, err, model.ErrInvalidState, "terminal record must stay terminal (%s)", next)
	}
	assert.Equal(t, model.OpCompleted, op.Status)
}

func TestOperationTransition_PendingCannotComplete(t *testing.T) {
	op := &model.Operation{Status: model.OpPending}
	assert.ErrorIs(t, op.Transition(model.OpCompleted, time.Now()), model.ErrInvalidState)
}

// ---- Task ordering -------------------------------------------------------

func TestTaskBefore_PriorityThenFIFO(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tasks := []*model.Task{
		{ID: 1, Priority: model.TaskPriorityLow, CreatedAt: base},
		{ID: 2, Priority: model.TaskPriorityMedium, CreatedAt: base.Add(time.Second)},
		{ID: 3, Priority: model.TaskPriorityUrgent, CreatedAt: base.Add(2 * time.Second)},
		{ID: 4, Priority: model.TaskPriorityMedium, CreatedAt: base},
		{ID: 5, Priority: model.TaskPriorityHigh, CreatedAt: base.Add(3 * time.Second)},
		{ID: 6, Priority: model.TaskPriorityMedium, CreatedAt: base},
	}
	sort.Slice(tasks, func(i, j int) bool { return model.TaskBefore(tasks[i], tasks[j]) })

	var ids []int64
	for _, tk := range tasks {
		ids = append(ids, tk.ID)
	}
	assert.Equal(t, []int64{3, 5, 4, 6, 2, 1}, ids)
}

func TestParseTaskPriority(t *testing.T) {
	p, err := model.ParseTaskPriority("")
	require.NoError(t, err)
	assert.Equal(t, model.TaskPriorityMedium, p)

	p, err = model.ParseTaskPriority("urgent")
	require.NoError(t, err)
	assert.Equal(t, model.TaskPriorityUrgent, p)

	_, err = model.ParseTaskPriority("SOMEDAY")
	assert.ErrorIs(t, err, model.ErrInvalidCommand)
}

// ---- Equipment and settings ----------------------------------------------

func TestParseConveyorTag(t *testing.T) {
	cases := map[string]model.ConveyorState{
		"":               model.ConveyorIdle,
		"IDLE":           model.ConveyorIdle,
		"MOVE_12CM":      model.ConveyorMoving,
		"MOVING_TO_LDR2": model.ConveyorMoving,
		"WAIT_RFID":      model.ConveyorAwaitingIdentification,
		"STOPPED":        model.ConveyorStopped,
		"MANUAL_MODE":    model.ConveyorManualState,
	}
	for tag, want := range cases {
		got, err := model.ParseConveyorTag(tag)
		require.NoError(t, err, tag)
		assert.Equal(t, want, got, tag)
	}
	_, err := model.ParseConveyorTag("SPINNING")
	assert.Error(t, err)
}

func TestStorageStrategy_DeviceCommand(t *testing.T) {
	s, err := model.ParseStorageStrategy("round robin")
	require.NoError(t, err)
	assert.Equal(t, model.StrategyRoundRobin, s)
	assert.Equal(t, "STRATEGY ROUND ROBIN", s.DeviceCommand())
	assert.Equal(t, "STRATEGY AI OPTIMIZED", model.StrategyAIOptimized.DeviceCommand())

	_, err = model.ParseStorageStrategy("BIGGEST_FIRST")
	assert.ErrorIs(t, err, model.ErrInvalidCommand)
}

func TestLayout_SeedCells(t *testing.T) {
	cells := model.DefaultLayout.SeedCells()
	require.Len(t, cells, 12)
	assert.Equal(t, "R1C1", cells[0].Label)
	assert.Equal(t, int64(1), cells[0].ID)
	assert.Equal(t, "R2C3", cells[6].Label)
	assert.Equal(t, int64(7), cells[6].ID)
	assert.Equal(t, "R3C4", cells[11].Label)
	for _, c := range cells {
		assert.Equal(t, model.CellEmpty, c.Status)
	}
}

func TestClientMessage_Normalize(t *testing.T) {
	for _, legacy := range []model.ClientMessageType{"request_sensor_data", "refresh_data", "request_snapshot"} {
		m, err := model.ClientMessage{Type: legacy}.Normalize()
		require.NoError(t, err)
		assert.Equal(t, model.ClientRequestSnapshot, m.Type)
	}
	_, err := model.ClientMessage{Type: "reboot"}.Normalize()
	assert.ErrorIs(t, err, model.ErrInvalidCommand)
}

func TestCreateProductRequest_Validate(t *testing.T) {
	assert.NoError(t, model.CreateProductRequest{Name: "bolt", Tag: ptr("04A1")}.Validate())
	assert.Error(t, model.CreateProductRequest{Name: " "}.Validate())
	assert.Error(t, model.CreateProductRequest{Name: "bolt", Tag: ptr("")}.Validate())
}

func TestParseAction(t *testing.T) {
	a, err := model.ParseAction("OPEN", "open", "close", "check")
	require.NoError(t, err)
	assert.Equal(t, "open", a)
	_, err = model.ParseAction("wiggle", "open", "close")
	assert.ErrorIs(t, err, model.ErrInvalidCommand)
}
