package storage_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/warecell/internal/model"
	"github.com/ashita-ai/warecell/internal/state"
	"github.com/ashita-ai/warecell/internal/storage"
	"github.com/ashita-ai/warecell/internal/testutil"
	"github.com/ashita-ai/warecell/migrations"
)

// testDB holds a shared test database connection for all tests in this package.
var testDB *storage.DB

func TestMain(m *testing.M) {
	tc, err := testutil.StartPostgres()
	if err != nil {
		fmt.Fprintf(os.Stderr, "skipping postgres storage tests: %v\n", err)
		os.Exit(0)
	}

	ctx := context.Background()
	testDB, err = tc.NewTestDB(ctx, testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create DB: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}

	code := m.Run()

	testDB.Close(ctx)
	tc.Terminate()
	os.Exit(code)
}

func ptr[T any](v T) *T { return &v }

func TestRunMigrations_Idempotent(t *testing.T) {
	require.NoError(t, testDB.RunMigrations(context.Background(), migrations.Postgres()))
}

func TestOperationLifecycle(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	op := model.Operation{
		Kind:      model.OpPick,
		Command:   "PICK 2 1",
		CellID:    ptr(int64(2)),
		Priority:  model.OpPriorityMedium,
		Status:    model.OpPending,
		CreatedAt: now,
	}
	require.NoError(t, testDB.CreateOperation(ctx, &op))
	require.NotZero(t, op.ID)

	require.NoError(t, op.Transition(model.OpProcessing, now.Add(time.Millisecond)))
	require.NoError(t, testDB.UpdateOperation(ctx, op))
	op.Response = ptr("OK")
	require.NoError(t, op.Transition(model.OpCompleted, now.Add(250*time.Millisecond)))
	require.NoError(t, testDB.UpdateOperation(ctx, op))

	got, err := testDB.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OpCompleted, got.Status)
	assert.Equal(t, model.OpPick, got.Kind)
	require.NotNil(t, got.Response)
	assert.Equal(t, "OK", *got.Response)
	require.NotNil(t, got.DurationMS)
	assert.Equal(t, int64(249), *got.DurationMS)
	assert.Nil(t, got.ProductID)

	recent, err := testDB.ListOperations(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, op.ID, recent[0].ID)
}

func TestOperation_NotFound(t *testing.T) {
	ctx := context.Background()
	_, err := testDB.GetOperation(ctx, 999999)
	assert.ErrorIs(t, err, model.ErrNotFound)

	err = testDB.UpdateOperation(ctx, model.Operation{ID: 999999, Status: model.OpError})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestTasks_FilterAndUpdate(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	a := model.Task{Type: model.TaskRetrieve, CellID: ptr(int64(5)), Quantity: 1,
		Priority: model.TaskPriorityUrgent, Status: model.TaskPending, CreatedAt: now}
	b := model.Task{Type: model.TaskStock, ProductTag: ptr("04A1"), Quantity: 2,
		Priority: model.TaskPriorityLow, Status: model.TaskPending, CreatedAt: now.Add(time.Millisecond)}
	require.NoError(t, testDB.CreateTask(ctx, &a))
	require.NoError(t, testDB.CreateTask(ctx, &b))

	a.Status = model.TaskProcessing
	a.StartedAt = ptr(now.Add(time.Second))
	require.NoError(t, testDB.UpdateTask(ctx, a))

	processing := model.TaskProcessing
	got, err := testDB.ListTasks(ctx, model.TaskFilter{Status: &processing})
	require.NoError(t, err)
	ids := make([]int64, 0, len(got))
	for _, task := range got {
		assert.Equal(t, model.TaskProcessing, task.Status)
		ids = append(ids, task.ID)
	}
	assert.Contains(t, ids, a.ID)
	assert.NotContains(t, ids, b.ID)

	loaded, err := testDB.GetTask(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.ProductTag)
	assert.Equal(t, "04A1", *loaded.ProductTag)
	assert.Equal(t, 2, loaded.Quantity)
	assert.Equal(t, model.TaskPriorityLow, loaded.Priority)

	limited, err := testDB.ListTasks(ctx, model.TaskFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, b.ID, limited[0].ID, "newest first")
}

func TestProducts_TagLookupAndConflict(t *testing.T) {
	ctx := context.Background()
	p := model.Product{Name: "Widget", SKU: ptr("W-1"), Tag: ptr("Ab12Cd"), CreatedAt: time.Now().UTC()}
	require.NoError(t, testDB.CreateProduct(ctx, &p))

	got, err := testDB.ProductByTag(ctx, "AB12CD")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	dup := model.Product{Name: "Other", Tag: ptr("ab12cd"), CreatedAt: time.Now().UTC()}
	assert.ErrorIs(t, testDB.CreateProduct(ctx, &dup), model.ErrConflict)

	_, err = testDB.ProductByTag(ctx, "FFFF")
	assert.ErrorIs(t, err, model.ErrNotFound)

	all, err := testDB.ListProducts(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, all)
}

func TestCheckpoint_RoundTrip(t *testing.T) {
	ctx := context.Background()
	cells := model.DefaultLayout.SeedCells()
	cells[0].Status = model.CellOccupied
	cells[0].ProductID = ptr(int64(7))
	cells[0].Quantity = 3

	cp := state.Checkpoint{
		Cells:    cells,
		Settings: model.Settings{StorageStrategy: model.StrategyRoundRobin, Mode: model.ModeManual},
	}
	require.NoError(t, testDB.SaveState(ctx, cp))
	cp.Cells[1].Status = model.CellReserved
	require.NoError(t, testDB.SaveState(ctx, cp))

	got, ok, err := testDB.LoadState(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got.Cells, 12)
	assert.Equal(t, model.CellOccupied, got.Cells[0].Status)
	assert.Equal(t, 3, got.Cells[0].Quantity)
	assert.Equal(t, model.CellReserved, got.Cells[1].Status)
	assert.Equal(t, model.StrategyRoundRobin, got.Settings.StorageStrategy)
}
