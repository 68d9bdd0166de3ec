package sqlite

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/warecell/internal/model"
	"github.com/ashita-ai/warecell/internal/state"
	"github.com/ashita-ai/warecell/migrations"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	db, err := Open(ctx, filepath.Join(t.TempDir(), "warecell.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(ctx) })
	require.NoError(t, db.RunMigrations(ctx, migrations.SQLite()))
	return db
}

func ptr[T any](v T) *T { return &v }

func TestRunMigrations_Idempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.RunMigrations(context.Background(), migrations.SQLite()))
	assert.Equal(t, "sqlite", db.Name())
}

func TestOperations(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	op := model.Operation{Kind: model.OpHome, Command: "HOME", Priority: model.OpPriorityHigh,
		Status: model.OpPending, CreatedAt: now}
	require.NoError(t, db.CreateOperation(ctx, &op))
	assert.Equal(t, int64(1), op.ID)

	require.NoError(t, op.Transition(model.OpProcessing, now.Add(time.Second)))
	require.NoError(t, db.UpdateOperation(ctx, op))
	op.ErrorMessage = ptr("device unreachable")
	require.NoError(t, op.Transition(model.OpError, now.Add(3*time.Second)))
	require.NoError(t, db.UpdateOperation(ctx, op))

	got, err := db.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OpError, got.Status)
	assert.Equal(t, now, got.CreatedAt)
	require.NotNil(t, got.StartedAt)
	assert.Equal(t, now.Add(time.Second), *got.StartedAt)
	require.NotNil(t, got.DurationMS)
	assert.Equal(t, int64(2000), *got.DurationMS)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "device unreachable", *got.ErrorMessage)
	assert.Nil(t, got.Response)
	assert.Nil(t, got.CellID)

	second := model.Operation{Kind: model.OpManual, Command: "GET_STATUS", Priority: model.OpPriorityMedium,
		Status: model.OpPending, CreatedAt: now}
	require.NoError(t, db.CreateOperation(ctx, &second))

	all, err := db.ListOperations(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)

	_, err = db.GetOperation(ctx, 42)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.ErrorIs(t, db.UpdateOperation(ctx, model.Operation{ID: 42}), model.ErrNotFound)
}

func TestTasks(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	for i, p := range []model.TaskPriority{model.TaskPriorityLow, model.TaskPriorityHigh, model.TaskPriorityMedium} {
		task := model.Task{Type: model.TaskRetrieve, CellID: ptr(int64(i + 1)), Quantity: 1,
			Priority: p, Status: model.TaskPending, CreatedAt: now}
		require.NoError(t, db.CreateTask(ctx, &task))
	}

	task, err := db.GetTask(ctx, 2)
	require.NoError(t, err)
	task.Status = model.TaskFailed
	task.OperationID = ptr(int64(9))
	task.CompletedAt = ptr(now.Add(time.Second))
	task.ErrorMessage = "device rejected command"
	require.NoError(t, db.UpdateTask(ctx, task))

	pending := model.TaskPending
	got, err := db.ListTasks(ctx, model.TaskFilter{Status: &pending})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(3), got[0].ID)
	assert.Equal(t, int64(1), got[1].ID)

	failed, err := db.GetTask(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, model.TaskFailed, failed.Status)
	assert.Equal(t, model.TaskPriorityHigh, failed.Priority)
	require.NotNil(t, failed.OperationID)
	assert.Equal(t, int64(9), *failed.OperationID)
	assert.Equal(t, "device rejected command", failed.ErrorMessage)

	limited, err := db.ListTasks(ctx, model.TaskFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = db.GetTask(ctx, 99)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestProducts(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	p := model.Product{Name: "Bolt", Tag: ptr("04A1B2"), CreatedAt: time.Now().UTC()}
	require.NoError(t, db.CreateProduct(ctx, &p))
	untagged := model.Product{Name: "Nut", CreatedAt: time.Now().UTC()}
	require.NoError(t, db.CreateProduct(ctx, &untagged))
	other := model.Product{Name: "Washer", CreatedAt: time.Now().UTC()}
	require.NoError(t, db.CreateProduct(ctx, &other), "untagged products do not collide")

	got, err := db.ProductByTag(ctx, "04a1b2")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Nil(t, got.SKU)

	dup := model.Product{Name: "Bolt copy", Tag: ptr("04a1B2"), CreatedAt: time.Now().UTC()}
	assert.ErrorIs(t, db.CreateProduct(ctx, &dup), model.ErrConflict)

	list, err := db.ListProducts(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 3)

	_, err = db.GetProduct(ctx, 77)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestCheckpoint(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, ok, err := db.LoadState(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	cp := state.Checkpoint{Cells: model.DefaultLayout.SeedCells(), Settings: model.DefaultSettings}
	cp.Cells[11].Status = model.CellOccupied
	require.NoError(t, db.SaveState(ctx, cp))
	cp.Settings.StorageStrategy = model.StrategyFixed
	require.NoError(t, db.SaveState(ctx, cp))

	got, ok, err := db.LoadState(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.CellOccupied, got.Cells[11].Status)
	assert.Equal(t, model.StrategyFixed, got.Settings.StorageStrategy)
}
