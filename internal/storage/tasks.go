package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/warecell/internal/model"
)

const taskColumns = `id, type, cell_id, product_id, product_tag, action, quantity, priority, status,
	storage_strategy, operation_id, created_at, started_at, completed_at, error_message`

// CreateTask inserts t and sets its ID.
func (db *DB) CreateTask(ctx context.Context, t *model.Task) error {
	err := db.pool.QueryRow(ctx,
		`INSERT INTO tasks (type, cell_id, product_id, product_tag, action, quantity, priority, status,
		                    storage_strategy, operation_id, created_at, started_at, completed_at, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 RETURNING id`,
		string(t.Type), t.CellID, t.ProductID, t.ProductTag, t.Action, t.Quantity,
		string(t.Priority), string(t.Status), string(t.StorageStrategy), t.OperationID,
		t.CreatedAt, t.StartedAt, t.CompletedAt, t.ErrorMessage,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("storage: create task: %w", err)
	}
	return nil
}

// UpdateTask overwrites the lifecycle columns of t.
func (db *DB) UpdateTask(ctx context.Context, t model.Task) error {
	return db.retry(ctx, func() error {
		tag, err := db.pool.Exec(ctx,
			`UPDATE tasks
			 SET status = $2, operation_id = $3, started_at = $4, completed_at = $5, error_message = $6
			 WHERE id = $1`,
			t.ID, string(t.Status), t.OperationID, t.StartedAt, t.CompletedAt, t.ErrorMessage,
		)
		if err != nil {
			return fmt.Errorf("storage: update task %d: %w", t.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("task %d: %w", t.ID, ErrNotFound)
		}
		return nil
	})
}

// GetTask returns one task by ID.
func (db *DB) GetTask(ctx context.Context, id int64) (model.Task, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Task{}, fmt.Errorf("task %d: %w", id, ErrNotFound)
		}
		return model.Task{}, fmt.Errorf("storage: get task: %w", err)
	}
	return t, nil
}

// ListTasks returns matching tasks, newest first.
func (db *DB) ListTasks(ctx context.Context, f model.TaskFilter) ([]model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []any
	if f.Status != nil {
		args = append(args, string(*f.Status))
		query += fmt.Sprintf(` WHERE status = $%d`, len(args))
	}
	query += ` ORDER BY id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanTask(row pgx.Row) (model.Task, error) {
	var t model.Task
	err := row.Scan(
		&t.ID, &t.Type, &t.CellID, &t.ProductID, &t.ProductTag, &t.Action, &t.Quantity, &t.Priority, &t.Status,
		&t.StorageStrategy, &t.OperationID, &t.CreatedAt, &t.StartedAt, &t.CompletedAt, &t.ErrorMessage,
	)
	return t, err
}
