package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ashita-ai/warecell/internal/model"
	"github.com/ashita-ai/warecell/internal/state"
)

type rowScanner interface {
	Scan(dest ...any) error
}

const operationColumns = `id, kind, command, cell_id, product_id, priority, status,
	error_message, response, created_at, started_at, completed_at, duration_ms`

func (d *DB) CreateOperation(ctx context.Context, op *model.Operation) error {
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO operations (kind, command, cell_id, product_id, priority, status,
		                         error_message, response, created_at, started_at, completed_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(op.Kind), op.Command, op.CellID, op.ProductID, string(op.Priority), string(op.Status),
		op.ErrorMessage, op.Response, millis(op.CreatedAt), nullMillis(op.StartedAt),
		nullMillis(op.CompletedAt), op.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("sqlite: create operation: %w", err)
	}
	op.ID, err = res.LastInsertId()
	return err
}

func (d *DB) UpdateOperation(ctx context.Context, op model.Operation) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE operations
		 SET status = ?, error_message = ?, response = ?, started_at = ?, completed_at = ?, duration_ms = ?
		 WHERE id = ?`,
		string(op.Status), op.ErrorMessage, op.Response, nullMillis(op.StartedAt),
		nullMillis(op.CompletedAt), op.DurationMS, op.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update operation %d: %w", op.ID, err)
	}
	return requireRow(res, "operation", op.ID)
}

func (d *DB) GetOperation(ctx context.Context, id int64) (model.Operation, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+operationColumns+` FROM operations WHERE id = ?`, id)
	op, err := scanOperation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Operation{}, fmt.Errorf("sqlite: operation %d: %w", id, model.ErrNotFound)
		}
		return model.Operation{}, fmt.Errorf("sqlite: get operation: %w", err)
	}
	return op, nil
}

// ListOperations returns the newest operations first. A limit of 0 means all.
func (d *DB) ListOperations(ctx context.Context, limit int) ([]model.Operation, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+operationColumns+` FROM operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list operations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ops []model.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan operation: %w", err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func scanOperation(row rowScanner) (model.Operation, error) {
	var (
		op                 model.Operation
		created            int64
		started, completed sql.NullInt64
	)
	err := row.Scan(
		&op.ID, &op.Kind, &op.Command, &op.CellID, &op.ProductID, &op.Priority, &op.Status,
		&op.ErrorMessage, &op.Response, &created, &started, &completed, &op.DurationMS,
	)
	op.CreatedAt = fromMillis(created)
	op.StartedAt = fromNullMillis(started)
	op.CompletedAt = fromNullMillis(completed)
	return op, err
}

const taskColumns = `id, type, cell_id, product_id, product_tag, action, quantity, priority, status,
	storage_strategy, operation_id, created_at, started_at, completed_at, error_message`

func (d *DB) CreateTask(ctx context.Context, t *model.Task) error {
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO tasks (type, cell_id, product_id, product_tag, action, quantity, priority, status,
		                    storage_strategy, operation_id, created_at, started_at, completed_at, error_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(t.Type), t.CellID, t.ProductID, t.ProductTag, t.Action, t.Quantity,
		string(t.Priority), string(t.Status), string(t.StorageStrategy), t.OperationID,
		millis(t.CreatedAt), nullMillis(t.StartedAt), nullMillis(t.CompletedAt), t.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("sqlite: create task: %w", err)
	}
	t.ID, err = res.LastInsertId()
	return err
}

func (d *DB) UpdateTask(ctx context.Context, t model.Task) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, operation_id = ?, started_at = ?, completed_at = ?, error_message = ?
		 WHERE id = ?`,
		string(t.Status), t.OperationID, nullMillis(t.StartedAt), nullMillis(t.CompletedAt), t.ErrorMessage, t.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update task %d: %w", t.ID, err)
	}
	return requireRow(res, "task", t.ID)
}

func (d *DB) GetTask(ctx context.Context, id int64) (model.Task, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Task{}, fmt.Errorf("sqlite: task %d: %w", id, model.ErrNotFound)
		}
		return model.Task{}, fmt.Errorf("sqlite: get task: %w", err)
	}
	return t, nil
}

// ListTasks returns matching tasks, newest first.
func (d *DB) ListTasks(ctx context.Context, f model.TaskFilter) ([]model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []any
	if f.Status != nil {
		query += ` WHERE status = ?`
		args = append(args, string(*f.Status))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanTask(row rowScanner) (model.Task, error) {
	var (
		t                  model.Task
		created            int64
		started, completed sql.NullInt64
	)
	err := row.Scan(
		&t.ID, &t.Type, &t.CellID, &t.ProductID, &t.ProductTag, &t.Action, &t.Quantity, &t.Priority, &t.Status,
		&t.StorageStrategy, &t.OperationID, &created, &started, &completed, &t.ErrorMessage,
	)
	t.CreatedAt = fromMillis(created)
	t.StartedAt = fromNullMillis(started)
	t.CompletedAt = fromNullMillis(completed)
	return t, err
}

func (d *DB) CreateProduct(ctx context.Context, p *model.Product) error {
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO products (name, sku, tag, created_at) VALUES (?, ?, ?, ?)`,
		p.Name, p.SKU, p.Tag, millis(p.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) && p.Tag != nil {
			return fmt.Errorf("sqlite: product tag %q: %w", *p.Tag, model.ErrConflict)
		}
		return fmt.Errorf("sqlite: create product: %w", err)
	}
	p.ID, err = res.LastInsertId()
	return err
}

func (d *DB) GetProduct(ctx context.Context, id int64) (model.Product, error) {
	p, err := scanProduct(d.db.QueryRowContext(ctx,
		`SELECT id, name, sku, tag, created_at FROM products WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Product{}, fmt.Errorf("sqlite: product %d: %w", id, model.ErrNotFound)
		}
		return model.Product{}, fmt.Errorf("sqlite: get product: %w", err)
	}
	return p, nil
}

func (d *DB) ProductByTag(ctx context.Context, tag string) (model.Product, error) {
	p, err := scanProduct(d.db.QueryRowContext(ctx,
		`SELECT id, name, sku, tag, created_at FROM products WHERE upper(tag) = upper(?)`, tag))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Product{}, fmt.Errorf("sqlite: product tag %q: %w", tag, model.ErrNotFound)
		}
		return model.Product{}, fmt.Errorf("sqlite: product by tag: %w", err)
	}
	return p, nil
}

func (d *DB) ListProducts(ctx context.Context) ([]model.Product, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id, name, sku, tag, created_at FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list products: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var products []model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func scanProduct(row rowScanner) (model.Product, error) {
	var (
		p       model.Product
		created int64
	)
	err := row.Scan(&p.ID, &p.Name, &p.SKU, &p.Tag, &created)
	p.CreatedAt = fromMillis(created)
	return p, err
}

func (d *DB) SaveState(ctx context.Context, cp state.Checkpoint) error {
	payload, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("sqlite: encode checkpoint: %w", err)
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO state_checkpoints (id, payload, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		string(payload), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save checkpoint: %w", err)
	}
	return nil
}

func (d *DB) LoadState(ctx context.Context) (state.Checkpoint, bool, error) {
	var payload string
	err := d.db.QueryRowContext(ctx, `SELECT payload FROM state_checkpoints WHERE id = 1`).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return state.Checkpoint{}, false, nil
		}
		return state.Checkpoint{}, false, fmt.Errorf("sqlite: load checkpoint: %w", err)
	}
	var cp state.Checkpoint
	if err := json.Unmarshal([]byte(payload), &cp); err != nil {
		return state.Checkpoint{}, false, fmt.Errorf("sqlite: decode checkpoint: %w", err)
	}
	return cp, true, nil
}

func requireRow(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: %s %d: %w", entity, id, err)
	}
	if n == 0 {
		return fmt.Errorf("sqlite: %s %d: %w", entity, id, model.ErrNotFound)
	}
	return nil
}
