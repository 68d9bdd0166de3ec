package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/warecell/internal/model"
)

const operationColumns = `id, kind, command, cell_id, product_id, priority, status,
	error_message, response, created_at, started_at, completed_at, duration_ms`

// CreateOperation inserts op and sets its ID.
func (db *DB) CreateOperation(ctx context.Context, op *model.Operation) error {
	err := db.pool.QueryRow(ctx,
		`INSERT INTO operations (kind, command, cell_id, product_id, priority, status,
		                         error_message, response, created_at, started_at, completed_at, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id`,
		string(op.Kind), op.Command, op.CellID, op.ProductID, string(op.Priority), string(op.Status),
		op.ErrorMessage, op.Response, op.CreatedAt, op.StartedAt, op.CompletedAt, op.DurationMS,
	).Scan(&op.ID)
	if err != nil {
		return fmt.Errorf("storage: create operation: %w", err)
	}
	return nil
}

// UpdateOperation overwrites the mutable lifecycle columns of op.
func (db *DB) UpdateOperation(ctx context.Context, op model.Operation) error {
	return db.retry(ctx, func() error {
		tag, err := db.pool.Exec(ctx,
			`UPDATE operations
			 SET status = $2, error_message = $3, response = $4,
			     started_at = $5, completed_at = $6, duration_ms = $7
			 WHERE id = $1`,
			op.ID, string(op.Status), op.ErrorMessage, op.Response,
			op.StartedAt, op.CompletedAt, op.DurationMS,
		)
		if err != nil {
			return fmt.Errorf("storage: update operation %d: %w", op.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("operation %d: %w", op.ID, ErrNotFound)
		}
		return nil
	})
}

// GetOperation returns one operation by ID.
func (db *DB) GetOperation(ctx context.Context, id int64) (model.Operation, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+operationColumns+` FROM operations WHERE id = $1`, id)
	op, err := scanOperation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Operation{}, fmt.Errorf("operation %d: %w", id, ErrNotFound)
		}
		return model.Operation{}, fmt.Errorf("storage: get operation: %w", err)
	}
	return op, nil
}

// ListOperations returns the newest operations first.
func (db *DB) ListOperations(ctx context.Context, limit int) ([]model.Operation, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+operationColumns+` FROM operations ORDER BY id DESC LIMIT NULLIF($1::int, 0)`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list operations: %w", err)
	}
	defer rows.Close()

	var ops []model.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan operation: %w", err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func scanOperation(row pgx.Row) (model.Operation, error) {
	var op model.Operation
	err := row.Scan(
		&op.ID, &op.Kind, &op.Command, &op.CellID, &op.ProductID, &op.Priority, &op.Status,
		&op.ErrorMessage, &op.Response, &op.CreatedAt, &op.StartedAt, &op.CompletedAt, &op.DurationMS,
	)
	return op, err
}
