package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/warecell/internal/model"
)

// CreateProduct inserts p and sets its ID. A tag already used by another
// product (case-insensitive) yields model.ErrConflict.
func (db *DB) CreateProduct(ctx context.Context, p *model.Product) error {
	err := db.pool.QueryRow(ctx,
		`INSERT INTO products (name, sku, tag, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		p.Name, p.SKU, p.Tag, p.CreatedAt,
	).Scan(&p.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("storage: product tag %q: %w", *p.Tag, model.ErrConflict)
		}
		return fmt.Errorf("storage: create product: %w", err)
	}
	return nil
}

// GetProduct returns one product by ID.
func (db *DB) GetProduct(ctx context.Context, id int64) (model.Product, error) {
	var p model.Product
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, sku, tag, created_at FROM products WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.SKU, &p.Tag, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Product{}, fmt.Errorf("product %d: %w", id, ErrNotFound)
		}
		return model.Product{}, fmt.Errorf("storage: get product: %w", err)
	}
	return p, nil
}

// ProductByTag resolves an identification tag, ignoring case.
func (db *DB) ProductByTag(ctx context.Context, tag string) (model.Product, error) {
	var p model.Product
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, sku, tag, created_at FROM products WHERE upper(tag) = upper($1)`, tag,
	).Scan(&p.ID, &p.Name, &p.SKU, &p.Tag, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Product{}, fmt.Errorf("product tag %q: %w", tag, ErrNotFound)
		}
		return model.Product{}, fmt.Errorf("storage: product by tag: %w", err)
	}
	return p, nil
}

// ListProducts returns all products ordered by ID.
func (db *DB) ListProducts(ctx context.Context) ([]model.Product, error) {
	rows, err := db.pool.Query(ctx, `SELECT id, name, sku, tag, created_at FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("storage: list products: %w", err)
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		var p model.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.SKU, &p.Tag, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}
