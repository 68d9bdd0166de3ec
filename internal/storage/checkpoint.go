package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/warecell/internal/state"
)

// SaveState upserts the single state checkpoint row.
func (db *DB) SaveState(ctx context.Context, cp state.Checkpoint) error {
	payload, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("storage: encode checkpoint: %w", err)
	}
	return db.retry(ctx, func() error {
		_, err := db.pool.Exec(ctx,
			`INSERT INTO state_checkpoints (id, payload, updated_at) VALUES (1, $1, now())
			 ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
			payload,
		)
		if err != nil {
			return fmt.Errorf("storage: save checkpoint: %w", err)
		}
		return nil
	})
}

// LoadState returns the last saved checkpoint. ok is false when none exists.
func (db *DB) LoadState(ctx context.Context) (state.Checkpoint, bool, error) {
	var payload []byte
	err := db.pool.QueryRow(ctx, `SELECT payload FROM state_checkpoints WHERE id = 1`).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return state.Checkpoint{}, false, nil
		}
		return state.Checkpoint{}, false, fmt.Errorf("storage: load checkpoint: %w", err)
	}
	var cp state.Checkpoint
	if err := json.Unmarshal(payload, &cp); err != nil {
		return state.Checkpoint{}, false, fmt.Errorf("storage: decode checkpoint: %w", err)
	}
	return cp, true, nil
}
