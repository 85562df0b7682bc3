package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SetPending records that the chat's next free-form message answers a prompt.
func (r *SQLiteRepo) SetPending(ctx context.Context, chatID int64, state string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pending_inputs (chat_id, state, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			state      = excluded.state,
			created_at = excluded.created_at`,
		chatID, state, time.Now().UTC().Unix(),
	)
	return err
}

// GetPending returns the chat's pending state, or "" when there is none.
func (r *SQLiteRepo) GetPending(ctx context.Context, chatID int64) (string, error) {
	var state string
	err := r.db.QueryRowContext(ctx,
		`SELECT state FROM pending_inputs WHERE chat_id = ?`, chatID,
	).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return state, err
}

// ClearPending removes the chat's pending state.
func (r *SQLiteRepo) ClearPending(ctx context.Context, chatID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM pending_inputs WHERE chat_id = ?`, chatID)
	return err
}
