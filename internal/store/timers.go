package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/AbolfazlASDBV2008/Aniran-telegram-bot/internal/domain"
)

// UpsertTimer stores task as the state of the timer identified by task.Key().
// Re-arming an existing timer overwrites its task; the failure counter is kept.
// It returns ErrNotFound and writes nothing when the chat has no record.
func (r *SQLiteRepo) UpsertTimer(ctx context.Context, task domain.AiringTask, armedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO timers (
			timer_key, chat_id, show_id, episode, title, url, airing_at, armed_at
		)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM watchlists WHERE chat_id = ?)
		ON CONFLICT(timer_key) DO UPDATE SET
			title     = excluded.title,
			url       = excluded.url,
			airing_at = excluded.airing_at,
			armed_at  = excluded.armed_at`,
		task.Key(), task.ChatID, task.ShowID, task.Episode,
		task.Title, task.URL, task.AiringAt, armedAt.UTC().Unix(),
		task.ChatID,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// GetTimer returns the timer state or ErrNotFound when the timer holds nothing.
func (r *SQLiteRepo) GetTimer(ctx context.Context, key string) (*domain.TimerState, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT chat_id, show_id, episode, title, url, airing_at, armed_at, attempts, last_error
		FROM timers
		WHERE timer_key = ?`,
		key,
	)
	st, err := scanTimer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// ListTimers returns every armed timer ordered by airing time.
func (r *SQLiteRepo) ListTimers(ctx context.Context) ([]domain.TimerState, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT chat_id, show_id, episode, title, url, airing_at, armed_at, attempts, last_error
		FROM timers
		ORDER BY airing_at ASC, timer_key ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.TimerState
	for rows.Next() {
		st, err := scanTimer(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// RecordTimerFailure increments the timer's failure counter and returns the new value.
func (r *SQLiteRepo) RecordTimerFailure(ctx context.Context, key, reason string) (int, error) {
	var attempts int
	err := r.db.QueryRowContext(ctx, `
		UPDATE timers
		SET attempts = attempts + 1, last_error = ?
		WHERE timer_key = ?
		RETURNING attempts`,
		nullString(reason), key,
	).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return attempts, err
}

// DeleteTimer clears the timer's state. Deleting an absent timer is not an error.
func (r *SQLiteRepo) DeleteTimer(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM timers WHERE timer_key = ?`, key)
	return err
}

func scanTimer(row rowScanner) (*domain.TimerState, error) {
	var (
		st      domain.TimerState
		armedAt int64
		lastErr sql.NullString
	)
	if err := row.Scan(
		&st.Task.ChatID, &st.Task.ShowID, &st.Task.Episode, &st.Task.Title, &st.Task.URL,
		&st.Task.AiringAt, &armedAt, &st.Attempts, &lastErr,
	); err != nil {
		return nil, err
	}
	st.ArmedAt = fromUnix(armedAt)
	st.LastError = lastErr.String
	return &st, nil
}
