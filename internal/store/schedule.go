package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/goccy/go-json"

	"github.com/AbolfazlASDBV2008/Aniran-telegram-bot/internal/domain"
)

// PutDailySchedule replaces the chat's cached schedule. The entry expires ttl
// after computedAt. It returns ErrNotFound and writes nothing when the chat has
// no record.
func (r *SQLiteRepo) PutDailySchedule(ctx context.Context, chatID int64, entries []domain.DailyScheduleEntry, computedAt time.Time, ttl time.Duration) error {
	if entries == nil {
		// keep "nothing scheduled" distinct from "not computed"
		entries = []domain.DailyScheduleEntry{}
	}
	blob, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	computed := computedAt.UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO daily_schedules (chat_id, entries, computed_at, expires_at)
		SELECT ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM watchlists WHERE chat_id = ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			entries     = excluded.entries,
			computed_at = excluded.computed_at,
			expires_at  = excluded.expires_at`,
		chatID, string(blob), computed.Unix(), computed.Add(ttl).Unix(), chatID,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// GetDailySchedule returns the cached schedule and whether one exists.
// An expired entry is reported as absent.
func (r *SQLiteRepo) GetDailySchedule(ctx context.Context, chatID int64, now time.Time) ([]domain.DailyScheduleEntry, bool, error) {
	var blob string
	err := r.db.QueryRowContext(ctx, `
		SELECT entries
		FROM daily_schedules
		WHERE chat_id = ?
		  AND expires_at > ?`,
		chatID, now.UTC().Unix(),
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	entries := []domain.DailyScheduleEntry{}
	if err := json.Unmarshal([]byte(blob), &entries); err != nil {
		return nil, false, err
	}
	return entries, true, nil
}

// PurgeExpiredSchedules deletes cache rows whose TTL has passed.
func (r *SQLiteRepo) PurgeExpiredSchedules(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM daily_schedules WHERE expires_at <= ?`,
		now.UTC().Unix(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
