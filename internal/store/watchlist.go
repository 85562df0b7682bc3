package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/AbolfazlASDBV2008/Aniran-telegram-bot/internal/domain"
)

// ReplaceWatchList stores rec as the chat's record. Shows missing from rec are
// dropped and new ones inserted. A show already tracked keeps the higher of its
// stored and its new watermark, so a resync never lowers one. created_at of an
// existing record is kept.
func (r *SQLiteRepo) ReplaceWatchList(ctx context.Context, rec *domain.WatchListRecord) error {
	if rec == nil {
		return errors.New("nil watch list")
	}

	now := time.Now().UTC().Unix()
	created := rec.CreatedAt.UTC().Unix()
	if rec.CreatedAt.IsZero() {
		created = now
	}
	updated := rec.UpdatedAt.UTC().Unix()
	if rec.UpdatedAt.IsZero() {
		updated = now
	}

	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO watchlists (chat_id, username, created_at, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(chat_id) DO UPDATE SET
				username   = excluded.username,
				updated_at = excluded.updated_at`,
			rec.ChatID, rec.Username, created, updated,
		); err != nil {
			return err
		}

		del := `DELETE FROM tracked_shows WHERE chat_id = ?`
		args := []any{rec.ChatID}
		if len(rec.Shows) > 0 {
			del += ` AND show_id NOT IN (?` + strings.Repeat(`, ?`, len(rec.Shows)-1) + `)`
			for _, s := range rec.Shows {
				args = append(args, s.ShowID)
			}
		}
		if _, err := tx.ExecContext(ctx, del, args...); err != nil {
			return err
		}

		for _, s := range rec.Shows {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO tracked_shows (
					chat_id, show_id, title, url, last_notified_episode, last_airing_at
				) VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(chat_id, show_id) DO UPDATE SET
					title = excluded.title,
					url   = excluded.url,
					last_notified_episode = MAX(last_notified_episode, excluded.last_notified_episode),
					last_airing_at = CASE
						WHEN excluded.last_notified_episode > last_notified_episode THEN excluded.last_airing_at
						ELSE last_airing_at
					END`,
				rec.ChatID, s.ShowID, s.Title, s.URL, s.LastNotifiedEpisode, nullUnix(s.LastAiringAt),
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetWatchList returns the chat's record or ErrNotFound.
func (r *SQLiteRepo) GetWatchList(ctx context.Context, chatID int64) (*domain.WatchListRecord, error) {
	var (
		username  string
		createdAt int64
		updatedAt int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT username, created_at, updated_at
		FROM watchlists
		WHERE chat_id = ?`,
		chatID,
	).Scan(&username, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec := &domain.WatchListRecord{
		ChatID:    chatID,
		Username:  username,
		CreatedAt: fromUnix(createdAt),
		UpdatedAt: fromUnix(updatedAt),
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT show_id, title, url, last_notified_episode, last_airing_at
		FROM tracked_shows
		WHERE chat_id = ?
		ORDER BY show_id ASC`,
		chatID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		s, err := scanShow(rows)
		if err != nil {
			return nil, err
		}
		rec.Shows = append(rec.Shows, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rec, nil
}

// ListWatchLists returns every registered record with its shows, ordered by chat id.
func (r *SQLiteRepo) ListWatchLists(ctx context.Context) ([]domain.WatchListRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT chat_id, username, created_at, updated_at
		FROM watchlists
		ORDER BY chat_id ASC`)
	if err != nil {
		return nil, err
	}

	var (
		res   []domain.WatchListRecord
		index = make(map[int64]int)
	)
	for rows.Next() {
		var (
			rec                  domain.WatchListRecord
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&rec.ChatID, &rec.Username, &createdAt, &updatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		rec.CreatedAt = fromUnix(createdAt)
		rec.UpdatedAt = fromUnix(updatedAt)
		index[rec.ChatID] = len(res)
		res = append(res, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	showRows, err := r.db.QueryContext(ctx, `
		SELECT chat_id, show_id, title, url, last_notified_episode, last_airing_at
		FROM tracked_shows
		ORDER BY chat_id ASC, show_id ASC`)
	if err != nil {
		return nil, err
	}
	defer showRows.Close()

	for showRows.Next() {
		var (
			chatID int64
			s      domain.TrackedShow
			lastNS sql.NullInt64
		)
		if err := showRows.Scan(&chatID, &s.ShowID, &s.Title, &s.URL, &s.LastNotifiedEpisode, &lastNS); err != nil {
			return nil, err
		}
		s.LastAiringAt = fromNullUnix(lastNS)
		if i, ok := index[chatID]; ok {
			res[i].Shows = append(res[i].Shows, s)
		}
	}
	if err := showRows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// MergeTrackedShows adds shows the chat does not track yet. Existing rows,
// and therefore their watermarks, are left untouched. Nothing is inserted
// when the chat has no record. It returns the number of shows added.
func (r *SQLiteRepo) MergeTrackedShows(ctx context.Context, chatID int64, shows []domain.TrackedShow) (int, error) {
	if len(shows) == 0 {
		return 0, nil
	}
	added := 0
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		added = 0
		for _, s := range shows {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO tracked_shows (
					chat_id, show_id, title, url, last_notified_episode, last_airing_at
				)
				SELECT ?, ?, ?, ?, ?, ?
				WHERE EXISTS (SELECT 1 FROM watchlists WHERE chat_id = ?)
				ON CONFLICT(chat_id, show_id) DO NOTHING`,
				chatID, s.ShowID, s.Title, s.URL, s.LastNotifiedEpisode, nullUnix(s.LastAiringAt), chatID,
			)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			added += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

// AdvanceWatermark raises the show's watermark to episode if it is currently
// lower. It reports whether a row changed; a stale episode, an untracked show
// or a missing record all report false without error.
func (r *SQLiteRepo) AdvanceWatermark(ctx context.Context, chatID, showID int64, episode int, airingAt int64) (bool, error) {
	advanced := false
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE tracked_shows
			SET last_notified_episode = ?, last_airing_at = ?
			WHERE chat_id = ?
			  AND show_id = ?
			  AND last_notified_episode < ?`,
			episode, nullUnix(airingAt), chatID, showID, episode,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		advanced = true
		_, err = tx.ExecContext(ctx,
			`UPDATE watchlists SET updated_at = ? WHERE chat_id = ?`,
			time.Now().UTC().Unix(), chatID,
		)
		return err
	})
	if err != nil {
		return false, err
	}
	return advanced, nil
}

// ResetChat removes the chat's record, its schedule cache, its armed timers
// and any pending input in one transaction.
func (r *SQLiteRepo) ResetChat(ctx context.Context, chatID int64) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		for _, q := range []string{
			`DELETE FROM watchlists WHERE chat_id = ?`,
			`DELETE FROM daily_schedules WHERE chat_id = ?`,
			`DELETE FROM timers WHERE chat_id = ?`,
			`DELETE FROM pending_inputs WHERE chat_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, chatID); err != nil {
				return err
			}
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanShow(row rowScanner) (domain.TrackedShow, error) {
	var (
		s      domain.TrackedShow
		lastNS sql.NullInt64
	)
	if err := row.Scan(&s.ShowID, &s.Title, &s.URL, &s.LastNotifiedEpisode, &lastNS); err != nil {
		return domain.TrackedShow{}, err
	}
	s.LastAiringAt = fromNullUnix(lastNS)
	return s, nil
}
