package store

import (
	"context"
	"errors"
	"time"

	"github.com/AbolfazlASDBV2008/Aniran-telegram-bot/internal/domain"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// Repo defines storage operations for watch lists, the daily schedule cache,
// episode timers and conversational state.
type Repo interface {
	// Watch lists.
	ReplaceWatchList(ctx context.Context, rec *domain.WatchListRecord) error
	GetWatchList(ctx context.Context, chatID int64) (*domain.WatchListRecord, error)
	ListWatchLists(ctx context.Context) ([]domain.WatchListRecord, error)
	MergeTrackedShows(ctx context.Context, chatID int64, shows []domain.TrackedShow) (int, error)
	AdvanceWatermark(ctx context.Context, chatID, showID int64, episode int, airingAt int64) (bool, error)
	ResetChat(ctx context.Context, chatID int64) error

	// Daily schedule cache.
	PutDailySchedule(ctx context.Context, chatID int64, entries []domain.DailyScheduleEntry, computedAt time.Time, ttl time.Duration) error
	GetDailySchedule(ctx context.Context, chatID int64, now time.Time) ([]domain.DailyScheduleEntry, bool, error)
	PurgeExpiredSchedules(ctx context.Context, now time.Time) (int64, error)

	// Episode timers.
	UpsertTimer(ctx context.Context, task domain.AiringTask, armedAt time.Time) error
	GetTimer(ctx context.Context, key string) (*domain.TimerState, error)
	ListTimers(ctx context.Context) ([]domain.TimerState, error)
	RecordTimerFailure(ctx context.Context, key, reason string) (int, error)
	DeleteTimer(ctx context.Context, key string) error

	// Pending conversational input.
	SetPending(ctx context.Context, chatID int64, state string) error
	GetPending(ctx context.Context, chatID int64) (string, error)
	ClearPending(ctx context.Context, chatID int64) error

	Close() error
}
