// Package planner runs the daily reconciliation pass: for every registered
// chat it fetches fresh airing data, rewrites the chat's "airing today"
// cache and arms a timer for every episode inside the lookahead window.
package planner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/AbolfazlASDBV2008/Aniran-telegram-bot/internal/domain"
	"github.com/AbolfazlASDBV2008/Aniran-telegram-bot/internal/metrics"
	"github.com/AbolfazlASDBV2008/Aniran-telegram-bot/internal/store"
	"github.com/AbolfazlASDBV2008/Aniran-telegram-bot/internal/timer"
)

// errChatGone marks a chat that was reset while the pass was planning it.
var errChatGone = errors.New("chat reset during pass")

// Source fetches a user's currently-watching list.
type Source interface {
	FetchWatching(ctx context.Context, username string) ([]domain.Media, error)
}

// Store is the persistence the planner reads and writes.
// The planner is the only writer of the schedule cache. PutDailySchedule
// returns store.ErrNotFound for a chat without a record.
type Store interface {
	ListWatchLists(ctx context.Context) ([]domain.WatchListRecord, error)
	MergeTrackedShows(ctx context.Context, chatID int64, shows []domain.TrackedShow) (int, error)
	PutDailySchedule(ctx context.Context, chatID int64, entries []domain.DailyScheduleEntry, computedAt time.Time, ttl time.Duration) error
	PurgeExpiredSchedules(ctx context.Context, now time.Time) (int64, error)
}

// Armer schedules an episode timer. timer.Service implements it and returns
// timer.ErrUntracked for a chat without a record.
type Armer interface {
	Arm(ctx context.Context, task domain.AiringTask) error
}

// Config tunes the planner.
type Config struct {
	Interval    time.Duration // time between passes
	Lookahead   time.Duration // episodes airing within this window get a timer
	TTLMargin   time.Duration // schedule cache lives Lookahead+TTLMargin
	Concurrency int           // users reconciled in parallel
	RunOnStart  bool
}

// Report summarises one pass.
type Report struct {
	Users    int
	Planned  int
	Failed   int
	Skipped  int // reset while the pass ran
	Armed    int
	Duration time.Duration
}

// Planner runs planner passes on a fixed interval or on demand.
type Planner struct {
	src     Source
	store   Store
	timers  Armer
	log     *zap.Logger
	cfg     Config
	now     func() time.Time
	trigger chan struct{}
	running sync.Mutex // passes never overlap
}

// New creates a Planner. Zero config values fall back to defaults.
func New(src Source, st Store, timers Armer, log *zap.Logger, cfg Config) *Planner {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = 24 * time.Hour
	}
	if cfg.TTLMargin < 0 {
		cfg.TTLMargin = 0
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Planner{
		src:     src,
		store:   st,
		timers:  timers,
		log:     log,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
		trigger: make(chan struct{}, 1),
	}
}

// Serve runs a pass every Interval (and once at start if configured) and
// whenever Trigger is called, until ctx is canceled.
func (p *Planner) Serve(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	if p.cfg.RunOnStart {
		p.runLogged(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			p.log.Info("planner stopping")
			return ctx.Err()
		case <-ticker.C:
			p.runLogged(ctx)
		case <-p.trigger:
			p.runLogged(ctx)
		}
	}
}

// String implements fmt.Stringer for the supervisor.
func (p *Planner) String() string { return "daily-planner" }

// Trigger queues an on-demand pass. It reports false when one is already queued.
func (p *Planner) Trigger() bool {
	select {
	case p.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

func (p *Planner) runLogged(ctx context.Context) {
	rep, err := p.RunOnce(ctx)
	if err != nil {
		p.log.Error("planner pass failed", zap.Error(err))
		return
	}
	p.log.Info("planner pass finished",
		zap.Int("users", rep.Users),
		zap.Int("planned", rep.Planned),
		zap.Int("failed", rep.Failed),
		zap.Int("skipped", rep.Skipped),
		zap.Int("armed", rep.Armed),
		zap.Duration("took", rep.Duration),
	)
}

// RunOnce performs one pass over every registered chat. A chat whose source
// query or store access fails is logged and skipped; it never aborts the
// pass. Only failing to enumerate the chats is returned as an error.
func (p *Planner) RunOnce(ctx context.Context) (Report, error) {
	p.running.Lock()
	defer p.running.Unlock()

	start := p.now()
	if n, err := p.store.PurgeExpiredSchedules(ctx, start); err != nil {
		p.log.Warn("purge expired schedules", zap.Error(err))
	} else if n > 0 {
		p.log.Debug("expired schedules purged", zap.Int64("count", n))
	}

	records, err := p.store.ListWatchLists(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list watch lists: %w", err)
	}

	var (
		mu  sync.Mutex
		rep = Report{Users: len(records)}
		g   errgroup.Group
	)
	g.SetLimit(p.cfg.Concurrency)
	for i := range records {
		rec := records[i]
		g.Go(func() error {
			armed, err := p.planUser(ctx, &rec)
			mu.Lock()
			defer mu.Unlock()
			rep.Armed += armed
			if errors.Is(err, errChatGone) {
				rep.Skipped++
				p.log.Info("chat reset during planning", zap.Int64("chatID", rec.ChatID))
				return nil
			}
			if err != nil {
				rep.Failed++
				p.log.Warn("planning skipped for chat", zap.Int64("chatID", rec.ChatID), zap.Error(err))
				return nil
			}
			rep.Planned++
			return nil
		})
	}
	_ = g.Wait()

	rep.Duration = p.now().Sub(start)
	metrics.PlannerPasses.Inc()
	metrics.PlannerPassDuration.Observe(rep.Duration.Seconds())
	return rep, nil
}

// planUser reconciles one chat. It returns the number of timers armed.
func (p *Planner) planUser(ctx context.Context, rec *domain.WatchListRecord) (int, error) {
	media, err := p.src.FetchWatching(ctx, rec.Username)
	if err != nil {
		metrics.PlannerUserFailures.WithLabelValues("source").Inc()
		return 0, fmt.Errorf("fetch %q: %w", rec.Username, err)
	}

	if fresh := rec.UntrackedShows(media); len(fresh) > 0 {
		added, err := p.store.MergeTrackedShows(ctx, rec.ChatID, fresh)
		if err != nil {
			// schedule and timers do not depend on the merge
			p.log.Warn("merge new shows", zap.Int64("chatID", rec.ChatID), zap.Error(err))
		} else if added > 0 {
			p.log.Info("new shows tracked", zap.Int64("chatID", rec.ChatID), zap.Int("count", added))
		}
	}

	tasks := domain.SelectAiring(rec.ChatID, media, p.cfg.Lookahead)
	entries := make([]domain.DailyScheduleEntry, 0, len(tasks))
	var (
		armed   int
		armErrs []error
	)
	for _, task := range tasks {
		entries = append(entries, task.Entry())
		err := p.timers.Arm(ctx, task)
		if errors.Is(err, timer.ErrUntracked) {
			return armed, errChatGone
		}
		if err != nil {
			armErrs = append(armErrs, err)
			continue
		}
		armed++
	}

	err = p.store.PutDailySchedule(ctx, rec.ChatID, entries, p.now(), p.cfg.Lookahead+p.cfg.TTLMargin)
	if errors.Is(err, store.ErrNotFound) {
		return armed, errChatGone
	}
	if err != nil {
		metrics.PlannerUserFailures.WithLabelValues("store").Inc()
		return armed, fmt.Errorf("store daily schedule: %w", errors.Join(append(armErrs, err)...))
	}
	if len(armErrs) > 0 {
		metrics.PlannerUserFailures.WithLabelValues("arm").Inc()
		return armed, fmt.Errorf("arm timers: %w", errors.Join(armErrs...))
	}
	return armed, nil
}
