// Package timer runs one durable timer per (chat, show, episode). A timer's
// state lives in the store, so wake-ups survive restarts; the in-memory
// heap is only an index rebuilt from the store on start.
package timer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AbolfazlASDBV2008/Aniran-telegram-bot/internal/domain"
	"github.com/AbolfazlASDBV2008/Aniran-telegram-bot/internal/metrics"
	"github.com/AbolfazlASDBV2008/Aniran-telegram-bot/internal/store"
)

var (
	// ErrInvalidTask is returned by Arm for tasks that can never fire meaningfully.
	ErrInvalidTask = errors.New("invalid airing task")
	// ErrUntracked is returned by Arm when the task's chat has no record,
	// typically because it was reset after the task was computed.
	ErrUntracked = errors.New("chat is not tracked")
)

// Store is the persistence the timers need.
type Store interface {
	UpsertTimer(ctx context.Context, task domain.AiringTask, armedAt time.Time) error
	GetTimer(ctx context.Context, key string) (*domain.TimerState, error)
	ListTimers(ctx context.Context) ([]domain.TimerState, error)
	RecordTimerFailure(ctx context.Context, key, reason string) (int, error)
	DeleteTimer(ctx context.Context, key string) error
	AdvanceWatermark(ctx context.Context, chatID, showID int64, episode int, airingAt int64) (bool, error)
}

// Dispatcher delivers the user-facing notification.
// telegram.Notifier implements it.
type Dispatcher interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

// Config tunes re-delivery after a failed fire.
type Config struct {
	RetryDelay  time.Duration // wait before re-firing a timer whose store update failed
	MaxAttempts int           // failed fires before a timer is parked until restart
	FireTimeout time.Duration // bound on one fire's side effects
}

// Service arms and fires episode timers.
type Service struct {
	store      Store
	dispatcher Dispatcher
	log        *zap.Logger
	cfg        Config
	now        func() time.Time

	mu    sync.Mutex
	sched *schedule
	wake  chan struct{}
}

// New creates a timer service. Zero config values fall back to defaults.
func New(st Store, d Dispatcher, log *zap.Logger, cfg Config) *Service {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.FireTimeout <= 0 {
		cfg.FireTimeout = 30 * time.Second
	}
	return &Service{
		store:      st,
		dispatcher: d,
		log:        log,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
		sched:      newSchedule(),
		wake:       make(chan struct{}, 1),
	}
}

// Arm stores task as the state of its timer and schedules the wake-up at the
// airing time. Arming the same key again overwrites state and wake-up; a key
// never has more than one of either. A chat without a record gets neither and
// Arm returns ErrUntracked.
func (s *Service) Arm(ctx context.Context, task domain.AiringTask) error {
	if task.Episode < 1 || task.AiringAt <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTask, task.Key())
	}
	err := s.store.UpsertTimer(ctx, task, s.now())
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrUntracked, task.Key())
	}
	if err != nil {
		return fmt.Errorf("persist timer %s: %w", task.Key(), err)
	}
	s.setWakeup(task.Key(), task.ChatID, task.FireAt())
	metrics.TimersArmed.Inc()
	s.log.Debug("timer armed",
		zap.String("timer", task.Key()),
		zap.Time("fireAt", task.FireAt()),
	)
	return nil
}

// Fire runs the timer identified by key:
// advance the watermark, send the notification, clear the state.
//
// The watermark is advanced before sending and the state is cleared last, so
// a crash at any point leaves the timer in the store to be fired again after
// restart (at-least-once). A failed store update keeps the state and
// schedules re-delivery. A failed send is logged and not retried.
func (s *Service) Fire(ctx context.Context, key string) error {
	st, err := s.store.GetTimer(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		s.forget(key)
		metrics.TimersFired.WithLabelValues("empty").Inc()
		return nil
	}
	if err != nil {
		return s.deferFire(ctx, key, 0, fmt.Errorf("load timer: %w", err))
	}
	task := st.Task
	log := s.log.With(
		zap.String("timer", key),
		zap.Int64("chatID", task.ChatID),
		zap.Int64("showID", task.ShowID),
		zap.Int("episode", task.Episode),
	)

	advanced, err := s.store.AdvanceWatermark(ctx, task.ChatID, task.ShowID, task.Episode, task.AiringAt)
	if err != nil {
		return s.deferFire(ctx, key, task.ChatID, fmt.Errorf("advance watermark: %w", err))
	}
	outcome := "notified"
	if !advanced {
		// already notified, or the chat reset / stopped tracking the show
		outcome = "stale"
		log.Debug("watermark not advanced")
	}

	if err := s.dispatcher.Notify(ctx, task.ChatID, domain.NotificationText(task)); err != nil {
		metrics.NotificationsSent.WithLabelValues("error").Inc()
		log.Error("notification send failed", zap.Error(err))
	} else {
		metrics.NotificationsSent.WithLabelValues("ok").Inc()
	}

	if err := s.store.DeleteTimer(ctx, key); err != nil {
		return s.deferFire(ctx, key, task.ChatID, fmt.Errorf("clear timer: %w", err))
	}
	s.forget(key)
	metrics.TimersFired.WithLabelValues(outcome).Inc()
	log.Info("timer fired", zap.String("outcome", outcome))
	return nil
}

// deferFire keeps the timer's state and schedules another attempt, unless
// the timer has failed too often, in which case it stays parked in the
// store until the next restart reloads it.
func (s *Service) deferFire(ctx context.Context, key string, chatID int64, cause error) error {
	attempts, err := s.store.RecordTimerFailure(ctx, key, cause.Error())
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.forget(key)
		return cause
	case err != nil:
		s.log.Warn("record timer failure", zap.String("timer", key), zap.Error(err))
	case attempts >= s.cfg.MaxAttempts:
		s.forget(key)
		metrics.TimersFired.WithLabelValues("parked").Inc()
		s.log.Error("timer parked after repeated failures",
			zap.String("timer", key),
			zap.Int("attempts", attempts),
			zap.Error(cause),
		)
		return cause
	}

	s.setWakeup(key, chatID, s.now().Add(s.cfg.RetryDelay))
	metrics.TimersFired.WithLabelValues("retry").Inc()
	s.log.Warn("timer fire deferred",
		zap.String("timer", key),
		zap.Duration("retryIn", s.cfg.RetryDelay),
		zap.Error(cause),
	)
	return cause
}

// CancelChat drops the in-memory wake-ups of a chat. The persisted state is
// removed by the caller; a wake-up that slips through finds nothing to fire.
func (s *Service) CancelChat(chatID int64) int {
	s.mu.Lock()
	n := s.sched.removeChat(chatID)
	pending := s.sched.len()
	s.mu.Unlock()
	metrics.TimersPending.Set(float64(pending))
	return n
}

// Pending returns the number of scheduled wake-ups.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sched.len()
}

// Load schedules a wake-up for every timer in the store.
// Timers whose airing time has passed fire on the next loop iteration.
func (s *Service) Load(ctx context.Context) error {
	timers, err := s.store.ListTimers(ctx)
	if err != nil {
		return fmt.Errorf("load timers: %w", err)
	}
	for _, st := range timers {
		s.setWakeup(st.Task.Key(), st.Task.ChatID, st.Task.FireAt())
	}
	s.log.Info("timers restored", zap.Int("count", len(timers)))
	return nil
}

// Serve restores persisted timers and fires them as they come due,
// until ctx is canceled.
func (s *Service) Serve(ctx context.Context) error {
	if err := s.Load(ctx); err != nil {
		return err
	}
	for {
		s.mu.Lock()
		at, ok := s.sched.next()
		s.mu.Unlock()

		var (
			t      *time.Timer
			timerC <-chan time.Time
		)
		if ok {
			d := at.Sub(s.now())
			if d < 0 {
				d = 0
			}
			t = time.NewTimer(d)
			timerC = t.C
		}

		select {
		case <-ctx.Done():
			stopTimer(t)
			s.log.Info("timer service stopping")
			return ctx.Err()
		case <-s.wake:
			stopTimer(t)
		case <-timerC:
			s.fireDue(ctx)
		}
	}
}

// String implements fmt.Stringer for the supervisor.
func (s *Service) String() string { return "episode-timers" }

// fireDue fires every timer due at the current time.
func (s *Service) fireDue(ctx context.Context) {
	s.mu.Lock()
	keys := s.sched.popDue(s.now())
	pending := s.sched.len()
	s.mu.Unlock()
	metrics.TimersPending.Set(float64(pending))

	for _, key := range keys {
		if ctx.Err() != nil {
			return
		}
		fctx, cancel := context.WithTimeout(ctx, s.cfg.FireTimeout)
		if err := s.Fire(fctx, key); err != nil {
			s.log.Warn("timer fire failed", zap.String("timer", key), zap.Error(err))
		}
		cancel()
	}
}

func (s *Service) setWakeup(key string, chatID int64, at time.Time) {
	s.mu.Lock()
	s.sched.set(key, chatID, at)
	pending := s.sched.len()
	s.mu.Unlock()
	metrics.TimersPending.Set(float64(pending))
	s.nudge()
}

func (s *Service) forget(key string) {
	s.mu.Lock()
	s.sched.remove(key)
	pending := s.sched.len()
	s.mu.Unlock()
	metrics.TimersPending.Set(float64(pending))
}

// nudge wakes the loop so it re-reads the earliest wake-up.
func (s *Service) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
