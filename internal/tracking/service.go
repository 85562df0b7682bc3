// Package tracking owns the user-facing lifecycle of a watch list:
// registering (or re-syncing) a chat and wiping it again.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/AbolfazlASDBV2008/Aniran-telegram-bot/internal/domain"
)

// ErrInvalidIdentity is returned for a blank or malformed watch-list identity.
var ErrInvalidIdentity = errors.New("invalid watch-list identity")

// Source fetches a user's currently-watching list.
type Source interface {
	FetchWatching(ctx context.Context, username string) ([]domain.Media, error)
}

// Store is the part of the tracking store this package writes.
type Store interface {
	ReplaceWatchList(ctx context.Context, rec *domain.WatchListRecord) error
	GetWatchList(ctx context.Context, chatID int64) (*domain.WatchListRecord, error)
	ResetChat(ctx context.Context, chatID int64) error
}

// Canceller drops in-memory wake-ups of a chat's timers.
type Canceller interface {
	CancelChat(chatID int64) int
}

// Service registers and resets chats.
type Service struct {
	src    Source
	store  Store
	timers Canceller
	log    *zap.Logger
	now    func() time.Time
}

func New(src Source, st Store, timers Canceller, log *zap.Logger) *Service {
	return &Service{
		src:    src,
		store:  st,
		timers: timers,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// NormalizeUsername trims the input and a leading "@". It rejects empty
// names and names containing whitespace.
func NormalizeUsername(raw string) (string, error) {
	name := strings.TrimPrefix(strings.TrimSpace(raw), "@")
	if name == "" {
		return "", ErrInvalidIdentity
	}
	if strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return "", fmt.Errorf("%w: %q contains whitespace", ErrInvalidIdentity, name)
	}
	return name, nil
}

// Register fetches the user's list and replaces the chat's record with it.
// Every show starts at the episode before its next airing one (or 0). On a
// re-registration, shows no longer listed are dropped and a tracked show keeps
// its watermark when that is already higher, so an episode that notified
// before the resync does not notify again. When the source fails nothing is
// written and the error wraps anilist.ErrSourceUnavailable.
func (s *Service) Register(ctx context.Context, chatID int64, username string) (*domain.WatchListRecord, error) {
	name, err := NormalizeUsername(username)
	if err != nil {
		return nil, err
	}
	media, err := s.src.FetchWatching(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("fetch watch list of %q: %w", name, err)
	}

	rec := domain.NewWatchListRecord(chatID, name, media, s.now())
	if err := s.store.ReplaceWatchList(ctx, rec); err != nil {
		return nil, fmt.Errorf("store watch list: %w", err)
	}
	if stored, err := s.store.GetWatchList(ctx, chatID); err == nil {
		rec = stored
	}
	s.log.Info("watch list registered",
		zap.Int64("chatID", chatID),
		zap.String("user", name),
		zap.Int("shows", len(rec.Shows)),
	)
	return rec, nil
}

// Reset deletes the chat's record, schedule cache and armed timers. A timer
// already firing finds no record afterwards and changes nothing.
func (s *Service) Reset(ctx context.Context, chatID int64) error {
	if err := s.store.ResetChat(ctx, chatID); err != nil {
		return fmt.Errorf("reset chat: %w", err)
	}
	n := s.timers.CancelChat(chatID)
	s.log.Info("chat reset", zap.Int64("chatID", chatID), zap.Int("timersCancelled", n))
	return nil
}

// Record returns the chat's record or store.ErrNotFound.
func (s *Service) Record(ctx context.Context, chatID int64) (*domain.WatchListRecord, error) {
	return s.store.GetWatchList(ctx, chatID)
}
