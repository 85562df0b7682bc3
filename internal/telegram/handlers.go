package telegram

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/AbolfazlASDBV2008/Aniran-telegram-bot/internal/anilist"
	"github.com/AbolfazlASDBV2008/Aniran-telegram-bot/internal/domain"
	"github.com/AbolfazlASDBV2008/Aniran-telegram-bot/internal/store"
	"github.com/AbolfazlASDBV2008/Aniran-telegram-bot/internal/tracking"
)

// --- Core commands ---

func (r *Router) handleStart(_ context.Context, chatID int64) {
	msg := tgbotapi.NewMessage(chatID, startText)
	msg.ReplyMarkup = mainMenuKeyboard()
	if _, err := r.bot.Send(msg); err != nil {
		r.log.Warn("send start menu failed", zap.Int64("chatID", chatID), zap.Error(err))
	}
}

func (r *Router) handleStatus(ctx context.Context, chatID int64) {
	rec, err := r.tracker.Record(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		r.sendText(chatID, notRegisteredText)
		return
	}
	if err != nil {
		r.log.Error("read watch list failed", zap.Int64("chatID", chatID), zap.Error(err))
		r.sendText(chatID, statusFailText)
		return
	}
	r.sendText(chatID, renderStatus(rec))
}

func (r *Router) handleToday(ctx context.Context, chatID int64) {
	if _, err := r.tracker.Record(ctx, chatID); errors.Is(err, store.ErrNotFound) {
		r.sendText(chatID, notRegisteredText)
		return
	}

	now := r.now()
	entries, found, err := r.store.GetDailySchedule(ctx, chatID, now)
	switch {
	case err != nil:
		r.log.Error("read daily schedule failed", zap.Int64("chatID", chatID), zap.Error(err))
		r.sendText(chatID, todayFailText)
	case !found:
		r.sendText(chatID, todayNotReadyText)
	case len(entries) == 0:
		r.sendText(chatID, todayEmptyText)
	default:
		r.sendText(chatID, renderToday(domain.BuildToday(entries, now), r.loc))
	}
}

func (r *Router) handleReset(ctx context.Context, chatID int64) {
	if err := r.tracker.Reset(ctx, chatID); err != nil {
		r.log.Error("reset failed", zap.Int64("chatID", chatID), zap.Error(err))
		r.sendText(chatID, resetFailText)
		return
	}
	r.sendText(chatID, resetDoneText)
}

// --- Registration flow ---

func (r *Router) askUsername(ctx context.Context, chatID int64) {
	if err := r.store.SetPending(ctx, chatID, pendingUsername); err != nil {
		r.log.Error("set pending failed", zap.Int64("chatID", chatID), zap.Error(err))
		r.sendText(chatID, registerFailText)
		return
	}
	r.sendText(chatID, askUsernameText)
}

func (r *Router) register(ctx context.Context, chatID int64, username string) {
	rec, err := r.tracker.Register(ctx, chatID, username)
	switch {
	case errors.Is(err, tracking.ErrInvalidIdentity):
		// ask again
		if err := r.store.SetPending(ctx, chatID, pendingUsername); err != nil {
			r.log.Warn("set pending failed", zap.Int64("chatID", chatID), zap.Error(err))
		}
		r.sendText(chatID, invalidUserText)
	case errors.Is(err, anilist.ErrSourceUnavailable):
		r.sendText(chatID, fmt.Sprintf(sourceFailText, username))
	case err != nil:
		r.log.Error("register failed", zap.Int64("chatID", chatID), zap.Error(err))
		r.sendText(chatID, registerFailText)
	default:
		r.sendText(chatID, fmt.Sprintf(registeredFmt, rec.Username, len(rec.Shows)))
	}
}

// --- Free-form dispatcher ---

func (r *Router) handleFreeForm(ctx context.Context, chatID int64, text string) {
	state, err := r.store.GetPending(ctx, chatID)
	if err != nil {
		r.log.Error("get pending failed", zap.Int64("chatID", chatID), zap.Error(err))
		return
	}
	switch state {
	case pendingUsername:
		if err := r.store.ClearPending(ctx, chatID); err != nil {
			r.log.Warn("clear pending failed", zap.Int64("chatID", chatID), zap.Error(err))
		}
		r.register(ctx, chatID, text)
	default:
		// No pending flow: ignore free-form message
	}
}
