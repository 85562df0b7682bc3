package telegram

import (
	"context"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/AbolfazlASDBV2008/Aniran-telegram-bot/internal/domain"
)

// Pending state keys used in conversational flows.
const pendingUsername = "await_anilist_username"

// messenger is the part of *tgbotapi.BotAPI the router uses.
type messenger interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Tracker registers and resets chats. tracking.Service implements it.
type Tracker interface {
	Register(ctx context.Context, chatID int64, username string) (*domain.WatchListRecord, error)
	Reset(ctx context.Context, chatID int64) error
	Record(ctx context.Context, chatID int64) (*domain.WatchListRecord, error)
}

// Store holds the schedule cache and conversational state.
type Store interface {
	GetDailySchedule(ctx context.Context, chatID int64, now time.Time) ([]domain.DailyScheduleEntry, bool, error)
	SetPending(ctx context.Context, chatID int64, state string) error
	GetPending(ctx context.Context, chatID int64) (string, error)
	ClearPending(ctx context.Context, chatID int64) error
}

// Router wires Telegram updates to handlers.
// Pending state is kept in the store so it survives restarts.
type Router struct {
	bot     messenger
	log     *zap.Logger
	tracker Tracker
	store   Store
	loc     *time.Location
	now     func() time.Time
}

// NewRouter creates a new Telegram router. loc is the zone of the "today" view.
func NewRouter(bot messenger, log *zap.Logger, tracker Tracker, st Store, loc *time.Location) *Router {
	if loc == nil {
		loc = time.UTC
	}
	return &Router{
		bot:     bot,
		log:     log,
		tracker: tracker,
		store:   st,
		loc:     loc,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// HandleUpdate routes a single update to appropriate handler.
func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message != nil {
		msg := upd.Message
		chatID := msg.Chat.ID
		text := strings.TrimSpace(msg.Text)

		switch command(text) {
		case "":
			r.handleFreeForm(ctx, chatID, text)
		case "start":
			r.handleStart(ctx, chatID)
		case "help":
			r.sendText(chatID, helpText)
		case "register":
			r.askUsername(ctx, chatID)
		case "today":
			r.handleToday(ctx, chatID)
		case "status":
			r.handleStatus(ctx, chatID)
		case "reset":
			r.handleReset(ctx, chatID)
		default:
			r.sendText(chatID, unknownCommandText)
		}
		return
	}

	if upd.CallbackQuery != nil {
		cb := upd.CallbackQuery
		if cb.Message == nil {
			return
		}
		chatID := cb.Message.Chat.ID
		_ = r.answerCallback(cb.ID, "")

		switch cb.Data {
		case cbRegister:
			r.askUsername(ctx, chatID)
		case cbToday:
			r.handleToday(ctx, chatID)
		case cbReset:
			r.handleReset(ctx, chatID)
		default:
			// Unknown callback, ignore silently
		}
	}
}

// command returns the command name of text without the leading slash and
// any "@botname" suffix, or "" when text is not a command.
func command(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	name := strings.TrimPrefix(strings.Fields(text)[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return "/"
	}
	return strings.ToLower(name)
}

func (r *Router) sendText(chatID int64, text string) {
	if _, err := r.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		r.log.Warn("send reply failed", zap.Int64("chatID", chatID), zap.Error(err))
	}
}

func (r *Router) answerCallback(id, text string) error {
	_, err := r.bot.Request(tgbotapi.NewCallback(id, text))
	return err
}
