package telegram

import (
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/AbolfazlASDBV2008/Aniran-telegram-bot/internal/domain"
)

// UI texts in English
const (
	startText = "👋 I follow your AniList watch list and message you the moment a new episode airs.\n\n" +
		"Register your AniList username to begin. /help lists every command."
	helpText = "Commands:\n" +
		"/register – link or re-sync your AniList username\n" +
		"/today – episodes airing in the next 24 hours\n" +
		"/status – shows you are tracked for\n" +
		"/reset – forget everything about this chat\n" +
		"/help – this message"

	askUsernameText    = "Send me your AniList username."
	invalidUserText    = "That does not look like an AniList username. Send it again, without spaces."
	sourceFailText     = "Could not fetch the watch list of %s from AniList. Check the username and use /register to try again."
	registerFailText   = "Registration failed. Please try again later."
	registeredFmt      = "✅ Registered %s. Tracking %d show(s); you will get a message when a new episode airs."
	notRegisteredText  = "You are not registered yet. Use /register to link your AniList account."
	resetDoneText      = "All your data has been removed. Use /register to start again."
	resetFailText      = "Could not remove your data. Please try again later."
	todayNotReadyText  = "Today's schedule is not ready yet. It is computed once a day, please check back later."
	todayEmptyText     = "None of your shows air in the next 24 hours."
	todayFailText      = "Could not read today's schedule. Please try again later."
	statusFailText     = "Could not read your watch list. Please try again later."
	unknownCommandText = "Unknown command. /help lists what I understand."
)

const (
	cbRegister = "notify:register"
	cbToday    = "notify:today"
	cbReset    = "notify:reset"
)

func mainMenuKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📝 Register / re-sync", cbRegister),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📅 Airing today", cbToday),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🗑 Delete my data", cbReset),
		),
	)
}

// renderToday formats the "today" view; times are shown in loc.
func renderToday(items []domain.TodayItem, loc *time.Location) string {
	var b strings.Builder
	b.WriteString("📅 Airing today:\n")
	for _, it := range items {
		fmt.Fprintf(&b, "\n🔹 %s – episode %d\n", it.Title, it.Episode)
		if it.Aired {
			b.WriteString("   ✅ aired\n")
		} else {
			fmt.Fprintf(&b, "   ⏳ at %s\n", it.AiringTime().In(loc).Format("15:04"))
		}
	}
	return b.String()
}

func renderStatus(rec *domain.WatchListRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🧾 AniList user: %s\n", rec.Username)
	if len(rec.Shows) == 0 {
		b.WriteString("No shows on your watching list.")
		return b.String()
	}
	fmt.Fprintf(&b, "Tracking %d show(s):\n", len(rec.Shows))
	for _, s := range rec.Shows {
		if s.LastNotifiedEpisode > 0 {
			fmt.Fprintf(&b, "• %s (up to episode %d)\n", s.Title, s.LastNotifiedEpisode)
		} else {
			fmt.Fprintf(&b, "• %s\n", s.Title)
		}
	}
	return b.String()
}
