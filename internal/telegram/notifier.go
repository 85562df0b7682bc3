package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Notifier delivers episode notifications. It satisfies timer.Dispatcher.
type Notifier struct {
	bot messenger
}

func NewNotifier(bot messenger) *Notifier {
	return &Notifier{bot: bot}
}

// Notify sends text, already escaped for MarkdownV2, with link previews off.
func (n *Notifier) Notify(_ context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.DisableWebPagePreview = true
	_, err := n.bot.Send(msg)
	return err
}
