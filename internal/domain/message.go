package domain

import (
	"fmt"
	"strings"
)

// markdownV2Special lists every character Telegram's MarkdownV2 requires to be escaped in text.
const markdownV2Special = "\\_*[]()~`>#+-=|{}.!"

// EscapeMarkdownV2 escapes s for use as literal text in a MarkdownV2 message.
func EscapeMarkdownV2(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for _, r := range s {
		if strings.ContainsRune(markdownV2Special, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// escapeMarkdownV2URL escapes the inside of an inline link target.
func escapeMarkdownV2URL(u string) string {
	return strings.NewReplacer(`\`, `\\`, `)`, `\)`).Replace(u)
}

// NotificationText renders the MarkdownV2 message sent when an episode airs.
func NotificationText(t AiringTask) string {
	title := EscapeMarkdownV2(t.Title)
	if t.URL == "" {
		return fmt.Sprintf("📢 Episode *%d* of *%s* is out\\!", t.Episode, title)
	}
	return fmt.Sprintf("📢 Episode *%d* of [%s](%s) is out\\!", t.Episode, title, escapeMarkdownV2URL(t.URL))
}
