package anilist

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/AbolfazlASDBV2008/Aniran-telegram-bot/internal/domain"
)

var errMalformed = errors.New("malformed response")

// parseMediaList extracts data.Page.mediaList[].media from a GraphQL answer.
// A payload with errors, or without data.Page, is rejected.
func parseMediaList(body []byte) ([]domain.Media, error) {
	if !gjson.ValidBytes(body) {
		return nil, errMalformed
	}
	res := gjson.ParseBytes(body)

	if errs := res.Get("errors"); errs.Exists() && len(errs.Array()) > 0 {
		return nil, fmt.Errorf("graphql: %s", errs.Get("0.message").String())
	}
	page := res.Get("data.Page")
	if !page.Exists() || page.Type == gjson.Null {
		return nil, fmt.Errorf("%w: no data.Page", errMalformed)
	}

	items := page.Get("mediaList").Array()
	media := make([]domain.Media, 0, len(items))
	for _, item := range items {
		m := item.Get("media")
		if !m.Exists() || m.Type == gjson.Null {
			continue
		}
		title := m.Get("title.romaji").String()
		if title == "" {
			title = m.Get("title.english").String()
		}
		out := domain.Media{
			ID:     m.Get("id").Int(),
			Title:  title,
			URL:    m.Get("siteUrl").String(),
			Status: m.Get("status").String(),
		}
		if next := m.Get("nextAiringEpisode"); next.Exists() && next.Type != gjson.Null {
			out.Next = &domain.NextAiring{
				Episode:         int(next.Get("episode").Int()),
				AiringAt:        next.Get("airingAt").Int(),
				TimeUntilAiring: next.Get("timeUntilAiring").Int(),
			}
		}
		media = append(media, out)
	}
	return media, nil
}
