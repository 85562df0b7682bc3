package domain

import (
	"sort"
	"time"
)

// DailyScheduleEntry is one line of a chat's cached "airing today" list.
type DailyScheduleEntry struct {
	ShowID   int64  `json:"id"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Episode  int    `json:"episode"`
	AiringAt int64  `json:"airingAt"`
}

// AiringTime returns the broadcast instant in UTC.
func (e DailyScheduleEntry) AiringTime() time.Time { return time.Unix(e.AiringAt, 0).UTC() }

// TodayItem is a schedule entry annotated for display.
type TodayItem struct {
	DailyScheduleEntry
	Aired bool
}

// BuildToday sorts entries by airing time and marks those already broadcast at now.
// The input slice is not modified.
func BuildToday(entries []DailyScheduleEntry, now time.Time) []TodayItem {
	items := make([]TodayItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, TodayItem{DailyScheduleEntry: e, Aired: e.AiringTime().Before(now)})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].AiringAt < items[j].AiringAt })
	return items
}
