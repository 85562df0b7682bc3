package domain

import (
	"fmt"
	"sort"
	"time"
)

// AiringTask is one episode that airs inside the lookahead window for one chat.
// (ChatID, ShowID, Episode) identifies it; see Key.
type AiringTask struct {
	ChatID   int64  `json:"chatId"`
	ShowID   int64  `json:"id"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Episode  int    `json:"episode"`
	AiringAt int64  `json:"airingAt"`
}

// TimerKey derives the stable timer identity for an episode of a show in a chat.
func TimerKey(chatID, showID int64, episode int) string {
	return fmt.Sprintf("%d-%d-%d", chatID, showID, episode)
}

// Key returns the timer identity of the task.
func (t AiringTask) Key() string { return TimerKey(t.ChatID, t.ShowID, t.Episode) }

// FireAt is the broadcast instant in UTC.
func (t AiringTask) FireAt() time.Time { return time.Unix(t.AiringAt, 0).UTC() }

// Entry projects the task into a schedule cache entry.
func (t AiringTask) Entry() DailyScheduleEntry {
	return DailyScheduleEntry{
		ShowID:   t.ShowID,
		Title:    t.Title,
		URL:      t.URL,
		Episode:  t.Episode,
		AiringAt: t.AiringAt,
	}
}

// TimerState is the persisted state of one episode timer.
type TimerState struct {
	Task      AiringTask
	ArmedAt   time.Time // UTC
	Attempts  int       // failed fire attempts so far
	LastError string
}

// SelectAiring returns a task for every show with a known next episode whose
// broadcast is at most lookahead away. The result depends only on its inputs
// and is ordered by airing time, then show id.
func SelectAiring(chatID int64, media []Media, lookahead time.Duration) []AiringTask {
	limit := int64(lookahead / time.Second)
	var tasks []AiringTask
	seen := make(map[int64]struct{}, len(media))
	for _, m := range media {
		if m.Next == nil || m.Next.Episode < 1 {
			continue
		}
		if m.Next.TimeUntilAiring > limit {
			continue
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		tasks = append(tasks, AiringTask{
			ChatID:   chatID,
			ShowID:   m.ID,
			Title:    m.Title,
			URL:      m.URL,
			Episode:  m.Next.Episode,
			AiringAt: m.Next.AiringAt,
		})
	}
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].AiringAt != tasks[j].AiringAt {
			return tasks[i].AiringAt < tasks[j].AiringAt
		}
		return tasks[i].ShowID < tasks[j].ShowID
	})
	return tasks
}
