package domain

import "time"

// Media is one currently-watching show as reported by the airing source.
type Media struct {
	ID     int64
	Title  string
	URL    string
	Status string      // RELEASING, FINISHED, HIATUS, ...
	Next   *NextAiring // nil when no upcoming episode is known
}

// NextAiring describes the next scheduled broadcast of a show.
type NextAiring struct {
	Episode         int
	AiringAt        int64 // unix seconds
	TimeUntilAiring int64 // seconds, relative to the moment the source answered
}

// TrackedShow is a show on a user's watch list together with its watermark.
type TrackedShow struct {
	ShowID              int64
	Title               string
	URL                 string
	LastNotifiedEpisode int   // never decreases for a given record
	LastAiringAt        int64 // unix seconds of the episode that set the watermark, 0 if none
}

// WatchListRecord is the per-chat tracking state.
type WatchListRecord struct {
	ChatID    int64
	Username  string // AniList user name
	Shows     []TrackedShow
	CreatedAt time.Time // UTC
	UpdatedAt time.Time // UTC
}

// Show returns the tracked show with the given id.
func (r *WatchListRecord) Show(showID int64) (TrackedShow, bool) {
	for _, s := range r.Shows {
		if s.ShowID == showID {
			return s, true
		}
	}
	return TrackedShow{}, false
}

// InitialWatermark is the watermark a show starts with: the episode before
// the next airing one, so only genuinely new episodes notify.
func InitialWatermark(m Media) int {
	if m.Next == nil || m.Next.Episode < 1 {
		return 0
	}
	return m.Next.Episode - 1
}

// NewTrackedShow builds a freshly registered show from source data.
func NewTrackedShow(m Media) TrackedShow {
	return TrackedShow{
		ShowID:              m.ID,
		Title:               m.Title,
		URL:                 m.URL,
		LastNotifiedEpisode: InitialWatermark(m),
	}
}

// NewWatchListRecord builds the record stored on registration or resync.
// Prior watermarks are intentionally not carried over.
func NewWatchListRecord(chatID int64, username string, media []Media, now time.Time) *WatchListRecord {
	shows := make([]TrackedShow, 0, len(media))
	seen := make(map[int64]struct{}, len(media))
	for _, m := range media {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		shows = append(shows, NewTrackedShow(m))
	}
	now = now.UTC()
	return &WatchListRecord{
		ChatID:    chatID,
		Username:  username,
		Shows:     shows,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// UntrackedShows returns the shows present in media but missing from the record.
func (r *WatchListRecord) UntrackedShows(media []Media) []TrackedShow {
	known := make(map[int64]struct{}, len(r.Shows))
	for _, s := range r.Shows {
		known[s.ShowID] = struct{}{}
	}
	var out []TrackedShow
	for _, m := range media {
		if _, ok := known[m.ID]; ok {
			continue
		}
		known[m.ID] = struct{}{}
		out = append(out, NewTrackedShow(m))
	}
	return out
}
