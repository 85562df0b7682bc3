package planner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/AbolfazlASDBV2008/Aniran-telegram-bot/internal/anilist"
	"github.com/AbolfazlASDBV2008/Aniran-telegram-bot/internal/domain"
	"github.com/AbolfazlASDBV2008/Aniran-telegram-bot/internal/metrics"
	"github.com/AbolfazlASDBV2008/Aniran-telegram-bot/internal/store"
	"github.com/AbolfazlASDBV2008/Aniran-telegram-bot/internal/timer"
)

// fakeSource answers per user name; names in fail get ErrSourceUnavailable.
type fakeSource struct {
	mu    sync.Mutex
	lists map[string][]domain.Media
	fail  map[string]bool
	calls int
}

func (s *fakeSource) FetchWatching(_ context.Context, username string) ([]domain.Media, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail[username] {
		return nil, fmt.Errorf("%w: boom", anilist.ErrSourceUnavailable)
	}
	return s.lists[username], nil
}

type recordingArmer struct {
	mu    sync.Mutex
	tasks []domain.AiringTask
}

func (a *recordingArmer) Arm(_ context.Context, t domain.AiringTask) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tasks = append(a.tasks, t)
	return nil
}

func (a *recordingArmer) take() []domain.AiringTask {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.tasks
	a.tasks = nil
	return out
}

type nopDispatcher struct{}

func (nopDispatcher) Notify(context.Context, int64, string) error { return nil }

var testNow = time.Unix(1_700_000_000, 0).UTC()

func openRepo(t *testing.T) *store.SQLiteRepo {
	t.Helper()
	repo, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "planner.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func newPlanner(src Source, st Store, armer Armer) *Planner {
	p := New(src, st, armer, zap.NewNop(), Config{
		Interval:    time.Hour,
		Lookahead:   24 * time.Hour,
		TTLMargin:   time.Hour,
		Concurrency: 8,
	})
	p.now = func() time.Time { return testNow }
	return p
}

func show(id int64, episode int, in time.Duration) domain.Media {
	return domain.Media{
		ID:    id,
		Title: fmt.Sprintf("Show %d", id),
		URL:   fmt.Sprintf("https://anilist.co/anime/%d", id),
		Next: &domain.NextAiring{
			Episode:         episode,
			AiringAt:        testNow.Add(in).Unix(),
			TimeUntilAiring: int64(in / time.Second),
		},
	}
}

func register(t *testing.T, repo *store.SQLiteRepo, chatID int64, username string, media []domain.Media) {
	t.Helper()
	rec := domain.NewWatchListRecord(chatID, username, media, testNow)
	if err := repo.ReplaceWatchList(context.Background(), rec); err != nil {
		t.Fatalf("replace: %v", err)
	}
}

func TestRunOnce_ArmsOnlyEpisodesInsideLookahead(t *testing.T) {
	repo := openRepo(t)
	media := []domain.Media{
		show(1, 6, 3*time.Hour),
		show(2, 2, 30*time.Hour),                       // outside the window
		{ID: 3, Title: "Finished", Status: "FINISHED"}, // no next episode
	}
	register(t, repo, 10, "alice", media)

	src := &fakeSource{lists: map[string][]domain.Media{"alice": media}}
	armer := &recordingArmer{}
	passes := testutil.ToFloat64(metrics.PlannerPasses)
	rep, err := newPlanner(src, repo, armer).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Users != 1 || rep.Planned != 1 || rep.Failed != 0 || rep.Armed != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if got := testutil.ToFloat64(metrics.PlannerPasses); got != passes+1 {
		t.Fatalf("planner_passes_total: want %v, got %v", passes+1, got)
	}

	tasks := armer.take()
	want := domain.AiringTask{
		ChatID:   10,
		ShowID:   1,
		Title:    "Show 1",
		URL:      "https://anilist.co/anime/1",
		Episode:  6,
		AiringAt: testNow.Add(3 * time.Hour).Unix(),
	}
	if len(tasks) != 1 || tasks[0] != want {
		t.Fatalf("want [%+v], got %+v", want, tasks)
	}

	entries, found, err := repo.GetDailySchedule(context.Background(), 10, testNow)
	if err != nil || !found {
		t.Fatalf("schedule: found=%v err=%v", found, err)
	}
	if len(entries) != 1 || entries[0] != want.Entry() {
		t.Fatalf("unexpected schedule: %+v", entries)
	}
}

func TestRunOnce_IsIdempotent(t *testing.T) {
	repo := openRepo(t)
	media := []domain.Media{show(1, 6, time.Hour), show(2, 3, 2*time.Hour)}
	register(t, repo, 10, "alice", media)

	src := &fakeSource{lists: map[string][]domain.Media{"alice": media}}
	armer := &recordingArmer{}
	p := newPlanner(src, repo, armer)

	if _, err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first := armer.take()
	firstSched, _, _ := repo.GetDailySchedule(context.Background(), 10, testNow)

	if _, err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	second := armer.take()
	secondSched, _, _ := repo.GetDailySchedule(context.Background(), 10, testNow)

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("tasks differ between passes:\n%+v\n%+v", first, second)
	}
	if !reflect.DeepEqual(firstSched, secondSched) {
		t.Fatalf("schedule differs between passes:\n%+v\n%+v", firstSched, secondSched)
	}
}

func TestRunOnce_TwicePassesArmOneTimerPerEpisode(t *testing.T) {
	repo := openRepo(t)
	media := []domain.Media{show(1, 6, time.Hour)}
	register(t, repo, 10, "alice", media)

	timers := timer.New(repo, nopDispatcher{}, zap.NewNop(), timer.Config{})
	src := &fakeSource{lists: map[string][]domain.Media{"alice": media}}
	p := newPlanner(src, repo, timers)

	for i := 0; i < 2; i++ {
		if _, err := p.RunOnce(context.Background()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if got := timers.Pending(); got != 1 {
		t.Fatalf("want 1 wake-up, got %d", got)
	}
	stored, err := repo.ListTimers(context.Background())
	if err != nil {
		t.Fatalf("list timers: %v", err)
	}
	if len(stored) != 1 || stored[0].Task.Key() != domain.TimerKey(10, 1, 6) {
		t.Fatalf("want one stored timer, got %+v", stored)
	}
}

func TestRunOnce_FailingUserDoesNotAbortPass(t *testing.T) {
	repo := openRepo(t)
	src := &fakeSource{lists: map[string][]domain.Media{}, fail: map[string]bool{}}
	for i := 1; i <= 100; i++ {
		name := fmt.Sprintf("user%d", i)
		media := []domain.Media{show(int64(i), 2, time.Hour)}
		src.lists[name] = media
		register(t, repo, int64(i), name, media)
	}
	src.fail["user42"] = true

	armer := &recordingArmer{}
	sourceFailures := testutil.ToFloat64(metrics.PlannerUserFailures.WithLabelValues("source"))
	rep, err := newPlanner(src, repo, armer).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Users != 100 || rep.Planned != 99 || rep.Failed != 1 || rep.Armed != 99 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if got := testutil.ToFloat64(metrics.PlannerUserFailures.WithLabelValues("source")); got != sourceFailures+1 {
		t.Fatalf("source failures metric: want %v, got %v", sourceFailures+1, got)
	}
	if src.calls != 100 {
		t.Fatalf("want 100 source queries, got %d", src.calls)
	}
	for _, task := range armer.take() {
		if task.ChatID == 42 {
			t.Fatalf("failing user got a timer: %+v", task)
		}
	}
	if _, found, _ := repo.GetDailySchedule(context.Background(), 42, testNow); found {
		t.Fatalf("failing user should have no computed schedule")
	}
	if _, found, _ := repo.GetDailySchedule(context.Background(), 43, testNow); !found {
		t.Fatalf("healthy user should have a schedule")
	}
}

func TestRunOnce_FailureKeepsPreviousSchedule(t *testing.T) {
	repo := openRepo(t)
	media := []domain.Media{show(1, 6, time.Hour)}
	register(t, repo, 10, "alice", media)

	src := &fakeSource{lists: map[string][]domain.Media{"alice": media}, fail: map[string]bool{}}
	p := newPlanner(src, repo, &recordingArmer{})
	if _, err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	src.mu.Lock()
	src.fail["alice"] = true
	src.mu.Unlock()
	rep, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if rep.Failed != 1 {
		t.Fatalf("want 1 failure, got %+v", rep)
	}
	entries, found, err := repo.GetDailySchedule(context.Background(), 10, testNow)
	if err != nil || !found || len(entries) != 1 {
		t.Fatalf("previous schedule lost: found=%v entries=%+v err=%v", found, entries, err)
	}
}

func TestRunOnce_NothingAiringStoresEmptySchedule(t *testing.T) {
	repo := openRepo(t)
	media := []domain.Media{show(1, 6, 48*time.Hour)}
	register(t, repo, 10, "alice", media)

	src := &fakeSource{lists: map[string][]domain.Media{"alice": media}}
	if _, err := newPlanner(src, repo, &recordingArmer{}).RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	entries, found, err := repo.GetDailySchedule(context.Background(), 10, testNow)
	if err != nil || !found {
		t.Fatalf("want computed schedule, found=%v err=%v", found, err)
	}
	if len(entries) != 0 {
		t.Fatalf("want empty schedule, got %+v", entries)
	}
}

func TestRunOnce_TracksNewlyWatchedShows(t *testing.T) {
	repo := openRepo(t)
	register(t, repo, 10, "alice", []domain.Media{show(1, 6, time.Hour)})
	if _, err := repo.AdvanceWatermark(context.Background(), 10, 1, 6, testNow.Unix()); err != nil {
		t.Fatalf("advance: %v", err)
	}

	media := []domain.Media{show(1, 6, time.Hour), show(2, 4, time.Hour)}
	src := &fakeSource{lists: map[string][]domain.Media{"alice": media}}
	if _, err := newPlanner(src, repo, &recordingArmer{}).RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	rec, err := repo.GetWatchList(context.Background(), 10)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if s, ok := rec.Show(2); !ok || s.LastNotifiedEpisode != 3 {
		t.Fatalf("new show not tracked with initial watermark: %+v", rec.Shows)
	}
	if s, _ := rec.Show(1); s.LastNotifiedEpisode != 6 {
		t.Fatalf("existing watermark changed: %+v", s)
	}
}

type failingList struct{ Store }

func (failingList) PurgeExpiredSchedules(context.Context, time.Time) (int64, error) { return 0, nil }

func (failingList) ListWatchLists(context.Context) ([]domain.WatchListRecord, error) {
	return nil, errors.New("disk I/O error")
}

// resettingSource resets the chat while its list is being fetched, the way a
// /reset landing in the middle of a pass would.
type resettingSource struct {
	media   []domain.Media
	onFetch func()
}

func (s *resettingSource) FetchWatching(context.Context, string) ([]domain.Media, error) {
	s.onFetch()
	return s.media, nil
}

func TestRunOnce_ResetDuringPassLeavesNothingBehind(t *testing.T) {
	cases := map[string][]domain.Media{
		"episode airing": {show(1, 6, time.Hour)},
		"nothing airing": {show(1, 6, 48*time.Hour)},
	}
	for name, media := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := openRepo(t)
			register(t, repo, 10, "alice", media)
			timers := timer.New(repo, nopDispatcher{}, zap.NewNop(), timer.Config{})

			src := &resettingSource{media: media, onFetch: func() {
				if err := repo.ResetChat(ctx, 10); err != nil {
					t.Errorf("reset: %v", err)
				}
				timers.CancelChat(10)
			}}
			rep, err := newPlanner(src, repo, timers).RunOnce(ctx)
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if rep.Skipped != 1 || rep.Failed != 0 || rep.Planned != 0 || rep.Armed != 0 {
				t.Fatalf("unexpected report: %+v", rep)
			}

			if _, err := repo.GetWatchList(ctx, 10); !errors.Is(err, store.ErrNotFound) {
				t.Fatalf("record came back: %v", err)
			}
			if stored, _ := repo.ListTimers(ctx); len(stored) != 0 {
				t.Fatalf("timer rows written after reset: %+v", stored)
			}
			if _, found, _ := repo.GetDailySchedule(ctx, 10, testNow); found {
				t.Fatalf("schedule written after reset")
			}
			if n := timers.Pending(); n != 0 {
				t.Fatalf("want no wake-ups after reset, got %d", n)
			}
		})
	}
}

func TestRunOnce_ListFailureIsReturned(t *testing.T) {
	p := newPlanner(&fakeSource{}, failingList{}, &recordingArmer{})
	if _, err := p.RunOnce(context.Background()); err == nil {
		t.Fatalf("want error when chats cannot be listed")
	}
}

func TestTrigger_CoalescesAndRunsPass(t *testing.T) {
	repo := openRepo(t)
	media := []domain.Media{show(1, 6, time.Hour)}
	register(t, repo, 10, "alice", media)

	src := &fakeSource{lists: map[string][]domain.Media{"alice": media}}
	p := newPlanner(src, repo, &recordingArmer{})

	if !p.Trigger() {
		t.Fatalf("first trigger should be queued")
	}
	if p.Trigger() {
		t.Fatalf("second trigger should coalesce")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, found, _ := repo.GetDailySchedule(context.Background(), 10, testNow); found {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("triggered pass did not run")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}
