package anilist

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

const watchingBody = `{
  "data": {
    "Page": {
      "mediaList": [
        {"media": {"id": 1, "title": {"romaji": "Kusuriya no Hitorigoto", "english": "The Apothecary Diaries"},
                   "siteUrl": "https://anilist.co/anime/1", "status": "RELEASING",
                   "nextAiringEpisode": {"timeUntilAiring": 10800, "episode": 6, "airingAt": 1700010800}}},
        {"media": {"id": 2, "title": {"romaji": null, "english": "Finished Show"},
                   "siteUrl": "https://anilist.co/anime/2", "status": "FINISHED",
                   "nextAiringEpisode": null}}
      ]
    }
  }
}`

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := New(Config{Endpoint: srv.URL, Timeout: 2 * time.Second, BreakerFailures: 3}, zap.NewNop())
	return c, srv
}

func TestFetchWatching_ParsesMedia(t *testing.T) {
	var gotBody string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, watchingBody)
	})

	media, err := c.FetchWatching(context.Background(), "someone")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !strings.Contains(gotBody, `"userName":"someone"`) || !strings.Contains(gotBody, "status: CURRENT") {
		t.Fatalf("unexpected request body: %s", gotBody)
	}
	if len(media) != 2 {
		t.Fatalf("want 2 media, got %d", len(media))
	}
	first := media[0]
	if first.ID != 1 || first.Title != "Kusuriya no Hitorigoto" || first.Next == nil || first.Next.Episode != 6 ||
		first.Next.AiringAt != 1700010800 || first.Next.TimeUntilAiring != 10800 {
		t.Fatalf("unexpected first media: %+v / %+v", first, first.Next)
	}
	second := media[1]
	if second.Title != "Finished Show" || second.Next != nil || second.Status != "FINISHED" {
		t.Fatalf("unexpected second media: %+v", second)
	}
}

func TestFetchWatching_FailuresCollapseToUnavailable(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
		"not found": func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"errors":[{"message":"Not Found.","status":404}],"data":{"Page":null}}`)
		},
		"graphql errors": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `{"errors":[{"message":"boom"}],"data":null}`)
		},
		"no page": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `{"data":{"Page":null}}`)
		},
		"garbage": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `<html>`)
		},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			c, _ := newTestClient(t, h)
			media, err := c.FetchWatching(context.Background(), "someone")
			if !errors.Is(err, ErrSourceUnavailable) {
				t.Fatalf("want ErrSourceUnavailable, got %v", err)
			}
			if media != nil {
				t.Fatalf("want nil media, got %+v", media)
			}
		})
	}
}

func TestFetchWatching_EmptyListIsData(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"data":{"Page":{"mediaList":[]}}}`)
	})
	media, err := c.FetchWatching(context.Background(), "someone")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if media == nil || len(media) != 0 {
		t.Fatalf("want empty non-nil list, got %#v", media)
	}
}

func TestFetchWatching_DoesNotRetryAndBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	for i := 0; i < 5; i++ {
		if _, err := c.FetchWatching(context.Background(), "someone"); !errors.Is(err, ErrSourceUnavailable) {
			t.Fatalf("call %d: want ErrSourceUnavailable, got %v", i, err)
		}
	}
	// three failures trip the breaker; the remaining calls never reach the server
	if got := calls.Load(); got != 3 {
		t.Fatalf("want 3 upstream calls, got %d", got)
	}
}

func TestFetchWatching_UnknownUserDoesNotTripBreaker(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	})
	for i := 0; i < 5; i++ {
		_, _ = c.FetchWatching(context.Background(), "nobody")
	}
	if got := calls.Load(); got != 5 {
		t.Fatalf("want 5 upstream calls, got %d", got)
	}
}

func TestFetchWatching_TimeoutIsUnavailable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c := New(Config{Endpoint: srv.URL, Timeout: 50 * time.Millisecond}, zap.NewNop())
	if _, err := c.FetchWatching(context.Background(), "slow"); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("want ErrSourceUnavailable, got %v", err)
	}
}
