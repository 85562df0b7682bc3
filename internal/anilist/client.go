// Package anilist queries the AniList GraphQL API for a user's
// currently-watching list and each show's next airing episode.
package anilist

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/AbolfazlASDBV2008/Aniran-telegram-bot/internal/domain"
	"github.com/AbolfazlASDBV2008/Aniran-telegram-bot/internal/metrics"
)

// DefaultEndpoint is the public AniList GraphQL endpoint.
const DefaultEndpoint = "https://graphql.anilist.co"

const watchingQuery = `query ($userName: String) { Page(page: 1, perPage: 50) { mediaList(userName: $userName, type: ANIME, status: CURRENT) { media { id title { romaji english } siteUrl status nextAiringEpisode { timeUntilAiring episode airingAt } } } } }`

// maxBody caps how much of a response is read.
const maxBody = 4 << 20

// ErrSourceUnavailable covers every way a query can fail to produce data:
// transport errors, non-2xx answers, GraphQL error payloads, an open breaker.
var ErrSourceUnavailable = errors.New("airing source unavailable")

// Config tunes the client.
type Config struct {
	Endpoint        string
	Timeout         time.Duration // per request
	RatePerMinute   int           // 0 disables client-side limiting
	BreakerFailures uint32        // consecutive failures before the breaker opens
	BreakerCooldown time.Duration // time the breaker stays open
}

// Client is a stateless request/response wrapper around the AniList API.
// It never retries; a failed fetch is reported and left to the caller.
type Client struct {
	endpoint string
	http     *http.Client
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker[[]byte]
	log      *zap.Logger
}

// New creates a client. Zero config values fall back to defaults.
func New(cfg Config, log *zap.Logger) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = time.Minute
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), 1)
	}

	c := &Client{
		endpoint: cfg.Endpoint,
		http:     &http.Client{Timeout: cfg.Timeout},
		limiter:  limiter,
		log:      log,
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "anilist",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			// An unknown user name is the caller's problem, not an outage.
			var se *statusError
			if errors.As(err, &se) {
				return se.code < 500 && se.code != http.StatusTooManyRequests
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return c
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

// FetchWatching returns the user's currently-watching shows. Every failure is
// reported as ErrSourceUnavailable; no stored state is touched.
func (c *Client) FetchWatching(ctx context.Context, username string) ([]domain.Media, error) {
	start := time.Now()
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.post(ctx, username)
	})
	metrics.SourceLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SourceRequests.WithLabelValues(resultLabel(err)).Inc()
		c.log.Warn("anilist query failed", zap.String("user", username), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	media, err := parseMediaList(body)
	if err != nil {
		metrics.SourceRequests.WithLabelValues("error").Inc()
		c.log.Warn("anilist response rejected", zap.String("user", username), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	metrics.SourceRequests.WithLabelValues("ok").Inc()
	return media, nil
}

func (c *Client) post(ctx context.Context, username string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(graphQLRequest{
		Query:     watchingQuery,
		Variables: map[string]any{"userName": username},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := body
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return nil, &statusError{code: resp.StatusCode, body: string(snippet)}
	}
	return body, nil
}

func resultLabel(err error) string {
	var se *statusError
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	case errors.As(err, &se) && se.code < 500:
		return "rejected"
	default:
		return "error"
	}
}
