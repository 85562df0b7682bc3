package config

import (
	"fmt"
	"time"
	_ "time/tzdata" // DISPLAY_TZ must resolve on hosts without a zone database

	"github.com/kelseyhightower/envconfig"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	BotToken string `envconfig:"BOT_TOKEN" required:"true"`
	DBPath   string `envconfig:"DB_PATH" default:"./data/airing.db"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`  // debug|info|warn|error
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"` // healthz, metrics, planner trigger

	AniListURL            string        `envconfig:"ANILIST_URL" default:"https://graphql.anilist.co"`
	SourceTimeout         time.Duration `envconfig:"SOURCE_TIMEOUT" default:"10s"`
	SourceRatePerMin      int           `envconfig:"SOURCE_RATE_PER_MIN" default:"60"`
	SourceBreakerFailures uint32        `envconfig:"SOURCE_BREAKER_FAILURES" default:"5"`

	PlannerInterval     time.Duration `envconfig:"PLANNER_INTERVAL" default:"24h"`
	PlannerRunOnStart   bool          `envconfig:"PLANNER_RUN_ON_START" default:"true"`
	PlannerConcurrency  int           `envconfig:"PLANNER_CONCURRENCY" default:"4"`
	PlannerTriggerToken string        `envconfig:"PLANNER_TRIGGER_TOKEN"` // empty disables POST /planner/run
	Lookahead           time.Duration `envconfig:"LOOKAHEAD" default:"24h"`
	ScheduleTTLMargin   time.Duration `envconfig:"SCHEDULE_TTL_MARGIN" default:"1h"`

	TimerRetryDelay  time.Duration `envconfig:"TIMER_RETRY_DELAY" default:"1m"`
	TimerMaxAttempts int           `envconfig:"TIMER_MAX_ATTEMPTS" default:"10"`

	DisplayTZ string `envconfig:"DISPLAY_TZ" default:"Asia/Tehran"`
}

// Load reads environment variables into Config.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch {
	case c.BotToken == "":
		return fmt.Errorf("BOT_TOKEN must not be empty")
	case c.Lookahead <= 0:
		return fmt.Errorf("LOOKAHEAD must be positive, got %s", c.Lookahead)
	case c.PlannerInterval <= 0:
		return fmt.Errorf("PLANNER_INTERVAL must be positive, got %s", c.PlannerInterval)
	case c.PlannerConcurrency < 1:
		return fmt.Errorf("PLANNER_CONCURRENCY must be at least 1, got %d", c.PlannerConcurrency)
	case c.ScheduleTTLMargin < 0:
		return fmt.Errorf("SCHEDULE_TTL_MARGIN must not be negative, got %s", c.ScheduleTTLMargin)
	}
	if _, err := time.LoadLocation(c.DisplayTZ); err != nil {
		return fmt.Errorf("DISPLAY_TZ: %w", err)
	}
	return nil
}

// Location returns the zone used to display airing times.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.DisplayTZ)
	if err != nil {
		return time.UTC
	}
	return loc
}
