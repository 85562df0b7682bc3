package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/AbolfazlASDBV2008/Aniran-telegram-bot/internal/anilist"
	"github.com/AbolfazlASDBV2008/Aniran-telegram-bot/internal/config"
	"github.com/AbolfazlASDBV2008/Aniran-telegram-bot/internal/planner"
	"github.com/AbolfazlASDBV2008/Aniran-telegram-bot/internal/store"
	"github.com/AbolfazlASDBV2008/Aniran-telegram-bot/internal/supervisor"
	"github.com/AbolfazlASDBV2008/Aniran-telegram-bot/internal/telegram"
	"github.com/AbolfazlASDBV2008/Aniran-telegram-bot/internal/timer"
	"github.com/AbolfazlASDBV2008/Aniran-telegram-bot/internal/tracking"
)

type App struct {
	cfg config.Config
	log *zap.Logger
	bot *tgbotapi.BotAPI
}

func New(cfg config.Config, log *zap.Logger) (*App, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, err
	}
	bot.Debug = false
	return &App{cfg: cfg, log: log, bot: bot}, nil
}

// Run wires every component and supervises them until a shutdown signal.
func (a *App) Run(ctx context.Context) error {
	a.log.Info("starting airing-bot",
		zap.String("bot", a.bot.Self.UserName),
		zap.String("http", a.cfg.HTTPAddr),
		zap.Duration("lookahead", a.cfg.Lookahead),
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Open SQLite and run migrations.
	repo, err := store.OpenSQLite(ctx, a.cfg.DBPath)
	if err != nil {
		a.log.Error("open sqlite failed", zap.Error(err))
		return err
	}
	defer func() { _ = repo.Close() }()
	a.log.Info("sqlite ready", zap.String("path", a.cfg.DBPath))

	source := anilist.New(anilist.Config{
		Endpoint:        a.cfg.AniListURL,
		Timeout:         a.cfg.SourceTimeout,
		RatePerMinute:   a.cfg.SourceRatePerMin,
		BreakerFailures: a.cfg.SourceBreakerFailures,
	}, a.log.Named("anilist"))

	timers := timer.New(repo, telegram.NewNotifier(a.bot), a.log.Named("timer"), timer.Config{
		RetryDelay:  a.cfg.TimerRetryDelay,
		MaxAttempts: a.cfg.TimerMaxAttempts,
	})
	plan := planner.New(source, repo, timers, a.log.Named("planner"), planner.Config{
		Interval:    a.cfg.PlannerInterval,
		Lookahead:   a.cfg.Lookahead,
		TTLMargin:   a.cfg.ScheduleTTLMargin,
		Concurrency: a.cfg.PlannerConcurrency,
		RunOnStart:  a.cfg.PlannerRunOnStart,
	})
	tracker := tracking.New(source, repo, timers, a.log.Named("tracking"))
	router := telegram.NewRouter(a.bot, a.log.Named("telegram"), tracker, repo, a.cfg.Location())

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           newHandler(plan, a.cfg.PlannerTriggerToken, a.log.Named("http")),
		ReadHeaderTimeout: 3 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	tree := supervisor.NewTree(a.log.Named("supervisor"), supervisor.TreeConfig{})
	tree.AddWorker(timers)
	tree.AddWorker(plan)
	tree.AddWorker(telegram.NewPoller(a.bot, router, a.log.Named("telegram")))
	tree.AddAPI(supervisor.NewHTTPService(srv, 5*time.Second))

	err = tree.Serve(ctx)
	a.log.Info("shutdown complete")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
