package telegram

import (
	"context"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"
)

// updateSource is the long-polling part of *tgbotapi.BotAPI.
type updateSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Poller feeds long-polled updates to the router, one at a time.
type Poller struct {
	bot    updateSource
	router *Router
	log    *zap.Logger

	open    sync.Once
	updates tgbotapi.UpdatesChannel
}

func NewPoller(bot updateSource, router *Router, log *zap.Logger) *Poller {
	return &Poller{bot: bot, router: router, log: log}
}

// updateChan starts the long-poll loop on first use. A Serve restarted by the
// supervisor keeps reading the same channel; a second loop would compete for
// getUpdates and drop whatever it fetched.
func (p *Poller) updateChan() tgbotapi.UpdatesChannel {
	p.open.Do(func() {
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 30
		p.updates = p.bot.GetUpdatesChan(u)
		p.log.Info("polling telegram updates")
	})
	return p.updates
}

// Serve implements suture.Service.
func (p *Poller) Serve(ctx context.Context) error {
	updCh := p.updateChan()
	for {
		select {
		case <-ctx.Done():
			p.bot.StopReceivingUpdates()
			return ctx.Err()
		case upd, ok := <-updCh:
			if !ok {
				// the channel cannot be reopened, so a restart would spin
				p.log.Error("telegram update channel closed")
				return suture.ErrTerminateSupervisorTree
			}
			p.router.HandleUpdate(ctx, upd)
		}
	}
}

func (p *Poller) String() string { return "telegram-updates" }
