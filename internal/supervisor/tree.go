// Package supervisor runs the long-lived services of the bot under a suture
// supervision tree, restarting any that fail or panic.
package supervisor

import (
	"context"
	"time"

	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"
)

// TreeConfig holds supervisor tree configuration.
type TreeConfig struct {
	FailureThreshold float64       // failures before backoff, default 5
	FailureDecay     float64       // seconds for failures to decay, default 30
	FailureBackoff   time.Duration // default 15s
	ShutdownTimeout  time.Duration // default 10s
}

// Tree has two layers: workers (timers, planner, chat updates) and api
// (HTTP surface). A crash loop in one layer leaves the other running.
type Tree struct {
	root    *suture.Supervisor
	workers *suture.Supervisor
	api     *suture.Supervisor
	config  TreeConfig
}

// NewTree creates a supervisor tree logging its events to log.
func NewTree(log *zap.Logger, config TreeConfig) *Tree {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = 30
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = 15 * time.Second
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	spec := suture.Spec{
		EventHook:        EventHook(log),
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	childSpec := spec
	childSpec.EventHook = nil // inherited from the root

	root := suture.New("airing-bot", spec)
	workers := suture.New("workers", childSpec)
	api := suture.New("api", childSpec)
	root.Add(workers)
	root.Add(api)

	return &Tree{root: root, workers: workers, api: api, config: config}
}

// AddWorker adds a background service.
func (t *Tree) AddWorker(svc suture.Service) suture.ServiceToken {
	return t.workers.Add(svc)
}

// AddAPI adds an externally facing service.
func (t *Tree) AddAPI(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// Serve runs the tree until ctx is canceled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// EventHook turns supervisor events into zap log entries.
func EventHook(log *zap.Logger) suture.EventHook {
	return func(ev suture.Event) {
		switch e := ev.(type) {
		case suture.EventServicePanic:
			log.Error("service panicked",
				zap.String("supervisor", e.SupervisorName),
				zap.String("service", e.ServiceName),
				zap.String("panic", e.PanicMsg),
				zap.String("stack", e.Stacktrace),
				zap.Bool("restarting", e.Restarting),
			)
		case suture.EventServiceTerminate:
			log.Warn("service terminated",
				zap.String("supervisor", e.SupervisorName),
				zap.String("service", e.ServiceName),
				zap.Any("error", e.Err),
				zap.Float64("failures", e.CurrentFailures),
				zap.Bool("restarting", e.Restarting),
			)
		case suture.EventBackoff:
			log.Warn("supervisor backing off", zap.String("supervisor", e.SupervisorName))
		case suture.EventResume:
			log.Info("supervisor resumed", zap.String("supervisor", e.SupervisorName))
		case suture.EventStopTimeout:
			log.Error("service did not stop in time",
				zap.String("supervisor", e.SupervisorName),
				zap.String("service", e.ServiceName),
			)
		default:
			log.Info(ev.String(), zap.Any("details", ev.Map()))
		}
	}
}
