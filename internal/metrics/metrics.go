package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Airing source
	SourceRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airing_source_requests_total",
			Help: "AniList queries by result (ok, rejected, error, breaker_open)",
		},
		[]string{"result"},
	)

	SourceLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "airing_source_request_duration_seconds",
			Help:    "Duration of AniList queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Planner
	PlannerPasses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "planner_passes_total",
			Help: "Completed daily planner passes",
		},
	)

	PlannerPassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "planner_pass_duration_seconds",
			Help:    "Wall time of one planner pass",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
	)

	PlannerUserFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planner_user_failures_total",
			Help: "Users skipped during a planner pass by reason (source, store, arm)",
		},
		[]string{"reason"},
	)

	// Episode timers
	TimersArmed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "episode_timers_armed_total",
			Help: "Arm calls on episode timers, re-arms included",
		},
	)

	TimersFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "episode_timers_fired_total",
			Help: "Episode timer fires by outcome (notified, stale, retry, parked, empty)",
		},
		[]string{"outcome"},
	)

	TimersPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "episode_timers_pending",
			Help: "Wake-ups currently scheduled in memory",
		},
	)

	// Notifications
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Outbound episode notifications by result (ok, error)",
		},
		[]string{"result"},
	)
)
