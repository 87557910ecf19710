package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	// Presence metrics
	PresenceUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_updates_total",
		Help: "The total number of presence records written.",
	})
	Heartbeats = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_heartbeats_total",
		Help: "The total number of heartbeat pulses recorded.",
	})
	ActiveUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "presence_active_users",
		Help: "The current number of distinct users with a live presence record.",
	})
	StaleMembersPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_stale_members_pruned_total",
		Help: "The total number of expired users removed from room membership sets.",
	})

	// Session metrics
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "focus_sessions_started_total",
		Help: "The total number of focus sessions started.",
	})
	SessionsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "focus_sessions_completed_total",
		Help: "The total number of focus sessions completed.",
	})
	SessionsAbandoned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "focus_sessions_abandoned_total",
		Help: "The total number of focus sessions abandoned, explicitly or by expiry.",
	})
	SessionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "focus_session_conflicts_total",
		Help: "The total number of session starts rejected because one was already active.",
	})

	// Event publisher metrics
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_events_published_total",
		Help: "The total number of events handed to the event publisher.",
	}, []string{"publisher_type"})
	PublishRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_event_publish_retries_total",
		Help: "The total number of retries when publishing events.",
	}, []string{"publisher_type"})

	// Aggregation metrics
	SummaryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "room_summary_duration_seconds",
		Help:    "Duration of room presence summary computations.",
		Buckets: prometheus.DefBuckets,
	})
)

// StartServer starts the HTTP server for Prometheus metrics.
func StartServer(port int, path string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	logger.Info("starting metrics server", zap.String("addr", addr), zap.String("path", path))

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("metrics server failed", zap.Error(err))
		}
	}()
}
