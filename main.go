package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nasiridrishi/FocusHive-sub020/aggregate"
	"github.com/nasiridrishi/FocusHive-sub020/config"
	"github.com/nasiridrishi/FocusHive-sub020/events"
	"github.com/nasiridrishi/FocusHive-sub020/metrics"
	"github.com/nasiridrishi/FocusHive-sub020/presence"
	"github.com/nasiridrishi/FocusHive-sub020/rooms"
	"github.com/nasiridrishi/FocusHive-sub020/sessions"
	"github.com/nasiridrishi/FocusHive-sub020/store"
)

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = zapcore.DebugLevel
	case "warn", "warning":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	}

	zapCfg := zap.NewProductionConfig()
	if strings.ToLower(cfg.Format) == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}

// connectRedis dials Redis with exponential backoff so the daemon survives
// starting before the store does.
func connectRedis(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Address,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		PoolTimeout: time.Duration(cfg.PoolTimeout) * time.Second,
	})

	operation := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return client.Ping(pingCtx).Err()
	}
	strategy := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(500*time.Millisecond),
		backoff.WithMaxInterval(10*time.Second),
		backoff.WithMaxElapsedTime(2*time.Minute),
	), ctx)

	err := backoff.RetryNotify(operation, strategy, func(err error, d time.Duration) {
		logger.Warn("waiting for Redis", zap.Error(err), zap.Duration("next_attempt_in", d))
	})
	if err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}
	if err := config.Initialize(env); err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}
	cfg := config.Get()

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	instanceID := uuid.New().String()
	logger.Info("starting presence core", zap.String("instance_id", instanceID), zap.String("env", env))

	// A single Redis client serves both the backend and the pub/sub
	// publisher when either is configured for Redis.
	var redisClient *redis.Client
	needsRedis := strings.ToLower(cfg.Store.Type) == "redis" || strings.ToLower(cfg.Broker.Type) == "redis"
	if needsRedis {
		redisClient, err = connectRedis(ctx, cfg.Store.Redis, logger)
		if err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		logger.Info("connected to Redis", zap.String("address", cfg.Store.Redis.Address))
	}

	// --- Backend selection ---
	var backend store.Backend
	switch strings.ToLower(cfg.Store.Type) {
	case "memory":
		mem := store.NewMemoryBackend(store.SystemClock{})
		go func() {
			ticker := time.NewTicker(time.Duration(cfg.Presence.TTL) * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					mem.DeleteExpired()
				}
			}
		}()
		backend = mem
	case "redis":
		backend = store.NewRedisBackend(redisClient)
	default:
		logger.Fatal("invalid store type", zap.String("type", cfg.Store.Type))
	}

	// --- Publisher selection ---
	var publisher events.Publisher
	logger.Info("initializing event publisher", zap.String("type", cfg.Broker.Type))
	switch strings.ToLower(cfg.Broker.Type) {
	case "inproc":
		publisher = events.NewInProcPublisher(logger)
	case "redis":
		publisher = events.NewRedisPublisher(redisClient, logger)
	case "kafka":
		publisher, err = events.NewKafkaPublisher(cfg.Broker.Kafka.Brokers, cfg.Broker.Kafka.GroupID, logger)
		if err != nil {
			logger.Fatal("failed to create Kafka publisher", zap.Error(err))
		}
	default:
		logger.Fatal("invalid broker type", zap.String("type", cfg.Broker.Type))
	}
	defer publisher.Close()

	clock := store.SystemClock{}
	presenceStore := presence.NewStore(backend, publisher, clock, logger)
	heartbeats := presence.NewHeartbeatMonitor(backend)
	roomIndex := rooms.NewIndex(backend, publisher, logger)
	registry := sessions.NewRegistry(backend, publisher, clock, sessions.Config{
		Grace:     time.Duration(cfg.Sessions.GraceMinutes) * time.Minute,
		Retention: time.Duration(cfg.Sessions.RetentionSeconds) * time.Second,
	}, logger)
	aggregator := aggregate.NewService(presenceStore, roomIndex, registry, logger)

	if cfg.Metrics.Enabled {
		metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path, logger)
		go refreshActiveUsers(ctx, aggregator, time.Duration(cfg.Metrics.RefreshInterval)*time.Second, logger)
	}

	if cfg.Presence.SweepInterval > 0 {
		interval := time.Duration(cfg.Presence.SweepInterval) * time.Second
		go sweepMembership(ctx, roomIndex, aggregator, interval, logger)
		go sweepStalePresence(ctx, presenceStore, heartbeats, roomIndex,
			time.Duration(cfg.Presence.StaleAfter)*time.Second, interval, logger)
	}
	if cfg.Sessions.SweepInterval > 0 {
		go sweepSessions(ctx, registry, time.Duration(cfg.Sessions.SweepInterval)*time.Second, logger)
	}

	logger.Info("presence core ready",
		zap.String("store", cfg.Store.Type),
		zap.String("broker", publisher.Type()))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	cancel()
	if err := backend.Close(); err != nil {
		logger.Warn("error closing backend", zap.Error(err))
	}
	logger.Info("presence core stopped")
}

// refreshActiveUsers keeps the active-user gauge in step with the store.
func refreshActiveUsers(ctx context.Context, agg *aggregate.Service, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := agg.ActiveUserCount(ctx)
			if err != nil {
				logger.Warn("failed to count active users", zap.Error(err))
				continue
			}
			metrics.ActiveUsers.Set(float64(count))
		}
	}
}

// sweepMembership removes room members whose presence records have expired.
func sweepMembership(ctx context.Context, index *rooms.Index, agg *aggregate.Service, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := index.Sweep(ctx, agg.Alive)
			if err != nil {
				logger.Warn("membership sweep failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("membership sweep removed stale members", zap.Int("removed", removed))
			}
		}
	}
}

// sweepStalePresence marks users offline whose heartbeat pulse has gone
// stale. The presence TTL is the backstop when a transport never pulses.
func sweepStalePresence(ctx context.Context, p *presence.Store, hb *presence.HeartbeatMonitor, index *rooms.Index, staleAfter, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids, err := p.ListUserIDs(ctx)
			if err != nil {
				logger.Warn("staleness sweep failed", zap.Error(err))
				continue
			}
			for _, userID := range ids {
				stale, err := hb.IsStale(ctx, userID, time.Now(), staleAfter)
				if err != nil || !stale {
					continue
				}
				if err := p.MarkOffline(ctx, userID); err != nil {
					logger.Warn("failed to mark stale user offline",
						zap.String("user", userID), zap.Error(err))
					continue
				}
				if err := index.Remove(ctx, userID); err != nil {
					logger.Warn("failed to remove stale user from room",
						zap.String("user", userID), zap.Error(err))
				}
				logger.Info("marked stale user offline", zap.String("user", userID))
			}
		}
	}
}

// sweepSessions abandons sessions that outlived their planned duration.
func sweepSessions(ctx context.Context, registry *sessions.Registry, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			abandoned, err := registry.AbandonOverdue(ctx)
			if err != nil {
				logger.Warn("session sweep failed", zap.Error(err))
				continue
			}
			if abandoned > 0 {
				logger.Info("session sweep abandoned overdue sessions", zap.Int("abandoned", abandoned))
			}
		}
	}
}
