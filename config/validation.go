package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

func (c *AppConfig) Validate() error {
	// Validate store configuration
	switch strings.ToLower(c.Store.Type) {
	case "memory":
	case "redis":
		if c.Store.Redis.Address == "" {
			return errors.New("redis address must be specified for redis store")
		}
	default:
		return fmt.Errorf("invalid store type: %s. Must be 'memory' or 'redis'", c.Store.Type)
	}

	// Validate presence timing
	if c.Presence.TTL < 1 {
		return errors.New("presence TTL must be at least 1 second")
	}
	if c.Presence.HeartbeatTTL < 1 {
		return errors.New("heartbeat TTL must be at least 1 second")
	}
	if c.Presence.HeartbeatTTL > c.Presence.TTL {
		return errors.New("heartbeat TTL should not exceed presence TTL")
	}
	if c.Presence.StaleAfter < 1 {
		return errors.New("staleAfter must be at least 1 second")
	}

	// Validate session timing
	if c.Sessions.GraceMinutes < 1 {
		return errors.New("session grace must be at least 1 minute")
	}
	if c.Sessions.RetentionSeconds < 0 {
		return errors.New("session retention cannot be negative")
	}

	// Validate broker configuration
	switch strings.ToLower(c.Broker.Type) {
	case "inproc":
	case "redis":
		if c.Store.Redis.Address == "" {
			return errors.New("redis address must be specified for redis broker")
		}
	case "kafka":
		if len(c.Broker.Kafka.Brokers) == 0 {
			return errors.New("kafka brokers must be specified for kafka broker")
		}
		if c.Broker.Kafka.GroupID == "" {
			return errors.New("kafka groupID must be specified for kafka broker")
		}
	default:
		return fmt.Errorf("invalid broker type: %s. Must be 'inproc', 'redis' or 'kafka'", c.Broker.Type)
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			return errors.New("invalid metrics port")
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return errors.New("metrics path must start with '/'")
		}
	}

	return nil
}

func bindEnvVars() {
	// Store
	viper.BindEnv("store.type", "PRESENCE_STORE_TYPE")
	viper.BindEnv("store.redis.address", "PRESENCE_REDIS_ADDRESS")
	viper.BindEnv("store.redis.password", "PRESENCE_REDIS_PASSWORD")
	viper.BindEnv("store.redis.db", "PRESENCE_REDIS_DB")

	// Presence
	viper.BindEnv("presence.ttl", "PRESENCE_TTL")
	viper.BindEnv("presence.heartbeatTTL", "PRESENCE_HEARTBEAT_TTL")
	viper.BindEnv("presence.staleAfter", "PRESENCE_STALE_AFTER")
	viper.BindEnv("presence.sweepInterval", "PRESENCE_SWEEP_INTERVAL")

	// Sessions
	viper.BindEnv("sessions.graceMinutes", "PRESENCE_SESSION_GRACE_MINUTES")
	viper.BindEnv("sessions.retentionSeconds", "PRESENCE_SESSION_RETENTION_SECONDS")

	// Broker
	viper.BindEnv("broker.type", "PRESENCE_BROKER_TYPE")
	viper.BindEnv("broker.kafka.brokers", "PRESENCE_KAFKA_BROKERS")
	viper.BindEnv("broker.kafka.groupID", "PRESENCE_KAFKA_GROUPID")

	// Metrics
	viper.BindEnv("metrics.enabled", "PRESENCE_METRICS_ENABLED")
	viper.BindEnv("metrics.port", "PRESENCE_METRICS_PORT")

	// Logging
	viper.BindEnv("logging.level", "PRESENCE_LOG_LEVEL")
	viper.BindEnv("logging.format", "PRESENCE_LOG_FORMAT")
}
