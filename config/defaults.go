package config

import "github.com/spf13/viper"

func setDefaults() {
	// Store
	viper.SetDefault("store.type", "redis")
	viper.SetDefault("store.redis.address", "localhost:6379")
	viper.SetDefault("store.redis.db", 0)
	viper.SetDefault("store.redis.poolSize", 100)
	viper.SetDefault("store.redis.poolTimeout", 5)

	// Presence
	viper.SetDefault("presence.ttl", 60)
	viper.SetDefault("presence.heartbeatTTL", 45)
	viper.SetDefault("presence.staleAfter", 30)
	viper.SetDefault("presence.sweepInterval", 30)

	// Sessions
	viper.SetDefault("sessions.graceMinutes", 10)
	viper.SetDefault("sessions.retentionSeconds", 3600)
	viper.SetDefault("sessions.sweepInterval", 60)

	// Broker
	viper.SetDefault("broker.type", "redis")
	viper.SetDefault("broker.kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("broker.kafka.groupID", "presence-core")

	// Metrics
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9090)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("metrics.refreshInterval", 15)

	// Logging
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}
