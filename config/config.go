package config

import (
	"fmt"
	"sync"

	"github.com/spf13/viper"
)

type AppConfig struct {
	Store    StoreConfig
	Presence PresenceConfig
	Sessions SessionsConfig
	Broker   BrokerConfig
	Metrics  MetricsConfig
	Logging  LoggingConfig
}

type StoreConfig struct {
	Type  string // "memory" or "redis"
	Redis RedisConfig
}

type RedisConfig struct {
	Address     string
	Password    string
	DB          int
	PoolSize    int
	PoolTimeout int // Seconds
}

type PresenceConfig struct {
	TTL           int // Seconds a presence record lives without refresh
	HeartbeatTTL  int // Seconds a heartbeat pulse lives; may be shorter than TTL
	StaleAfter    int // Seconds without a pulse before a user counts as stale
	SweepInterval int // Seconds between membership sweeps; 0 disables
}

type SessionsConfig struct {
	GraceMinutes     int // Added to planned duration for record TTLs
	RetentionSeconds int // How long terminal sessions stay readable
	SweepInterval    int // Seconds between overdue-session sweeps; 0 disables
}

type BrokerConfig struct {
	Type  string // "inproc", "redis" or "kafka"
	Kafka KafkaConfig
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
}

type MetricsConfig struct {
	Enabled         bool
	Port            int
	Path            string
	RefreshInterval int // Seconds between active-user gauge refreshes
}

type LoggingConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or console
}

var (
	instance *AppConfig
	once     sync.Once
)

func Initialize(env string) error {
	var initErr error
	once.Do(func() {
		viper.SetConfigName(fmt.Sprintf("config.%s", env))
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")

		viper.AutomaticEnv()
		viper.SetEnvPrefix("PRESENCE")

		setDefaults()
		bindEnvVars()

		if err := viper.ReadInConfig(); err != nil {
			initErr = fmt.Errorf("config file error: %w", err)
			return
		}

		if err := viper.Unmarshal(&instance); err != nil {
			initErr = fmt.Errorf("config unmarshal error: %w", err)
			return
		}

		if err := instance.Validate(); err != nil {
			initErr = fmt.Errorf("config validation failed: %w", err)
			return
		}
	})
	return initErr
}

func Get() *AppConfig {
	return instance
}
