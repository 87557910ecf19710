package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *AppConfig {
	return &AppConfig{
		Store: StoreConfig{
			Type:  "redis",
			Redis: RedisConfig{Address: "localhost:6379"},
		},
		Presence: PresenceConfig{TTL: 60, HeartbeatTTL: 45, StaleAfter: 30, SweepInterval: 30},
		Sessions: SessionsConfig{GraceMinutes: 10, RetentionSeconds: 3600, SweepInterval: 60},
		Broker: BrokerConfig{
			Type:  "kafka",
			Kafka: KafkaConfig{Brokers: []string{"localhost:9092"}, GroupID: "presence-core"},
		},
		Metrics: MetricsConfig{Enabled: true, Port: 9090, Path: "/metrics"},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

func TestValidateAccepts(t *testing.T) {
	assert.NoError(t, validConfig().Validate())

	c := validConfig()
	c.Store.Type = "memory"
	c.Broker.Type = "inproc"
	assert.NoError(t, c.Validate())
}

func TestValidateRejects(t *testing.T) {
	mutations := map[string]func(*AppConfig){
		"unknown store type":             func(c *AppConfig) { c.Store.Type = "etcd" },
		"redis store without address":    func(c *AppConfig) { c.Store.Redis.Address = "" },
		"zero presence TTL":              func(c *AppConfig) { c.Presence.TTL = 0 },
		"zero heartbeat TTL":             func(c *AppConfig) { c.Presence.HeartbeatTTL = 0 },
		"heartbeat TTL above presence":   func(c *AppConfig) { c.Presence.HeartbeatTTL = c.Presence.TTL + 1 },
		"zero staleAfter":                func(c *AppConfig) { c.Presence.StaleAfter = 0 },
		"zero session grace":             func(c *AppConfig) { c.Sessions.GraceMinutes = 0 },
		"negative retention":             func(c *AppConfig) { c.Sessions.RetentionSeconds = -1 },
		"unknown broker type":            func(c *AppConfig) { c.Broker.Type = "nats" },
		"kafka broker without brokers":   func(c *AppConfig) { c.Broker.Kafka.Brokers = nil },
		"kafka broker without group":     func(c *AppConfig) { c.Broker.Kafka.GroupID = "" },
		"metrics port out of range":      func(c *AppConfig) { c.Metrics.Port = 70000 },
		"metrics path without slash":     func(c *AppConfig) { c.Metrics.Path = "metrics" },
	}
	for name, mutate := range mutations {
		c := validConfig()
		mutate(c)
		assert.Error(t, c.Validate(), name)
	}
}
