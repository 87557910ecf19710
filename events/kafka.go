package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	"github.com/nasiridrishi/FocusHive-sub020/metrics"
	"go.uber.org/zap"
)

const (
	kafkaMaxRetries     = 3
	kafkaInitialBackoff = 100 * time.Millisecond
	kafkaMaxBackoff     = 5 * time.Second
)

// KafkaPublisher implements Publisher on Apache Kafka for deployments that
// already route their realtime traffic through a broker cluster. Note that
// Kafka retains published messages, which is stronger than the presence
// contract requires; consumers start at the newest offset so late
// subscribers still never observe old events.
type KafkaPublisher struct {
	brokers       []string
	producer      sarama.SyncProducer
	consumerGroup sarama.ConsumerGroup
	logger        *zap.Logger
	mu            sync.RWMutex
	closed        bool
}

// NewKafkaPublisher creates a Kafka-backed event publisher.
func NewKafkaPublisher(brokers []string, groupID string, logger *zap.Logger) (*KafkaPublisher, error) {
	config := sarama.NewConfig()

	// Producer configuration
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = kafkaMaxRetries
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond

	// Consumer configuration
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	config.Consumer.Group.Session.Timeout = 10 * time.Second
	config.Consumer.Group.Heartbeat.Interval = 3 * time.Second

	config.Version = sarama.V3_6_0_0

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	consumerGroup, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		producer.Close()
		return nil, fmt.Errorf("failed to create Kafka consumer group: %w", err)
	}

	return &KafkaPublisher{
		brokers:       brokers,
		producer:      producer,
		consumerGroup: consumerGroup,
		logger:        logger,
	}, nil
}

// topicFor maps a channel name to a legal Kafka topic name. Channel names
// use "room:<id>" / "user:<id>", and ':' is not a valid topic character.
func topicFor(channel string) string {
	return strings.ReplaceAll(channel, ":", ".")
}

func (p *KafkaPublisher) Publish(ctx context.Context, channel string, msg Message) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("publisher is closed")
	}
	p.mu.RUnlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	kafkaMsg := &sarama.ProducerMessage{
		Topic: topicFor(channel),
		// Key by channel so every event for a room/user lands in one
		// partition and stays ordered.
		Key:       sarama.StringEncoder(channel),
		Value:     sarama.ByteEncoder(data),
		Timestamp: time.Now(),
	}

	operation := func() error {
		_, _, err := p.producer.SendMessage(kafkaMsg)
		return err
	}

	backoffStrategy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(kafkaInitialBackoff),
				backoff.WithMaxInterval(kafkaMaxBackoff),
			),
			kafkaMaxRetries,
		),
		ctx,
	)

	err = backoff.RetryNotify(operation, backoffStrategy, func(err error, d time.Duration) {
		metrics.PublishRetries.WithLabelValues(p.Type()).Inc()
		p.logger.Warn("retrying Kafka publish",
			zap.String("channel", channel), zap.Error(err), zap.Duration("next_attempt_in", d))
	})
	if err != nil {
		return err
	}
	metrics.EventsPublished.WithLabelValues(p.Type()).Inc()
	return nil
}

func (p *KafkaPublisher) Subscribe(ctx context.Context, channel string) (<-chan Message, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, fmt.Errorf("publisher is closed")
	}
	p.mu.RUnlock()

	messages := make(chan Message, subscriberBuffer)

	handler := &consumerGroupHandler{
		messages: messages,
		ready:    make(chan bool),
		logger:   p.logger,
	}

	go func() {
		defer close(messages)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				if err := p.consumerGroup.Consume(ctx, []string{topicFor(channel)}, handler); err != nil {
					p.logger.Error("consumer group error", zap.Error(err))
					return
				}
			}
		}
	}()

	go func() {
		for err := range p.consumerGroup.Errors() {
			p.logger.Error("consumer group error", zap.Error(err))
		}
	}()

	select {
	case <-handler.ready:
		return messages, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Second):
		return nil, fmt.Errorf("timeout waiting for consumer to be ready")
	}
}

func (p *KafkaPublisher) Type() string { return "kafka" }

// Close cleans up resources.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	var errs []error
	if err := p.producer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close producer: %w", err))
	}
	if err := p.consumerGroup.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close consumer group: %w", err))
	}
	p.closed = true

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}
	return nil
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	messages chan<- Message
	ready    chan bool
	once     sync.Once
	logger   *zap.Logger
}

// Setup is run at the beginning of a new session, before ConsumeClaim
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.once.Do(func() {
		close(h.ready)
	})
	return nil
}

// Cleanup is run at the end of a session, once all ConsumeClaim goroutines have exited
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim must start a consumer loop of ConsumerGroupClaim's Messages().
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case kafkaMsg := <-claim.Messages():
			if kafkaMsg == nil {
				return nil
			}

			var msg Message
			if err := json.Unmarshal(kafkaMsg.Value, &msg); err != nil {
				h.logger.Warn("dropping undecodable event", zap.Error(err))
				session.MarkMessage(kafkaMsg, "")
				continue
			}

			select {
			case h.messages <- msg:
			case <-session.Context().Done():
				return nil
			}

			session.MarkMessage(kafkaMsg, "")

		case <-session.Context().Done():
			return nil
		}
	}
}
