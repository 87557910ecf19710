package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/nasiridrishi/FocusHive-sub020/metrics"
	"go.uber.org/zap"
)

const subscriberBuffer = 64

// InProcPublisher is a channel-based fan-out for single-process deployments
// and tests. Delivery is best effort: a subscriber that cannot keep up has
// messages dropped rather than blocking the mutating caller.
type InProcPublisher struct {
	mu     sync.RWMutex
	subs   map[string][]chan Message
	closed bool
	logger *zap.Logger
}

// NewInProcPublisher creates an in-process publisher.
func NewInProcPublisher(logger *zap.Logger) *InProcPublisher {
	return &InProcPublisher{
		subs:   make(map[string][]chan Message),
		logger: logger,
	}
}

func (p *InProcPublisher) Publish(ctx context.Context, channel string, msg Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("publisher is closed")
	}

	for _, sub := range p.subs[channel] {
		select {
		case sub <- msg:
		default:
			p.logger.Warn("dropping event for slow subscriber", zap.String("channel", channel))
		}
	}
	metrics.EventsPublished.WithLabelValues(p.Type()).Inc()
	return nil
}

func (p *InProcPublisher) Subscribe(ctx context.Context, channel string) (<-chan Message, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("publisher is closed")
	}
	sub := make(chan Message, subscriberBuffer)
	p.subs[channel] = append(p.subs[channel], sub)
	p.mu.Unlock()

	go func() {
		<-ctx.Done()
		p.unsubscribe(channel, sub)
	}()

	return sub, nil
}

func (p *InProcPublisher) unsubscribe(channel string, sub chan Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	subs := p.subs[channel]
	for i, s := range subs {
		if s == sub {
			p.subs[channel] = append(subs[:i], subs[i+1:]...)
			close(s)
			break
		}
	}
	if len(p.subs[channel]) == 0 {
		delete(p.subs, channel)
	}
}

func (p *InProcPublisher) Type() string { return "inproc" }

func (p *InProcPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for channel, subs := range p.subs {
		for _, sub := range subs {
			close(sub)
		}
		delete(p.subs, channel)
	}
	return nil
}
