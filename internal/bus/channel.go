// Package bus provides event bus implementations for Harrier.
// ChannelBus runs in-process for the Community tier; NATSBus backs
// the Pro tier with a durable broker.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/telco-sentinel/harrier/internal/domain"
)

// replyMetadataKey carries the reply topic for request-reply over channels.
const replyMetadataKey = "reply"

// requestTimeout bounds how long a channel-bus request waits for a reply.
const requestTimeout = 5 * time.Second

// ChannelBus implements EventBus using Go channels (Community tier).
// Suitable for single-process deployments with modest throughput.
type ChannelBus struct {
	mu            sync.RWMutex
	subscriptions map[string][]*channelSubscription
	bufferSize    int
	closed        bool
}

type channelSubscription struct {
	id       string
	tenantID string
	topic    string
	handler  domain.MessageHandler
	msgCh    chan *domain.Message
	done     chan struct{}
	bus      *ChannelBus
}

// NewChannelBus creates an in-process event bus backed by buffered channels.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &ChannelBus{
		subscriptions: make(map[string][]*channelSubscription),
		bufferSize:    bufferSize,
	}
}

func subscriptionKey(tenantID, topic string) string {
	return tenantID + ":" + topic
}

// Publish delivers a message to all subscribers of the tenant's topic.
// Delivery is asynchronous; a full subscriber buffer drops the message
// with a warning rather than blocking the publisher.
func (b *ChannelBus) Publish(ctx context.Context, tenantID, topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("bus is closed")
	}

	msg := &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Timestamp: time.Now().Unix(),
	}

	b.deliverLocked(ctx, tenantID, topic, msg)
	return nil
}

// deliverLocked fans a message out to subscribers. Caller holds at least a
// read lock.
func (b *ChannelBus) deliverLocked(ctx context.Context, tenantID, topic string, msg *domain.Message) {
	key := subscriptionKey(tenantID, topic)
	for _, sub := range b.subscriptions[key] {
		select {
		case sub.msgCh <- msg:
		case <-ctx.Done():
			return
		default:
			slog.Warn("dropping message, subscriber buffer full",
				"tenant_id", tenantID,
				"topic", topic,
				"subscription_id", sub.id)
		}
	}
}

// Subscribe registers a handler for a tenant's topic. The handler runs
// on a dedicated goroutine until Unsubscribe or Close.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	sub := &channelSubscription{
		id:       uuid.New().String(),
		tenantID: tenantID,
		topic:    topic,
		handler:  handler,
		msgCh:    make(chan *domain.Message, b.bufferSize),
		done:     make(chan struct{}),
		bus:      b,
	}

	key := subscriptionKey(tenantID, topic)
	b.subscriptions[key] = append(b.subscriptions[key], sub)

	go sub.handleMessages()

	return sub, nil
}

// Request publishes a message and waits for a reply on a temporary topic.
// The responder finds the reply topic in the message metadata.
func (b *ChannelBus) Request(ctx context.Context, tenantID, topic string, payload []byte) ([]byte, error) {
	replyTopic := topic + ".reply." + uuid.New().String()
	replyCh := make(chan []byte, 1)

	replySub, err := b.Subscribe(ctx, tenantID, replyTopic, func(ctx context.Context, msg *domain.Message) error {
		select {
		case replyCh <- msg.Payload:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to reply topic: %w", err)
	}
	defer replySub.Unsubscribe()

	reqMsg := &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  map[string]string{replyMetadataKey: replyTopic},
		Timestamp: time.Now().Unix(),
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, fmt.Errorf("bus is closed")
	}
	b.deliverLocked(ctx, tenantID, topic, reqMsg)
	b.mu.RUnlock()

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-time.After(requestTimeout):
		return nil, fmt.Errorf("request timed out after %v", requestTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ping reports whether the bus is usable.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	return nil
}

// Close shuts down the bus and all subscriptions.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.subscriptions {
		for _, sub := range subs {
			close(sub.done)
		}
	}
	b.subscriptions = make(map[string][]*channelSubscription)

	return nil
}

func (s *channelSubscription) handleMessages() {
	for {
		select {
		case msg := <-s.msgCh:
			ctx := context.Background()
			if err := s.handler(ctx, msg); err != nil {
				slog.Error("message handler error",
					"tenant_id", s.tenantID,
					"topic", s.topic,
					"subscription_id", s.id,
					"error", err)
			}
		case <-s.done:
			return
		}
	}
}

// Unsubscribe removes this subscription from the bus.
func (s *channelSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	key := subscriptionKey(s.tenantID, s.topic)
	subs := s.bus.subscriptions[key]
	for i, sub := range subs {
		if sub.id == s.id {
			s.bus.subscriptions[key] = append(subs[:i], subs[i+1:]...)
			close(s.done)
			break
		}
	}

	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.topic
}
