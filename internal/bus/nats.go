package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/telco-sentinel/harrier/internal/domain"
)

// NATSBus implements EventBus using NATS (Pro tier).
// Suitable for multi-process deployments where pipeline workers and the
// API server run on separate hosts.
type NATSBus struct {
	conn *nats.Conn
}

type natsSubscription struct {
	sub   *nats.Subscription
	topic string
}

// NewNATSBus connects to a NATS server with automatic reconnection.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.NATSMaxReconnects),
		nats.ReconnectWait(time.Duration(cfg.NATSReconnectWait) * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			slog.Info("nats connection closed")
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}

	conn, err := nats.Connect(cfg.NATSUrl, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", cfg.NATSUrl, err)
	}

	return &NATSBus{conn: conn}, nil
}

// makeSubject builds the NATS subject for a tenant's topic.
// Subjects are namespaced per tenant: harrier.<tenant>.<topic>.
func makeSubject(tenantID, topic string) string {
	return fmt.Sprintf("harrier.%s.%s", tenantID, topic)
}

// Publish sends a message to the tenant's topic.
func (b *NATSBus) Publish(ctx context.Context, tenantID, topic string, payload []byte) error {
	subject := makeSubject(tenantID, topic)
	if err := b.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a handler for a tenant's topic.
func (b *NATSBus) Subscribe(ctx context.Context, tenantID, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	subject := makeSubject(tenantID, topic)

	sub, err := b.conn.Subscribe(subject, func(natsMsg *nats.Msg) {
		msg := &domain.Message{
			ID:        uuid.New().String(),
			TenantID:  tenantID,
			Topic:     topic,
			Payload:   natsMsg.Data,
			Timestamp: time.Now().Unix(),
		}
		if natsMsg.Reply != "" {
			msg.Metadata = map[string]string{replyMetadataKey: natsMsg.Reply}
		}

		if err := handler(context.Background(), msg); err != nil {
			slog.Error("message handler error",
				"tenant_id", tenantID,
				"topic", topic,
				"subject", subject,
				"error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	return &natsSubscription{sub: sub, topic: topic}, nil
}

// Request publishes a message and waits for a reply.
func (b *NATSBus) Request(ctx context.Context, tenantID, topic string, payload []byte) ([]byte, error) {
	subject := makeSubject(tenantID, topic)

	natsMsg, err := b.conn.RequestWithContext(ctx, subject, payload)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", subject, err)
	}

	return natsMsg.Data, nil
}

// Ping reports whether the NATS connection is up.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("nats connection is down: %s", b.conn.Status())
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (b *NATSBus) Close() error {
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return fmt.Errorf("failed to drain nats connection: %w", err)
	}
	return nil
}

// Unsubscribe removes the NATS subscription.
func (s *natsSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}

// Topic returns the subscribed topic.
func (s *natsSubscription) Topic() string {
	return s.topic
}
