package bus

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/telco-sentinel/harrier/internal/domain"
)

func waitFor(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestChannelBus(t *testing.T) {
	ctx := context.Background()

	t.Run("PublishSubscribe", func(t *testing.T) {
		b := NewChannelBus(16)
		defer b.Close()

		var mu sync.Mutex
		var received []*domain.Message

		_, err := b.Subscribe(ctx, "tenant-1", domain.TopicThreatCreated, func(ctx context.Context, msg *domain.Message) error {
			mu.Lock()
			received = append(received, msg)
			mu.Unlock()
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}

		if err := b.Publish(ctx, "tenant-1", domain.TopicThreatCreated, []byte(`{"id":"t-1"}`)); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		waitFor(t, time.Second, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(received) == 1
		})

		mu.Lock()
		msg := received[0]
		mu.Unlock()

		if msg.TenantID != "tenant-1" {
			t.Errorf("TenantID = %s, want tenant-1", msg.TenantID)
		}
		if msg.Topic != domain.TopicThreatCreated {
			t.Errorf("Topic = %s, want %s", msg.Topic, domain.TopicThreatCreated)
		}
		if !bytes.Equal(msg.Payload, []byte(`{"id":"t-1"}`)) {
			t.Errorf("Payload = %q", msg.Payload)
		}
		if msg.ID == "" || msg.Timestamp == 0 {
			t.Error("expected ID and Timestamp to be set")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		b := NewChannelBus(16)
		defer b.Close()

		var mu sync.Mutex
		countA, countB := 0, 0

		if _, err := b.Subscribe(ctx, "tenant-a", domain.TopicEventIngested, func(ctx context.Context, msg *domain.Message) error {
			mu.Lock()
			countA++
			mu.Unlock()
			return nil
		}); err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
		if _, err := b.Subscribe(ctx, "tenant-b", domain.TopicEventIngested, func(ctx context.Context, msg *domain.Message) error {
			mu.Lock()
			countB++
			mu.Unlock()
			return nil
		}); err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}

		if err := b.Publish(ctx, "tenant-a", domain.TopicEventIngested, []byte("a")); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		waitFor(t, time.Second, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return countA == 1
		})

		mu.Lock()
		gotB := countB
		mu.Unlock()
		if gotB != 0 {
			t.Errorf("tenant-b received %d messages, want 0", gotB)
		}
	})

	t.Run("MultipleSubscribersFanOut", func(t *testing.T) {
		b := NewChannelBus(16)
		defer b.Close()

		var mu sync.Mutex
		total := 0

		for i := 0; i < 3; i++ {
			if _, err := b.Subscribe(ctx, "tenant-1", domain.TopicActionCreated, func(ctx context.Context, msg *domain.Message) error {
				mu.Lock()
				total++
				mu.Unlock()
				return nil
			}); err != nil {
				t.Fatalf("Subscribe failed: %v", err)
			}
		}

		if err := b.Publish(ctx, "tenant-1", domain.TopicActionCreated, []byte("x")); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		waitFor(t, time.Second, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return total == 3
		})
	})

	t.Run("RequestReply", func(t *testing.T) {
		b := NewChannelBus(16)
		defer b.Close()

		_, err := b.Subscribe(ctx, "tenant-1", "scoring.request", func(handlerCtx context.Context, msg *domain.Message) error {
			replyTopic := msg.Metadata[replyMetadataKey]
			if replyTopic == "" {
				t.Error("request message missing reply metadata")
				return nil
			}
			return b.Publish(handlerCtx, "tenant-1", replyTopic, append([]byte("echo:"), msg.Payload...))
		})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}

		reply, err := b.Request(ctx, "tenant-1", "scoring.request", []byte("ping"))
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		if !bytes.Equal(reply, []byte("echo:ping")) {
			t.Errorf("reply = %q, want echo:ping", reply)
		}
	})

	t.Run("RequestHonorsContextCancellation", func(t *testing.T) {
		b := NewChannelBus(16)
		defer b.Close()

		reqCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		// No responder: the request should give up with the context.
		if _, err := b.Request(reqCtx, "tenant-1", "nobody.home", []byte("ping")); err == nil {
			t.Fatal("expected error when no responder replies")
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		b := NewChannelBus(16)
		defer b.Close()

		var mu sync.Mutex
		count := 0

		sub, err := b.Subscribe(ctx, "tenant-1", domain.TopicAnomalyDetected, func(ctx context.Context, msg *domain.Message) error {
			mu.Lock()
			count++
			mu.Unlock()
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
		if sub.Topic() != domain.TopicAnomalyDetected {
			t.Errorf("Topic = %s, want %s", sub.Topic(), domain.TopicAnomalyDetected)
		}

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("Unsubscribe failed: %v", err)
		}

		if err := b.Publish(ctx, "tenant-1", domain.TopicAnomalyDetected, []byte("x")); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		time.Sleep(50 * time.Millisecond)

		mu.Lock()
		got := count
		mu.Unlock()
		if got != 0 {
			t.Errorf("received %d messages after unsubscribe, want 0", got)
		}
	})

	t.Run("ClosedBusRejectsOperations", func(t *testing.T) {
		b := NewChannelBus(16)

		if err := b.Ping(ctx); err != nil {
			t.Errorf("Ping on open bus failed: %v", err)
		}

		if err := b.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		// Double close is safe.
		if err := b.Close(); err != nil {
			t.Errorf("second Close failed: %v", err)
		}

		if err := b.Ping(ctx); err == nil {
			t.Error("expected Ping to fail on closed bus")
		}
		if err := b.Publish(ctx, "tenant-1", domain.TopicEventIngested, []byte("x")); err == nil {
			t.Error("expected Publish to fail on closed bus")
		}
		if _, err := b.Subscribe(ctx, "tenant-1", domain.TopicEventIngested, func(ctx context.Context, msg *domain.Message) error {
			return nil
		}); err == nil {
			t.Error("expected Subscribe to fail on closed bus")
		}
	})
}

func TestNewFactory(t *testing.T) {
	t.Run("Channel", func(t *testing.T) {
		b, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 8})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer b.Close()

		if _, ok := b.(*ChannelBus); !ok {
			t.Errorf("expected *ChannelBus, got %T", b)
		}
	})

	t.Run("Unsupported", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Fatal("expected error for unsupported bus type")
		}
	})
}
