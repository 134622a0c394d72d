package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/telco-sentinel/harrier/internal/domain"
)

// Worker processes ingested events asynchronously from the EventBus.
type Worker struct {
	bus      domain.EventBus
	pipeline *Pipeline

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// WorkerConfig holds worker configuration.
type WorkerConfig struct {
	// TenantIDs is the list of tenants to process (empty = global
	// subscription for dev/testing).
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, p *Pipeline) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		pipeline: p,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing ingested events for the given tenants.
func (w *Worker) Start(cfg WorkerConfig) error {
	if len(cfg.TenantIDs) == 0 {
		sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicEventIngested, w.handleMessage)
		if err != nil {
			return err
		}
		w.subscriptions = append(w.subscriptions, sub)
		slog.Info("global event worker started")
		return nil
	}

	for _, tenantID := range cfg.TenantIDs {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicEventIngested, w.handleMessage)
		if err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
		w.subscriptions = append(w.subscriptions, sub)

		slog.Info("tenant event worker started",
			"tenant_id", tenantID,
			"topic", domain.TopicEventIngested,
		)
	}

	return nil
}

// handleMessage decodes an event envelope from the bus and runs the pipeline.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var env domain.EventEnvelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		slog.Error("failed to parse event envelope",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	ev, err := env.Decode()
	if err != nil {
		slog.Error("invalid event envelope",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	outcome, err := w.pipeline.Process(ctx, msg.TenantID, ev)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidEvent) {
			slog.Warn("event rejected",
				"event_id", ev.EventID(),
				"tenant_id", msg.TenantID,
				"error", err,
			)
			return nil
		}
		slog.Error("pipeline processing failed",
			"event_id", ev.EventID(),
			"tenant_id", msg.TenantID,
			"error", err,
		)
		return err
	}

	if outcome.Threat == nil {
		slog.Debug("event scored below threshold",
			"event_id", outcome.EventID,
			"score", outcome.Score,
		)
	}

	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("event worker stopped")
	return nil
}
