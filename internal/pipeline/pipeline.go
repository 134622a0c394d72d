// Package pipeline orchestrates the threat scoring and automated response
// flow: validate → config snapshot → score → classify → policy → persist.
// Events are processed independently; within one event the steps are strictly
// sequential.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/telco-sentinel/harrier/internal/activity"
	"github.com/telco-sentinel/harrier/internal/domain"
	"github.com/telco-sentinel/harrier/internal/policy"
	"github.com/telco-sentinel/harrier/internal/scoring"
)

// ErrRetryable wraps persistence failures the caller may retry. The event is
// safe to resubmit: either no threat was created, or the threat exists in
// analyzing with no partial response state.
var ErrRetryable = errors.New("retryable pipeline error")

const (
	// velocityWindow is the rolling window for per-source event counters.
	velocityWindow = time.Hour

	// behaviorWindow bounds how far back behavior context is assembled
	// from the activity store.
	behaviorWindow = 24 * time.Hour

	// configTTL bounds how long a cached config snapshot is served.
	configTTL = 30 * time.Second
)

// Pipeline wires scoring, classification, policy, and persistence.
type Pipeline struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	scorer   scoring.Provider
	policy   *policy.Engine
	activity *activity.Service
}

// New creates a pipeline. cache, bus, and activity may be nil in tests; the
// pipeline degrades to direct store access and skips publication.
func New(repo domain.Repository, cache domain.Cache, bus domain.EventBus, scorer scoring.Provider, policyEngine *policy.Engine, activitySvc *activity.Service) *Pipeline {
	return &Pipeline{
		repo:     repo,
		cache:    cache,
		bus:      bus,
		scorer:   scorer,
		policy:   policyEngine,
		activity: activitySvc,
	}
}

// Outcome is the result of processing one event.
type Outcome struct {
	EventID string              `json:"eventId"`
	Score   float64             `json:"score"`
	Result  *domain.ScoreResult `json:"result"`

	// Threat is nil when the score did not cross the creation threshold.
	Threat *domain.Threat `json:"threat,omitempty"`

	// Action is nil when no automated response was taken.
	Action *domain.Action `json:"action,omitempty"`

	// Velocity is the source's event count in the current window.
	Velocity int64 `json:"velocity,omitempty"`

	// ConfigDegraded is set when the config store was unreachable and the
	// policy engine fell back to taking no automated action.
	ConfigDegraded bool `json:"configDegraded,omitempty"`
}

// Process runs one event through the full pipeline.
func (p *Pipeline) Process(ctx context.Context, tenantID string, ev domain.Event) (*Outcome, error) {
	start := time.Now()

	if err := ev.Validate(); err != nil {
		eventsRejected.WithLabelValues(tenantID).Inc()
		p.publish(ctx, tenantID, domain.TopicEventRejected, map[string]string{
			"eventId": ev.EventID(),
			"reason":  err.Error(),
		})
		return nil, err
	}

	// One consistent config snapshot per run. An unreachable config store
	// degrades to scoring with defaults and a policy engine that takes no
	// automated action.
	cfg, cfgErr := p.configSnapshot(ctx, tenantID)
	if cfgErr != nil {
		slog.Warn("config store unavailable, failing safe",
			"tenant_id", tenantID,
			"event_id", ev.EventID(),
			"error", cfgErr,
		)
	}

	scoreCfg := cfg
	if scoreCfg == nil {
		scoreCfg = domain.DefaultSystemConfig()
	}

	outcome := &Outcome{
		EventID:        ev.EventID(),
		ConfigDegraded: cfgErr != nil,
	}

	// Track per-source velocity and assemble behavior context before
	// scoring so the provider sees the subject's actual window.
	if p.activity != nil {
		if count, err := p.activity.RecordEvent(ctx, tenantID, ev.Source(), velocityWindow); err == nil {
			outcome.Velocity = count
		}

		if sample, ok := ev.(*domain.BehaviorSample); ok {
			if err := p.activity.BehaviorContext(ctx, tenantID, sample, behaviorWindow); err != nil {
				slog.Debug("behavior context unavailable",
					"subject_id", sample.SubjectID,
					"error", err,
				)
			}
		}
	}

	result, err := p.scorer.Score(ctx, ev, scoreCfg)
	if err != nil {
		// Cancellation mid-score: no threat was created and the event
		// is safe to retry wholesale.
		return nil, err
	}

	outcome.Score = result.Score
	outcome.Result = result
	eventsProcessed.WithLabelValues(tenantID, string(ev.Kind())).Inc()

	// Strictly-above threshold: borderline events are dropped without a
	// threat record.
	if result.Score <= domain.ThreatCreationThreshold {
		slog.Debug("event below threat threshold",
			"event_id", ev.EventID(),
			"score", result.Score,
		)
		return outcome, nil
	}

	threat, err := p.createThreat(ctx, tenantID, ev, result)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetryable, err)
	}
	outcome.Threat = threat
	threatsCreated.WithLabelValues(tenantID, string(threat.Severity)).Inc()

	p.publish(ctx, tenantID, domain.TopicThreatCreated, threat)

	action, err := p.policy.Apply(ctx, tenantID, threat, cfg)
	if err != nil {
		// The block transaction rolled back; the threat stays in
		// analyzing and the caller may retry the response step.
		return outcome, fmt.Errorf("%w: %v", ErrRetryable, err)
	}
	if action != nil {
		outcome.Action = action
		actionsTaken.WithLabelValues(tenantID, string(action.Type)).Inc()
		p.publish(ctx, tenantID, domain.TopicActionCreated, action)
	}

	slog.Info("event processed",
		"event_id", ev.EventID(),
		"tenant_id", tenantID,
		"kind", ev.Kind(),
		"score", result.Score,
		"provider", result.Provider,
		"threat_id", threat.ID,
		"status", threat.Status,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return outcome, nil
}

func (p *Pipeline) createThreat(ctx context.Context, tenantID string, ev domain.Event, result *domain.ScoreResult) (*domain.Threat, error) {
	rawEvent, err := domain.MarshalEvent(ev)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	threat := &domain.Threat{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		CreatedAt:     now,
		UpdatedAt:     now,
		Type:          result.ThreatType,
		Source:        ev.Source(),
		Severity:      domain.ClassifySeverity(result.Score),
		Score:         result.Score,
		Status:        domain.StatusAnalyzing,
		Description:   result.Description,
		RawEvent:      rawEvent,
		ScoringDetail: result,
	}

	if err := p.repo.SaveThreat(ctx, tenantID, threat); err != nil {
		return nil, fmt.Errorf("failed to save threat: %w", err)
	}
	return threat, nil
}

// configSnapshot reads the system config through the cache, falling back to
// the store on a miss. Only a store failure is surfaced.
func (p *Pipeline) configSnapshot(ctx context.Context, tenantID string) (*domain.SystemConfig, error) {
	if p.cache != nil {
		if cfg, err := p.cache.GetSystemConfig(ctx, tenantID); err == nil && cfg != nil {
			return cfg, nil
		}
	}

	cfg, err := p.repo.GetSystemConfig(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if p.cache != nil {
		_ = p.cache.SetSystemConfig(ctx, tenantID, cfg, configTTL)
	}
	return cfg, nil
}

func (p *Pipeline) publish(ctx context.Context, tenantID, topic string, payload any) {
	if p.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := p.bus.Publish(ctx, tenantID, topic, data); err != nil {
		slog.Error("failed to publish",
			"topic", topic,
			"tenant_id", tenantID,
			"error", err,
		)
	}
}
