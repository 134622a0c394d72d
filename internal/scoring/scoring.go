// Package scoring computes risk scores for telecom events. It provides an
// external-inference adapter and a local statistical fallback behind a single
// Provider abstraction; the Selector picks a path per call and fails closed
// to the heuristic so callers always receive a result.
package scoring

import (
	"context"
	"log/slog"

	"github.com/telco-sentinel/harrier/internal/domain"
)

// Provider scores a single event. Implementations must not mutate the event.
type Provider interface {
	Name() string
	Score(ctx context.Context, ev domain.Event, cfg *domain.SystemConfig) (*domain.ScoreResult, error)
}

// Selector routes scoring between the external inference service and the
// local fallback. The external path is tried first when enabled; any
// transport error, timeout, or malformed response falls through to the
// heuristic. The only error Selector surfaces is context cancellation, so a
// shutdown mid-call never produces a half-scored event.
type Selector struct {
	external Provider
	fallback Provider
	enabled  bool
}

// NewSelector builds a selector. external may be nil, which forces
// fallback-only mode regardless of enabled.
func NewSelector(external, fallback Provider, externalEnabled bool) *Selector {
	return &Selector{
		external: external,
		fallback: fallback,
		enabled:  externalEnabled && external != nil,
	}
}

// Name implements Provider.
func (s *Selector) Name() string { return "selector" }

// Score implements Provider with fail-closed fallback semantics.
func (s *Selector) Score(ctx context.Context, ev domain.Event, cfg *domain.SystemConfig) (*domain.ScoreResult, error) {
	if s.enabled {
		result, err := s.external.Score(ctx, ev, cfg)
		if err == nil {
			return result, nil
		}

		// Cancellation is the caller shutting down, not a scoring
		// failure. Propagate so no threat is created for this event.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		slog.Debug("external scoring failed, using fallback",
			"event_id", ev.EventID(),
			"error", err,
		)
	}

	return s.fallback.Score(ctx, ev, cfg)
}
