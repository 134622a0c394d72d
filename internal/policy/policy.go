// Package policy implements the automated response engine. Built-in rules
// are evaluated in a fixed order, first match wins; operator-defined CEL
// rules run only when no built-in matched. A match records one automated
// action and blocks the threat in a single repository transaction.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/telco-sentinel/harrier/internal/domain"
	"github.com/telco-sentinel/harrier/internal/repository"
)

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Match      bool
	ActionType domain.ActionType

	// Rule names the built-in or custom rule that matched.
	Rule string
}

// Evaluate runs the built-in response rules against a threat.
// A nil config means the config store was unreachable; the engine fails safe
// and never matches.
func Evaluate(t *domain.Threat, cfg *domain.SystemConfig) Decision {
	if cfg == nil {
		return Decision{}
	}

	// 1. Critical threats are blocked at the source when the operator has
	// enabled critical auto-blocking. Phishing sources are phone-addressed;
	// everything else is treated as network-addressed.
	if t.Severity == domain.SeverityCritical && cfg.AutoBlockCritical {
		actionType := domain.ActionBlockIP
		if t.Type == domain.ThreatTypeSMSPhishing {
			actionType = domain.ActionBlockPhone
		}
		return Decision{Match: true, ActionType: actionType, Rule: "auto_block_critical"}
	}

	// 2. Call fraud blocks the caller when fraud auto-blocking is on.
	if t.Type == domain.ThreatTypeCallFraud && cfg.AutoBlockFraud {
		return Decision{Match: true, ActionType: domain.ActionBlockPhone, Rule: "auto_block_fraud"}
	}

	// 3. SIM swaps open a case unless the operator wants manual handling.
	if t.Type == domain.ThreatTypeSIMSwap && !cfg.SIMSwapManual {
		return Decision{Match: true, ActionType: domain.ActionCreateCase, Rule: "sim_swap_case"}
	}

	return Decision{}
}

// Engine applies policy decisions against the store and evaluates custom
// rules after the built-ins.
type Engine struct {
	repo   domain.Repository
	custom *CustomRules
}

// NewEngine creates a policy engine. custom may be nil.
func NewEngine(repo domain.Repository, custom *CustomRules) *Engine {
	return &Engine{
		repo:   repo,
		custom: custom,
	}
}

// Apply evaluates policy for a freshly created threat and, on a match,
// records one automated action and transitions the threat to blocked
// atomically. Re-applying against an already-blocked threat is a no-op.
//
// cfg may be nil when the config store is unreachable; the engine then takes
// no automated action regardless of severity.
func (e *Engine) Apply(ctx context.Context, tenantID string, t *domain.Threat, cfg *domain.SystemConfig) (*domain.Action, error) {
	// Idempotency is checked by status, not by action existence, so
	// at-most-once delivery upstream stays safe to retry.
	if t.Status != domain.StatusAnalyzing {
		return nil, nil
	}

	if cfg == nil {
		slog.Warn("config unavailable, automated response disabled for this threat",
			"threat_id", t.ID,
			"tenant_id", tenantID,
		)
		return nil, nil
	}

	decision := Evaluate(t, cfg)
	if !decision.Match && e.custom != nil {
		decision = e.custom.Evaluate(t)
	}
	if !decision.Match {
		return nil, nil
	}

	action := &domain.Action{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		CreatedAt: time.Now().UTC(),
		ThreatID:  t.ID,
		Type:      decision.ActionType,
		Automated: true,
		Details: fmt.Sprintf("rule %s: %s threat from %s scored %.1f",
			decision.Rule, t.Type, t.Source, t.Score),
	}

	if err := e.repo.BlockThreat(ctx, tenantID, t.ID, action); err != nil {
		// A concurrent evaluation already blocked it; nothing to do.
		if errors.Is(err, repository.ErrConflict) {
			return nil, nil
		}
		// The transaction rolled back; the threat remains analyzing and
		// the caller may retry.
		return nil, fmt.Errorf("failed to apply %s: %w", decision.ActionType, err)
	}

	t.Status = domain.StatusBlocked

	slog.Info("automated response applied",
		"threat_id", t.ID,
		"tenant_id", tenantID,
		"rule", decision.Rule,
		"action_type", decision.ActionType,
	)

	return action, nil
}
