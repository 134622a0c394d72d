package domain

import (
	"time"
)

// PolicyRule is an operator-defined response rule evaluated after the
// built-in policy checks. The expression is a CEL formula over threat
// attributes (threat_type, severity, score, source) that must return bool;
// on a match the configured action is taken automatically.
type PolicyRule struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Expression is the CEL predicate, e.g.
	// `threat_type == "sms_phishing" && score >= 9.0`.
	Expression string `json:"expression"`

	// Action is taken when the expression matches.
	Action ActionType `json:"actionType"`

	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}
