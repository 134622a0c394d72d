package domain

import (
	"encoding/json"
	"time"
)

// Severity is the shared severity vocabulary for threats and anomalies.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Classification thresholds. A threat is only created for scores strictly
// above ThreatCreationThreshold; scores at or below it produce nothing.
const (
	ThreatCreationThreshold = 5.0

	severityCriticalMin = 8.5
	severityHighMin     = 7.0
	severityMediumMin   = 5.0
)

// ClassifySeverity maps a 0-10 score to a severity tier. Severity is fixed
// at threat-creation time and never recomputed.
func ClassifySeverity(score float64) Severity {
	switch {
	case score >= severityCriticalMin:
		return SeverityCritical
	case score >= severityHighMin:
		return SeverityHigh
	case score >= severityMediumMin:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// ThreatStatus is the lifecycle state of a threat.
// The core only ever moves a threat from analyzing to blocked; resolved and
// false_positive are operator transitions.
type ThreatStatus string

const (
	StatusAnalyzing     ThreatStatus = "analyzing"
	StatusBlocked       ThreatStatus = "blocked"
	StatusResolved      ThreatStatus = "resolved"
	StatusFalsePositive ThreatStatus = "false_positive"
)

// KnownThreatStatus reports whether s is a defined status value.
func KnownThreatStatus(s ThreatStatus) bool {
	switch s {
	case StatusAnalyzing, StatusBlocked, StatusResolved, StatusFalsePositive:
		return true
	}
	return false
}

// Threat is the persisted record of a qualifying scored event. Threats are
// append-only: status changes are audited through associated actions, and
// threats are never deleted.
type Threat struct {
	ID        string       `json:"id"`
	TenantID  string       `json:"tenantId"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
	Type      ThreatType   `json:"threatType"`
	Source    string       `json:"source"`
	Severity  Severity     `json:"severity"`
	Score     float64      `json:"score"`
	Status    ThreatStatus `json:"status"`

	Description string `json:"description"`

	// RawEvent is the event envelope that produced the threat.
	RawEvent json.RawMessage `json:"rawEvent,omitempty"`

	// ScoringDetail is the full score result backing the classification.
	ScoringDetail *ScoreResult `json:"scoringDetail,omitempty"`
}

// ActionType identifies the containment or case-management response taken.
type ActionType string

const (
	ActionBlockIP        ActionType = "block_ip"
	ActionBlockPhone     ActionType = "block_phone"
	ActionManualOverride ActionType = "manual_override"
	ActionCreateCase     ActionType = "create_case"
)

// KnownActionType reports whether a is a defined action type.
func KnownActionType(a ActionType) bool {
	switch a {
	case ActionBlockIP, ActionBlockPhone, ActionManualOverride, ActionCreateCase:
		return true
	}
	return false
}

// Action is a recorded response. Automated actions are created by the policy
// engine with ThreatID set; operators may record manual actions with or
// without a threat reference. Actions are immutable once created.
type Action struct {
	ID        string     `json:"id"`
	TenantID  string     `json:"tenantId"`
	CreatedAt time.Time  `json:"createdAt"`
	ThreatID  string     `json:"threatId,omitempty"`
	Type      ActionType `json:"actionType"`
	Automated bool       `json:"automated"`
	Analyst   string     `json:"analyst,omitempty"`
	Details   string     `json:"details"`
}
