package domain

import (
	"fmt"
	"time"
)

// ThreatType categorizes the kind of threat a score describes.
type ThreatType string

const (
	ThreatTypeSMSPhishing      ThreatType = "sms_phishing"
	ThreatTypeCallFraud        ThreatType = "call_fraud"
	ThreatTypeSIMSwap          ThreatType = "sim_swap"
	ThreatTypeAnomalousTraffic ThreatType = "anomalous_traffic"
)

// KnownThreatType reports whether t is one of the defined threat types.
func KnownThreatType(t ThreatType) bool {
	switch t {
	case ThreatTypeSMSPhishing, ThreatTypeCallFraud, ThreatTypeSIMSwap, ThreatTypeAnomalousTraffic:
		return true
	}
	return false
}

// ScoreResult is the output of a single scoring call. Produced fresh per
// event and never mutated afterwards.
type ScoreResult struct {
	// Score is the numeric risk on a 0-10 scale.
	Score float64 `json:"score"`

	ThreatType ThreatType `json:"threatType"`

	// Confidence is in [0, 1].
	Confidence float64 `json:"confidence"`

	Description     string   `json:"description"`
	Recommendations []string `json:"recommendations,omitempty"`

	// Provider records which scoring path produced the result
	// ("inference" or "fallback").
	Provider string `json:"provider,omitempty"`
}

// Validate checks the result is in contract shape. Used to reject malformed
// responses from the external inference service.
func (r *ScoreResult) Validate() error {
	if r.Score < 0 || r.Score > 10 {
		return fmt.Errorf("score %.2f out of range [0,10]", r.Score)
	}
	if !KnownThreatType(r.ThreatType) {
		return fmt.Errorf("unknown threat type %q", r.ThreatType)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("confidence %.2f out of range [0,1]", r.Confidence)
	}
	return nil
}

// AnomalyType identifies which outlier pass produced a finding.
type AnomalyType string

const (
	AnomalyDurationOutlier   AnomalyType = "duration_outlier"
	AnomalyLocationFrequency AnomalyType = "location_frequency_spike"
	AnomalyFraudRateSpike    AnomalyType = "fraud_rate_spike"
)

// Anomaly is an independent statistical finding over stored activity. It is
// not a threat and is never persisted; findings are returned to the caller
// and published on the event bus.
type Anomaly struct {
	ID              string         `json:"id"`
	Timestamp       time.Time      `json:"timestamp"`
	AnomalyType     AnomalyType    `json:"anomalyType"`
	Severity        Severity       `json:"severity"`
	Score           float64        `json:"score"`
	Description     string         `json:"description"`
	AffectedMetrics []string       `json:"affectedMetrics"`
	Confidence      float64        `json:"confidence"`
	Source          string         `json:"source"`
	Details         map[string]any `json:"details,omitempty"`
}
