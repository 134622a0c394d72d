package domain

import (
	"testing"
	"time"
)

func TestClassifySeverity(t *testing.T) {
	tests := []struct {
		score    float64
		expected Severity
	}{
		{10.0, SeverityCritical},
		{8.5, SeverityCritical},
		{8.49, SeverityHigh},
		{7.0, SeverityHigh},
		{6.99, SeverityMedium},
		{5.01, SeverityMedium},
		{5.0, SeverityMedium},
		{4.99, SeverityLow},
		{0.0, SeverityLow},
	}

	for _, tt := range tests {
		if got := ClassifySeverity(tt.score); got != tt.expected {
			t.Errorf("ClassifySeverity(%.2f) = %s, want %s", tt.score, got, tt.expected)
		}
	}
}

func TestScoreResultValidate(t *testing.T) {
	tests := []struct {
		name    string
		result  ScoreResult
		wantErr bool
	}{
		{
			name:   "valid",
			result: ScoreResult{Score: 7.5, ThreatType: ThreatTypeCallFraud, Confidence: 0.8},
		},
		{
			name:    "score above range",
			result:  ScoreResult{Score: 10.5, ThreatType: ThreatTypeCallFraud, Confidence: 0.8},
			wantErr: true,
		},
		{
			name:    "negative score",
			result:  ScoreResult{Score: -1, ThreatType: ThreatTypeCallFraud, Confidence: 0.8},
			wantErr: true,
		},
		{
			name:    "unknown threat type",
			result:  ScoreResult{Score: 5, ThreatType: "ddos", Confidence: 0.8},
			wantErr: true,
		},
		{
			name:    "confidence out of range",
			result:  ScoreResult{Score: 5, ThreatType: ThreatTypeSIMSwap, Confidence: 1.2},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.result.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEventValidate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		event   Event
		wantErr bool
	}{
		{
			name: "valid call",
			event: &CallRecord{
				ID: "c1", FromAddr: "+15550001", ToAddr: "+15550002",
				DurationSeconds: 60, Timestamp: now, CallKind: CallKindVoice,
			},
		},
		{
			name: "call missing addresses",
			event: &CallRecord{
				ID: "c2", DurationSeconds: 60, Timestamp: now, CallKind: CallKindVoice,
			},
			wantErr: true,
		},
		{
			name: "call negative duration",
			event: &CallRecord{
				ID: "c3", FromAddr: "+15550001", ToAddr: "+15550002",
				DurationSeconds: -1, Timestamp: now, CallKind: CallKindVoice,
			},
			wantErr: true,
		},
		{
			name: "call unknown kind",
			event: &CallRecord{
				ID: "c4", FromAddr: "+15550001", ToAddr: "+15550002",
				Timestamp: now, CallKind: "fax",
			},
			wantErr: true,
		},
		{
			name: "valid message",
			event: &MessageRecord{
				ID: "m1", FromAddr: "+15550001", ToAddr: "+15550002",
				Body: "hello", Timestamp: now, MessageKind: MessageKindText,
			},
		},
		{
			name: "message missing id",
			event: &MessageRecord{
				FromAddr: "+15550001", ToAddr: "+15550002",
				Timestamp: now, MessageKind: MessageKindText,
			},
			wantErr: true,
		},
		{
			name:  "valid behavior sample",
			event: &BehaviorSample{SubjectID: "sub-1", Timestamp: now},
		},
		{
			name:    "behavior sample missing subject",
			event:   &BehaviorSample{Timestamp: now},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEventEnvelopeRoundTrip(t *testing.T) {
	call := &CallRecord{
		ID: "c1", FromAddr: "+15550001", ToAddr: "+15550002",
		DurationSeconds: 30, Timestamp: time.Now().UTC(), CallKind: CallKindVoice,
	}

	env, err := WrapEvent(call)
	if err != nil {
		t.Fatalf("WrapEvent failed: %v", err)
	}
	if env.Kind != EventKindCall {
		t.Errorf("expected kind call, got %s", env.Kind)
	}

	decoded, err := env.Decode()
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.EventID() != call.ID {
		t.Errorf("expected event ID %s, got %s", call.ID, decoded.EventID())
	}
	if decoded.Source() != call.FromAddr {
		t.Errorf("expected source %s, got %s", call.FromAddr, decoded.Source())
	}
}

func TestEventEnvelopeMismatch(t *testing.T) {
	// Kind says message but only the call payload is present
	env := &EventEnvelope{
		Kind: EventKindMessage,
		Call: &CallRecord{ID: "c1"},
	}

	if _, err := env.Decode(); err == nil {
		t.Error("expected error for kind/payload mismatch")
	}

	unknown := &EventEnvelope{Kind: "webhook"}
	if _, err := unknown.Decode(); err == nil {
		t.Error("expected error for unknown kind")
	}
}
