package scoring

import (
	"context"
	"testing"
	"time"

	"github.com/telco-sentinel/harrier/internal/domain"
)

func TestFallbackScoresPhishingMessage(t *testing.T) {
	f := NewFallback(42)
	ctx := context.Background()

	msg := &domain.MessageRecord{
		ID:          "m1",
		FromAddr:    "+15550001",
		ToAddr:      "+15550002",
		Body:        "URGENT: verify your account now or it will be suspended",
		Timestamp:   time.Now(),
		MessageKind: domain.MessageKindText,
	}

	result, err := f.Score(ctx, msg, nil)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	if result.ThreatType != domain.ThreatTypeSMSPhishing {
		t.Errorf("expected sms_phishing, got %s", result.ThreatType)
	}
	if result.Score < 7.0 || result.Score > 10.0 {
		t.Errorf("phishing score %.2f outside [7,10]", result.Score)
	}
	if result.Confidence < 0.7 || result.Confidence > 1.0 {
		t.Errorf("confidence %.2f outside [0.7,1.0]", result.Confidence)
	}
	if result.Provider != "fallback" {
		t.Errorf("expected provider fallback, got %s", result.Provider)
	}
	if len(result.Recommendations) == 0 {
		t.Error("expected recommendations for phishing message")
	}
}

func TestFallbackBenignMessage(t *testing.T) {
	f := NewFallback(42)

	msg := &domain.MessageRecord{
		ID:          "m2",
		FromAddr:    "+15550001",
		ToAddr:      "+15550002",
		Body:        "see you at lunch",
		Timestamp:   time.Now(),
		MessageKind: domain.MessageKindText,
	}

	result, err := f.Score(context.Background(), msg, nil)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	if result.ThreatType != domain.ThreatTypeAnomalousTraffic {
		t.Errorf("expected anomalous_traffic for benign body, got %s", result.ThreatType)
	}
	if result.Score < 0 || result.Score > 10 {
		t.Errorf("baseline score %.2f outside [0,10]", result.Score)
	}
}

func TestFallbackScoresCallDurations(t *testing.T) {
	tests := []struct {
		name         string
		duration     int
		expectedType domain.ThreatType
	}{
		{"short probe", 3, domain.ThreatTypeCallFraud},
		{"marathon hold", 4000, domain.ThreatTypeCallFraud},
		{"normal call", 180, domain.ThreatTypeAnomalousTraffic},
		{"boundary short", 5, domain.ThreatTypeAnomalousTraffic},
		{"boundary long", 3600, domain.ThreatTypeAnomalousTraffic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFallback(42)
			call := &domain.CallRecord{
				ID:              "c1",
				FromAddr:        "+15550001",
				ToAddr:          "+15550002",
				DurationSeconds: tt.duration,
				Timestamp:       time.Now(),
				CallKind:        domain.CallKindVoice,
			}

			result, err := f.Score(context.Background(), call, nil)
			if err != nil {
				t.Fatalf("Score failed: %v", err)
			}

			if result.ThreatType != tt.expectedType {
				t.Errorf("duration %ds: expected %s, got %s", tt.duration, tt.expectedType, result.ThreatType)
			}
			if tt.expectedType == domain.ThreatTypeCallFraud {
				if result.Score < 6.0 || result.Score > 8.0 {
					t.Errorf("fraud score %.2f outside [6,8]", result.Score)
				}
			}
		})
	}
}

func TestFallbackScoresBehavior(t *testing.T) {
	makeSample := func(count int) *domain.BehaviorSample {
		snapshots := make([]domain.ActivitySnapshot, count)
		for i := range snapshots {
			snapshots[i] = domain.ActivitySnapshot{
				ActivityType: "call",
				Timestamp:    time.Now(),
			}
		}
		return &domain.BehaviorSample{
			SubjectID:      "sub-1",
			RecentActivity: snapshots,
			Timestamp:      time.Now(),
		}
	}

	t.Run("AboveThreshold", func(t *testing.T) {
		f := NewFallback(42)
		result, err := f.Score(context.Background(), makeSample(25), nil)
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		if result.ThreatType != domain.ThreatTypeSIMSwap {
			t.Errorf("expected sim_swap, got %s", result.ThreatType)
		}
		if result.Score < 8.0 || result.Score > 10.0 {
			t.Errorf("sim swap score %.2f outside [8,10]", result.Score)
		}
	})

	t.Run("BelowThreshold", func(t *testing.T) {
		f := NewFallback(42)
		result, err := f.Score(context.Background(), makeSample(5), nil)
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		if result.ThreatType != domain.ThreatTypeAnomalousTraffic {
			t.Errorf("expected anomalous_traffic below threshold, got %s", result.ThreatType)
		}
	})

	t.Run("SensitivityLowersThreshold", func(t *testing.T) {
		// At max sensitivity the threshold halves to 10, so 15 entries
		// now trip the sim swap heuristic.
		f := NewFallback(42)
		cfg := &domain.SystemConfig{FraudSensitivity: 100}
		result, err := f.Score(context.Background(), makeSample(15), cfg)
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		if result.ThreatType != domain.ThreatTypeSIMSwap {
			t.Errorf("expected sim_swap at high sensitivity, got %s", result.ThreatType)
		}
	})
}

func TestFallbackDeterministicWithSeed(t *testing.T) {
	msg := &domain.MessageRecord{
		ID:          "m1",
		FromAddr:    "+15550001",
		ToAddr:      "+15550002",
		Body:        "urgent verify account",
		Timestamp:   time.Now(),
		MessageKind: domain.MessageKindText,
	}

	a, err := NewFallback(7).Score(context.Background(), msg, nil)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	b, err := NewFallback(7).Score(context.Background(), msg, nil)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	if a.Score != b.Score {
		t.Errorf("same seed produced different scores: %.4f vs %.4f", a.Score, b.Score)
	}
	if a.Confidence != b.Confidence {
		t.Errorf("same seed produced different confidence: %.4f vs %.4f", a.Confidence, b.Confidence)
	}
}
