// Package outlier implements the statistical anomaly scan over stored
// activity records. The detector is stateless and read-only over its input
// batch; it shares the severity vocabulary with the threat pipeline but its
// findings are not threats.
package outlier

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/telco-sentinel/harrier/internal/domain"
)

const (
	// MinSampleSize is the minimum batch size for a meaningful scan.
	// Smaller batches return no findings.
	MinSampleSize = 50

	// maxDurationOutliers bounds the duration pass output per run; the
	// first matches in input order are kept.
	maxDurationOutliers = 5

	// fraudRateThreshold is the batch-wide fraud rate above which a spike
	// anomaly is emitted.
	fraudRateThreshold = 0.10
)

// Detector runs the outlier scan.
type Detector struct{}

// NewDetector creates a detector.
func NewDetector() *Detector {
	return &Detector{}
}

// Detect runs all passes over the batch and returns the findings.
// Batches below MinSampleSize produce an empty result.
func (d *Detector) Detect(records []*domain.ActivityRecord) []domain.Anomaly {
	if len(records) < MinSampleSize {
		return nil
	}

	var anomalies []domain.Anomaly
	anomalies = append(anomalies, d.durationOutliers(records)...)
	anomalies = append(anomalies, d.locationSpikes(records)...)
	anomalies = append(anomalies, d.fraudRateSpike(records)...)
	return anomalies
}

// durationOutliers flags call records whose duration deviates more than two
// standard deviations from the batch mean.
func (d *Detector) durationOutliers(records []*domain.ActivityRecord) []domain.Anomaly {
	var calls []*domain.ActivityRecord
	var durations []float64
	for _, r := range records {
		if r.ActivityType == domain.ActivityTypeCall && r.DurationSeconds > 0 {
			calls = append(calls, r)
			durations = append(durations, float64(r.DurationSeconds))
		}
	}
	if len(durations) == 0 {
		return nil
	}

	mean, stddev := meanStddev(durations)
	if stddev == 0 {
		return nil
	}

	var anomalies []domain.Anomaly
	for i, r := range calls {
		z := math.Abs(durations[i]-mean) / stddev
		if z <= 2 {
			continue
		}

		severity := domain.SeverityMedium
		if z > 3 {
			severity = domain.SeverityCritical
		} else if z > 2.5 {
			severity = domain.SeverityHigh
		}

		anomalies = append(anomalies, domain.Anomaly{
			ID:          uuid.New().String(),
			Timestamp:   time.Now().UTC(),
			AnomalyType: domain.AnomalyDurationOutlier,
			Severity:    severity,
			Score:       math.Min(10, z),
			Description: fmt.Sprintf("call duration %ds is %.1f standard deviations from the mean %.1fs", r.DurationSeconds, z, mean),
			AffectedMetrics: []string{
				"duration_seconds",
			},
			Confidence: math.Min(0.95, 0.6+(z-2)*0.1),
			Source:     r.SubjectID,
			Details: map[string]any{
				"duration_seconds": r.DurationSeconds,
				"mean":             mean,
				"stddev":           stddev,
				"z_score":          z,
				"peer_address":     r.PeerAddress,
			},
		})

		if len(anomalies) >= maxDurationOutliers {
			break
		}
	}

	return anomalies
}

// locationSpikes flags locations whose activity count spikes relative to the
// per-location distribution. Needs more than three distinct locations.
func (d *Detector) locationSpikes(records []*domain.ActivityRecord) []domain.Anomaly {
	counts := make(map[string]int)
	for _, r := range records {
		if r.Location != "" {
			counts[r.Location]++
		}
	}
	if len(counts) <= 3 {
		return nil
	}

	values := make([]float64, 0, len(counts))
	for _, c := range counts {
		values = append(values, float64(c))
	}
	mean, stddev := meanStddev(values)
	if stddev == 0 {
		return nil
	}

	var anomalies []domain.Anomaly
	for location, count := range counts {
		z := (float64(count) - mean) / stddev
		if z <= 2 || float64(count) <= 2*mean {
			continue
		}

		severity := domain.SeverityMedium
		if z > 3 {
			severity = domain.SeverityCritical
		} else if float64(count) > 4*mean {
			severity = domain.SeverityHigh
		}

		anomalies = append(anomalies, domain.Anomaly{
			ID:          uuid.New().String(),
			Timestamp:   time.Now().UTC(),
			AnomalyType: domain.AnomalyLocationFrequency,
			Severity:    severity,
			Score:       math.Min(10, z),
			Description: fmt.Sprintf("location %q saw %d events against a per-location mean of %.1f", location, count, mean),
			AffectedMetrics: []string{
				"location_frequency",
			},
			Confidence: math.Min(0.9, 0.5+z*0.1),
			Source:     location,
			Details: map[string]any{
				"count":   count,
				"mean":    mean,
				"stddev":  stddev,
				"z_score": z,
			},
		})
	}

	return anomalies
}

// fraudRateSpike emits a single anomaly when the batch-wide fraud-flag rate
// exceeds the threshold.
func (d *Detector) fraudRateSpike(records []*domain.ActivityRecord) []domain.Anomaly {
	fraudCount := 0
	for _, r := range records {
		if r.IsFraudFlagged {
			fraudCount++
		}
	}

	rate := float64(fraudCount) / float64(len(records))
	if rate <= fraudRateThreshold {
		return nil
	}

	severity := domain.SeverityMedium
	switch {
	case rate > 0.20:
		severity = domain.SeverityCritical
	case rate >= 0.15:
		severity = domain.SeverityHigh
	}

	return []domain.Anomaly{{
		ID:          uuid.New().String(),
		Timestamp:   time.Now().UTC(),
		AnomalyType: domain.AnomalyFraudRateSpike,
		Severity:    severity,
		Score:       math.Min(10, rate*50),
		Description: fmt.Sprintf("fraud-flag rate %.1f%% over %d records exceeds %.0f%% threshold", rate*100, len(records), fraudRateThreshold*100),
		AffectedMetrics: []string{
			"fraud_rate",
		},
		Confidence: 0.9,
		Source:     "batch",
		Details: map[string]any{
			"fraud_count": fraudCount,
			"total":       len(records),
			"rate":        rate,
		},
	}}
}

// meanStddev computes the mean and population standard deviation (divide by
// N, not N-1) for consistency across passes.
func meanStddev(values []float64) (float64, float64) {
	n := float64(len(values))
	if n == 0 {
		return 0, 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / n

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= n

	return mean, math.Sqrt(variance)
}
