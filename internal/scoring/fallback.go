package scoring

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/telco-sentinel/harrier/internal/domain"
)

// phishingIndicators are urgency and credential-harvesting markers commonly
// seen in smishing campaigns. Matching is case-insensitive on the body.
var phishingIndicators = []string{
	"urgent",
	"verify",
	"account",
	"suspended",
	"click here",
	"click the link",
	"password",
	"confirm your",
	"winner",
	"prize",
	"act now",
	"expire",
	"bank",
	"refund",
}

// Call durations outside this window are treated as fraud indicators:
// sub-5s wangiri-style probes and calls held open past an hour.
const (
	shortCallSeconds = 5
	longCallSeconds  = 3600
)

// Fallback is the deterministic statistical heuristic used when the external
// inference service is unavailable or disabled. Deterministic given its
// inputs and seed; the jitter source is injectable so tests can pin outputs.
type Fallback struct {
	mu  sync.Mutex
	rng *rand.Rand

	// activityThreshold is the recent-activity count above which a
	// behavior sample is classified as a possible SIM swap. The operator's
	// fraud sensitivity shifts it down as sensitivity rises.
	activityThreshold int
}

// NewFallback creates the heuristic scorer. A zero seed is replaced with the
// current time.
func NewFallback(seed int64) *Fallback {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Fallback{
		rng:               rand.New(rand.NewSource(seed)),
		activityThreshold: 20,
	}
}

// Name implements Provider.
func (f *Fallback) Name() string { return "fallback" }

// Score implements Provider. It never fails; every event receives a result.
func (f *Fallback) Score(ctx context.Context, ev domain.Event, cfg *domain.SystemConfig) (*domain.ScoreResult, error) {
	var result *domain.ScoreResult

	switch v := ev.(type) {
	case *domain.MessageRecord:
		result = f.scoreMessage(v)
	case *domain.CallRecord:
		result = f.scoreCall(v)
	case *domain.BehaviorSample:
		result = f.scoreBehavior(v, cfg)
	default:
		result = f.scoreBaseline(ev)
	}

	result.Provider = f.Name()
	return result, nil
}

func (f *Fallback) scoreMessage(m *domain.MessageRecord) *domain.ScoreResult {
	body := strings.ToLower(m.Body)

	hits := 0
	for _, indicator := range phishingIndicators {
		if strings.Contains(body, indicator) {
			hits++
		}
	}

	if hits == 0 {
		return f.scoreBaseline(m)
	}

	// More indicators push the score toward 10; jitter keeps repeated
	// identical bodies from producing byte-identical audit trails.
	base := 7.0 + float64(min(hits, 3))*0.8
	score := clampScore(base + f.jitter(0.6))

	return &domain.ScoreResult{
		Score:       score,
		ThreatType:  domain.ThreatTypeSMSPhishing,
		Confidence:  f.confidence(),
		Description: fmt.Sprintf("message body matched %d phishing indicator(s)", hits),
		Recommendations: []string{
			"block sender address",
			"notify affected subscribers",
		},
	}
}

func (f *Fallback) scoreCall(c *domain.CallRecord) *domain.ScoreResult {
	dur := c.DurationSeconds
	if dur >= shortCallSeconds && dur <= longCallSeconds {
		return f.scoreBaseline(c)
	}

	pattern := "short-duration probe"
	if dur > longCallSeconds {
		pattern = "abnormally long hold"
	}

	score := clampScore(6.0 + f.jitter(2.0))

	return &domain.ScoreResult{
		Score:       score,
		ThreatType:  domain.ThreatTypeCallFraud,
		Confidence:  f.confidence(),
		Description: fmt.Sprintf("call duration %ds indicates %s", dur, pattern),
		Recommendations: []string{
			"review caller history",
			"consider blocking caller",
		},
	}
}

func (f *Fallback) scoreBehavior(b *domain.BehaviorSample, cfg *domain.SystemConfig) *domain.ScoreResult {
	threshold := f.activityThreshold
	if cfg != nil && cfg.FraudSensitivity > 0 {
		// Sensitivity 0-100 shifts the threshold down by up to half.
		threshold -= cfg.FraudSensitivity * threshold / 200
	}
	if threshold < 1 {
		threshold = 1
	}

	count := len(b.RecentActivity)
	if count <= threshold {
		return f.scoreBaseline(b)
	}

	score := clampScore(8.0 + f.jitter(2.0))

	return &domain.ScoreResult{
		Score:       score,
		ThreatType:  domain.ThreatTypeSIMSwap,
		Confidence:  f.confidence(),
		Description: fmt.Sprintf("subject activity count %d exceeds threshold %d", count, threshold),
		Recommendations: []string{
			"verify subscriber identity",
			"open investigation case",
		},
	}
}

// scoreBaseline assigns the low baseline used for events matching no
// heuristic: a uniform 0-10 sample classified as anomalous traffic.
func (f *Fallback) scoreBaseline(ev domain.Event) *domain.ScoreResult {
	return &domain.ScoreResult{
		Score:       f.jitter(10.0),
		ThreatType:  domain.ThreatTypeAnomalousTraffic,
		Confidence:  f.confidence(),
		Description: fmt.Sprintf("no known pattern matched for %s event", ev.Kind()),
	}
}

// jitter returns a uniform sample in [0, span).
func (f *Fallback) jitter(span float64) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rng.Float64() * span
}

// confidence returns a value in [0.7, 1.0] as the heuristic path reports.
func (f *Fallback) confidence() float64 {
	return 0.7 + f.jitter(0.3)
}

func clampScore(s float64) float64 {
	if s > 10 {
		return 10
	}
	if s < 0 {
		return 0
	}
	return s
}
