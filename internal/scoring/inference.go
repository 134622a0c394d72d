package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/telco-sentinel/harrier/internal/domain"
)

// InferenceClient calls the external AI scoring service over HTTP.
// Every failure mode (connection refused, timeout, non-2xx, empty or
// malformed body) is returned as an error; the Selector treats all of them
// as a normal fallback trigger.
type InferenceClient struct {
	url    string
	client *http.Client
}

// NewInferenceClient creates an adapter for the external inference service.
func NewInferenceClient(url string, timeout time.Duration) *InferenceClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &InferenceClient{
		url: url,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name implements Provider.
func (c *InferenceClient) Name() string { return "inference" }

// inferenceRequest is the structured event summary sent to the service.
type inferenceRequest struct {
	Kind            domain.EventKind `json:"kind"`
	Source          string           `json:"source"`
	Peer            string           `json:"peer,omitempty"`
	Timestamp       time.Time        `json:"timestamp"`
	DurationSeconds int              `json:"durationSeconds,omitempty"`
	Body            string           `json:"body,omitempty"`
	ActivityCount   int              `json:"activityCount,omitempty"`
	Location        string           `json:"location,omitempty"`

	// Sensitivity hints are passed through from the operator config.
	SMSSensitivity   int `json:"smsSensitivity"`
	CallSensitivity  int `json:"callSensitivity"`
	FraudSensitivity int `json:"fraudSensitivity"`
}

// Score implements Provider by posting the event summary and decoding a
// ScoreResult-shaped response.
func (c *InferenceClient) Score(ctx context.Context, ev domain.Event, cfg *domain.SystemConfig) (*domain.ScoreResult, error) {
	if c.url == "" {
		return nil, fmt.Errorf("inference url not configured")
	}

	reqBody := buildRequest(ev, cfg)
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal inference request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build inference request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("inference service returned status %d", resp.StatusCode)
	}

	var result domain.ScoreResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode inference response: %w", err)
	}

	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("malformed inference response: %w", err)
	}

	result.Provider = c.Name()
	return &result, nil
}

func buildRequest(ev domain.Event, cfg *domain.SystemConfig) *inferenceRequest {
	req := &inferenceRequest{
		Kind:      ev.Kind(),
		Source:    ev.Source(),
		Timestamp: ev.EventTime(),
	}

	if cfg != nil {
		req.SMSSensitivity = cfg.SMSSensitivity
		req.CallSensitivity = cfg.CallSensitivity
		req.FraudSensitivity = cfg.FraudSensitivity
	}

	switch v := ev.(type) {
	case *domain.CallRecord:
		req.Peer = v.ToAddr
		req.DurationSeconds = v.DurationSeconds
		req.Location = v.Location
	case *domain.MessageRecord:
		req.Peer = v.ToAddr
		req.Body = v.Body
	case *domain.BehaviorSample:
		req.ActivityCount = len(v.RecentActivity)
	}

	return req
}
