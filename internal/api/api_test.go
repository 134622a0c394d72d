package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/telco-sentinel/harrier/internal/activity"
	"github.com/telco-sentinel/harrier/internal/bus"
	"github.com/telco-sentinel/harrier/internal/cache"
	"github.com/telco-sentinel/harrier/internal/domain"
	"github.com/telco-sentinel/harrier/internal/outlier"
	"github.com/telco-sentinel/harrier/internal/pipeline"
	"github.com/telco-sentinel/harrier/internal/policy"
	"github.com/telco-sentinel/harrier/internal/repository"
)

const testTenant = "tenant-1"

// stubScorer returns a canned result for every event.
type stubScorer struct {
	result *domain.ScoreResult
}

func (s *stubScorer) Name() string { return "stub" }

func (s *stubScorer) Score(ctx context.Context, ev domain.Event, cfg *domain.SystemConfig) (*domain.ScoreResult, error) {
	return s.result, nil
}

type testServer struct {
	server *Server
	repo   domain.Repository
	scorer *stubScorer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "harrier-api-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	c := cache.NewLRUCache(100)
	b := bus.NewChannelBus(16)
	t.Cleanup(func() { b.Close() })

	customRules, err := policy.NewCustomRules()
	if err != nil {
		t.Fatalf("failed to create custom rules: %v", err)
	}

	scorer := &stubScorer{result: &domain.ScoreResult{
		Score:       6.0,
		ThreatType:  domain.ThreatTypeSMSPhishing,
		Confidence:  0.9,
		Description: "stub score",
		Provider:    "stub",
	}}

	activitySvc := activity.NewService(repo, c)
	engine := policy.NewEngine(repo, customRules)
	pl := pipeline.New(repo, c, b, scorer, engine, activitySvc)
	detector := outlier.NewDetector()

	server := NewServer(domain.ServerConfig{Port: 0}, repo, c, b, pl, detector, activitySvc, customRules, "test")

	return &testServer{server: server, repo: repo, scorer: scorer}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, tenant string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if tenant != "" {
		req.Header.Set(TenantIDHeader, tenant)
	}
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func messageEnvelope(id, body string) map[string]any {
	return map[string]any{
		"kind": "message",
		"message": map[string]any{
			"id":        id,
			"fromAddr":  "+15550009999",
			"toAddr":    "+15550001111",
			"body":      body,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"kind":      "text",
		},
	}
}

func TestTenantHeaderRequired(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/threats", nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d without tenant header, want 400", rec.Code)
	}

	// Health and metrics stay open.
	if rec := ts.do(t, http.MethodGet, "/health", nil, ""); rec.Code != http.StatusOK {
		t.Errorf("/health status = %d, want 200", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/metrics", nil, ""); rec.Code != http.StatusOK {
		t.Errorf("/metrics status = %d, want 200", rec.Code)
	}
}

func TestProcessEventEndToEnd(t *testing.T) {
	ts := newTestServer(t)
	ts.scorer.result.Score = 9.2

	rec := ts.do(t, http.MethodPost, "/events", messageEnvelope("msg-1", "URGENT verify now"), testTenant)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var outcome pipeline.Outcome
	decodeBody(t, rec, &outcome)

	if outcome.Threat == nil {
		t.Fatal("expected a threat in the outcome")
	}
	if outcome.Threat.Severity != domain.SeverityCritical {
		t.Errorf("severity = %s, want critical", outcome.Threat.Severity)
	}
	// Defaults leave auto-blocking off.
	if outcome.Threat.Status != domain.StatusAnalyzing {
		t.Errorf("status = %s, want analyzing", outcome.Threat.Status)
	}

	// The threat is retrievable through the API.
	rec = ts.do(t, http.MethodGet, "/threats/"+outcome.Threat.ID, nil, testTenant)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET threat status = %d", rec.Code)
	}

	// And isolated from other tenants.
	rec = ts.do(t, http.MethodGet, "/threats/"+outcome.Threat.ID, nil, "tenant-other")
	if rec.Code != http.StatusNotFound {
		t.Errorf("cross-tenant GET status = %d, want 404", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/threats?status=analyzing", nil, testTenant)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
}

func TestProcessEventBelowThreshold(t *testing.T) {
	ts := newTestServer(t)
	ts.scorer.result.Score = 4.0
	ts.scorer.result.ThreatType = domain.ThreatTypeAnomalousTraffic

	rec := ts.do(t, http.MethodPost, "/events", messageEnvelope("msg-2", "see you at noon"), testTenant)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var outcome pipeline.Outcome
	decodeBody(t, rec, &outcome)
	if outcome.Threat != nil {
		t.Errorf("expected no threat below threshold, got %+v", outcome.Threat)
	}
}

func TestProcessEventRejectsInvalid(t *testing.T) {
	ts := newTestServer(t)

	env := messageEnvelope("msg-3", "hello")
	env["message"].(map[string]any)["fromAddr"] = ""

	rec := ts.do(t, http.MethodPost, "/events", env, testTenant)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	// Envelope kind mismatch fails before the pipeline runs.
	rec = ts.do(t, http.MethodPost, "/events", map[string]any{"kind": "call"}, testTenant)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d for kind mismatch, want 400", rec.Code)
	}
}

func TestGetThreatNotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/threats/no-such-threat", nil, testTenant)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestUpdateThreatStatusAudited(t *testing.T) {
	ts := newTestServer(t)
	ts.scorer.result.Score = 7.5

	rec := ts.do(t, http.MethodPost, "/events", messageEnvelope("msg-4", "URGENT"), testTenant)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var outcome pipeline.Outcome
	decodeBody(t, rec, &outcome)
	if outcome.Threat == nil {
		t.Fatal("expected a threat")
	}

	rec = ts.do(t, http.MethodPost, "/threats/"+outcome.Threat.ID+"/status", map[string]any{
		"status":  "false_positive",
		"analyst": "analyst-7",
		"details": "known marketing blast",
	}, testTenant)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", rec.Code, rec.Body.String())
	}

	var updated domain.Threat
	decodeBody(t, rec, &updated)
	if updated.Status != domain.StatusFalsePositive {
		t.Errorf("status = %s, want false_positive", updated.Status)
	}

	// The transition leaves a manual_override audit action.
	rec = ts.do(t, http.MethodGet, "/threats/"+outcome.Threat.ID+"/actions", nil, testTenant)
	if rec.Code != http.StatusOK {
		t.Fatalf("list actions status = %d", rec.Code)
	}
	var actionsResp struct {
		Actions []*domain.Action `json:"actions"`
		Count   int              `json:"count"`
	}
	decodeBody(t, rec, &actionsResp)
	if actionsResp.Count != 1 {
		t.Fatalf("action count = %d, want 1", actionsResp.Count)
	}
	if actionsResp.Actions[0].Type != domain.ActionManualOverride {
		t.Errorf("action type = %s, want manual_override", actionsResp.Actions[0].Type)
	}
	if actionsResp.Actions[0].Analyst != "analyst-7" {
		t.Errorf("analyst = %s, want analyst-7", actionsResp.Actions[0].Analyst)
	}

	// Unknown status is rejected.
	rec = ts.do(t, http.MethodPost, "/threats/"+outcome.Threat.ID+"/status", map[string]any{
		"status":  "quarantined",
		"analyst": "analyst-7",
	}, testTenant)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d for unknown status, want 400", rec.Code)
	}
}

func TestCreateManualAction(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/actions", map[string]any{
		"actionType": "create_case",
		"analyst":    "analyst-1",
		"details":    "opened from abuse report",
	}, testTenant)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var action domain.Action
	decodeBody(t, rec, &action)
	if action.Automated {
		t.Error("manual action marked automated")
	}

	// Referencing a missing threat fails.
	rec = ts.do(t, http.MethodPost, "/actions", map[string]any{
		"threatId":   "no-such-threat",
		"actionType": "block_ip",
		"analyst":    "analyst-1",
	}, testTenant)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}

	// Unknown action types fail.
	rec = ts.do(t, http.MethodPost, "/actions", map[string]any{
		"actionType": "format_disk",
		"analyst":    "analyst-1",
	}, testTenant)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/config", nil, testTenant)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var cfg domain.SystemConfig
	decodeBody(t, rec, &cfg)
	if !cfg.SIMSwapManual {
		t.Error("expected default config with SIMSwapManual on")
	}

	cfg.AutoBlockCritical = true
	cfg.SMSSensitivity = 80

	rec = ts.do(t, http.MethodPut, "/config", cfg, testTenant)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodGet, "/config", nil, testTenant)
	var updated domain.SystemConfig
	decodeBody(t, rec, &updated)
	if !updated.AutoBlockCritical || updated.SMSSensitivity != 80 {
		t.Errorf("config not persisted: %+v", updated)
	}

	// Out-of-range sensitivity is rejected.
	cfg.FraudSensitivity = 250
	rec = ts.do(t, http.MethodPut, "/config", cfg, testTenant)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d for bad sensitivity, want 400", rec.Code)
	}
}

func TestPolicyLifecycle(t *testing.T) {
	ts := newTestServer(t)

	// Bad CEL never reaches the store.
	rec := ts.do(t, http.MethodPost, "/policies", map[string]any{
		"id":         "p-bad",
		"name":       "broken",
		"expression": "score >",
		"actionType": "block_ip",
		"enabled":    true,
	}, testTenant)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d for broken expression, want 400", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/policies", map[string]any{
		"id":         "p-1",
		"name":       "high score case",
		"expression": `score >= 6.0 && threat_type == "anomalous_traffic"`,
		"actionType": "create_case",
		"enabled":    true,
	}, testTenant)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	// Not live until reload.
	rec = ts.do(t, http.MethodGet, "/policies", nil, testTenant)
	var listResp struct {
		Count int `json:"count"`
	}
	decodeBody(t, rec, &listResp)
	if listResp.Count != 0 {
		t.Errorf("count = %d before reload, want 0", listResp.Count)
	}

	rec = ts.do(t, http.MethodPost, "/policies/reload", nil, testTenant)
	if rec.Code != http.StatusOK {
		t.Fatalf("reload status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodGet, "/policies", nil, testTenant)
	decodeBody(t, rec, &listResp)
	if listResp.Count != 1 {
		t.Errorf("count = %d after reload, want 1", listResp.Count)
	}
}

func TestActivityIngestAndScan(t *testing.T) {
	ts := newTestServer(t)

	records := make([]map[string]any, 0, 60)
	for i := 0; i < 60; i++ {
		duration := 60
		if i < 3 {
			duration = 4000
		}
		records = append(records, map[string]any{
			"id":              fmt.Sprintf("act-%d", i),
			"subjectId":       "sub-1",
			"activityType":    "call",
			"direction":       "out",
			"peerAddress":     "+15550002222",
			"durationSeconds": duration,
		})
	}

	rec := ts.do(t, http.MethodPost, "/activity", map[string]any{"records": records}, testTenant)
	if rec.Code != http.StatusCreated {
		t.Fatalf("ingest status = %d, body %s", rec.Code, rec.Body.String())
	}
	var ingestResp struct {
		Saved int `json:"saved"`
	}
	decodeBody(t, rec, &ingestResp)
	if ingestResp.Saved != 60 {
		t.Errorf("saved = %d, want 60", ingestResp.Saved)
	}

	rec = ts.do(t, http.MethodPost, "/outliers/scan", map[string]any{"subjectId": "sub-1"}, testTenant)
	if rec.Code != http.StatusOK {
		t.Fatalf("scan status = %d, body %s", rec.Code, rec.Body.String())
	}
	var scanResp struct {
		SampleSize int              `json:"sampleSize"`
		Anomalies  []domain.Anomaly `json:"anomalies"`
		Count      int              `json:"count"`
	}
	decodeBody(t, rec, &scanResp)
	if scanResp.SampleSize != 60 {
		t.Errorf("sampleSize = %d, want 60", scanResp.SampleSize)
	}
	if scanResp.Count == 0 {
		t.Error("expected duration outliers in the scan result")
	}

	// Rejects bad records and missing subject.
	rec = ts.do(t, http.MethodPost, "/activity", map[string]any{"records": []map[string]any{{
		"subjectId":    "sub-1",
		"activityType": "email",
	}}}, testTenant)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d for bad activity type, want 400", rec.Code)
	}
	rec = ts.do(t, http.MethodPost, "/outliers/scan", map[string]any{}, testTenant)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d for missing subjectId, want 400", rec.Code)
	}
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
	var health struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	decodeBody(t, rec, &health)
	if health.Status != "healthy" {
		t.Errorf("status = %s, want healthy", health.Status)
	}
	if health.Version != "test" {
		t.Errorf("version = %s, want test", health.Version)
	}

	if rec := ts.do(t, http.MethodGet, "/ready", nil, ""); rec.Code != http.StatusOK {
		t.Errorf("ready status = %d", rec.Code)
	}
}
