package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/telco-sentinel/harrier/internal/activity"
	"github.com/telco-sentinel/harrier/internal/domain"
	"github.com/telco-sentinel/harrier/internal/outlier"
	"github.com/telco-sentinel/harrier/internal/pipeline"
	"github.com/telco-sentinel/harrier/internal/policy"
	"github.com/telco-sentinel/harrier/internal/repository"
)

// configCacheTTL bounds how long an updated config snapshot stays cached
// before readers fall back to the store.
const configCacheTTL = 30 * time.Second

// Handler holds dependencies for API handlers.
type Handler struct {
	repo        domain.Repository
	cache       domain.Cache
	bus         domain.EventBus
	pipeline    *pipeline.Pipeline
	detector    *outlier.Detector
	activity    *activity.Service
	customRules *policy.CustomRules
	version     string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, pl *pipeline.Pipeline, detector *outlier.Detector, activitySvc *activity.Service, customRules *policy.CustomRules, version string) *Handler {
	return &Handler{
		repo:        repo,
		cache:       cache,
		bus:         bus,
		pipeline:    pl,
		detector:    detector,
		activity:    activitySvc,
		customRules: customRules,
		version:     version,
	}
}

// ProcessEvent handles POST /events: one event through the full scoring and
// response pipeline, synchronously.
func (h *Handler) ProcessEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var env domain.EventEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	ev, err := env.Decode()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	outcome, err := h.pipeline.Process(ctx, tenantID, ev)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidEvent):
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
		case errors.Is(err, pipeline.ErrRetryable):
			// Partial outcome: the threat may exist in analyzing with the
			// response step pending. Surface it alongside the error.
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"error":   "processing incomplete, safe to retry",
				"outcome": outcome,
			})
		default:
			slog.Error("event processing failed", "tenant_id", tenantID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "event processing failed",
			})
		}
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}

// IngestActivityRequest is the request body for POST /activity.
type IngestActivityRequest struct {
	Records []*domain.ActivityRecord `json:"records"`
}

// IngestActivity handles POST /activity: bulk-writes subscriber activity
// records for later behavior context and outlier scans.
func (h *Handler) IngestActivity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req IngestActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if len(req.Records) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "at least one record is required",
		})
		return
	}

	now := time.Now().UTC()
	for _, rec := range req.Records {
		if rec.SubjectID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "record subjectId is required",
			})
			return
		}
		if rec.ActivityType != domain.ActivityTypeCall && rec.ActivityType != domain.ActivityTypeSMS {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "record activityType must be call or sms",
			})
			return
		}
		if rec.ID == "" {
			rec.ID = uuid.New().String()
		}
		if rec.Timestamp.IsZero() {
			rec.Timestamp = now
		}
	}

	if err := h.repo.SaveActivity(ctx, tenantID, req.Records); err != nil {
		slog.Error("failed to save activity records", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save activity records",
		})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"saved": len(req.Records),
	})
}

// ScanOutliersRequest is the request body for POST /outliers/scan.
type ScanOutliersRequest struct {
	SubjectID   string `json:"subjectId"`
	WindowHours int    `json:"windowHours"`
}

// ScanOutliers handles POST /outliers/scan: runs the statistical outlier
// detector over a subject's stored activity window. Findings are returned to
// the caller and published on the bus; they are never persisted.
func (h *Handler) ScanOutliers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req ScanOutliersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.SubjectID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "subjectId is required",
		})
		return
	}
	if req.WindowHours <= 0 {
		req.WindowHours = 24
	}

	since := time.Now().Add(-time.Duration(req.WindowHours) * time.Hour)
	records, err := h.activity.Window(ctx, tenantID, req.SubjectID, since)
	if err != nil {
		slog.Error("failed to load activity window", "subject_id", req.SubjectID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load activity window",
		})
		return
	}

	anomalies := h.detector.Detect(records)

	if h.bus != nil {
		for i := range anomalies {
			data, err := json.Marshal(&anomalies[i])
			if err != nil {
				continue
			}
			if err := h.bus.Publish(ctx, tenantID, domain.TopicAnomalyDetected, data); err != nil {
				slog.Error("failed to publish anomaly", "anomaly_id", anomalies[i].ID, "error", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"subjectId":  req.SubjectID,
		"sampleSize": len(records),
		"anomalies":  anomalies,
		"count":      len(anomalies),
	})
}

// ListThreats handles GET /threats with optional status and limit filters.
func (h *Handler) ListThreats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	status := domain.ThreatStatus(r.URL.Query().Get("status"))
	if status != "" && !domain.KnownThreatStatus(status) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "unknown status filter",
		})
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = n
	}

	threats, err := h.repo.ListThreats(ctx, tenantID, status, limit)
	if err != nil {
		slog.Error("failed to list threats", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list threats",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"threats": threats,
		"count":   len(threats),
	})
}

// GetThreat handles GET /threats/{id}.
func (h *Handler) GetThreat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	threatID := chi.URLParam(r, "id")

	threat, err := h.repo.GetThreat(ctx, tenantID, threatID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "threat not found",
			})
			return
		}
		slog.Error("failed to get threat", "id", threatID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get threat",
		})
		return
	}

	writeJSON(w, http.StatusOK, threat)
}

// UpdateThreatStatusRequest is the request body for POST /threats/{id}/status.
type UpdateThreatStatusRequest struct {
	Status  domain.ThreatStatus `json:"status"`
	Analyst string              `json:"analyst"`
	Details string              `json:"details,omitempty"`
}

// UpdateThreatStatus handles POST /threats/{id}/status: an operator moves a
// threat to a new lifecycle status. The transition is guarded against the
// threat's current status and audited as a manual_override action.
func (h *Handler) UpdateThreatStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	threatID := chi.URLParam(r, "id")

	var req UpdateThreatStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if !domain.KnownThreatStatus(req.Status) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "unknown status",
		})
		return
	}
	if req.Analyst == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "analyst is required",
		})
		return
	}

	threat, err := h.repo.GetThreat(ctx, tenantID, threatID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "threat not found",
			})
			return
		}
		slog.Error("failed to get threat", "id", threatID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get threat",
		})
		return
	}

	if threat.Status == req.Status {
		writeJSON(w, http.StatusOK, threat)
		return
	}

	if err := h.repo.UpdateThreatStatus(ctx, tenantID, threatID, threat.Status, req.Status); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": "threat status changed concurrently, retry",
			})
			return
		}
		slog.Error("failed to update threat status", "id", threatID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to update threat status",
		})
		return
	}

	details := req.Details
	if details == "" {
		details = "status changed from " + string(threat.Status) + " to " + string(req.Status)
	}

	audit := &domain.Action{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		CreatedAt: time.Now().UTC(),
		ThreatID:  threatID,
		Type:      domain.ActionManualOverride,
		Automated: false,
		Analyst:   req.Analyst,
		Details:   details,
	}
	if err := h.repo.SaveAction(ctx, tenantID, audit); err != nil {
		slog.Error("failed to record status audit action", "threat_id", threatID, "error", err)
	}

	threat.Status = req.Status
	slog.Info("threat status updated",
		"threat_id", threatID,
		"tenant_id", tenantID,
		"status", req.Status,
		"analyst", req.Analyst,
	)
	writeJSON(w, http.StatusOK, threat)
}

// ListThreatActions handles GET /threats/{id}/actions.
func (h *Handler) ListThreatActions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	threatID := chi.URLParam(r, "id")

	if _, err := h.repo.GetThreat(ctx, tenantID, threatID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "threat not found",
			})
			return
		}
		slog.Error("failed to get threat", "id", threatID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get threat",
		})
		return
	}

	actions, err := h.repo.ListActionsByThreat(ctx, tenantID, threatID)
	if err != nil {
		slog.Error("failed to list actions", "threat_id", threatID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list actions",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"actions": actions,
		"count":   len(actions),
	})
}

// CreateActionRequest is the request body for POST /actions.
type CreateActionRequest struct {
	ThreatID string            `json:"threatId,omitempty"`
	Type     domain.ActionType `json:"actionType"`
	Analyst  string            `json:"analyst"`
	Details  string            `json:"details"`
}

// CreateAction handles POST /actions: an operator records a manual response,
// with or without a threat reference.
func (h *Handler) CreateAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req CreateActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if !domain.KnownActionType(req.Type) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "unknown action type",
		})
		return
	}
	if req.Analyst == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "analyst is required",
		})
		return
	}

	if req.ThreatID != "" {
		if _, err := h.repo.GetThreat(ctx, tenantID, req.ThreatID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				writeJSON(w, http.StatusNotFound, map[string]string{
					"error": "threat not found",
				})
				return
			}
			slog.Error("failed to get threat", "id", req.ThreatID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to get threat",
			})
			return
		}
	}

	action := &domain.Action{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		CreatedAt: time.Now().UTC(),
		ThreatID:  req.ThreatID,
		Type:      req.Type,
		Automated: false,
		Analyst:   req.Analyst,
		Details:   req.Details,
	}

	if err := h.repo.SaveAction(ctx, tenantID, action); err != nil {
		slog.Error("failed to save action", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save action",
		})
		return
	}

	if h.bus != nil {
		if data, err := json.Marshal(action); err == nil {
			if err := h.bus.Publish(ctx, tenantID, domain.TopicActionCreated, data); err != nil {
				slog.Error("failed to publish action", "action_id", action.ID, "error", err)
			}
		}
	}

	writeJSON(w, http.StatusCreated, action)
}

// GetConfig handles GET /config.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	cfg, err := h.repo.GetSystemConfig(ctx, tenantID)
	if err != nil {
		slog.Error("failed to get system config", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get config",
		})
		return
	}

	writeJSON(w, http.StatusOK, cfg)
}

// UpdateConfig handles PUT /config: replaces the tenant's response
// configuration and refreshes the cached snapshot.
func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var cfg domain.SystemConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	for _, s := range []int{cfg.SMSSensitivity, cfg.CallSensitivity, cfg.FraudSensitivity} {
		if s < 0 || s > 100 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "sensitivities must be between 0 and 100",
			})
			return
		}
	}

	if err := h.repo.SaveSystemConfig(ctx, tenantID, &cfg); err != nil {
		slog.Error("failed to save system config", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save config",
		})
		return
	}

	if h.cache != nil {
		if err := h.cache.SetSystemConfig(ctx, tenantID, &cfg, configCacheTTL); err != nil {
			slog.Warn("failed to refresh cached config", "tenant_id", tenantID, "error", err)
		}
	}

	slog.Info("system config updated", "tenant_id", tenantID)
	writeJSON(w, http.StatusOK, &cfg)
}

// ListPolicies returns the custom policy rules currently loaded in the engine.
// Rules are loaded from the database at startup and can be reloaded via
// POST /policies/reload.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	rules := h.customRules.Rules()

	writeJSON(w, http.StatusOK, map[string]any{
		"policies": rules,
		"count":    len(rules),
		"source":   "database",
	})
}

// CreatePolicyRequest is the request body for creating a custom policy rule.
type CreatePolicyRequest struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Expression  string            `json:"expression"`
	Action      domain.ActionType `json:"actionType"`
	Enabled     bool              `json:"enabled"`
}

// CreatePolicy creates a custom policy rule and saves it to the database.
// After saving, call POST /policies/reload to hot-reload into the engine.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req CreatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	now := time.Now().UTC()
	rule := &domain.PolicyRule{
		ID:          req.ID,
		TenantID:    tenantID,
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		Action:      req.Action,
		Enabled:     req.Enabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// Compile before persisting so a bad expression never reaches the store.
	if err := h.customRules.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid policy rule: " + err.Error(),
		})
		return
	}

	if err := h.repo.SavePolicyRule(ctx, tenantID, rule); err != nil {
		slog.Error("failed to save policy rule", "id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save policy rule",
		})
		return
	}

	slog.Info("policy rule created", "id", rule.ID, "name", rule.Name, "tenant_id", tenantID)
	writeJSON(w, http.StatusCreated, map[string]any{
		"policy":  rule,
		"message": "Policy rule created. Call POST /policies/reload to apply changes.",
	})
}

// ReloadPolicies reloads all custom policy rules from the database into the
// engine. This enables hot-reloading without server restart.
func (h *Handler) ReloadPolicies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	rules, err := h.repo.ListPolicyRules(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list policy rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load policy rules from database",
		})
		return
	}

	if err := h.customRules.Load(rules); err != nil {
		slog.Error("failed to reload policy rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload policy rules: " + err.Error(),
		})
		return
	}

	slog.Info("policy rules reloaded from database", "count", h.customRules.Count())
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "policy rules reloaded successfully",
		"count":   h.customRules.Count(),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
