package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/perimetra/kestrel/internal/behavior"
	"github.com/perimetra/kestrel/internal/domain"
	"github.com/perimetra/kestrel/internal/metrics"
	"github.com/perimetra/kestrel/internal/patterns"
	"github.com/perimetra/kestrel/internal/pipeline"
	"github.com/perimetra/kestrel/internal/zerotrust"
)

// maxBatchSize caps the number of events accepted in one analyze call.
const maxBatchSize = 1000

// Handler holds dependencies for API handlers.
type Handler struct {
	store     domain.Store
	cache     domain.Cache
	bus       domain.EventBus
	worker    *pipeline.Worker
	scheduler *pipeline.Scheduler
	profiler  *behavior.Profiler
	verifier  *zerotrust.Verifier
	rules     *patterns.RuleEngine
	metrics   *metrics.Metrics
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(store domain.Store, cache domain.Cache, bus domain.EventBus,
	worker *pipeline.Worker, scheduler *pipeline.Scheduler, profiler *behavior.Profiler,
	verifier *zerotrust.Verifier, rules *patterns.RuleEngine, m *metrics.Metrics,
	version string) *Handler {
	return &Handler{
		store:     store,
		cache:     cache,
		bus:       bus,
		worker:    worker,
		scheduler: scheduler,
		profiler:  profiler,
		verifier:  verifier,
		rules:     rules,
		metrics:   m,
		version:   version,
	}
}

// AnalyzeResponse is the response for POST /api/v1/analyze.
type AnalyzeResponse struct {
	Verdicts []*domain.Verdict `json:"verdicts"`
	Count    int               `json:"count"`
	Metadata struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// Analyze handles POST /api/v1/analyze requests: a batch of network events
// is scored synchronously and the verdicts returned.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var req domain.EventBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if len(req.Events) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "events must not be empty",
		})
		return
	}
	if len(req.Events) > maxBatchSize {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "batch exceeds maximum size",
		})
		return
	}

	verdicts := h.worker.AnalyzeBatch(ctx, req.Events)

	if h.metrics != nil {
		for _, v := range verdicts {
			h.metrics.ObserveVerdict(string(v.Severity), v.Degraded)
		}
		h.metrics.BatchDuration.Observe(time.Since(start).Seconds())
	}

	resp := AnalyzeResponse{
		Verdicts: verdicts,
		Count:    len(verdicts),
	}
	resp.Metadata.TraceID = GetTraceID(ctx)
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// ActivityResponse is the response for POST /api/v1/activity.
type ActivityResponse struct {
	Anomaly domain.AnomalyScore    `json:"anomaly"`
	Profile domain.UserRiskProfile `json:"profile"`
	Alerts  []domain.AnomalyAlert  `json:"alerts,omitempty"`
}

// Activity handles POST /api/v1/activity requests: one user activity is
// folded into the identity's behavior profile.
func (h *Handler) Activity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var activity domain.UserActivity
	if err := json.NewDecoder(r.Body).Decode(&activity); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if activity.IdentityID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "identityId is required",
		})
		return
	}
	if activity.Timestamp.IsZero() {
		activity.Timestamp = time.Now().UTC()
	}

	result, err := h.profiler.ProcessActivity(ctx, &activity)
	if err != nil {
		slog.Error("activity processing failed", "identity", activity.IdentityID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "activity processing failed",
		})
		return
	}

	if h.store != nil {
		if err := h.store.SaveProfile(ctx, &result.Profile); err != nil {
			slog.Error("failed to save profile", "identity", activity.IdentityID, "error", err)
		}
		for i := range result.Alerts {
			if err := h.store.SaveAlert(ctx, &result.Alerts[i]); err != nil {
				slog.Error("failed to save alert", "id", result.Alerts[i].ID, "error", err)
			}
		}
	}

	if h.bus != nil {
		for i := range result.Alerts {
			payload, _ := json.Marshal(result.Alerts[i])
			if err := h.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
				slog.Error("failed to publish alert", "id", result.Alerts[i].ID, "error", err)
			}
		}
	}

	if h.metrics != nil {
		if result.Anomaly.IsAnomaly {
			h.metrics.ObserveAnomaly(result.Anomaly.AnomalyType)
		}
		h.metrics.ActiveProfiles.Set(float64(h.profiler.Count()))
	}

	writeJSON(w, http.StatusOK, ActivityResponse{
		Anomaly: result.Anomaly,
		Profile: result.Profile,
		Alerts:  result.Alerts,
	})
}

// Verify handles POST /api/v1/verify requests: an access request is scored
// and an allow/deny decision returned.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.AccessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	result, err := h.verifier.Verify(ctx, &req)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		slog.Error("verification failed", "identity", req.IdentityID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "verification failed",
		})
		return
	}

	if h.metrics != nil {
		h.metrics.ObserveVerification(result.Granted)
	}

	if h.bus != nil {
		payload, _ := json.Marshal(result)
		if err := h.bus.Publish(ctx, domain.TopicVerification, payload); err != nil {
			slog.Error("failed to publish verification", "identity", req.IdentityID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, result)
}

// GetProfile retrieves an identity's risk profile, preferring the live
// in-memory state over the persisted copy.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	identityID := chi.URLParam(r, "identity")

	if profile, ok := h.profiler.Profile(identityID); ok {
		writeJSON(w, http.StatusOK, profile)
		return
	}

	if h.store != nil {
		profile, err := h.store.GetProfile(r.Context(), identityID)
		if err == nil {
			writeJSON(w, http.StatusOK, profile)
			return
		}
		if !errors.Is(err, domain.ErrNotFound) {
			slog.Error("failed to get profile", "identity", identityID, "error", err)
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "profile not found",
	})
}

// Analytics returns the behavior rollup over all tracked identities.
func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.profiler.Analytics(time.Now().UTC()))
}

// Statistics returns the most recent threat statistics snapshot along
// with the projected risk trend.
func (h *Handler) Statistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"statistics": h.scheduler.Statistics(),
		"trend":      h.scheduler.Trend(),
	})
}

// Clusters returns the most recent behavioral clustering snapshot.
func (h *Handler) Clusters(w http.ResponseWriter, r *http.Request) {
	clusters := h.scheduler.Clusters()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"clusters": clusters,
		"count":    len(clusters),
	})
}

// Forecast returns the risk trajectory prediction for an identity.
func (h *Handler) Forecast(w http.ResponseWriter, r *http.Request) {
	identityID := chi.URLParam(r, "identity")
	writeJSON(w, http.StatusOK, h.profiler.Forecast(identityID, time.Now().UTC()))
}

// RegisterDeviceRequest is the request body for POST /api/v1/devices.
type RegisterDeviceRequest struct {
	IdentityID  string `json:"identityId"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Name        string `json:"name,omitempty"`
}

// RegisterDevice registers a trusted device for an identity.
func (h *Handler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.IdentityID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "identityId is required",
		})
		return
	}

	device, err := h.verifier.RegisterDevice(r.Context(), req.IdentityID, req.Fingerprint, req.Name)
	if err != nil {
		slog.Error("device registration failed", "identity", req.IdentityID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "device registration failed",
		})
		return
	}

	writeJSON(w, http.StatusCreated, device)
}

// ListDevices returns the active devices registered to an identity.
func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	identityID := r.URL.Query().Get("identity")
	if identityID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "identity query parameter is required",
		})
		return
	}

	devices, err := h.verifier.ListDevices(r.Context(), identityID)
	if err != nil {
		slog.Error("failed to list devices", "identity", identityID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list devices",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"devices": devices,
		"count":   len(devices),
	})
}

// RevokeDevice revokes a trusted device.
func (h *Handler) RevokeDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")

	if err := h.verifier.RevokeDevice(r.Context(), deviceID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "device not found",
			})
			return
		}
		slog.Error("device revocation failed", "id", deviceID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "device revocation failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "device revoked",
	})
}

// ListPatterns returns the custom pattern rules currently loaded.
func (h *Handler) ListPatterns(w http.ResponseWriter, r *http.Request) {
	if h.rules == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "rule engine not available",
		})
		return
	}

	loaded := h.rules.LoadedRules()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  loaded,
		"count":  len(loaded),
		"source": "database",
	})
}

// CreatePatternRequest is the request body for creating a pattern rule.
type CreatePatternRequest struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	ThreatType  string  `json:"threatType"`
	Expression  string  `json:"expression"`
	RiskScore   float64 `json:"riskScore"`
	Confidence  float64 `json:"confidence"`
	Enabled     bool    `json:"enabled"`
}

// CreatePattern creates a new custom pattern rule, loads it into the
// engine, and persists it.
func (h *Handler) CreatePattern(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.rules == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "rule engine not available",
		})
		return
	}

	var req CreatePatternRequest
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

	rule := &domain.PatternRule{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		ThreatType:  req.ThreatType,
		Version:     "1.0.0",
		Expression:  req.Expression,
		RiskScore:   req.RiskScore,
		Confidence:  req.Confidence,
		Severity:    domain.SeverityForRisk(req.RiskScore),
		Enabled:     req.Enabled,
	}

	// Validate the CEL expression by attempting to load
	if err := h.rules.Load(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid expression: " + err.Error(),
		})
		return
	}

	if h.store != nil {
		if err := h.store.SavePatternRule(ctx, rule); err != nil {
			slog.Error("failed to save pattern rule", "id", rule.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save pattern rule",
			})
			return
		}
	}

	slog.Info("pattern rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, rule)
}

// ReloadPatterns reloads all pattern rules from the store into the engine.
func (h *Handler) ReloadPatterns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.store == nil || h.rules == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "store or rule engine not available",
		})
		return
	}

	dbRules, err := h.store.ListPatternRules(ctx)
	if err != nil {
		slog.Error("failed to list pattern rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load pattern rules",
		})
		return
	}

	if err := h.rules.Reload(dbRules); err != nil {
		slog.Error("failed to reload pattern rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload pattern rules: " + err.Error(),
		})
		return
	}

	slog.Info("pattern rules reloaded", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "pattern rules reloaded successfully",
		"count":   len(dbRules),
	})
}

// ListAlerts returns recent anomaly alerts, optionally scoped to an identity.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "store not available",
		})
		return
	}

	identityID := r.URL.Query().Get("identity")
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = parsed
	}

	alerts, err := h.store.ListAlerts(r.Context(), identityID, limit)
	if err != nil {
		slog.Error("failed to list alerts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list alerts",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// ResolveAlert marks an anomaly alert as resolved.
func (h *Handler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "store not available",
		})
		return
	}

	alertID := chi.URLParam(r, "id")
	if err := h.store.ResolveAlert(r.Context(), alertID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "alert not found",
			})
			return
		}
		slog.Error("failed to resolve alert", "id", alertID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to resolve alert",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "alert resolved",
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
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

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
