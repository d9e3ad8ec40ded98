// Package httpx is the thin HTTP surface: session/run CRUD, the gateway
// resolve endpoint the external reverse proxy calls on every request, and
// health/stats/metrics.
package httpx

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/H2Shami/LLM-Arena/internal/dockerx"
	"github.com/H2Shami/LLM-Arena/internal/domain"
	"github.com/H2Shami/LLM-Arena/internal/gateway"
	"github.com/H2Shami/LLM-Arena/internal/lifecycle"
	"github.com/H2Shami/LLM-Arena/internal/port"
	"github.com/H2Shami/LLM-Arena/internal/store"
)

const (
	rateWindowDefault   = time.Minute
	rateLimitSessionNew = 30
	rateLimitRunRead    = 240
	rateLimitRunWrite   = 120
	minPromptLength     = 10
	minModels           = 1
	maxModels           = 6
)

// Router wires every spec.md section 6 endpoint to the lifecycle engine,
// the run state store, the gateway registry, and the port allocator.
type Router struct {
	mux     *http.ServeMux
	logger  *slog.Logger
	engine  *lifecycle.Engine
	store   *store.Store
	gateway *gateway.Registry
	ports   *port.Allocator
	adapter dockerx.Adapter
	limiter RateLimiter

	metricsOnce           sync.Once
	metricsInitialized    bool
	requestTotal          *prometheus.CounterVec
	requestDuration       *prometheus.HistogramVec
	rateLimitHits         *prometheus.CounterVec
	lifecycleTransitions  *prometheus.CounterVec
	portPoolUsed          prometheus.Gauge
	portPoolCapacity      prometheus.Gauge
}

// New assembles the router with its dependencies. limiter may be nil, in
// which case an in-process memory limiter is used.
func New(logger *slog.Logger, engine *lifecycle.Engine, st *store.Store, gw *gateway.Registry, ports *port.Allocator, adapter dockerx.Adapter, limiter RateLimiter) *Router {
	r := &Router{
		mux:     http.NewServeMux(),
		logger:  logger,
		engine:  engine,
		store:   st,
		gateway: gw,
		ports:   ports,
		adapter: adapter,
		limiter: limiter,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.routes()
	return r
}

// ServeHTTP satisfies http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources (the rate limiter's sweep loop).
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) routes() {
	r.mux.HandleFunc("/metrics", promhttp.Handler().ServeHTTP)
	r.mux.HandleFunc("/health", r.instrument("/health", r.handleHealth))
	r.mux.HandleFunc("/stats", r.instrument("/stats", r.handleStats))
	r.mux.HandleFunc("/api/sessions", r.instrument("/api/sessions", r.withRateLimit("/api/sessions", rateLimitSessionNew, rateWindowDefault, rateLimitKeyIP, r.handleSessions)))
	r.mux.HandleFunc("/api/sessions/", r.instrument("/api/sessions/:id", r.handleSessionSubroutes))
	r.mux.HandleFunc("/api/runs/", r.instrument("/api/runs/:id", r.handleRunSubroutes))
	r.mux.HandleFunc("/gateway/resolve/", r.instrument("/gateway/resolve/:id", r.handleGatewayResolve))
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (r *Router) handleStats(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	runs := r.store.AllRuns()
	byStatus := make(map[string]int)
	activeContainers := 0
	for _, run := range runs {
		byStatus[string(run.Status)]++
		if run.Status.HasContainer() {
			activeContainers++
		}
	}
	used, capacity := r.ports.UsedCount(), r.ports.Capacity()
	r.recordPortPool(used, capacity)
	writeJSON(w, http.StatusOK, map[string]any{
		"activeContainers": activeContainers,
		"registeredRuns":   r.gateway.Size(),
		"totalRuns":        len(runs),
		"byStatus":         byStatus,
		"ports": map[string]any{
			"usedCount": used,
			"capacity":  capacity,
		},
	})
}

type createSessionRequest struct {
	Prompt string             `json:"prompt"`
	Models []domain.ModelRef  `json:"models"`
}

type createSessionResponse struct {
	SessionID string   `json:"sessionId"`
	RunIDs    []string `json:"runIds"`
}

func (r *Router) handleSessions(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload createSessionRequest
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validateSessionRequest(payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now()
	sessionID := uuid.NewString()
	runs := make([]domain.Run, 0, len(payload.Models))
	for _, model := range payload.Models {
		runs = append(runs, domain.Run{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Provider:  model.Provider,
			Model:     model.Model,
			Status:    domain.StatusQueued,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	session := domain.Session{ID: sessionID, Prompt: payload.Prompt, CreatedAt: now, UpdatedAt: now}
	if err := r.store.CreateSession(session, runs); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	runIDs := make([]string, 0, len(runs))
	for _, run := range runs {
		runIDs = append(runIDs, run.ID)
		r.recordTransition(domain.StatusQueued)
		if err := r.engine.StartRun(run.ID); err != nil {
			r.logger.Warn("auto-start run failed", "run_id", run.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, createSessionResponse{SessionID: sessionID, RunIDs: runIDs})
}

func validateSessionRequest(payload createSessionRequest) error {
	if len(strings.TrimSpace(payload.Prompt)) < minPromptLength {
		return domain.NewValidationError("prompt must be at least %d characters", minPromptLength)
	}
	if len(payload.Models) < minModels || len(payload.Models) > maxModels {
		return domain.NewValidationError("models must contain between %d and %d entries", minModels, maxModels)
	}
	for _, m := range payload.Models {
		if !domain.ValidProvider(m.Provider) {
			return domain.NewValidationError("unrecognized provider %q", m.Provider)
		}
		if strings.TrimSpace(m.Model) == "" {
			return domain.NewValidationError("model name is required for provider %q", m.Provider)
		}
	}
	return nil
}

func (r *Router) handleSessionSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/api/sessions/")
	parts := strings.Split(trimmed, "/")
	sessionID := parts[0]
	if sessionID == "" {
		r.notFound(w)
		return
	}
	if len(parts) == 2 && parts[1] == "start" {
		r.handleSessionStart(w, req, sessionID)
		return
	}
	if len(parts) == 1 {
		r.handleSessionGet(w, req, sessionID)
		return
	}
	r.notFound(w)
}

func (r *Router) handleSessionGet(w http.ResponseWriter, req *http.Request, sessionID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	session, runs, err := r.store.GetSession(sessionID)
	if err != nil {
		r.notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(session, runs))
}

func (r *Router) handleSessionStart(w http.ResponseWriter, req *http.Request, sessionID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	_, runs, err := r.store.GetSession(sessionID)
	if err != nil {
		r.notFound(w)
		return
	}
	for _, run := range runs {
		if !startEligible(run) {
			writeError(w, http.StatusConflict, "one or more runs in this session are already in progress")
			return
		}
	}
	for _, run := range runs {
		if err := r.engine.StartRun(run.ID); err != nil {
			r.logger.Warn("start run failed", "run_id", run.ID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func startEligible(run domain.Run) bool {
	return run.Status == domain.StatusQueued || run.Status.Terminal()
}

func (r *Router) handleRunSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/api/runs/")
	parts := strings.Split(trimmed, "/")
	runID := parts[0]
	if runID == "" {
		r.notFound(w)
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "start":
			r.handleRunStart(w, req, runID)
			return
		case "logs":
			r.handleRunLogs(w, req, runID)
			return
		}
		r.notFound(w)
		return
	}
	if len(parts) != 1 {
		r.notFound(w)
		return
	}
	switch req.Method {
	case http.MethodGet:
		r.handleRunGet(w, req, runID)
	case http.MethodPatch:
		r.handleRunPatch(w, req, runID)
	case http.MethodDelete:
		r.handleRunDelete(w, req, runID)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleRunGet(w http.ResponseWriter, req *http.Request, runID string) {
	key := rateLimitKeyIP(req)
	decision := r.limiter.Allow(key, rateLimitRunRead, rateWindowDefault)
	r.applyRateHeaders(w, rateLimitRunRead, decision)
	if !decision.allowed {
		r.recordRateLimitHit("/api/runs/:id", rateMetricKey(key))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	run, err := r.store.GetRun(runID)
	if err != nil {
		r.notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, runView(run))
}

// checkRunWriteLimit applies the run-mutating rate limit (PATCH, DELETE,
// start) and writes a 429 itself when the caller is over budget. Returns
// false when the caller should stop handling the request.
func (r *Router) checkRunWriteLimit(w http.ResponseWriter, req *http.Request, route string) bool {
	key := rateLimitKeyIP(req)
	decision := r.limiter.Allow(key, rateLimitRunWrite, rateWindowDefault)
	r.applyRateHeaders(w, rateLimitRunWrite, decision)
	if !decision.allowed {
		r.recordRateLimitHit(route, rateMetricKey(key))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return false
	}
	return true
}

// runPatchPayload mirrors store.RunUpdate's mergeable fields for the
// advisory PATCH endpoint: an external caller (or the orchestrator's own
// callback loop, in a split deployment) may push a partial status delta.
type runPatchPayload struct {
	Status      *domain.Status `json:"status"`
	URL         *string        `json:"url"`
	Error       *string        `json:"error"`
	Port        *int           `json:"port"`
	CompletedAt *time.Time     `json:"completedAt"`
}

func (r *Router) handleRunPatch(w http.ResponseWriter, req *http.Request, runID string) {
	if !r.checkRunWriteLimit(w, req, "/api/runs/:id") {
		return
	}
	var payload runPatchPayload
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	upd := store.RunUpdate{}
	if payload.Status != nil {
		upd.Status = *payload.Status
		r.recordTransition(*payload.Status)
	}
	if payload.URL != nil {
		upd.URL = *payload.URL
	}
	if payload.Error != nil {
		upd.Error = *payload.Error
	}
	if payload.Port != nil {
		upd.Port = payload.Port
	}
	if payload.CompletedAt != nil {
		upd.CompletedAt = payload.CompletedAt
	}
	run, err := r.store.UpdateRun(runID, upd)
	if err != nil {
		r.notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, runView(run))
}

func (r *Router) handleRunStart(w http.ResponseWriter, req *http.Request, runID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if !r.checkRunWriteLimit(w, req, "/api/runs/:id/start") {
		return
	}
	run, err := r.store.GetRun(runID)
	if err != nil {
		r.notFound(w)
		return
	}
	if !startEligible(run) {
		writeError(w, http.StatusConflict, "run is already in progress")
		return
	}
	if err := r.engine.StartRun(runID); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (r *Router) handleRunDelete(w http.ResponseWriter, req *http.Request, runID string) {
	if req.Method != http.MethodDelete {
		r.methodNotAllowed(w)
		return
	}
	if !r.checkRunWriteLimit(w, req, "/api/runs/:id") {
		return
	}
	if _, err := r.store.GetRun(runID); err != nil {
		r.notFound(w)
		return
	}
	if err := r.engine.Kill(req.Context(), runID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	r.recordTransition(domain.StatusTerminated)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (r *Router) handleRunLogs(w http.ResponseWriter, req *http.Request, runID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	run, err := r.store.GetRun(runID)
	if err != nil {
		r.notFound(w)
		return
	}
	logs := strings.Join(run.Logs.Start, "\n")
	if run.Container != nil {
		ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
		defer cancel()
		if live, err := r.adapter.Logs(ctx, run.Container); err == nil {
			logs = strings.Join(live, "\n")
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"logs": logs})
}

func (r *Router) handleGatewayResolve(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	runID := strings.TrimPrefix(req.URL.Path, "/gateway/resolve/")
	if runID == "" {
		r.notFound(w)
		return
	}
	url, ok := r.gateway.Resolve(runID)
	if !ok {
		r.notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
