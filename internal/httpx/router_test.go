package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/H2Shami/LLM-Arena/internal/dockerx"
	"github.com/H2Shami/LLM-Arena/internal/domain"
	"github.com/H2Shami/LLM-Arena/internal/gateway"
	"github.com/H2Shami/LLM-Arena/internal/generate"
	"github.com/H2Shami/LLM-Arena/internal/lifecycle"
	"github.com/H2Shami/LLM-Arena/internal/port"
	"github.com/H2Shami/LLM-Arena/internal/store"
	"github.com/H2Shami/LLM-Arena/internal/workspace"
)

type stubGenerator struct {
	files map[string]string
}

func (s stubGenerator) Generate(_ context.Context, _ string, _ domain.ModelRef) (map[string]string, error) {
	return s.files, nil
}

func validFiles() map[string]string {
	return map[string]string{
		"package.json":    `{"scripts":{"build":"tsc","start":"node index.js"}}`,
		"pages/index.tsx": "export default function Home() {}",
	}
}

type testHarness struct {
	router *Router
	st     *store.Store
	gw     *gateway.Registry
	ports  *port.Allocator
	server *httptest.Server
}

func newHarness(t *testing.T, handler http.HandlerFunc) *testHarness {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	parsed, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parse httptest url: %v", err)
	}
	p, err := strconv.Atoi(parsed.Port())
	if err != nil {
		t.Fatalf("parse httptest port: %v", err)
	}

	st := store.New()
	gw := gateway.New()
	ports := port.New(p, p)
	adapter := dockerx.NewFake()
	ws, err := workspace.New(t.TempDir(), "")
	if err != nil {
		t.Fatalf("new workspace manager: %v", err)
	}

	generators := generate.NewRegistry()
	for _, provider := range []string{domain.ProviderOpenAI, domain.ProviderAnthropic} {
		generators.Register(provider, stubGenerator{validFiles()})
	}

	cfg := lifecycle.Config{
		IsolationNetwork:       "arena-isolation",
		BuildImage:             "node:20",
		RunImage:               "node:20",
		InternalPort:           3000,
		Host:                   parsed.Hostname(),
		HealthProbeTimeout:     200 * time.Millisecond,
		HealthProbeInterval:    10 * time.Millisecond,
		HealthProbeMaxAttempts: 3,
		ContainerStopGrace:     time.Second,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	engine := lifecycle.New(cfg, st, adapter, ws, ports, gw, generators, logger)

	router := New(logger, engine, st, gw, ports, adapter, NewMemoryRateLimiter())
	t.Cleanup(router.Close)

	return &testHarness{router: router, st: st, gw: gw, ports: ports, server: server}
}

func waitForStatus(t *testing.T, st *store.Store, runID string, want domain.Status, timeout time.Duration) domain.Run {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		run, err := st.GetRun(runID)
		if err != nil {
			t.Fatalf("get run: %v", err)
		}
		if run.Status == want {
			return run
		}
		if run.Status.Terminal() && want != domain.StatusFailed && want != domain.StatusTerminated {
			t.Fatalf("run reached terminal status %q while waiting for %q: %s", run.Status, want, run.Error)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for status %q", want)
	return domain.Run{}
}

func TestHandleSessionsCreatesAndAutoStarts(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	body := `{"prompt":"build a landing page","models":[{"provider":"openai","model":"gpt-4o"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp createSessionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.SessionID == "" || len(resp.RunIDs) != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}

	run := waitForStatus(t, h.st, resp.RunIDs[0], domain.StatusReady, 2*time.Second)
	if run.Port == nil || *run.Port < 1 {
		t.Fatalf("expected a port in range, got %v", run.Port)
	}
}

func TestHandleSessionsRejectsShortPrompt(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	body := `{"prompt":"short","models":[{"provider":"openai","model":"gpt-4o"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestHandleSessionsRejectsUnknownProvider(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	body := `{"prompt":"build a landing page","models":[{"provider":"acme","model":"x"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestHandleSessionsRejectsTooManyModels(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	models := make([]map[string]string, 0, 7)
	for i := 0; i < 7; i++ {
		models = append(models, map[string]string{"provider": "openai", "model": "gpt-4o"})
	}
	payload := map[string]any{"prompt": "build a landing page", "models": models}
	raw, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", bytes.NewReader(raw))
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestHandleRunGetNotFound(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/api/runs/does-not-exist", nil)
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestHandleRunStartConflictsMidFlight(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) })

	now := time.Now()
	run := domain.Run{ID: "run-x", SessionID: "sess-x", Provider: domain.ProviderOpenAI, Model: "gpt-4o", Status: domain.StatusQueued, CreatedAt: now, UpdatedAt: now}
	session := domain.Session{ID: "sess-x", Prompt: "build a landing page", CreatedAt: now, UpdatedAt: now}
	if err := h.st.CreateSession(session, []domain.Run{run}); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	if _, err := h.st.UpdateRun("run-x", store.RunUpdate{Status: domain.StatusGenerating}); err != nil {
		t.Fatalf("seed status: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/runs/run-x/start", nil)
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestHandleRunDeleteTerminatesRun(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	body := `{"prompt":"build a landing page","models":[{"provider":"openai","model":"gpt-4o"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)
	var resp createSessionResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	runID := resp.RunIDs[0]

	waitForStatus(t, h.st, runID, domain.StatusReady, 2*time.Second)

	del := httptest.NewRequest(http.MethodDelete, "/api/runs/"+runID, nil)
	rr2 := httptest.NewRecorder()
	h.router.ServeHTTP(rr2, del)
	if rr2.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr2.Code)
	}

	run, err := h.st.GetRun(runID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != domain.StatusTerminated {
		t.Fatalf("expected terminated, got %q", run.Status)
	}
}

func TestHandleGatewayResolve(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h.gw.Register("run-y", "http://localhost:3001")

	req := httptest.NewRequest(http.MethodGet, "/gateway/resolve/run-y", nil)
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var payload map[string]string
	_ = json.Unmarshal(rr.Body.Bytes(), &payload)
	if payload["url"] != "http://localhost:3001" {
		t.Fatalf("unexpected resolve payload %v", payload)
	}
}

func TestHandleGatewayResolveNotFound(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/gateway/resolve/missing", nil)
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestHandleStatsReportsPortPoolAndHistogram(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	body := `{"prompt":"build a landing page","models":[{"provider":"openai","model":"gpt-4o"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)
	var resp createSessionResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	waitForStatus(t, h.st, resp.RunIDs[0], domain.StatusReady, 2*time.Second)

	statsReq := httptest.NewRequest(http.MethodGet, "/stats", nil)
	statsRR := httptest.NewRecorder()
	h.router.ServeHTTP(statsRR, statsReq)
	if statsRR.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", statsRR.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(statsRR.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	byStatus, ok := payload["byStatus"].(map[string]any)
	if !ok || byStatus["ready"] == nil {
		t.Fatalf("expected ready entry in byStatus, got %v", payload["byStatus"])
	}
}

func TestHandleHealth(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}
