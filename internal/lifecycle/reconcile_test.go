package lifecycle

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/H2Shami/LLM-Arena/internal/domain"
	"github.com/H2Shami/LLM-Arena/internal/store"
)

func TestReconcileControllerNilWhenNoGuardsConfigured(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	if c := NewController(h.engine, ReconcileConfig{}); c != nil {
		t.Fatal("expected nil controller with no guards enabled")
	}
}

func TestReconcileKillsExpiredReadyRun(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	_, runID := seedRun(t, h.st)
	if err := h.engine.StartRun(runID); err != nil {
		t.Fatalf("start run: %v", err)
	}
	waitForStatus(t, h.st, runID, domain.StatusReady, 2*time.Second)

	// Backdate completed_at so the run reads as stale against a tiny TTL.
	stale := time.Now().Add(-time.Hour)
	if _, err := h.st.UpdateRun(runID, store.RunUpdate{CompletedAt: &stale}); err != nil {
		t.Fatalf("backdate completed_at: %v", err)
	}

	ctrl := NewController(h.engine, ReconcileConfig{Interval: 10 * time.Millisecond, ReadyTTL: time.Minute})
	if ctrl == nil {
		t.Fatal("expected non-nil controller")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	ctrl.Run(ctx)

	run, err := h.st.GetRun(runID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != domain.StatusTerminated {
		t.Fatalf("expected terminated after ttl sweep, got %q", run.Status)
	}
}

func TestReconcileLeavesHealthyRunsAlone(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	_, runID := seedRun(t, h.st)
	if err := h.engine.StartRun(runID); err != nil {
		t.Fatalf("start run: %v", err)
	}
	waitForStatus(t, h.st, runID, domain.StatusReady, 2*time.Second)

	ctrl := NewController(h.engine, ReconcileConfig{Interval: 10 * time.Millisecond, ReadyTTL: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	ctrl.Run(ctx)

	run, err := h.st.GetRun(runID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != domain.StatusReady {
		t.Fatalf("expected run to remain ready, got %q", run.Status)
	}
}
