package lifecycle

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/H2Shami/LLM-Arena/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestCallbackDeliversPatch(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Method != http.MethodPatch {
			t.Errorf("expected PATCH, got %s", r.Method)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cb := newRunCallback(server.URL, time.Second, testLogger())
	cb.Notify("run-1", runStatusPayload{Status: domain.StatusReady})

	if hits.Load() != 1 {
		t.Fatalf("expected one delivered callback, got %d", hits.Load())
	}
}

func TestCallbackSuppressesAfter4xx(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	cb := newRunCallback(server.URL, time.Second, testLogger())
	cb.Notify("run-1", runStatusPayload{Status: domain.StatusFailed})
	cb.Notify("run-1", runStatusPayload{Status: domain.StatusFailed})

	if hits.Load() != 1 {
		t.Fatalf("expected the second call to be suppressed, got %d hits", hits.Load())
	}
}

func TestCallbackClearSuppressionReenables(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	cb := newRunCallback(server.URL, time.Second, testLogger())
	cb.Notify("run-1", runStatusPayload{Status: domain.StatusFailed})
	cb.clearSuppression("run-1")
	cb.Notify("run-1", runStatusPayload{Status: domain.StatusFailed})

	if hits.Load() != 2 {
		t.Fatalf("expected clearSuppression to re-enable delivery, got %d hits", hits.Load())
	}
}

func TestCallbackNoopWithoutBaseURL(t *testing.T) {
	cb := newRunCallback("", time.Second, testLogger())
	// Must not panic or block; there is nowhere to deliver to.
	cb.Notify("run-1", runStatusPayload{Status: domain.StatusReady})
}
