package lifecycle

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/H2Shami/LLM-Arena/internal/domain"
)

func TestHealthProbeSucceedsOnFirst2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := healthProbe(context.Background(), server.Client(), server.URL, time.Second, 10*time.Millisecond, 5)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestHealthProbeSucceedsAfterMisses(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := healthProbe(context.Background(), server.Client(), server.URL, time.Second, 5*time.Millisecond, 10)
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts.Load() != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", attempts.Load())
	}
}

func TestHealthProbeExhaustsAttempts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err := healthProbe(context.Background(), server.Client(), server.URL, time.Second, time.Millisecond, 4)
	var healthErr *domain.HealthError
	if !errors.As(err, &healthErr) {
		t.Fatalf("expected *domain.HealthError, got %v", err)
	}
	if healthErr.Attempts != 4 {
		t.Fatalf("expected 4 attempts recorded, got %d", healthErr.Attempts)
	}
}

func TestHealthProbeRespectsCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := healthProbe(ctx, server.Client(), server.URL, time.Second, time.Millisecond, 20)
	if err == nil {
		t.Fatal("expected cancellation to surface as an error")
	}
}
