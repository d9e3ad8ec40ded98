package lifecycle

import (
	"context"
	"net/http"
	"time"

	"github.com/H2Shami/LLM-Arena/internal/domain"
)

// healthProbe polls url until it answers 2xx, interval apart, up to maxAttempts
// times, each attempt bounded by perAttempt. It returns nil on the first 2xx
// and a *domain.HealthError once attempts are exhausted. ctx cancellation
// (explicit kill) aborts the loop immediately.
func healthProbe(ctx context.Context, client *http.Client, url string, perAttempt, interval time.Duration, maxAttempts int) error {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ok := probeOnce(ctx, client, url, perAttempt); ok {
			return nil
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return &domain.HealthError{Attempts: maxAttempts}
}

func probeOnce(ctx context.Context, client *http.Client, url string, timeout time.Duration) bool {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
