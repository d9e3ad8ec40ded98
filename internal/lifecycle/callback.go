package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/H2Shami/LLM-Arena/internal/domain"
)

// runCallback issues the best-effort PATCH to the UI's run endpoint every
// transition requires. It never alters the state machine: the Run State
// Store remains authoritative regardless of callback outcome. Delivery is
// synchronous, so each call holds up its caller for at most the client
// timeout.
type runCallback struct {
	client  *http.Client
	baseURL string
	logger  *slog.Logger

	suppressed *sync.Map
	ttl        time.Duration
}

type suppressionEntry struct {
	expires time.Time
}

// newRunCallback constructs a callback client against baseURL (the UI's
// MAIN_APP_URL). An empty baseURL disables callbacks entirely.
func newRunCallback(baseURL string, timeout time.Duration, logger *slog.Logger) *runCallback {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var client *http.Client
	if baseURL != "" {
		client = &http.Client{Timeout: timeout}
	}
	return &runCallback{
		client:     client,
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger,
		suppressed: &sync.Map{},
		ttl:        5 * time.Minute,
	}
}

type runStatusPayload struct {
	Status      domain.Status `json:"status"`
	URL         string        `json:"url,omitempty"`
	Error       string        `json:"error,omitempty"`
	Port        *int          `json:"port,omitempty"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// Notify PATCHes a partial run update to the UI. Failures and non-2xx
// responses are logged and ignored; a 4xx response suppresses further
// callbacks for this run until the suppression TTL lapses, so a
// misconfigured or already-deleted UI record doesn't cost a PATCH attempt
// per transition.
func (c *runCallback) Notify(runID string, payload runStatusPayload) {
	if c == nil || c.client == nil || c.baseURL == "" {
		return
	}
	if c.shouldSuppress(runID) {
		return
	}
	payload.Timestamp = time.Now().UTC()

	body, err := json.Marshal(payload)
	if err != nil {
		c.logger.Warn("marshal run callback payload failed", "run_id", runID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.client.Timeout)
	defer cancel()

	url := fmt.Sprintf("%s/api/runs/%s", c.baseURL, runID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(body))
	if err != nil {
		c.logger.Warn("build run callback request failed", "run_id", runID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("run callback request failed", "run_id", runID, "error", err)
		return
	}
	defer resp.Body.Close()
	if _, copyErr := io.Copy(io.Discard, resp.Body); copyErr != nil {
		c.logger.Debug("discard run callback response failed", "run_id", runID, "error", copyErr)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		c.logger.Warn("run callback response status", "run_id", runID, "status_code", resp.StatusCode)
		if resp.StatusCode >= http.StatusBadRequest && resp.StatusCode < http.StatusInternalServerError {
			c.suppress(runID)
		}
	}
}

func (c *runCallback) shouldSuppress(runID string) bool {
	value, ok := c.suppressed.Load(runID)
	if !ok {
		return false
	}
	entry, ok := value.(suppressionEntry)
	if !ok {
		c.suppressed.Delete(runID)
		return false
	}
	if time.Now().Before(entry.expires) {
		return true
	}
	c.suppressed.Delete(runID)
	return false
}

func (c *runCallback) suppress(runID string) {
	c.suppressed.Store(runID, suppressionEntry{expires: time.Now().Add(c.ttl)})
}

func (c *runCallback) clearSuppression(runID string) {
	c.suppressed.Delete(runID)
}
