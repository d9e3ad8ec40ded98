package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/H2Shami/LLM-Arena/internal/domain"
)

const reconcileOpTimeout = 15 * time.Second

// ReconcileConfig configures the background sweep that enforces resource
// ceilings over the lifetime of a ready run, the same role the teacher's
// runtime controller plays against its Postgres-backed container table.
type ReconcileConfig struct {
	Interval         time.Duration
	ReadyTTL         time.Duration
	CPULimitPercent  float64
	MemoryLimitBytes int64
}

// enabled reports whether any guard is configured; a Controller with no
// guards enabled never lists runs.
func (c ReconcileConfig) enabled() bool {
	return c.ReadyTTL > 0 || c.CPULimitPercent > 0 || c.MemoryLimitBytes > 0
}

// Controller runs the reconciliation sweep: periodically lists every ready
// run and kills any that have exceeded a configured TTL, CPU, or memory
// ceiling. Caps themselves are enforced by the container engine at start
// time; this closes the gap for a container that drifts over its cap
// mid-life or simply overstays its welcome.
type Controller struct {
	engine *Engine
	cfg    ReconcileConfig
	now    func() time.Time
}

// NewController constructs a reconciliation Controller, or nil if no guard
// is configured — mirroring the teacher's "no runtime guards enabled"
// short-circuit.
func NewController(engine *Engine, cfg ReconcileConfig) *Controller {
	if !cfg.enabled() {
		return nil
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &Controller{engine: engine, cfg: cfg, now: time.Now}
}

// Run executes the sweep on cfg.Interval until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	if c == nil {
		return
	}
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	c.engine.logger.Info("runtime reconciliation controller started", "interval", c.cfg.Interval)
	c.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			c.engine.logger.Info("runtime reconciliation controller stopped")
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

func (c *Controller) sweep(parent context.Context) {
	timeout := reconcileOpTimeout
	if c.cfg.Interval > 0 && c.cfg.Interval < timeout {
		timeout = c.cfg.Interval
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	cutoff := c.now().Add(-c.cfg.ReadyTTL)
	for _, run := range c.engine.store.AllRuns() {
		if run.Status != domain.StatusReady {
			continue
		}
		if reason := c.violation(run, cutoff); reason != "" {
			c.engine.logger.Info("reconciliation killing run", "run_id", run.ID, "reason", reason)
			if err := c.engine.Kill(ctx, run.ID); err != nil {
				c.engine.logger.Warn("reconciliation kill failed", "run_id", run.ID, "error", err)
			}
		}
	}
}

func (c *Controller) violation(run domain.Run, cutoff time.Time) string {
	if c.cfg.ReadyTTL > 0 && run.CompletedAt != nil && run.CompletedAt.Before(cutoff) {
		return fmt.Sprintf("ready longer than ttl=%s", c.cfg.ReadyTTL)
	}
	if c.cfg.CPULimitPercent > 0 && run.CPUPercent != nil && *run.CPUPercent > c.cfg.CPULimitPercent {
		return fmt.Sprintf("cpu=%.2f%% limit=%.0f%%", *run.CPUPercent, c.cfg.CPULimitPercent)
	}
	if c.cfg.MemoryLimitBytes > 0 && run.MemoryBytes != nil && *run.MemoryBytes > c.cfg.MemoryLimitBytes {
		return fmt.Sprintf("memory=%d limit=%d", *run.MemoryBytes, c.cfg.MemoryLimitBytes)
	}
	return ""
}
