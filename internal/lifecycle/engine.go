// Package lifecycle is the Run Lifecycle Engine: the sequential state
// machine that drives one run from queued through ready (or failed, or an
// explicit kill to terminated), coordinating every other leaf component.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/H2Shami/LLM-Arena/internal/dockerx"
	"github.com/H2Shami/LLM-Arena/internal/domain"
	"github.com/H2Shami/LLM-Arena/internal/gateway"
	"github.com/H2Shami/LLM-Arena/internal/generate"
	"github.com/H2Shami/LLM-Arena/internal/port"
	"github.com/H2Shami/LLM-Arena/internal/store"
	"github.com/H2Shami/LLM-Arena/internal/workspace"
)

// Config holds the per-transition knobs spec.md section 4.6/5 pins down.
type Config struct {
	IsolationNetwork string

	BuildImage string
	RunImage   string

	BuildMemoryMB  int
	BuildCPUs      float64
	BuildPIDsLimit int64

	RunMemoryMB  int
	RunCPUs      float64
	RunPIDsLimit int64

	InternalPort int
	Host         string // host segment of the internal URL, e.g. "localhost"

	HealthProbeTimeout     time.Duration
	HealthProbeInterval    time.Duration
	HealthProbeMaxAttempts int

	ContainerStopGrace time.Duration

	MetricsSampleInterval time.Duration

	CallbackBaseURL string
	CallbackTimeout time.Duration
}

// Engine owns the run lifecycle state machine. It is the only component
// that writes to the Port Allocator, Gateway Registry, and Run State Store
// together, so it is the one place the cross-component invariants in
// spec.md section 8 are actually enforced.
type Engine struct {
	cfg Config

	store      *store.Store
	adapter    dockerx.Adapter
	workspace  *workspace.Manager
	ports      *port.Allocator
	gateway    *gateway.Registry
	generators *generate.Registry
	callback   *runCallback
	logger     *slog.Logger

	healthClient *http.Client

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	cleaned map[string]bool
}

// New constructs a Run Lifecycle Engine wired to its leaf dependencies.
func New(cfg Config, st *store.Store, adapter dockerx.Adapter, ws *workspace.Manager, ports *port.Allocator, gw *gateway.Registry, generators *generate.Registry, logger *slog.Logger) *Engine {
	if cfg.HealthProbeMaxAttempts <= 0 {
		cfg.HealthProbeMaxAttempts = 30
	}
	if cfg.HealthProbeInterval <= 0 {
		cfg.HealthProbeInterval = 2 * time.Second
	}
	if cfg.HealthProbeTimeout <= 0 {
		cfg.HealthProbeTimeout = 5 * time.Second
	}
	if cfg.ContainerStopGrace <= 0 {
		cfg.ContainerStopGrace = 10 * time.Second
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}

	return &Engine{
		cfg:          cfg,
		store:        st,
		adapter:      adapter,
		workspace:    ws,
		ports:        ports,
		gateway:      gw,
		generators:   generators,
		callback:     newRunCallback(cfg.CallbackBaseURL, cfg.CallbackTimeout, logger),
		logger:       logger,
		healthClient: &http.Client{Timeout: cfg.HealthProbeTimeout + time.Second},
		cancels:      make(map[string]context.CancelFunc),
		cleaned:      make(map[string]bool),
	}
}

// StartRun launches the state machine for runID in its own goroutine. It is
// only accepted when the run is queued and not already dispatched, or sits
// in a terminal state (explicit retry-from-terminal); any other status
// returns a 409-shaped error for the HTTP layer to surface.
func (e *Engine) StartRun(runID string) error {
	run, err := e.store.GetRun(runID)
	if err != nil {
		return err
	}
	if run.Status != domain.StatusQueued && !run.Status.Terminal() {
		return fmt.Errorf("run %q is already in progress (status %q)", runID, run.Status)
	}
	session, _, err := e.store.GetSession(run.SessionID)
	if err != nil {
		return fmt.Errorf("load parent session: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	if _, dispatched := e.cancels[runID]; dispatched {
		e.mu.Unlock()
		cancel()
		return fmt.Errorf("run %q is already in progress (already dispatched)", runID)
	}
	e.cancels[runID] = cancel
	delete(e.cleaned, runID)
	e.mu.Unlock()

	e.callback.clearSuppression(runID)

	go func() {
		defer func() {
			e.mu.Lock()
			delete(e.cancels, runID)
			e.mu.Unlock()
		}()
		e.drive(ctx, session.Prompt, runID, domain.ModelRef{Provider: run.Provider, Model: run.Model})
	}()
	return nil
}

// Kill stops runID's container (if any), releases its resources, and marks
// it terminated. Allowed from any non-terminal state; a no-op returning
// success if the run is already terminal.
func (e *Engine) Kill(ctx context.Context, runID string) error {
	run, err := e.store.GetRun(runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return nil
	}

	e.mu.Lock()
	cancel := e.cancels[runID]
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	e.cleanup(ctx, runID, run)

	now := time.Now()
	killed, err := e.store.UpdateRun(runID, store.RunUpdate{
		Status:         domain.StatusTerminated,
		ClearPort:      true,
		ClearContainer: true,
		CompletedAt:    &now,
	})
	if err != nil {
		return err
	}
	if killed.Status != domain.StatusTerminated {
		// Lost the race to fail(): drive() reached a terminal status of its
		// own between the Terminal() check above and this write. The run's
		// resources are already cleaned up either way, so this is still a
		// successful no-op from the caller's point of view.
		return nil
	}
	e.callback.Notify(runID, runStatusPayload{Status: domain.StatusTerminated, CompletedAt: &now})
	return nil
}

// drive runs the full happy-path state machine for one run, falling back to
// fail() at the first error and returning. Every step checks ctx so an
// explicit kill interrupts a blocking call as soon as it's cancellable.
func (e *Engine) drive(ctx context.Context, prompt, runID string, model domain.ModelRef) {
	log := e.logger.With("run_id", runID, "provider", model.Provider, "model", model.Model)

	startedAt := time.Now()
	if _, err := e.store.UpdateRun(runID, store.RunUpdate{Status: domain.StatusGenerating, StartedAt: &startedAt}); err != nil {
		log.Error("mark generating failed", "error", err)
		return
	}
	e.callback.Notify(runID, runStatusPayload{Status: domain.StatusGenerating})

	files, err := e.generators.Generate(ctx, prompt, model)
	if err != nil {
		e.fail(ctx, runID, domain.StatusGenerating, err)
		return
	}

	if err := e.advance(runID, domain.StatusInstalling); err != nil {
		log.Error("advance to installing failed", "error", err)
		return
	}
	e.callback.Notify(runID, runStatusPayload{Status: domain.StatusInstalling})

	workDir, err := e.workspace.Prepare(runID, files)
	if err != nil {
		e.fail(ctx, runID, domain.StatusInstalling, err)
		return
	}

	if err := e.advance(runID, domain.StatusBuilding); err != nil {
		log.Error("advance to building failed", "error", err)
		return
	}
	e.callback.Notify(runID, runStatusPayload{Status: domain.StatusBuilding})

	manifest, err := workspace.LoadManifest(workDir)
	if err != nil {
		log.Warn("template manifest unreadable, falling back to conventional scripts", "error", err)
	}
	buildCmd := buildCommand(manifest)

	logLines, exitCode, err := e.adapter.BuildExec(ctx, runID, dockerx.BuildSpec{
		WorkspaceDir: workDir,
		Image:        e.cfg.BuildImage,
		Cmd:          buildCmd,
		MemoryMB:     e.cfg.BuildMemoryMB,
		CPUs:         e.cfg.BuildCPUs,
		PIDsLimit:    e.cfg.BuildPIDsLimit,
	})
	agg := ingestAll(logLines)
	if err != nil {
		e.saveInstallBuildLogs(runID, agg.Snapshot(0))
		e.fail(ctx, runID, domain.StatusBuilding, &domain.EngineError{Msg: "build container invocation failed", Err: err})
		return
	}
	e.saveInstallBuildLogs(runID, agg.Snapshot(0))
	if exitCode != 0 {
		e.fail(ctx, runID, domain.StatusBuilding, &domain.BuildError{ExitCode: int(exitCode), Tail: agg.Snapshot(0)})
		return
	}

	hostPort, err := e.ports.Allocate()
	if err != nil {
		e.fail(ctx, runID, domain.StatusBuilding, err)
		return
	}

	networkID, err := e.adapter.EnsureNetwork(ctx, e.cfg.IsolationNetwork)
	if err != nil {
		e.ports.Release(hostPort)
		e.fail(ctx, runID, domain.StatusBuilding, &domain.EngineError{Msg: "ensure isolation network failed", Err: err})
		return
	}

	if err := e.advance(runID, domain.StatusStarting); err != nil {
		e.ports.Release(hostPort)
		log.Error("advance to starting failed", "error", err)
		return
	}
	e.callback.Notify(runID, runStatusPayload{Status: domain.StatusStarting})

	startCmd := startCommand(manifest)
	handle, err := e.adapter.RunExec(ctx, runID, dockerx.RunSpec{
		WorkspaceDir: workDir,
		Image:        e.cfg.RunImage,
		Cmd:          startCmd,
		InternalPort: e.cfg.InternalPort,
		HostPort:     hostPort,
		NetworkID:    networkID,
		MemoryMB:     e.cfg.RunMemoryMB,
		CPUs:         e.cfg.RunCPUs,
		PIDsLimit:    e.cfg.RunPIDsLimit,
	})
	if err != nil {
		// Tie-break per spec.md 4.6: release the port before publishing the
		// failure when allocation succeeded but the container never started.
		e.ports.Release(hostPort)
		e.fail(ctx, runID, domain.StatusStarting, &domain.StartError{Msg: "run container failed to start", Err: err})
		return
	}

	internalURL := fmt.Sprintf("http://%s:%d", e.cfg.Host, hostPort)
	committed, err := e.store.UpdateRun(runID, store.RunUpdate{Port: &hostPort, Container: handle, URL: internalURL})
	if err != nil {
		e.ports.Release(hostPort)
		_ = e.adapter.Stop(context.Background(), handle, e.cfg.ContainerStopGrace)
		log.Error("record container handle failed", "error", err)
		return
	}
	if committed.Status.Terminal() {
		// The store silently drops a blind field write once a run is
		// terminal (store.go), which is exactly what just happened: this
		// run was killed while the container was starting. Kill's own
		// cleanup ran against a snapshot that never saw this handle or
		// port, so this goroutine is the only one that can release them.
		log.Info("run killed before container handle could be recorded")
		_ = e.adapter.Stop(context.Background(), handle, e.cfg.ContainerStopGrace)
		e.ports.Release(hostPort)
		return
	}

	if err := healthProbe(ctx, e.healthClient, internalURL, e.cfg.HealthProbeTimeout, e.cfg.HealthProbeInterval, e.cfg.HealthProbeMaxAttempts); err != nil {
		e.fail(ctx, runID, domain.StatusStarting, err)
		return
	}

	if err := e.advance(runID, domain.StatusHealthy); err != nil {
		// CanAdvanceTo already rejects this once the run is terminal, which
		// covers a kill landing anywhere up to this point: the container and
		// port are already committed to the store above, so Kill's own
		// cleanup (running concurrently against a fresh snapshot) owns
		// stopping/releasing them.
		log.Error("advance to healthy failed", "error", err)
		return
	}
	e.callback.Notify(runID, runStatusPayload{Status: domain.StatusHealthy, URL: internalURL})

	completedAt := time.Now()
	ranRun, err := e.store.UpdateRun(runID, store.RunUpdate{Status: domain.StatusReady, CompletedAt: &completedAt})
	if err != nil {
		log.Error("advance to ready failed", "error", err)
		return
	}
	if ranRun.Status != domain.StatusReady {
		// CanAdvanceTo rejected the write: a kill landed between the healthy
		// commit above and here and already owns cleanup for this run's
		// container and port. Registering a gateway entry or notifying ready
		// now would advertise a run that no longer exists.
		log.Info("run killed before ready could be committed, not registering")
		return
	}
	e.gateway.Register(runID, internalURL)
	e.callback.Notify(runID, runStatusPayload{Status: domain.StatusReady, URL: internalURL, CompletedAt: &completedAt})

	if e.cfg.MetricsSampleInterval > 0 {
		e.sampleMetrics(ctx, runID, handle)
	}
}

// advance performs the pure status transition half of a step; the side
// effect that earns the transition has already happened by the time this
// is called.
func (e *Engine) advance(runID string, next domain.Status) error {
	current, err := e.store.GetRun(runID)
	if err != nil {
		return err
	}
	if !current.Status.CanAdvanceTo(next) {
		return fmt.Errorf("illegal transition %q -> %q for run %q", current.Status, next, runID)
	}
	updated, err := e.store.UpdateRun(runID, store.RunUpdate{Status: next})
	if err != nil {
		return err
	}
	if updated.Status != next {
		// The pre-check above and this write aren't atomic with each other;
		// a kill landed in between and the store (store.go) silently
		// dropped this write rather than resurrect a terminated run. Report
		// it as a failed transition so every call site's existing
		// error-handling (release any locally-held port, stop, log) fires.
		return fmt.Errorf("transition %q -> %q for run %q lost a race with a concurrent terminal write", current.Status, next, runID)
	}
	return nil
}

func (e *Engine) saveInstallBuildLogs(runID string, lines []string) {
	logs := domain.LogBuffers{Build: lines}
	_, _ = e.store.UpdateRun(runID, store.RunUpdate{Logs: &logs})
}

// fail implements the single failure path every transition shares: record
// the error, run the full cleanup sequence, then mark failed.
func (e *Engine) fail(ctx context.Context, runID string, stage domain.Status, err error) {
	if ctx.Err() != nil {
		// The step that produced err was interrupted by an explicit kill,
		// not a genuine failure; Kill already owns cleanup and the terminal
		// status write for this dispatch. Recording this as Failed would
		// race Kill's Terminated write with no guarantee of which commits
		// first.
		e.logger.Info("run step aborted by kill, not recording as failed", "run_id", runID, "stage", stage)
		return
	}
	e.logger.Warn("run failed", "run_id", runID, "stage", stage, "error", err)

	run, getErr := e.store.GetRun(runID)
	if getErr == nil && !run.Status.Terminal() {
		e.cleanup(context.Background(), runID, run)
	}

	now := time.Now()
	_, _ = e.store.UpdateRun(runID, store.RunUpdate{
		Status:         domain.StatusFailed,
		Error:          err.Error(),
		ClearPort:      true,
		ClearContainer: true,
		CompletedAt:    &now,
	})
	e.callback.Notify(runID, runStatusPayload{Status: domain.StatusFailed, Error: err.Error(), CompletedAt: &now})
}

// cleanup performs the side effects every terminal path shares: unregister
// from the gateway, stop the container, release the port, delete the
// workspace. Idempotent per dispatch (guarded by e.cleaned): Kill and fail
// can both observe a run as non-terminal and race into cleanup with
// snapshots taken at different times, and running the real side effects
// twice would release a port or stop a container a second party has
// already reused. Only the first caller's snapshot is acted on; later
// callers see e.cleaned already set and return immediately.
func (e *Engine) cleanup(ctx context.Context, runID string, run domain.Run) {
	e.mu.Lock()
	if e.cleaned[runID] {
		e.mu.Unlock()
		return
	}
	e.cleaned[runID] = true
	e.mu.Unlock()

	e.gateway.Unregister(runID)
	if run.Container != nil {
		if err := e.adapter.Stop(ctx, run.Container, e.cfg.ContainerStopGrace); err != nil {
			e.logger.Warn("stop container during cleanup failed", "run_id", runID, "error", err)
		}
	}
	if run.Port != nil {
		e.ports.Release(*run.Port)
	}
	if err := e.workspace.CleanupByID(runID); err != nil {
		e.logger.Warn("workspace cleanup failed", "run_id", runID, "error", err)
	}
}

func (e *Engine) sampleMetrics(ctx context.Context, runID string, handle *domain.ContainerHandle) {
	ticker := time.NewTicker(e.cfg.MetricsSampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			running, err := e.adapter.Inspect(ctx, handle)
			if err != nil || !running {
				return
			}
			cpu, mem, err := e.adapter.Metrics(ctx, handle)
			if err != nil {
				continue
			}
			_, _ = e.store.UpdateRun(runID, store.RunUpdate{CPUPercent: &cpu, MemoryBytes: &mem})
		}
	}
}

// buildCommand turns the template manifest's build script into a container
// command. A nil manifest or empty script falls back to a conventional
// install-then-build invocation.
func buildCommand(manifest *workspace.TemplateManifest) []string {
	script := "npm install && npm run build"
	if manifest != nil && strings.TrimSpace(manifest.BuildScript) != "" {
		script = manifest.BuildScript
	}
	return []string{"sh", "-c", script}
}

// startCommand turns the template manifest's start script into a container
// command, falling back to the conventional start script name.
func startCommand(manifest *workspace.TemplateManifest) []string {
	script := "npm start"
	if manifest != nil && strings.TrimSpace(manifest.StartScript) != "" {
		script = manifest.StartScript
	}
	return []string{"sh", "-c", script}
}
