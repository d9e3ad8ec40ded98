package dockerx

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/H2Shami/LLM-Arena/internal/domain"
)

// Fake is an in-memory Adapter used by lifecycle engine tests in place of a
// real container engine. Callers configure its behavior per run id before
// exercising the engine against it.
type Fake struct {
	mu sync.Mutex

	networks map[string]string
	running  map[string]bool
	nextPort int

	// BuildResult, keyed by runID, overrides the default success outcome of
	// BuildExec. A missing entry succeeds with a zero exit code.
	BuildResult map[string]FakeBuildResult
	// RunFailure, keyed by runID, makes RunExec fail for that run.
	RunFailure map[string]error
	// StopFailure, keyed by runID, makes Stop fail for that run.
	StopFailure map[string]error
	// BuildBlock, keyed by runID, makes BuildExec block until the channel is
	// closed or ctx is cancelled, for tests that need to observe a run
	// mid-build.
	BuildBlock map[string]chan struct{}
}

// FakeBuildResult configures the canned outcome of a fake BuildExec call.
type FakeBuildResult struct {
	Logs     []string
	ExitCode int64
	Err      error
}

// NewFake constructs an empty Fake adapter. Host ports are handed out
// starting at 20000, mirroring the shape of a real bound range without
// depending on internal/port.
func NewFake() *Fake {
	return &Fake{
		networks:    make(map[string]string),
		running:     make(map[string]bool),
		nextPort:    20000,
		BuildResult: make(map[string]FakeBuildResult),
		RunFailure:  make(map[string]error),
		StopFailure: make(map[string]error),
		BuildBlock:  make(map[string]chan struct{}),
	}
}

func (f *Fake) EnsureNetwork(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.networks[name]; ok {
		return id, nil
	}
	id := "net-" + name
	f.networks[name] = id
	return id, nil
}

func (f *Fake) RemoveNetwork(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for name, existing := range f.networks {
		if existing == id {
			delete(f.networks, name)
			return nil
		}
	}
	return nil
}

func (f *Fake) BuildExec(ctx context.Context, runID string, spec BuildSpec) ([]string, int64, error) {
	f.mu.Lock()
	block := f.BuildBlock[runID]
	result, configured := f.BuildResult[runID]
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}

	if !configured {
		return []string{"installing dependencies", "build complete"}, 0, nil
	}
	return result.Logs, result.ExitCode, result.Err
}

func (f *Fake) RunExec(ctx context.Context, runID string, spec RunSpec) (*domain.ContainerHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.RunFailure[runID]; ok {
		return nil, err
	}

	port := spec.HostPort
	if port == 0 {
		port = f.nextPort
		f.nextPort++
	}
	engineID := fmt.Sprintf("fake-%s", runID)
	f.running[engineID] = true

	return &domain.ContainerHandle{
		EngineID:    engineID,
		HostPort:    port,
		ContainerIP: "10.0.0.1",
	}, nil
}

func (f *Fake) Inspect(ctx context.Context, handle *domain.ContainerHandle) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[handle.EngineID], nil
}

func (f *Fake) Logs(ctx context.Context, handle *domain.ContainerHandle) ([]string, error) {
	return []string{"listening on port"}, nil
}

func (f *Fake) Metrics(ctx context.Context, handle *domain.ContainerHandle) (float64, int64, error) {
	return 0.5, 64 * 1024 * 1024, nil
}

func (f *Fake) Stop(ctx context.Context, handle *domain.ContainerHandle, grace time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if handle == nil {
		return nil
	}
	for runID, err := range f.StopFailure {
		if handle.EngineID == fmt.Sprintf("fake-%s", runID) {
			return err
		}
	}
	delete(f.running, handle.EngineID)
	return nil
}

func (f *Fake) ReapStale(ctx context.Context, keep map[string]struct{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id := range f.running {
		if _, ok := keep[id]; !ok {
			delete(f.running, id)
		}
	}
	return nil
}

func (f *Fake) Close() error { return nil }
