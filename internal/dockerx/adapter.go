// Package dockerx is the Container Runtime Adapter: the only part of the
// orchestrator that talks to the container engine. It exposes the two-phase
// execution contract the lifecycle engine drives runs through — a networked,
// read-write build phase and an isolated, read-only run phase — and nothing
// else reaches into the engine directly.
package dockerx

import (
	"context"
	"time"

	"github.com/H2Shami/LLM-Arena/internal/domain"
)

// BuildSpec describes a one-shot build-phase container.
type BuildSpec struct {
	WorkspaceDir string
	Image        string
	Cmd          []string
	Env          []string
	MemoryMB     int
	CPUs         float64
	PIDsLimit    int64
}

// RunSpec describes a long-lived run-phase container.
type RunSpec struct {
	WorkspaceDir string
	Image        string
	Cmd          []string
	Env          []string
	InternalPort int
	HostPort     int
	NetworkID    string
	MemoryMB     int
	CPUs         float64
	PIDsLimit    int64
}

// Adapter is the contract the lifecycle engine depends on. The Docker-backed
// implementation lives in this package; internal/dockerx/fake.go supplies an
// in-memory stand-in for tests, exactly the substitution the lifecycle
// engine's tests use in place of a real daemon.
type Adapter interface {
	// EnsureNetwork creates the named bridge network if it does not already
	// exist and returns its engine id. Idempotent.
	EnsureNetwork(ctx context.Context, name string) (string, error)

	// RemoveNetwork tears down the network behind id. Best-effort: a network
	// that is already gone or still has active endpoints is not an error.
	RemoveNetwork(ctx context.Context, id string) error

	// BuildExec runs a one-shot container that performs dependency install
	// and compile. It returns the combined log stream and the container's
	// exit code. The container is removed before BuildExec returns,
	// regardless of outcome.
	BuildExec(ctx context.Context, runID string, spec BuildSpec) (logs []string, exitCode int64, err error)

	// RunExec starts a long-lived container bound to the isolation network,
	// publishing spec.InternalPort on the exact host port spec.HostPort
	// names (the Port Allocator's grant).
	RunExec(ctx context.Context, runID string, spec RunSpec) (*domain.ContainerHandle, error)

	// Inspect reports whether the container behind handle is still running.
	Inspect(ctx context.Context, handle *domain.ContainerHandle) (running bool, err error)

	// Logs returns the container's currently accumulated combined log.
	Logs(ctx context.Context, handle *domain.ContainerHandle) ([]string, error)

	// Metrics samples the container's current CPU percent and memory bytes.
	Metrics(ctx context.Context, handle *domain.ContainerHandle) (cpuPercent float64, memoryBytes int64, err error)

	// Stop stops, then kills, then removes the container behind handle.
	// Idempotent: stopping an already-gone container is not an error.
	Stop(ctx context.Context, handle *domain.ContainerHandle, grace time.Duration) error

	// ReapStale removes any engine-managed containers left over from a
	// previous process lifetime whose id is not in keep.
	ReapStale(ctx context.Context, keep map[string]struct{}) error

	// Close releases any resources the adapter holds open.
	Close() error
}
