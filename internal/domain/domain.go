// Package domain defines the core types shared across the orchestrator:
// sessions, runs, their status machine, and the model-provider pairs that
// drive code generation.
package domain

import "time"

// Status is a run's position in the lifecycle state machine.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusGenerating Status = "generating"
	StatusInstalling Status = "installing"
	StatusBuilding   Status = "building"
	StatusStarting   Status = "starting"
	StatusHealthy    Status = "healthy"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
	StatusTerminated Status = "terminated"
)

// forwardOrder gives each non-terminal status its position in the happy path.
var forwardOrder = map[Status]int{
	StatusQueued:     0,
	StatusGenerating: 1,
	StatusInstalling: 2,
	StatusBuilding:   3,
	StatusStarting:   4,
	StatusHealthy:    5,
	StatusReady:      6,
}

// Terminal reports whether a status has no further transitions.
func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusTerminated
}

// CanAdvanceTo reports whether moving from s to next is a legal forward
// transition (exactly one step along the happy path) or a move from a
// non-terminal state into a terminal one; staying in the same state is not
// a legal move. The one
// exception to "terminal has no further transitions" is StatusGenerating:
// starting a run from queued or terminal dispatches a fresh state machine
// from the top, the explicit retry-from-terminal path this orchestrator
// supports.
func (s Status) CanAdvanceTo(next Status) bool {
	if next == StatusFailed || next == StatusTerminated {
		return !s.Terminal()
	}
	if s.Terminal() {
		return next == StatusGenerating
	}
	curOrd, ok := forwardOrder[s]
	if !ok {
		return false
	}
	nextOrd, ok := forwardOrder[next]
	if !ok {
		return false
	}
	return nextOrd == curOrd+1
}

// HasContainer reports whether a run in this status must hold a non-nil
// container handle, per the invariant in spec section 3.
func (s Status) HasContainer() bool {
	return s == StatusStarting || s == StatusHealthy || s == StatusReady
}

// ModelRef names a single (provider, model) pair to benchmark.
type ModelRef struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Provider enumerates the recognized code-generation providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
	ProviderXAI       = "xai"
	ProviderMeta      = "meta"
	ProviderDeepSeek  = "deepseek"
)

var validProviders = map[string]struct{}{
	ProviderOpenAI:    {},
	ProviderAnthropic: {},
	ProviderGoogle:    {},
	ProviderXAI:       {},
	ProviderMeta:      {},
	ProviderDeepSeek:  {},
}

// ValidProvider reports whether name is a recognized provider.
func ValidProvider(name string) bool {
	_, ok := validProviders[name]
	return ok
}

// Session groups the runs spawned by a single prompt submission.
type Session struct {
	ID        string
	Prompt    string
	CreatedAt time.Time
	UpdatedAt time.Time
	RunIDs    []string
}

// LogBuffers holds the four named log streams a run accumulates.
type LogBuffers struct {
	Install []string
	Build   []string
	Start   []string
	Error   []string
}

// ContainerHandle identifies a container the adapter is managing on behalf
// of a run. It is opaque outside internal/dockerx.
type ContainerHandle struct {
	EngineID    string
	InternalIP  string
	HostPort    int
	ContainerIP string
}

// Run is one (prompt, provider, model) triple under the lifecycle engine.
type Run struct {
	ID          string
	SessionID   string
	Provider    string
	Model       string
	Status      Status
	Port        *int
	Container   *ContainerHandle
	URL         string
	Error       string
	Logs        LogBuffers
	CreatedAt   time.Time
	StartedAt   *time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time

	// CPUPercent and MemoryBytes are the most recent container metrics
	// sample, when metrics sampling is enabled. Nil means no sample yet.
	CPUPercent  *float64
	MemoryBytes *int64
}

// PublicURL returns the URL to expose for this run's status, or "" unless
// the run is ready.
func (r Run) PublicURL() string {
	if r.Status != StatusReady {
		return ""
	}
	return r.URL
}
