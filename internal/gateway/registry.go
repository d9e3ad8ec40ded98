// Package gateway holds the Gateway Registry: the in-memory mapping from a
// ready run's identifier to its internal URL that the reverse proxy
// consults on every request.
package gateway

import "sync"

// Registry is a concurrent map safe for many readers and few writers. Writes
// happen only from the lifecycle engine's transitions into and out of
// ready; reads happen from the HTTP surface on every proxied request.
type Registry struct {
	mu    sync.RWMutex
	byRun map[string]string
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{byRun: make(map[string]string)}
}

// Register associates runID with url, overwriting any existing entry.
func (r *Registry) Register(runID, url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byRun[runID] = url
}

// Unregister removes runID from the registry. Idempotent.
func (r *Registry) Unregister(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byRun, runID)
}

// Resolve returns the internal URL for runID, or ("", false) if the run is
// not currently registered.
func (r *Registry) Resolve(runID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	url, ok := r.byRun[runID]
	return url, ok
}

// Size reports the number of currently registered runs.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byRun)
}
