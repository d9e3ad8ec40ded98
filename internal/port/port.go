// Package port implements the process-local host-port allocator used by the
// run lifecycle engine when starting a runtime container.
package port

import (
	"sync"

	"github.com/H2Shami/LLM-Arena/internal/domain"
)

// Allocator hands out host ports from a fixed inclusive range. It holds no
// external state; a crash abandons allocations, which is acceptable because
// the daemon is the sole scheduler on its host and containers are reaped on
// restart.
type Allocator struct {
	mu        sync.Mutex
	min, max  int
	allocated map[int]struct{}
}

// New constructs an Allocator over the inclusive range [min, max].
func New(min, max int) *Allocator {
	return &Allocator{
		min:       min,
		max:       max,
		allocated: make(map[int]struct{}),
	}
}

// Allocate returns the lowest free port in the range and marks it allocated.
// It returns a *domain.ExhaustedError when the range is full.
func (a *Allocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for p := a.min; p <= a.max; p++ {
		if _, taken := a.allocated[p]; !taken {
			a.allocated[p] = struct{}{}
			return p, nil
		}
	}
	return 0, &domain.ExhaustedError{Min: a.min, Max: a.max}
}

// Release frees a previously allocated port. Releasing a port that is not
// currently allocated is a no-op.
func (a *Allocator) Release(p int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.allocated, p)
}

// UsedCount reports how many ports are currently allocated.
func (a *Allocator) UsedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.allocated)
}

// Capacity reports the total size of the configured range.
func (a *Allocator) Capacity() int {
	return a.max - a.min + 1
}
