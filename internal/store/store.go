// Package store is the Run State Store: the in-memory, single-source-of-truth
// record of every session and run, keyed by identifier.
package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/H2Shami/LLM-Arena/internal/domain"
)

// Store holds sessions and their runs. All mutations to a single run are
// serialized by that run's per-run mutex; reads are snapshot-consistent for
// a single run but may observe a session's runs at slightly different
// instants, which is acceptable because the HTTP surface is polled.
type Store struct {
	mu sync.RWMutex

	sessions map[string]*domain.Session
	runs     map[string]*domain.Run
	runLocks map[string]*sync.Mutex
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		sessions: make(map[string]*domain.Session),
		runs:     make(map[string]*domain.Run),
		runLocks: make(map[string]*sync.Mutex),
	}
}

// RunUpdate carries the fields update-run may change. Nil pointer fields
// are left untouched; the zero value of a non-pointer field (Status == "",
// Error == "") is also left untouched, so callers only set what changed.
type RunUpdate struct {
	Status         domain.Status
	Port           *int
	Container      *domain.ContainerHandle
	ClearPort      bool
	ClearContainer bool
	URL            string
	Error          string
	Logs           *domain.LogBuffers
	StartedAt      *time.Time
	CompletedAt    *time.Time
	CPUPercent     *float64
	MemoryBytes    *int64
}

// CreateSession atomically creates a session and its child runs.
func (s *Store) CreateSession(session domain.Session, runs []domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return fmt.Errorf("session %q already exists", session.ID)
	}
	ids := make([]string, 0, len(runs))
	for i := range runs {
		ids = append(ids, runs[i].ID)
	}
	session.RunIDs = ids
	s.sessions[session.ID] = &session

	for i := range runs {
		run := runs[i]
		s.runs[run.ID] = &run
		s.runLocks[run.ID] = &sync.Mutex{}
	}
	return nil
}

// GetSession returns the session with its runs joined by their latest
// state.
func (s *Store) GetSession(sessionID string) (domain.Session, []domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.Session{}, nil, fmt.Errorf("session %q not found", sessionID)
	}
	runs := make([]domain.Run, 0, len(session.RunIDs))
	for _, id := range session.RunIDs {
		if run, ok := s.runs[id]; ok {
			runs = append(runs, *run)
		}
	}
	return *session, runs, nil
}

// GetRun returns a single run by id.
func (s *Store) GetRun(runID string) (domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return domain.Run{}, fmt.Errorf("run %q not found", runID)
	}
	return *run, nil
}

// UpdateRun merges upd into the run identified by runID, then bumps
// updated_at on both the run and its parent session. Mutations to a single
// run are serialized by that run's own lock so concurrent lifecycle steps
// and advisory reads never interleave a partial write.
func (s *Store) UpdateRun(runID string, upd RunUpdate) (domain.Run, error) {
	lock := s.runLock(runID)
	if lock == nil {
		return domain.Run{}, fmt.Errorf("run %q not found", runID)
	}
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return domain.Run{}, fmt.Errorf("run %q not found", runID)
	}

	if run.Status.Terminal() {
		if upd.Status == "" {
			// A blind field write (port/container commit, log/metric sample)
			// racing behind a kill or failure that already landed. Whichever
			// caller reached terminal first owns cleanup of these resources;
			// applying the write here would resurrect fields the winner
			// either already cleared or never had a chance to see.
			return *run, nil
		}
		if !run.Status.CanAdvanceTo(upd.Status) {
			// Anything other than a fresh restart dispatch (Generating) is
			// either a second terminal write racing behind the first, or a
			// forward-pipeline commit (installing/building/.../ready) from a
			// goroutine that hasn't noticed its run was killed out from
			// under it yet. Drop it; the run keeps the status that got
			// there first.
			return *run, nil
		}
	}

	now := time.Now()
	if upd.Status != "" {
		run.Status = upd.Status
	}
	if upd.ClearPort {
		run.Port = nil
	} else if upd.Port != nil {
		run.Port = upd.Port
	}
	if upd.ClearContainer {
		run.Container = nil
	} else if upd.Container != nil {
		run.Container = upd.Container
	}
	if upd.URL != "" {
		run.URL = upd.URL
	}
	if upd.Error != "" {
		run.Error = upd.Error
	}
	if upd.Logs != nil {
		run.Logs = *upd.Logs
	}
	if upd.StartedAt != nil {
		run.StartedAt = upd.StartedAt
	}
	if upd.CompletedAt != nil {
		run.CompletedAt = upd.CompletedAt
	}
	if upd.CPUPercent != nil {
		run.CPUPercent = upd.CPUPercent
	}
	if upd.MemoryBytes != nil {
		run.MemoryBytes = upd.MemoryBytes
	}
	run.UpdatedAt = now

	if session, ok := s.sessions[run.SessionID]; ok {
		session.UpdatedAt = now
	}

	return *run, nil
}

func (s *Store) runLock(runID string) *sync.Mutex {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runLocks[runID]
}

// DeleteRun removes a single run and its lock.
func (s *Store) DeleteRun(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, runID)
	delete(s.runLocks, runID)
}

// DeleteSession removes a session and all of its runs.
func (s *Store) DeleteSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	for _, id := range session.RunIDs {
		delete(s.runs, id)
		delete(s.runLocks, id)
	}
	delete(s.sessions, sessionID)
}

// AllRuns returns a snapshot of every run currently held, for the
// reconciliation loop and the stats endpoint.
func (s *Store) AllRuns() []domain.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, *run)
	}
	return out
}
