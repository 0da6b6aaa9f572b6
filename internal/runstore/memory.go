package runstore

import (
	"context"
	"sync"
	"time"

	"github.com/kzinmr/tanstack-ai-demo/pkg/models"
)

// MemoryStore is an in-memory Store for tests and single-process runs.
type MemoryStore struct {
	mu      sync.Mutex
	runs    map[string]*models.RunState
	ttl     *time.Duration
	maxMsgs int
	nowFunc func() time.Time // for tests
}

// NewMemoryStore creates an in-memory run store.
func NewMemoryStore(opts Options) *MemoryStore {
	var ttl *time.Duration
	if opts.TTLMinutes != nil {
		d := time.Duration(*opts.TTLMinutes) * time.Minute
		ttl = &d
	}
	return &MemoryStore{
		runs:    make(map[string]*models.RunState),
		ttl:     ttl,
		maxMsgs: opts.MaxMessages,
		nowFunc: time.Now,
	}
}

// SetNowFunc sets a custom time source for tests.
func (s *MemoryStore) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFunc = fn
}

// Get returns the current state for a run, or nil when absent or expired.
func (s *MemoryStore) Get(ctx context.Context, runID string) (*models.RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked()
	return s.runs[runID].Clone(), nil
}

// SetMessages saves message history for a run.
func (s *MemoryStore) SetMessages(ctx context.Context, runID string, messages []models.Message, model string) (*models.RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked()

	state := s.upsertLocked(runID, model)
	state.Messages = capMessages(messages, s.maxMsgs)
	return state.Clone(), nil
}

// SetPending saves pending deferred tool requests for a run.
func (s *MemoryStore) SetPending(ctx context.Context, runID string, pending []models.PendingCall, model string) (*models.RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked()

	state := s.upsertLocked(runID, model)
	state.Pending = pending
	return state.Clone(), nil
}

// Clear removes all state for a run. Idempotent on missing keys.
func (s *MemoryStore) Clear(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, runID)
	return nil
}

// CleanupExpired removes expired run states and returns the count removed.
func (s *MemoryStore) CleanupExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanupLocked(), nil
}

// upsertLocked fetches or creates a run state and stamps last_updated.
// Callers must hold s.mu.
func (s *MemoryStore) upsertLocked(runID, model string) *models.RunState {
	state, ok := s.runs[runID]
	if !ok {
		state = &models.RunState{Model: model}
		s.runs[runID] = state
	} else if model != "" {
		state.Model = model
	}
	state.LastUpdated = s.nowFunc()
	return state
}

func (s *MemoryStore) cleanupLocked() int {
	if s.ttl == nil {
		return 0
	}
	now := s.nowFunc()
	removed := 0
	for runID, state := range s.runs {
		if now.Sub(state.LastUpdated) >= *s.ttl {
			delete(s.runs, runID)
			removed++
		}
	}
	return removed
}
