package artifacts

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryEntry struct {
	ref       Ref
	table     *Table
	createdAt time.Time
}

// MemoryStore keeps artifacts in process memory with TTL eviction. Artifact
// ids are a per-run counter so repeated queries in one run read naturally
// in transcripts.
type MemoryStore struct {
	mu          sync.Mutex
	entries     map[string]memoryEntry
	counters    map[string]int
	ttl         time.Duration
	previewRows int
	nowFunc     func() time.Time
}

// NewMemoryStore creates a memory-backed artifact store. Entries older than
// ttl are evicted opportunistically on access; a non-positive ttl disables
// eviction.
func NewMemoryStore(ttl time.Duration, previewRows int) *MemoryStore {
	if previewRows < 1 {
		previewRows = 1
	}
	return &MemoryStore{
		entries:     make(map[string]memoryEntry),
		counters:    make(map[string]int),
		ttl:         ttl,
		previewRows: previewRows,
		nowFunc:     time.Now,
	}
}

// SetNowFunc overrides the clock. Tests only.
func (s *MemoryStore) SetNowFunc(f func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFunc = f
}

func compositeKey(runID, artifactID string) string {
	return runID + "::" + artifactID
}

// StoreTable persists a table under the run and returns its reference.
func (s *MemoryStore) StoreTable(_ context.Context, runID string, table *Table) (*Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked()

	s.counters[runID]++
	id := fmt.Sprintf("a_%s_%d", runPrefix(runID), s.counters[runID])
	ref := Ref{ID: id, Type: "table", RowCount: table.RowCount()}
	s.entries[compositeKey(runID, id)] = memoryEntry{
		ref:       ref,
		table:     table,
		createdAt: s.nowFunc(),
	}
	out := ref
	return &out, nil
}

func (s *MemoryStore) lookup(runID, artifactID string) (memoryEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked()
	entry, ok := s.entries[compositeKey(runID, artifactID)]
	return entry, ok
}

// GetMetadata returns the artifact's reference, or nil when absent.
func (s *MemoryStore) GetMetadata(_ context.Context, runID, artifactID string) (*Ref, error) {
	entry, ok := s.lookup(runID, artifactID)
	if !ok {
		return nil, nil
	}
	ref := entry.ref
	return &ref, nil
}

// GetPreview returns the first rows of the artifact, or nil when absent.
func (s *MemoryStore) GetPreview(_ context.Context, runID, artifactID string) (*Preview, error) {
	entry, ok := s.lookup(runID, artifactID)
	if !ok {
		return nil, nil
	}
	return previewOf(entry.table, s.previewRows), nil
}

// GetDownload always returns nil: memory artifacts have no external URL and
// the HTTP layer streams the CSV itself via GetTable.
func (s *MemoryStore) GetDownload(_ context.Context, _, _ string) (*Download, error) {
	return nil, nil
}

// GetTable returns the full table, or nil when absent.
func (s *MemoryStore) GetTable(_ context.Context, runID, artifactID string) (*Table, error) {
	entry, ok := s.lookup(runID, artifactID)
	if !ok {
		return nil, nil
	}
	return entry.table, nil
}

// CleanupExpired evicts expired artifacts and reports how many were removed.
func (s *MemoryStore) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanupLocked()
}

func (s *MemoryStore) cleanupLocked() int {
	if s.ttl <= 0 {
		return 0
	}
	now := s.nowFunc()
	removed := 0
	for key, entry := range s.entries {
		if now.Sub(entry.createdAt) > s.ttl {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}
