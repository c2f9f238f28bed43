package store

import (
	"sort"
	"sync"
	"time"

	"github.com/flowcore/engine/core"
)

// CacheEntry is the in-memory primary read/write record for one
// execution. The cache is the source of truth during execution;
// persistence is deferred/periodic.
type CacheEntry struct {
	mu              sync.Mutex
	State           *core.ExecutionState
	Dirty           bool
	Persisted       bool
	LastAccess      time.Time
	AccessCount     int64
	CheckpointCount int
}

func newCacheEntry(s *core.ExecutionState) *CacheEntry {
	return &CacheEntry{State: s, LastAccess: time.Now(), AccessCount: 1}
}

// withLock runs fn with the entry's per-entry lock held, matching the
// spec's "update the cache in place atomically under a per-entry lock"
// contract.
func (e *CacheEntry) withLock(fn func(*core.ExecutionState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.State)
	e.Dirty = true
}

func (e *CacheEntry) touch() {
	e.mu.Lock()
	e.LastAccess = time.Now()
	e.AccessCount++
	e.mu.Unlock()
}

// CacheManager owns the shared in-memory cache across all executions. A
// coarse lock guards structural operations (insert, evict); per-entry
// locks guard state mutation, so concurrent executions don't contend on
// each other's state.
type CacheManager struct {
	mu                  sync.Mutex
	entries             map[string]*CacheEntry
	warm                map[string]bool
	capacity            int
	warmSize            int
	evictionCandidates  []string
}

// NewCacheManager returns a manager capped at capacity entries, with
// warmSize of them exempt from eviction.
func NewCacheManager(capacity, warmSize int) *CacheManager {
	if capacity <= 0 {
		capacity = 1000
	}
	if warmSize <= 0 {
		warmSize = 20
	}
	return &CacheManager{
		entries:  make(map[string]*CacheEntry),
		warm:     make(map[string]bool),
		capacity: capacity,
		warmSize: warmSize,
	}
}

// Get returns the cached entry for id, bumping its access counter, or
// ok=false if not cached.
func (m *CacheManager) Get(id string) (*CacheEntry, bool) {
	m.mu.Lock()
	e, ok := m.entries[id]
	m.mu.Unlock()
	if ok {
		e.touch()
	}
	return e, ok
}

// Put inserts a freshly-hydrated or newly-created state into the cache.
// If the manager is over capacity it queues eviction candidates (see
// DrainEvictionCandidates); Put itself removes no entry.
func (m *CacheManager) Put(id string, s *core.ExecutionState) *CacheEntry {
	m.mu.Lock()
	e := newCacheEntry(s)
	m.entries[id] = e
	over := len(m.entries) > m.capacity
	m.mu.Unlock()
	if over {
		m.evictLocked()
	}
	return e
}

// Remove drops id from the cache unconditionally (used after the grace
// period following finalization).
func (m *CacheManager) Remove(id string) {
	m.mu.Lock()
	delete(m.entries, id)
	delete(m.warm, id)
	m.mu.Unlock()
}

// Len reports the number of cached entries.
func (m *CacheManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// DirtyIDs returns the ids of all currently-dirty entries.
func (m *CacheManager) DirtyIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, e := range m.entries {
		e.mu.Lock()
		dirty := e.Dirty
		e.mu.Unlock()
		if dirty {
			ids = append(ids, id)
		}
	}
	return ids
}

// StaleDirtyIDs returns dirty entries whose last write is older than
// olderThan, for the periodic soft-flush pass.
func (m *CacheManager) StaleDirtyIDs(olderThan time.Duration) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var ids []string
	for id, e := range m.entries {
		e.mu.Lock()
		dirty := e.Dirty
		last := e.LastAccess
		e.mu.Unlock()
		if dirty && last.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

// evictLocked evicts the least-valued ~10% of non-warm entries, sorted by
// (access_count, last_access) ascending. Dirty entries must be persisted
// by the caller before Remove is called; evictLocked only selects
// candidates, it never drops a dirty entry silently.
func (m *CacheManager) evictLocked() {
	type cand struct {
		id    string
		count int64
		last  time.Time
	}

	m.mu.Lock()
	var candidates []cand
	for id, e := range m.entries {
		if m.warm[id] {
			continue
		}
		e.mu.Lock()
		candidates = append(candidates, cand{id: id, count: e.AccessCount, last: e.LastAccess})
		e.mu.Unlock()
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].count != candidates[j].count {
			return candidates[i].count < candidates[j].count
		}
		return candidates[i].last.Before(candidates[j].last)
	})

	n := len(candidates) / 10
	if n == 0 && len(candidates) > 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		m.evictionCandidates = append(m.evictionCandidates, candidates[i].id)
	}
	m.mu.Unlock()
}

// RecomputeWarmCache selects the warmSize most-accessed entries as warm,
// exempting them from eviction. Called periodically by the Store's
// warm-cache worker.
func (m *CacheManager) RecomputeWarmCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	type cand struct {
		id    string
		count int64
	}
	candidates := make([]cand, 0, len(m.entries))
	for id, e := range m.entries {
		e.mu.Lock()
		candidates = append(candidates, cand{id: id, count: e.AccessCount})
		e.mu.Unlock()
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].count > candidates[j].count })

	m.warm = make(map[string]bool, m.warmSize)
	for i := 0; i < len(candidates) && i < m.warmSize; i++ {
		m.warm[candidates[i].id] = true
	}
}

// DrainEvictionCandidates returns and clears ids queued by the most recent
// Put-triggered eviction pass.
func (m *CacheManager) DrainEvictionCandidates() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.evictionCandidates
	m.evictionCandidates = nil
	return ids
}
