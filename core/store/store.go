package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flowcore/engine/core"
)

// Config tunes the cache-first Store's write-absorption and eviction
// behavior. Field names mirror the configuration keys named in the
// engine's external interfaces.
type Config struct {
	CacheSize            int
	WarmCacheSize        int
	CheckpointInterval   int // nodes-per-checkpoint
	PersistenceDelay     time.Duration
	WriteThroughCritical bool
	FinalizeGrace        time.Duration
	WarmCacheInterval    time.Duration
}

// DefaultConfig matches the example values named in the spec.
func DefaultConfig() Config {
	return Config{
		CacheSize:            1000,
		WarmCacheSize:        20,
		CheckpointInterval:   10,
		PersistenceDelay:     5 * time.Second,
		WriteThroughCritical: true,
		FinalizeGrace:        10 * time.Second,
		WarmCacheInterval:    5 * time.Minute,
	}
}

// CacheFirstStore implements core.Store with an in-memory cache as the
// primary read/write path and a pluggable Backend as the system of
// record. It satisfies core.Store.
type CacheFirstStore struct {
	cache   *CacheManager
	backend Backend
	cfg     Config
	log     *slog.Logger

	checkpointQueue chan string
	stopCh          chan struct{}
	wg              sync.WaitGroup

	mu             sync.Mutex
	completedCount map[string]int
}

// New constructs a CacheFirstStore. Call Start to launch its background
// workers and Close to stop them.
func New(backend Backend, cfg Config, log *slog.Logger) *CacheFirstStore {
	if log == nil {
		log = slog.Default()
	}
	return &CacheFirstStore{
		cache:           NewCacheManager(cfg.CacheSize, cfg.WarmCacheSize),
		backend:         backend,
		cfg:             cfg,
		log:             log,
		checkpointQueue: make(chan string, 256),
		stopCh:          make(chan struct{}),
		completedCount:  make(map[string]int),
	}
}

// Start launches the background persistence, cache-management, and
// warm-cache workers. It returns immediately; workers stop on Close.
func (s *CacheFirstStore) Start(ctx context.Context) {
	s.wg.Add(3)
	go s.checkpointWorker(ctx)
	go s.persistenceLoop(ctx)
	go s.warmCacheLoop(ctx)
}

// Close stops background workers and closes the backend.
func (s *CacheFirstStore) Close() error {
	close(s.stopCh)
	s.wg.Wait()
	return s.backend.Close()
}

func (s *CacheFirstStore) checkpointWorker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case id := <-s.checkpointQueue:
			if err := s.checkpoint(ctx, id); err != nil {
				s.log.Warn("checkpoint failed, entry remains dirty", "execution_id", id, "error", err)
			}
		}
	}
}

// persistenceLoop periodically flushes any dirty entry whose last write is
// older than cfg.PersistenceDelay.
func (s *CacheFirstStore) persistenceLoop(ctx context.Context) {
	defer s.wg.Done()
	delay := s.cfg.PersistenceDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}
	t := time.NewTicker(delay)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-t.C:
			for _, id := range s.cache.StaleDirtyIDs(delay) {
				s.enqueueCheckpoint(id)
			}
		}
	}
}

// warmCacheLoop periodically recomputes warm-cache membership from access
// frequency.
func (s *CacheFirstStore) warmCacheLoop(ctx context.Context) {
	defer s.wg.Done()
	interval := s.cfg.WarmCacheInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-t.C:
			s.cache.RecomputeWarmCache()
		}
	}
}

func (s *CacheFirstStore) enqueueCheckpoint(id string) {
	select {
	case s.checkpointQueue <- id:
	default:
		// Queue full: the periodic persistence loop will pick this entry up
		// again on its next tick.
	}
}

// checkpoint persists id's current cache state to the backend in a single
// upsert.
func (s *CacheFirstStore) checkpoint(ctx context.Context, id string) error {
	entry, ok := s.cache.Get(id)
	if !ok {
		return nil
	}
	entry.mu.Lock()
	p, err := toPersisted(entry.State)
	entry.mu.Unlock()
	if err != nil {
		return err
	}
	p.AccessCount = entry.AccessCount
	p.LastAccessed = entry.LastAccess

	if err := s.backend.Upsert(ctx, p); err != nil {
		return err
	}
	entry.mu.Lock()
	entry.Dirty = false
	entry.Persisted = true
	entry.CheckpointCount++
	entry.mu.Unlock()

	for _, evictID := range s.cache.DrainEvictionCandidates() {
		if evictID == id {
			continue
		}
		if e, ok := s.cache.Get(evictID); ok {
			if err := s.checkpointEntry(ctx, evictID, e); err == nil {
				s.cache.Remove(evictID)
			}
		}
	}
	return nil
}

func (s *CacheFirstStore) checkpointEntry(ctx context.Context, id string, entry *CacheEntry) error {
	entry.mu.Lock()
	dirty := entry.Dirty
	p, err := toPersisted(entry.State)
	entry.mu.Unlock()
	if err != nil {
		return err
	}
	if !dirty {
		return nil
	}
	return s.backend.Upsert(ctx, p)
}

func (s *CacheFirstStore) getOrHydrate(ctx context.Context, executionID string) (*CacheEntry, error) {
	if e, ok := s.cache.Get(executionID); ok {
		return e, nil
	}
	p, err := s.backend.Load(ctx, executionID)
	if err != nil {
		return nil, err
	}
	st, err := fromPersisted(p)
	if err != nil {
		return nil, err
	}
	return s.cache.Put(executionID, st), nil
}

// GetState implements core.Store.
func (s *CacheFirstStore) GetState(ctx context.Context, executionID string) (*core.ExecutionState, error) {
	entry, err := s.getOrHydrate(ctx, executionID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.State.Clone(), nil
}

// SaveState implements core.Store.
func (s *CacheFirstStore) SaveState(ctx context.Context, state *core.ExecutionState) error {
	if entry, ok := s.cache.Get(state.ExecutionID); ok {
		entry.withLock(func(cur *core.ExecutionState) { *cur = *state })
		return nil
	}
	s.cache.Put(state.ExecutionID, state)
	return nil
}

// UpdateNodeStatus implements core.Store.
func (s *CacheFirstStore) UpdateNodeStatus(ctx context.Context, executionID string, node core.NodeID, status core.NodeRunStatus, errMsg string) error {
	entry, err := s.getOrHydrate(ctx, executionID)
	if err != nil {
		return err
	}
	now := time.Now()
	entry.withLock(func(st *core.ExecutionState) {
		ns, ok := st.NodeStates[node]
		if !ok {
			ns = &core.NodeState{}
			st.NodeStates[node] = ns
		}
		ns.Status = status
		ns.Error = errMsg
		switch status {
		case core.NodeRunning:
			if ns.StartedAt == nil {
				ns.StartedAt = &now
			}
		case core.NodeCompleted, core.NodeFailed, core.NodeSkipped:
			ns.EndedAt = &now
		}
	})
	return nil
}

// UpdateNodeOutput implements core.Store, and drives checkpoint-interval
// bookkeeping.
func (s *CacheFirstStore) UpdateNodeOutput(ctx context.Context, executionID string, node core.NodeID, env core.Envelope) error {
	entry, err := s.getOrHydrate(ctx, executionID)
	if err != nil {
		return err
	}
	entry.withLock(func(st *core.ExecutionState) {
		st.NodeOutputs[node] = env
		st.ExecCounts[node]++
		st.ExecutedNodes = append(st.ExecutedNodes, node)
	})

	s.mu.Lock()
	s.completedCount[executionID]++
	count := s.completedCount[executionID]
	s.mu.Unlock()

	interval := s.cfg.CheckpointInterval
	if interval <= 0 {
		interval = 10
	}
	if count%interval == 0 {
		s.enqueueCheckpoint(executionID)
	}
	if s.cfg.WriteThroughCritical {
		return s.checkpoint(ctx, executionID)
	}
	return nil
}

// UpdateVariables implements core.Store.
func (s *CacheFirstStore) UpdateVariables(ctx context.Context, executionID string, vars map[string]core.Value) error {
	entry, err := s.getOrHydrate(ctx, executionID)
	if err != nil {
		return err
	}
	entry.withLock(func(st *core.ExecutionState) {
		for k, v := range vars {
			st.Variables[k] = v
		}
	})
	return nil
}

// AddLLMUsage implements core.Store.
func (s *CacheFirstStore) AddLLMUsage(ctx context.Context, executionID string, usage core.LLMUsage) error {
	entry, err := s.getOrHydrate(ctx, executionID)
	if err != nil {
		return err
	}
	entry.withLock(func(st *core.ExecutionState) {
		st.LLMUsage = st.LLMUsage.Add(usage)
	})
	return nil
}

// ApplyEvent implements core.Store's idempotent event-sourcing path,
// distinct from the direct Update* calls the Engine uses during live
// dispatch: it is used for replay and audit. Events for an unknown
// execution are dropped, with one exception: EXECUTION_COMPLETED always
// attempts hydration first.
func (s *CacheFirstStore) ApplyEvent(ctx context.Context, e core.Event) error {
	entry, ok := s.cache.Get(e.Scope.ExecutionID)
	if !ok {
		if e.Type != core.EventExecutionCompleted {
			return nil
		}
		hydrated, err := s.getOrHydrate(ctx, e.Scope.ExecutionID)
		if err != nil {
			if err == ErrNotFound {
				return nil
			}
			return err
		}
		entry = hydrated
	}

	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}
	applied, err := s.backend.RecordTransition(ctx, e.Scope.ExecutionID, string(e.Scope.NodeID), string(e.Type), e.Seq, payload)
	if err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	if !applied {
		return nil // duplicate (execution_id, seq): idempotent no-op
	}

	entry.withLock(func(st *core.ExecutionState) { st.Seq = e.Seq })

	critical := e.Type == core.EventNodeCompleted || e.Type == core.EventExecutionCompleted || e.Type == core.EventExecutionFailed
	if critical && s.cfg.WriteThroughCritical {
		return s.checkpoint(ctx, e.Scope.ExecutionID)
	}
	return nil
}

// Finalize implements core.Store: persists a final checkpoint
// synchronously, then schedules cache removal after the configured grace
// period.
func (s *CacheFirstStore) Finalize(ctx context.Context, executionID string, status core.ExecutionStatus, errMsg string) error {
	entry, ok := s.cache.Get(executionID)
	if !ok {
		return nil
	}
	now := time.Now()
	entry.withLock(func(st *core.ExecutionState) {
		st.Status = status
		st.EndedAt = &now
		if errMsg != "" {
			st.Error = errMsg
		}
	})
	if err := s.checkpoint(ctx, executionID); err != nil {
		return err
	}

	grace := s.cfg.FinalizeGrace
	if grace <= 0 {
		grace = 10 * time.Second
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-time.After(grace):
			s.cache.Remove(executionID)
			s.mu.Lock()
			delete(s.completedCount, executionID)
			s.mu.Unlock()
		case <-s.stopCh:
		}
	}()
	return nil
}

// List exposes the backend's listing/filtering for observers (GraphQL/CLI
// front-ends in a complete deployment).
func (s *CacheFirstStore) List(ctx context.Context, filter ListFilter) ([]PersistedExecution, error) {
	return s.backend.List(ctx, filter)
}

var _ core.Store = (*CacheFirstStore)(nil)
