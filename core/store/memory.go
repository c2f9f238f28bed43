package store

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryBackend is an in-process Backend with no durability, used in
// tests and examples where a real database is unnecessary.
type MemoryBackend struct {
	mu          sync.Mutex
	executions  map[string]PersistedExecution
	transitions map[string]map[int64]bool
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		executions:  make(map[string]PersistedExecution),
		transitions: make(map[string]map[int64]bool),
	}
}

func (b *MemoryBackend) Upsert(_ context.Context, p PersistedExecution) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.executions[p.ExecutionID] = p
	return nil
}

func (b *MemoryBackend) Load(_ context.Context, executionID string) (PersistedExecution, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.executions[executionID]
	if !ok {
		return PersistedExecution{}, ErrNotFound
	}
	return p, nil
}

func (b *MemoryBackend) RecordTransition(_ context.Context, executionID, _ string, _ string, seq int64, _ json.RawMessage) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	seen, ok := b.transitions[executionID]
	if !ok {
		seen = make(map[int64]bool)
		b.transitions[executionID] = seen
	}
	if seen[seq] {
		return false, nil
	}
	seen[seq] = true
	return true, nil
}

// List filters by DiagramID and Status only: Since, Until, Limit and
// Offset are not applied, and the order of the results is not defined.
func (b *MemoryBackend) List(_ context.Context, filter ListFilter) ([]PersistedExecution, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []PersistedExecution
	for _, p := range b.executions {
		if filter.DiagramID != "" && p.DiagramID != filter.DiagramID {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (b *MemoryBackend) Close() error { return nil }
