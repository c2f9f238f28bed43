package store

import (
	"testing"

	"github.com/flowcore/engine/core"
)

func TestCacheManagerPutAndGet(t *testing.T) {
	m := NewCacheManager(10, 2)
	st := core.NewExecutionState("e1", "d1")
	m.Put("e1", st)

	entry, ok := m.Get("e1")
	if !ok {
		t.Fatal("expected entry present after Put")
	}
	if entry.AccessCount < 1 {
		t.Errorf("AccessCount = %d, want >= 1", entry.AccessCount)
	}
}

func TestCacheManagerWithLockMarksDirty(t *testing.T) {
	m := NewCacheManager(10, 2)
	entry := m.Put("e1", core.NewExecutionState("e1", "d1"))
	if entry.Dirty {
		t.Fatal("new entry should not start dirty")
	}
	entry.withLock(func(st *core.ExecutionState) {
		st.Variables["x"] = core.StringValue("v")
	})
	if !entry.Dirty {
		t.Error("withLock should mark the entry dirty")
	}
}

func TestCacheManagerEvictionOnOverCapacity(t *testing.T) {
	m := NewCacheManager(5, 0)
	for i := 0; i < 20; i++ {
		id := string(rune('a' + i))
		m.Put(id, core.NewExecutionState(id, "d1"))
	}
	if m.Len() <= 5 {
		t.Fatalf("Len() = %d, expected growth past capacity before eviction drains", m.Len())
	}
	candidates := m.DrainEvictionCandidates()
	if len(candidates) == 0 {
		t.Error("expected eviction candidates to be queued once over capacity")
	}
	// Draining clears the queue.
	if got := m.DrainEvictionCandidates(); len(got) != 0 {
		t.Errorf("second drain = %v, want empty", got)
	}
}

func TestCacheManagerWarmEntriesExemptFromEviction(t *testing.T) {
	m := NewCacheManager(5, 5)
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		m.Put(id, core.NewExecutionState(id, "d1"))
	}
	m.RecomputeWarmCache()
	// All 5 entries fit within warmSize, so none of them is queued for
	// eviction when another Put pushes over capacity; only "z" can be.
	m.Put("z", core.NewExecutionState("z", "d1"))
	for _, id := range m.DrainEvictionCandidates() {
		if id != "z" {
			t.Errorf("warm entry %q queued for eviction", id)
		}
	}
}

func TestCacheManagerStaleDirtyIDs(t *testing.T) {
	m := NewCacheManager(10, 0)
	entry := m.Put("e1", core.NewExecutionState("e1", "d1"))
	entry.withLock(func(st *core.ExecutionState) {})

	// With a zero threshold every dirty entry is already stale.
	if ids := m.StaleDirtyIDs(0); len(ids) != 1 {
		t.Errorf("StaleDirtyIDs(0) = %v, want [e1] (everything is older than now)", ids)
	}
}
