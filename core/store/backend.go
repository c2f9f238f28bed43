// Package store implements the cache-first ExecutionState persistence
// layer: an in-memory cache is the primary read/write path during
// execution, with a pluggable relational Backend as the system of record
// for durability and a transitions table used for idempotent event
// replay.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/flowcore/engine/core"
)

// ErrNotFound is returned by a Backend when an execution_id has no
// persisted row.
var ErrNotFound = errors.New("store: execution not found")

// PersistedExecution is the Backend's row-shaped view of an
// ExecutionState, matching the `executions` table layout.
type PersistedExecution struct {
	ExecutionID   string
	Status        core.ExecutionStatus
	DiagramID     string
	StartedAt     time.Time
	EndedAt       *time.Time
	NodeStates    json.RawMessage
	NodeOutputs   json.RawMessage
	LLMUsage      json.RawMessage
	Error         string
	Variables     json.RawMessage
	ExecCounts    json.RawMessage
	ExecutedNodes json.RawMessage
	AccessCount   int64
	LastAccessed  time.Time
}

// ListFilter narrows Backend.List by diagram, status, and/or time range.
type ListFilter struct {
	DiagramID string
	Status    core.ExecutionStatus
	Since     time.Time
	Until     time.Time
	Limit     int
	Offset    int
}

// Backend is the system-of-record persistence contract. A single
// connection (or connection-per-operation pattern) suffices; no
// lock-free concurrent access is required since the cache-first Store
// serializes writes per execution.
type Backend interface {
	// Upsert writes the full row for p.ExecutionID.
	Upsert(ctx context.Context, p PersistedExecution) error

	// Load returns the persisted row, or ErrNotFound.
	Load(ctx context.Context, executionID string) (PersistedExecution, error)

	// RecordTransition inserts (executionID, seq) into the transitions
	// table with payload. Returns applied=false without error if the
	// (executionID, seq) pair already exists (idempotent replay).
	RecordTransition(ctx context.Context, executionID string, nodeID string, phase string, seq int64, payload json.RawMessage) (applied bool, err error)

	// List returns executions matching filter.
	List(ctx context.Context, filter ListFilter) ([]PersistedExecution, error)

	Close() error
}

func toPersisted(s *core.ExecutionState) (PersistedExecution, error) {
	nodeStates, err := json.Marshal(s.NodeStates)
	if err != nil {
		return PersistedExecution{}, err
	}
	nodeOutputs, err := json.Marshal(s.NodeOutputs)
	if err != nil {
		return PersistedExecution{}, err
	}
	llmUsage, err := json.Marshal(s.LLMUsage)
	if err != nil {
		return PersistedExecution{}, err
	}
	variables, err := json.Marshal(s.Variables)
	if err != nil {
		return PersistedExecution{}, err
	}
	execCounts, err := json.Marshal(s.ExecCounts)
	if err != nil {
		return PersistedExecution{}, err
	}
	executedNodes, err := json.Marshal(s.ExecutedNodes)
	if err != nil {
		return PersistedExecution{}, err
	}
	return PersistedExecution{
		ExecutionID:   s.ExecutionID,
		Status:        s.Status,
		DiagramID:     s.DiagramID,
		StartedAt:     s.StartedAt,
		EndedAt:       s.EndedAt,
		NodeStates:    nodeStates,
		NodeOutputs:   nodeOutputs,
		LLMUsage:      llmUsage,
		Error:         s.Error,
		Variables:     variables,
		ExecCounts:    execCounts,
		ExecutedNodes: executedNodes,
	}, nil
}

func fromPersisted(p PersistedExecution) (*core.ExecutionState, error) {
	s := core.NewExecutionState(p.ExecutionID, p.DiagramID)
	s.Status = p.Status
	s.StartedAt = p.StartedAt
	s.EndedAt = p.EndedAt
	s.Error = p.Error

	if len(p.NodeStates) > 0 {
		if err := json.Unmarshal(p.NodeStates, &s.NodeStates); err != nil {
			return nil, err
		}
	}
	if len(p.NodeOutputs) > 0 {
		if err := json.Unmarshal(p.NodeOutputs, &s.NodeOutputs); err != nil {
			return nil, err
		}
	}
	if len(p.LLMUsage) > 0 {
		if err := json.Unmarshal(p.LLMUsage, &s.LLMUsage); err != nil {
			return nil, err
		}
	}
	if len(p.Variables) > 0 {
		if err := json.Unmarshal(p.Variables, &s.Variables); err != nil {
			return nil, err
		}
	}
	if len(p.ExecCounts) > 0 {
		if err := json.Unmarshal(p.ExecCounts, &s.ExecCounts); err != nil {
			return nil, err
		}
	}
	if len(p.ExecutedNodes) > 0 {
		if err := json.Unmarshal(p.ExecutedNodes, &s.ExecutedNodes); err != nil {
			return nil, err
		}
	}
	return s, nil
}
