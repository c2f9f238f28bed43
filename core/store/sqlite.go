package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/flowcore/engine/core"
	_ "modernc.org/sqlite"
)

// SQLiteBackend is a pure-Go (modernc.org/sqlite) persistence Backend.
// Designed for local/dev execution and single-process deployments: WAL
// mode gives concurrent readers while the single writer connection
// serializes the cache-first Store's checkpoint writes.
type SQLiteBackend struct {
	db   *sql.DB
	path string
}

// NewSQLiteBackend opens (and migrates) a SQLite-backed Backend at path.
// Use ":memory:" for ephemeral/test use.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}

	b := &SQLiteBackend{db: db, path: path}
	if err := b.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBackend) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			execution_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			diagram_id TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMP NOT NULL,
			ended_at TIMESTAMP NULL,
			node_states TEXT NOT NULL DEFAULT '{}',
			node_outputs TEXT NOT NULL DEFAULT '{}',
			llm_usage TEXT NOT NULL DEFAULT '{}',
			error TEXT NOT NULL DEFAULT '',
			variables TEXT NOT NULL DEFAULT '{}',
			exec_counts TEXT NOT NULL DEFAULT '{}',
			executed_nodes TEXT NOT NULL DEFAULT '[]',
			access_count INTEGER NOT NULL DEFAULT 0,
			last_accessed TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_started ON executions(started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_diagram ON executions(diagram_id)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_access ON executions(access_count DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_last_accessed ON executions(last_accessed DESC)`,
		`CREATE TABLE IF NOT EXISTS transitions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			execution_id TEXT NOT NULL,
			node_id TEXT NOT NULL DEFAULT '',
			phase TEXT NOT NULL,
			seq INTEGER NOT NULL,
			payload TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(execution_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_execution ON transitions(execution_id)`,
	}
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func (b *SQLiteBackend) Upsert(ctx context.Context, p PersistedExecution) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO executions (
			execution_id, status, diagram_id, started_at, ended_at,
			node_states, node_outputs, llm_usage, error, variables,
			exec_counts, executed_nodes, access_count, last_accessed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(execution_id) DO UPDATE SET
			status=excluded.status,
			diagram_id=excluded.diagram_id,
			ended_at=excluded.ended_at,
			node_states=excluded.node_states,
			node_outputs=excluded.node_outputs,
			llm_usage=excluded.llm_usage,
			error=excluded.error,
			variables=excluded.variables,
			exec_counts=excluded.exec_counts,
			executed_nodes=excluded.executed_nodes,
			access_count=excluded.access_count,
			last_accessed=excluded.last_accessed
	`,
		p.ExecutionID, string(p.Status), p.DiagramID, p.StartedAt, p.EndedAt,
		string(p.NodeStates), string(p.NodeOutputs), string(p.LLMUsage), p.Error, string(p.Variables),
		string(p.ExecCounts), string(p.ExecutedNodes), p.AccessCount, p.LastAccessed,
	)
	if err != nil {
		return fmt.Errorf("upsert execution %s: %w", p.ExecutionID, err)
	}
	return nil
}

func (b *SQLiteBackend) Load(ctx context.Context, executionID string) (PersistedExecution, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT execution_id, status, diagram_id, started_at, ended_at,
		       node_states, node_outputs, llm_usage, error, variables,
		       exec_counts, executed_nodes, access_count, last_accessed
		FROM executions WHERE execution_id = ?
	`, executionID)

	var p PersistedExecution
	var status, nodeStates, nodeOutputs, llmUsage, variables, execCounts, executedNodes string
	var endedAt sql.NullTime
	if err := row.Scan(&p.ExecutionID, &status, &p.DiagramID, &p.StartedAt, &endedAt,
		&nodeStates, &nodeOutputs, &llmUsage, &p.Error, &variables,
		&execCounts, &executedNodes, &p.AccessCount, &p.LastAccessed); err != nil {
		if err == sql.ErrNoRows {
			return PersistedExecution{}, ErrNotFound
		}
		return PersistedExecution{}, fmt.Errorf("load execution %s: %w", executionID, err)
	}
	p.Status = statusFromString(status)
	p.NodeStates = json.RawMessage(nodeStates)
	p.NodeOutputs = json.RawMessage(nodeOutputs)
	p.LLMUsage = json.RawMessage(llmUsage)
	p.Variables = json.RawMessage(variables)
	p.ExecCounts = json.RawMessage(execCounts)
	p.ExecutedNodes = json.RawMessage(executedNodes)
	if endedAt.Valid {
		p.EndedAt = &endedAt.Time
	}
	return p, nil
}

func (b *SQLiteBackend) RecordTransition(ctx context.Context, executionID, nodeID, phase string, seq int64, payload json.RawMessage) (bool, error) {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	res, err := b.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO transitions (execution_id, node_id, phase, seq, payload)
		VALUES (?, ?, ?, ?, ?)
	`, executionID, nodeID, phase, seq, string(payload))
	if err != nil {
		return false, fmt.Errorf("record transition %s/%d: %w", executionID, seq, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (b *SQLiteBackend) List(ctx context.Context, filter ListFilter) ([]PersistedExecution, error) {
	var conds []string
	var args []any
	if filter.DiagramID != "" {
		conds = append(conds, "diagram_id = ?")
		args = append(args, filter.DiagramID)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		conds = append(conds, "started_at >= ?")
		args = append(args, filter.Since)
	}
	if !filter.Until.IsZero() {
		conds = append(conds, "started_at <= ?")
		args = append(args, filter.Until)
	}
	query := "SELECT execution_id, status, diagram_id, started_at, ended_at, node_states, node_outputs, llm_usage, error, variables, exec_counts, executed_nodes, access_count, last_accessed FROM executions"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, filter.Offset)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []PersistedExecution
	for rows.Next() {
		var p PersistedExecution
		var status, nodeStates, nodeOutputs, llmUsage, variables, execCounts, executedNodes string
		var endedAt sql.NullTime
		if err := rows.Scan(&p.ExecutionID, &status, &p.DiagramID, &p.StartedAt, &endedAt,
			&nodeStates, &nodeOutputs, &llmUsage, &p.Error, &variables,
			&execCounts, &executedNodes, &p.AccessCount, &p.LastAccessed); err != nil {
			return nil, err
		}
		p.Status = statusFromString(status)
		p.NodeStates = json.RawMessage(nodeStates)
		p.NodeOutputs = json.RawMessage(nodeOutputs)
		p.LLMUsage = json.RawMessage(llmUsage)
		p.Variables = json.RawMessage(variables)
		p.ExecCounts = json.RawMessage(execCounts)
		p.ExecutedNodes = json.RawMessage(executedNodes)
		if endedAt.Valid {
			p.EndedAt = &endedAt.Time
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (b *SQLiteBackend) Close() error { return b.db.Close() }

func statusFromString(s string) core.ExecutionStatus { return core.ExecutionStatus(s) }
