package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLBackend is a production-grade persistence Backend for shared
// deployments, using connection pooling rather than SQLite's single
// writer connection.
//
// DSN format: [username[:password]@][protocol[(address)]]/dbname[?params].
type MySQLBackend struct {
	db *sql.DB
}

// NewMySQLBackend opens a connection pool against dsn and migrates the
// schema.
func NewMySQLBackend(dsn string) (*MySQLBackend, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	b := &MySQLBackend{db: db}
	if err := b.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *MySQLBackend) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			execution_id VARCHAR(191) PRIMARY KEY,
			status VARCHAR(32) NOT NULL,
			diagram_id VARCHAR(191) NOT NULL DEFAULT '',
			started_at DATETIME(3) NOT NULL,
			ended_at DATETIME(3) NULL,
			node_states JSON NOT NULL,
			node_outputs JSON NOT NULL,
			llm_usage JSON NOT NULL,
			error TEXT NOT NULL,
			variables JSON NOT NULL,
			exec_counts JSON NOT NULL,
			executed_nodes JSON NOT NULL,
			access_count BIGINT NOT NULL DEFAULT 0,
			last_accessed DATETIME(3) NOT NULL,
			INDEX idx_executions_status (status),
			INDEX idx_executions_started (started_at),
			INDEX idx_executions_diagram (diagram_id),
			INDEX idx_executions_access (access_count DESC),
			INDEX idx_executions_last_accessed (last_accessed DESC)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS transitions (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			execution_id VARCHAR(191) NOT NULL,
			node_id VARCHAR(191) NOT NULL DEFAULT '',
			phase VARCHAR(64) NOT NULL,
			seq BIGINT NOT NULL,
			payload JSON NOT NULL,
			created_at DATETIME(3) DEFAULT CURRENT_TIMESTAMP(3),
			UNIQUE KEY uniq_execution_seq (execution_id, seq),
			INDEX idx_transitions_execution (execution_id)
		) ENGINE=InnoDB`,
	}
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func (b *MySQLBackend) Upsert(ctx context.Context, p PersistedExecution) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO executions (
			execution_id, status, diagram_id, started_at, ended_at,
			node_states, node_outputs, llm_usage, error, variables,
			exec_counts, executed_nodes, access_count, last_accessed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			status=VALUES(status),
			diagram_id=VALUES(diagram_id),
			ended_at=VALUES(ended_at),
			node_states=VALUES(node_states),
			node_outputs=VALUES(node_outputs),
			llm_usage=VALUES(llm_usage),
			error=VALUES(error),
			variables=VALUES(variables),
			exec_counts=VALUES(exec_counts),
			executed_nodes=VALUES(executed_nodes),
			access_count=VALUES(access_count),
			last_accessed=VALUES(last_accessed)
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

func (b *MySQLBackend) Load(ctx context.Context, executionID string) (PersistedExecution, error) {
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

func (b *MySQLBackend) RecordTransition(ctx context.Context, executionID, nodeID, phase string, seq int64, payload json.RawMessage) (bool, error) {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	res, err := b.db.ExecContext(ctx, `
		INSERT IGNORE INTO transitions (execution_id, node_id, phase, seq, payload)
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

func (b *MySQLBackend) List(ctx context.Context, filter ListFilter) ([]PersistedExecution, error) {
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

func (b *MySQLBackend) Close() error { return b.db.Close() }
