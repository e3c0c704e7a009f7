package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lexcodex/agentcore/framework"
)

// RunStore archives finished runs in SQLite. Archived runs are read back for
// inspection only; nothing resumes from them.
type RunStore struct {
	db *sql.DB
}

// RunSummary is one row of ListRuns.
type RunSummary struct {
	ID          string              `json:"id"`
	Strategy    string              `json:"strategy"`
	Instruction string              `json:"instruction"`
	Status      framework.RunStatus `json:"status"`
	Category    string              `json:"failure_category,omitempty"`
	Steps       int                 `json:"steps"`
	StartedAt   time.Time           `json:"started_at"`
	FinishedAt  time.Time           `json:"finished_at"`
}

// OpenRunStore opens/creates the database at dbPath.
func OpenRunStore(dbPath string) (*RunStore, error) {
	if dbPath == "" {
		return nil, errors.New("run store path required")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// One connection keeps :memory: databases coherent and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, err
	}
	store := &RunStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *RunStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		strategy TEXT NOT NULL,
		instruction TEXT NOT NULL,
		status TEXT NOT NULL,
		failure_category TEXT,
		steps INTEGER,
		started_at TIMESTAMP,
		finished_at TIMESTAMP,
		result TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS trace_entries (
		run_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		tool TEXT NOT NULL,
		success BOOLEAN,
		category TEXT,
		entry TEXT NOT NULL,
		PRIMARY KEY(run_id, idx),
		FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
	);
	CREATE TABLE IF NOT EXISTS audit_records (
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		recorded_at TIMESTAMP NOT NULL,
		action TEXT NOT NULL,
		tool TEXT NOT NULL,
		kind TEXT,
		result TEXT NOT NULL,
		metadata TEXT,
		PRIMARY KEY(run_id, seq),
		FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS runs_started ON runs(started_at);
	CREATE INDEX IF NOT EXISTS audit_recorded ON audit_records(recorded_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the underlying database handle.
func (s *RunStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveRun upserts result and replaces its trace and audit rows.
func (s *RunStore) SaveRun(ctx context.Context, result *framework.AgentResult) error {
	if result == nil || result.RunID == "" {
		return errors.New("run id required")
	}
	header := *result
	header.Trace = nil
	header.Audit = nil
	encoded, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}
	instruction := ""
	if result.Task != nil {
		instruction = result.Task.Instruction
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, strategy, instruction, status, failure_category, steps,
		                  started_at, finished_at, result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status           = excluded.status,
			failure_category = excluded.failure_category,
			steps            = excluded.steps,
			finished_at      = excluded.finished_at,
			result           = excluded.result`,
		result.RunID,
		result.Strategy,
		instruction,
		string(result.Status),
		string(result.Category),
		len(result.Trace),
		result.StartedAt,
		result.FinishedAt,
		string(encoded),
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM trace_entries WHERE run_id = ?`, result.RunID); err != nil {
		return fmt.Errorf("clear trace: %w", err)
	}
	for _, entry := range result.Trace {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("encode step %d: %w", entry.Index, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO trace_entries (run_id, idx, tool, success, category, entry)
			VALUES (?, ?, ?, ?, ?, ?)`,
			result.RunID,
			entry.Index,
			entry.Tool,
			entry.Succeeded(),
			string(entry.Category),
			string(data),
		)
		if err != nil {
			return fmt.Errorf("insert step %d: %w", entry.Index, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM audit_records WHERE run_id = ?`, result.RunID); err != nil {
		return fmt.Errorf("clear audit: %w", err)
	}
	for i, record := range result.Audit {
		var metadata []byte
		if len(record.Metadata) > 0 {
			if metadata, err = json.Marshal(record.Metadata); err != nil {
				return fmt.Errorf("encode audit record %d: %w", i, err)
			}
		}
		recorded := record.Timestamp
		if recorded.IsZero() {
			recorded = result.FinishedAt
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO audit_records (run_id, seq, recorded_at, action, tool, kind, result, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			result.RunID,
			i,
			recorded.UTC(),
			string(record.Action),
			record.Tool,
			record.Kind,
			record.Result,
			string(metadata),
		)
		if err != nil {
			return fmt.Errorf("insert audit record %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// LoadRun returns the archived result for id, or an error wrapping
// framework.ErrNotFound.
func (s *RunStore) LoadRun(ctx context.Context, id string) (*framework.AgentResult, error) {
	var encoded string
	err := s.db.QueryRowContext(ctx, `SELECT result FROM runs WHERE id = ?`, id).Scan(&encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: run %s", framework.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var result framework.AgentResult
	if err := json.Unmarshal([]byte(encoded), &result); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT entry FROM trace_entries WHERE run_id = ? ORDER BY idx`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result.Trace = []framework.TraceEntry{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var entry framework.TraceEntry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			return nil, fmt.Errorf("decode trace of %s: %w", id, err)
		}
		result.Trace = append(result.Trace, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Release the only connection before the next query.
	rows.Close()
	audit, err := s.QueryAudit(ctx, framework.AuditQuery{RunID: id})
	if err != nil {
		return nil, err
	}
	result.Audit = audit
	return &result, nil
}

// QueryAudit returns archived audit records matching filter, oldest first.
func (s *RunStore) QueryAudit(ctx context.Context, filter framework.AuditQuery) ([]framework.AuditRecord, error) {
	query := `SELECT run_id, recorded_at, action, tool, COALESCE(kind, ''), result, COALESCE(metadata, '')
		FROM audit_records WHERE 1=1`
	var args []interface{}
	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	if filter.Action != "" {
		query += ` AND action = ?`
		args = append(args, string(filter.Action))
	}
	if filter.Tool != "" {
		query += ` AND tool = ?`
		args = append(args, filter.Tool)
	}
	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, filter.Kind)
	}
	if !filter.TimeStart.IsZero() {
		query += ` AND recorded_at >= ?`
		args = append(args, filter.TimeStart.UTC())
	}
	if !filter.TimeEnd.IsZero() {
		query += ` AND recorded_at <= ?`
		args = append(args, filter.TimeEnd.UTC())
	}
	query += ` ORDER BY recorded_at, run_id, seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []framework.AuditRecord
	for rows.Next() {
		var (
			record   framework.AuditRecord
			action   string
			metadata string
		)
		if err := rows.Scan(&record.RunID, &record.Timestamp, &action, &record.Tool, &record.Kind, &record.Result, &metadata); err != nil {
			return nil, err
		}
		record.Action = framework.AuditAction(action)
		if metadata != "" {
			if err := json.Unmarshal([]byte(metadata), &record.Metadata); err != nil {
				return nil, fmt.Errorf("decode audit metadata: %w", err)
			}
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// ListRuns returns the most recent runs first. limit <= 0 means no limit.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, strategy, instruction, status, COALESCE(failure_category, ''), steps,
		       started_at, finished_at
		FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunSummary
	for rows.Next() {
		var (
			summary RunSummary
			status  string
		)
		if err := rows.Scan(&summary.ID, &summary.Strategy, &summary.Instruction, &status,
			&summary.Category, &summary.Steps, &summary.StartedAt, &summary.FinishedAt); err != nil {
			return nil, err
		}
		summary.Status = framework.RunStatus(status)
		out = append(out, summary)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and its trace.
func (s *RunStore) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: run %s", framework.ErrNotFound, id)
	}
	return nil
}
