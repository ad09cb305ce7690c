// Package persistence stores run history, tool call records, and the
// audit trail in SQLite.
package persistence

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"foundry/pkg/logx"
)

// Store wraps a SQLite database holding run history and audit events.
// Every Store owns its own connection; open one per process and share it.
type Store struct {
	db        *sql.DB
	sessionID string
	logger    *logx.Logger
}

// Open opens (creating if needed) the database at dbPath and brings the
// schema up to date. SQLite supports one writer, so the pool is pinned to
// a single connection; the busy timeout covers readers from other
// processes.
func Open(dbPath, sessionID string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
		dbPath,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initializeSchemaWithMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	logger := logx.NewLogger("persistence")
	logger.Info("database opened: %s (session: %s)", dbPath, sessionID)

	return &Store{db: db, sessionID: sessionID, logger: logger}, nil
}

// SessionID returns the session this store stamps on new rows.
func (s *Store) SessionID() string {
	return s.sessionID
}

// SchemaVersion reports the schema version the database is at.
func (s *Store) SchemaVersion() (int, error) {
	return getSchemaVersion(s.db)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// RecordRun inserts one run row. Missing ID, SessionID, and CreatedAt
// fields are filled in on the record before the insert.
func (s *Store) RecordRun(rec *RunRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.SessionID == "" {
		rec.SessionID = s.sessionID
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO runs (
			id, session_id, thread_id, run_id, status, response,
			tool_calls, prompt_tokens, completion_tokens, total_tokens,
			duration_ms, error, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		rec.ID, rec.SessionID, rec.ThreadID, rec.RunID, rec.Status, rec.Response,
		rec.ToolCalls, rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens,
		rec.Duration.Milliseconds(), rec.Error, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", rec.ID, err)
	}
	return nil
}

// RecordToolCall inserts one tool call row. The owning run row must exist
// already; record the run first, then its tool calls.
func (s *Store) RecordToolCall(rec *ToolCallRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO tool_calls (id, run_row_id, tool, outcome, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		rec.ID, rec.RunRowID, rec.Tool, rec.Outcome, rec.Duration.Milliseconds(), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record tool call for run %s: %w", rec.RunRowID, err)
	}
	return nil
}

// RecordEvent appends one audit trail entry for this store's session.
func (s *Store) RecordEvent(actor, action, detail string) error {
	query := `
		INSERT INTO audit_events (id, session_id, actor, action, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		uuid.New().String(), s.sessionID, actor, action, detail, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record audit event %s/%s: %w", actor, action, err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(limit int) ([]RunRecord, error) {
	query := `
		SELECT id, session_id, thread_id, run_id, status, response,
			tool_calls, prompt_tokens, completion_tokens, total_tokens,
			duration_ms, error, created_at
		FROM runs
		ORDER BY created_at DESC
		LIMIT ?
	`
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent runs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanRuns(rows)
}

// RunsForSession returns every run recorded under sessionID in
// chronological order.
func (s *Store) RunsForSession(sessionID string) ([]RunRecord, error) {
	query := `
		SELECT id, session_id, thread_id, run_id, status, response,
			tool_calls, prompt_tokens, completion_tokens, total_tokens,
			duration_ms, error, created_at
		FROM runs
		WHERE session_id = ?
		ORDER BY created_at ASC
	`
	rows, err := s.db.Query(query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs for session %s: %w", sessionID, err)
	}
	defer func() { _ = rows.Close() }()
	return scanRuns(rows)
}

// ToolCallsForRun returns the tool calls recorded against one runs row,
// in insertion order.
func (s *Store) ToolCallsForRun(runRowID string) ([]ToolCallRecord, error) {
	query := `
		SELECT id, run_row_id, tool, outcome, duration_ms, created_at
		FROM tool_calls
		WHERE run_row_id = ?
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.db.Query(query, runRowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tool calls for run %s: %w", runRowID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []ToolCallRecord
	for rows.Next() {
		var rec ToolCallRecord
		var durMS int64
		if err := rows.Scan(&rec.ID, &rec.RunRowID, &rec.Tool, &rec.Outcome, &durMS, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tool call: %w", err)
		}
		rec.Duration = time.Duration(durMS) * time.Millisecond
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tool call rows error: %w", err)
	}
	return out, nil
}

// RecentEvents returns up to limit audit events, newest first.
func (s *Store) RecentEvents(limit int) ([]AuditEvent, error) {
	query := `
		SELECT id, session_id, actor, action, detail, created_at
		FROM audit_events
		ORDER BY created_at DESC
		LIMIT ?
	`
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []AuditEvent
	for rows.Next() {
		var ev AuditEvent
		var detail sql.NullString
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Actor, &ev.Action, &detail, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		ev.Detail = detail.String
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit event rows error: %w", err)
	}
	return out, nil
}

func scanRuns(rows *sql.Rows) ([]RunRecord, error) {
	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		var response, errMsg sql.NullString
		var durMS int64
		if err := rows.Scan(
			&rec.ID, &rec.SessionID, &rec.ThreadID, &rec.RunID, &rec.Status, &response,
			&rec.ToolCalls, &rec.PromptTokens, &rec.CompletionTokens, &rec.TotalTokens,
			&durMS, &errMsg, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		rec.Response = response.String
		rec.Error = errMsg.String
		rec.Duration = time.Duration(durMS) * time.Millisecond
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("run rows error: %w", err)
	}
	return out, nil
}
