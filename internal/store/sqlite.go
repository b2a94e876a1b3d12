package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dusk-indust/conductor/internal/orchestrator"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	phase TEXT NOT NULL,
	intent TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at, id);
CREATE INDEX IF NOT EXISTS idx_sessions_phase ON sessions(phase);

CREATE TABLE IF NOT EXISTS decision_log (
	request_id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	stage TEXT NOT NULL,
	action TEXT NOT NULL,
	by_default INTEGER NOT NULL,
	payload TEXT NOT NULL,
	resolved_at INTEGER NOT NULL,
	FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_decision_log_session ON decision_log(session_id, resolved_at);
`

// SQLite stores workflow states as JSON documents in a SQLite database.
// Resolved decisions are additionally written to an append-only log.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at dbPath and applies
// the connection pragmas. Call Migrate before use.
func OpenSQLite(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Pragmas are per connection; a single connection keeps them in force
	// and serializes writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set sqlite pragma %q: %w", stmt, err)
		}
	}

	return &SQLite{db: db}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Migrate creates the schema.
func (s *SQLite) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Persist upserts the session row and appends any decisions not yet logged,
// in one transaction.
func (s *SQLite) Persist(ctx context.Context, state orchestrator.WorkflowState) error {
	if state.SessionID == "" {
		return fmt.Errorf("persist: empty session id")
	}
	doc, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("persist %s: encode state: %w", state.SessionID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx persist: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO sessions(id, phase, intent, state, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			phase = excluded.phase,
			intent = excluded.intent,
			state = excluded.state,
			updated_at = excluded.updated_at`,
		state.SessionID, string(state.Phase), string(state.Intent), string(doc),
		state.CreatedAt.UnixMilli(), state.UpdatedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("persist %s: upsert session: %w", state.SessionID, err)
	}

	for _, d := range state.Decisions {
		payload, err := json.Marshal(d.Outcome.Response.Data)
		if err != nil {
			return fmt.Errorf("persist %s: encode decision: %w", state.SessionID, err)
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT OR IGNORE INTO decision_log(request_id, session_id, stage, action, by_default, payload, resolved_at)
			VALUES(?, ?, ?, ?, ?, ?, ?)`,
			d.Outcome.RequestID, state.SessionID, d.Stage, d.Outcome.Response.Action,
			boolToInt(d.Outcome.ByDefault), string(payload), d.Outcome.ResolvedAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("persist %s: log decision: %w", state.SessionID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit persist: %w", err)
	}
	return nil
}

// Load returns the stored state of sessionID.
func (s *SQLite) Load(ctx context.Context, sessionID string) (*orchestrator.WorkflowState, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM sessions WHERE id = ?`, sessionID).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("load %s: %w", sessionID, ErrNotFound)
		}
		return nil, fmt.Errorf("load %s: %w", sessionID, err)
	}
	st, err := decodeState(doc)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", sessionID, err)
	}
	return st, nil
}

// List returns every stored state ordered by creation time.
func (s *SQLite) List(ctx context.Context) ([]orchestrator.WorkflowState, error) {
	return s.query(ctx, `SELECT state FROM sessions ORDER BY created_at, id`)
}

// ListByPhase returns the stored states currently in phase.
func (s *SQLite) ListByPhase(ctx context.Context, phase orchestrator.Phase) ([]orchestrator.WorkflowState, error) {
	return s.query(ctx, `SELECT state FROM sessions WHERE phase = ? ORDER BY created_at, id`, string(phase))
}

func (s *SQLite) query(ctx context.Context, q string, args ...any) ([]orchestrator.WorkflowState, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []orchestrator.WorkflowState
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		st, err := decodeState(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

// Delete removes the session and its decision log.
func (s *SQLite) Delete(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx delete: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM decision_log WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete %s: decisions: %w", sessionID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete %s: %w", sessionID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

// DecisionEntry is one row of the decision log.
type DecisionEntry struct {
	RequestID  string         `json:"requestId" yaml:"requestId"`
	SessionID  string         `json:"sessionId" yaml:"sessionId"`
	Stage      string         `json:"stage" yaml:"stage"`
	Action     string         `json:"action" yaml:"action"`
	ByDefault  bool           `json:"byDefault" yaml:"byDefault"`
	Data       map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
	ResolvedAt time.Time      `json:"resolvedAt" yaml:"resolvedAt"`
}

// Decisions returns the decision log of sessionID in resolution order.
func (s *SQLite) Decisions(ctx context.Context, sessionID string) ([]DecisionEntry, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT request_id, session_id, stage, action, by_default, payload, resolved_at
		FROM decision_log WHERE session_id = ? ORDER BY resolved_at, request_id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionEntry
	for rows.Next() {
		var (
			e         DecisionEntry
			byDefault int
			payload   string
			resolved  int64
		)
		if err := rows.Scan(&e.RequestID, &e.SessionID, &e.Stage, &e.Action, &byDefault, &payload, &resolved); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &e.Data); err != nil {
			return nil, fmt.Errorf("decode decision payload: %w", err)
		}
		e.ByDefault = byDefault != 0
		e.ResolvedAt = time.UnixMilli(resolved).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	return out, nil
}

func decodeState(doc string) (*orchestrator.WorkflowState, error) {
	var st orchestrator.WorkflowState
	if err := json.Unmarshal([]byte(doc), &st); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if st.Outputs == nil {
		st.Outputs = make(map[string]orchestrator.StageOutput)
	}
	if st.Metadata == nil {
		st.Metadata = make(map[string]any)
	}
	if st.Completed == nil {
		st.Completed = []string{}
	}
	return &st, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
