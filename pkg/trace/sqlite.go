package trace

import (
	"context"
	"database/sql"
	"errors"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists trace events in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps db and ensures the schema exists.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// OpenSQLiteStore opens the database at dsn with the sqlite driver.
func OpenSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	s, err := NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Record stores a single event.
func (s *SQLiteStore) Record(ctx context.Context, event Event) error {
	args, err := encodeJSON(event.Args)
	if err != nil {
		return err
	}
	sources, err := encodeJSON(event.Sources)
	if err != nil {
		return err
	}
	suspicious, err := encodeJSON(event.Suspicious)
	if err != nil {
		return err
	}
	redacted, err := encodeJSON(event.Redacted)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO camel_trace_events (
			run_id, seq, kind, step, tool, args_json, blocked, reason, rule_id, is_error,
			target, trusted, sources_json, model, suspicious_json, redacted_json, text, at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.RunID,
		event.Seq,
		string(event.Kind),
		event.Step,
		event.Tool,
		args,
		event.Blocked,
		event.Reason,
		event.RuleID,
		event.Error,
		event.Target,
		event.Trusted,
		sources,
		event.Model,
		suspicious,
		redacted,
		event.Text,
		normalizeTime(event.At),
	)
	return err
}

// List returns events matching the filter, oldest first.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]Event, error) {
	query := `
		SELECT run_id, seq, kind, step, tool, args_json, blocked, reason, rule_id, is_error,
			target, trusted, sources_json, model, suspicious_json, redacted_json, text, at
		FROM camel_trace_events
	`
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.RunID != "" {
		addFilter("run_id = ?", filter.RunID)
	}
	if filter.Kind != "" {
		addFilter("kind = ?", string(filter.Kind))
	}
	if filter.Tool != "" {
		addFilter("tool = ?", filter.Tool)
	}
	if filter.BlockedOnly {
		addFilter("blocked = ?", true)
	}
	query += where + " ORDER BY id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev                                      Event
			kind                                    string
			argsJSON, sources, suspicious, redacted string
			at                                      sql.NullTime
		)
		if err := rows.Scan(
			&ev.RunID, &ev.Seq, &kind, &ev.Step, &ev.Tool, &argsJSON, &ev.Blocked, &ev.Reason, &ev.RuleID, &ev.Error,
			&ev.Target, &ev.Trusted, &sources, &ev.Model, &suspicious, &redacted, &ev.Text, &at,
		); err != nil {
			return nil, err
		}
		ev.Kind = Kind(kind)
		if err := decodeJSON(argsJSON, &ev.Args); err != nil {
			return nil, err
		}
		if err := decodeJSON(sources, &ev.Sources); err != nil {
			return nil, err
		}
		if err := decodeJSON(suspicious, &ev.Suspicious); err != nil {
			return nil, err
		}
		if err := decodeJSON(redacted, &ev.Redacted); err != nil {
			return nil, err
		}
		if at.Valid {
			ev.At = at.Time
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS camel_trace_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			step TEXT NOT NULL DEFAULT '',
			tool TEXT NOT NULL DEFAULT '',
			args_json TEXT NOT NULL DEFAULT '',
			blocked BOOLEAN NOT NULL DEFAULT 0,
			reason TEXT NOT NULL DEFAULT '',
			rule_id TEXT NOT NULL DEFAULT '',
			is_error BOOLEAN NOT NULL DEFAULT 0,
			target TEXT NOT NULL DEFAULT '',
			trusted BOOLEAN NOT NULL DEFAULT 0,
			sources_json TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			suspicious_json TEXT NOT NULL DEFAULT '',
			redacted_json TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL DEFAULT '',
			at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_camel_trace_run ON camel_trace_events(run_id);
		CREATE INDEX IF NOT EXISTS idx_camel_trace_tool ON camel_trace_events(tool);
	`)
	return err
}
