// Package audit provides the governance core's audit sink: a SQLite table
// of operation-level audit rows, adapted from the teacher's JSONL audit log
// (internal/audit/audit.go) into the table-backed contract the design
// calls for. Absence of a configured sink degrades to log-only, exactly as
// specified.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

const table = "audit_log"

// Entry is one audit row: operation, target, a JSON detail blob, a success
// flag, an optional error string, and a duration in milliseconds.
type Entry struct {
	ID         int64
	Operation  string
	Target     string
	Details    map[string]any
	Success    bool
	Error      string
	DurationMS int64
	CreatedAt  time.Time
}

// Sink appends audit rows to a SQLite database. A nil *Sink degrades to
// log-only via Append, matching the design's "absence of the sink
// degrades to log-only".
type Sink struct {
	db  *sql.DB
	log *slog.Logger
}

// New wraps db as an audit sink, creating the audit_log table if absent.
func New(ctx context.Context, db *sql.DB, log *slog.Logger) (*Sink, error) {
	if log == nil {
		log = slog.Default()
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	operation   TEXT NOT NULL,
	target      TEXT NOT NULL,
	details_json TEXT NOT NULL DEFAULT '{}',
	success     INTEGER NOT NULL,
	error       TEXT,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at  TEXT NOT NULL
)`, table)); err != nil {
		return nil, fmt.Errorf("init audit table: %w", err)
	}
	return &Sink{db: db, log: log}, nil
}

// Append writes one audit row. If s is nil, it logs instead of failing,
// per the design's log-only degradation.
func (s *Sink) Append(ctx context.Context, e Entry) error {
	if s == nil {
		logEntry(slog.Default(), e)
		return nil
	}

	detailsJSON := "{}"
	if e.Details != nil {
		b, err := json.Marshal(e.Details)
		if err == nil {
			detailsJSON = string(b)
		}
	}

	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (operation, target, details_json, success, error, duration_ms, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`, table),
		e.Operation, e.Target, detailsJSON, boolToInt(e.Success), nullableString(e.Error), e.DurationMS, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		logEntry(s.log, e)
		return fmt.Errorf("append audit row: %w", err)
	}
	return nil
}

func logEntry(log *slog.Logger, e Entry) {
	log.Info("audit", "operation", e.Operation, "target", e.Target, "success", e.Success, "error", e.Error, "duration_ms", e.DurationMS)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
