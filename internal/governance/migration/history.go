package migration

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const historyTable = "migration_history"

// BaselineChecksum is the sentinel checksum for a baseline row inserted by
// the Legacy Baseline Recorder, pending reconciliation.
const BaselineChecksum = "0"

func ensureHistoryTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	version    INTEGER PRIMARY KEY,
	name       TEXT NOT NULL,
	applied_on TEXT NOT NULL,
	checksum   TEXT NOT NULL
)`, historyTable))
	return err
}

func historyTableExists(ctx context.Context, db *sql.DB) (bool, error) {
	var name string
	err := db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name=?`, historyTable).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func historyRowCount(ctx context.Context, db *sql.DB) (int, error) {
	exists, err := historyTableExists(ctx, db)
	if err != nil || !exists {
		return 0, err
	}
	var n int
	if err := db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, historyTable)).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// fromVersion reads MAX(version) from the history table, 0 if the table
// does not exist or is empty.
func fromVersion(ctx context.Context, db *sql.DB) (int, error) {
	exists, err := historyTableExists(ctx, db)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}
	var v sql.NullInt64
	if err := db.QueryRowContext(ctx, fmt.Sprintf(`SELECT MAX(version) FROM %s`, historyTable)).Scan(&v); err != nil {
		return 0, err
	}
	if !v.Valid {
		return 0, nil
	}
	return int(v.Int64), nil
}

// fixMalformedHistoryRows deletes rows with a null/empty checksum or a
// null/zero version, never touching rows with a legitimate checksum.
func fixMalformedHistoryRows(ctx context.Context, db *sql.DB) (int64, error) {
	exists, err := historyTableExists(ctx, db)
	if err != nil || !exists {
		return 0, err
	}
	res, err := db.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE checksum IS NULL OR checksum = '' OR version IS NULL OR version = 0`, historyTable))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func readHistory(ctx context.Context, db *sql.DB) ([]HistoryRow, error) {
	exists, err := historyTableExists(ctx, db)
	if err != nil || !exists {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT version, name, applied_on, checksum FROM %s ORDER BY version`, historyTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryRow
	for rows.Next() {
		var hr HistoryRow
		var appliedOn string
		if err := rows.Scan(&hr.Version, &hr.Name, &appliedOn, &hr.Checksum); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339, appliedOn); err == nil {
			hr.AppliedOn = t
		}
		out = append(out, hr)
	}
	return out, rows.Err()
}

func historyRowByVersion(ctx context.Context, db *sql.DB, version int) (HistoryRow, bool, error) {
	exists, err := historyTableExists(ctx, db)
	if err != nil || !exists {
		return HistoryRow{}, false, err
	}
	var hr HistoryRow
	var appliedOn string
	err = db.QueryRowContext(ctx, fmt.Sprintf(`SELECT version, name, applied_on, checksum FROM %s WHERE version = ?`, historyTable), version).
		Scan(&hr.Version, &hr.Name, &appliedOn, &hr.Checksum)
	if err == sql.ErrNoRows {
		return HistoryRow{}, false, nil
	}
	if err != nil {
		return HistoryRow{}, false, err
	}
	if t, err := time.Parse(time.RFC3339, appliedOn); err == nil {
		hr.AppliedOn = t
	}
	return hr, true, nil
}

// insertHistoryRow records a migration as applied within the given
// transaction-capable executor (either *sql.DB or *sql.Tx).
func insertHistoryRow(ctx context.Context, execer interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, version int, name, checksum string, appliedOn time.Time) error {
	_, err := execer.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (version, name, applied_on, checksum) VALUES (?, ?, ?, ?)`, historyTable),
		version, name, appliedOn.UTC().Format(time.RFC3339), checksum)
	return err
}

func updateHistoryChecksum(ctx context.Context, db *sql.DB, version int, name, checksum string) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET name = ?, checksum = ? WHERE version = ?`, historyTable),
		name, checksum, version)
	return err
}
