package sync

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const changeLogTable = "__change_log"

// millisecondThreshold is the boundary normalize_to_seconds uses to decide
// a sync_version value is actually milliseconds: 10^11 seconds is far in
// the future (year 5138), so any stored value above it must be millisecond
// resolution from an older build.
const millisecondThreshold = 100_000_000_000

// NormalizeToSeconds returns v/1000 iff v > 10^11, else v. It is
// idempotent: normalizing twice yields the same result as normalizing
// once.
func NormalizeToSeconds(v int64) int64 {
	if v > millisecondThreshold {
		return v / 1000
	}
	return v
}

// PendingChanges returns change-log rows with sync_version = 0, ascending
// by changed_at, optionally filtered by table.
func PendingChanges(ctx context.Context, db *sql.DB, filterTable string, limit int) ([]ChangeLogRow, error) {
	query := fmt.Sprintf(`SELECT id, table_name, record_id, operation, changed_at, sync_version FROM %s WHERE sync_version = 0`, changeLogTable)
	args := []any{}
	if filterTable != "" {
		query += ` AND table_name = ?`
		args = append(args, filterTable)
	}
	query += ` ORDER BY changed_at ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChangeLogRow
	for rows.Next() {
		var r ChangeLogRow
		var changedAt string
		var op string
		if err := rows.Scan(&r.ID, &r.TableName, &r.RecordID, &op, &changedAt, &r.SyncVersion); err != nil {
			return nil, err
		}
		r.Operation = Operation(op)
		r.ChangedAt, _ = time.Parse(time.RFC3339, changedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkSynced sets sync_version on the given change-log row ids.
func MarkSynced(ctx context.Context, db *sql.DB, ids []int64, syncVersion int64) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`UPDATE %s SET sync_version = ? WHERE id = ?`, changeLogTable))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, syncVersion, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// MarkSyncedWithTimestamp sets sync_version to the current second-resolution
// epoch for the given ids, then normalizes any legacy millisecond values
// across the whole table as a best-effort repair step.
func MarkSyncedWithTimestamp(ctx context.Context, db *sql.DB, ids []int64) error {
	now := time.Now().Unix()
	if err := MarkSynced(ctx, db, ids, now); err != nil {
		return err
	}
	return normalizeLegacyMillisecondValues(ctx, db)
}

func normalizeLegacyMillisecondValues(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET sync_version = sync_version / 1000 WHERE sync_version > ?`, changeLogTable), millisecondThreshold)
	return err
}

// RetentionSweep deletes change-log rows older than olderThan that have
// already been synced (sync_version > 0).
func RetentionSweep(ctx context.Context, db *sql.DB, olderThan time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE sync_version > 0 AND changed_at < ?`, changeLogTable), olderThan.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MaxSyncVersion returns the normalized maximum sync_version across the
// change log, the database's data_version.
func MaxSyncVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v sql.NullInt64
	if err := db.QueryRowContext(ctx, fmt.Sprintf(`SELECT MAX(sync_version) FROM %s`, changeLogTable)).Scan(&v); err != nil {
		return 0, err
	}
	if !v.Valid {
		return 0, nil
	}
	return NormalizeToSeconds(v.Int64), nil
}

// maxChangeLogID returns the current maximum id in the change log, used by
// echo-loop suppression to mark newly produced rows as synced-now.
func maxChangeLogID(ctx context.Context, db *sql.DB) (int64, error) {
	var v sql.NullInt64
	if err := db.QueryRowContext(ctx, fmt.Sprintf(`SELECT MAX(id) FROM %s`, changeLogTable)).Scan(&v); err != nil {
		return 0, err
	}
	if !v.Valid {
		return 0, nil
	}
	return v.Int64, nil
}

// suppressNewRowsSince marks as synced-now any rows with id > sinceID and
// sync_version = 0, preventing the apply step's own trigger-fired writes
// from being re-uploaded (the echo-loop guard, §4.11).
func suppressNewRowsSince(ctx context.Context, execer interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, sinceID int64) error {
	_, err := execer.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET sync_version = ? WHERE id > ? AND sync_version = 0`, changeLogTable),
		time.Now().Unix(), sinceID)
	return err
}
