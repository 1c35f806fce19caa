package sync

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

func newChangeLogDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite memory db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(`CREATE TABLE __change_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		table_name TEXT NOT NULL,
		record_id TEXT NOT NULL,
		operation TEXT NOT NULL,
		changed_at TEXT NOT NULL,
		sync_version INTEGER NOT NULL DEFAULT 0
	)`); err != nil {
		t.Fatalf("create change log table: %v", err)
	}
	return db
}

func TestNormalizeToSecondsIsIdempotent(t *testing.T) {
	tests := []struct {
		name string
		in   int64
	}{
		{"already seconds", 1_700_000_000},
		{"milliseconds", 1_700_000_000_000},
		{"zero", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			once := NormalizeToSeconds(tt.in)
			twice := NormalizeToSeconds(once)
			if once != twice {
				t.Fatalf("NormalizeToSeconds not idempotent: once=%d twice=%d", once, twice)
			}
		})
	}
}

func TestNormalizeToSecondsConvertsOnlyAboveThreshold(t *testing.T) {
	if got := NormalizeToSeconds(1_700_000_000_000); got != 1_700_000_000 {
		t.Fatalf("expected millisecond value divided by 1000, got %d", got)
	}
	if got := NormalizeToSeconds(1_700_000_000); got != 1_700_000_000 {
		t.Fatalf("second-resolution value should pass through unchanged, got %d", got)
	}
}

func TestPendingChangesReturnsOnlyUnsyncedRowsInOrder(t *testing.T) {
	ctx := context.Background()
	db := newChangeLogDB(t)

	insert := func(table, recordID string, changedAt string, syncVersion int64) {
		if _, err := db.ExecContext(ctx, `INSERT INTO __change_log (table_name, record_id, operation, changed_at, sync_version) VALUES (?, ?, 'INSERT', ?, ?)`,
			table, recordID, changedAt, syncVersion); err != nil {
			t.Fatalf("insert fixture row: %v", err)
		}
	}
	insert("notes", "1", "2024-01-02T00:00:00Z", 0)
	insert("notes", "2", "2024-01-01T00:00:00Z", 0)
	insert("notes", "3", "2024-01-03T00:00:00Z", 99) // already synced

	rows, err := PendingChanges(ctx, db, "", 0)
	if err != nil {
		t.Fatalf("PendingChanges: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 pending rows, got %d: %+v", len(rows), rows)
	}
	if rows[0].RecordID != "2" || rows[1].RecordID != "1" {
		t.Fatalf("expected ascending changed_at order, got %+v", rows)
	}
}

func TestMarkSyncedUpdatesOnlyGivenIDs(t *testing.T) {
	ctx := context.Background()
	db := newChangeLogDB(t)

	for i := 0; i < 3; i++ {
		if _, err := db.ExecContext(ctx, `INSERT INTO __change_log (table_name, record_id, operation, changed_at) VALUES ('t', ?, 'INSERT', ?)`,
			i, time.Now().UTC().Format(time.RFC3339)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	if err := MarkSynced(ctx, db, []int64{1, 2}, 500); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}

	var v1, v2, v3 int64
	_ = db.QueryRowContext(ctx, `SELECT sync_version FROM __change_log WHERE id = 1`).Scan(&v1)
	_ = db.QueryRowContext(ctx, `SELECT sync_version FROM __change_log WHERE id = 2`).Scan(&v2)
	_ = db.QueryRowContext(ctx, `SELECT sync_version FROM __change_log WHERE id = 3`).Scan(&v3)
	if v1 != 500 || v2 != 500 {
		t.Fatalf("expected ids 1,2 to carry sync_version 500, got v1=%d v2=%d", v1, v2)
	}
	if v3 != 0 {
		t.Fatalf("expected id 3 untouched, got %d", v3)
	}
}

func TestMaxSyncVersionNormalizesLegacyMilliseconds(t *testing.T) {
	ctx := context.Background()
	db := newChangeLogDB(t)
	if _, err := db.ExecContext(ctx, `INSERT INTO __change_log (table_name, record_id, operation, changed_at, sync_version) VALUES ('t', '1', 'INSERT', '2024-01-01T00:00:00Z', ?)`,
		1_700_000_000_000); err != nil {
		t.Fatalf("insert: %v", err)
	}

	v, err := MaxSyncVersion(ctx, db)
	if err != nil {
		t.Fatalf("MaxSyncVersion: %v", err)
	}
	if v != 1_700_000_000 {
		t.Fatalf("expected normalized seconds value, got %d", v)
	}
}

func TestSuppressNewRowsSinceOnlyAffectsRowsAfterID(t *testing.T) {
	ctx := context.Background()
	db := newChangeLogDB(t)
	for i := 0; i < 3; i++ {
		if _, err := db.ExecContext(ctx, `INSERT INTO __change_log (table_name, record_id, operation, changed_at) VALUES ('t', ?, 'INSERT', ?)`,
			i, time.Now().UTC().Format(time.RFC3339)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	if err := suppressNewRowsSince(ctx, db, 1); err != nil {
		t.Fatalf("suppressNewRowsSince: %v", err)
	}

	var synced1, synced2, synced3 int64
	_ = db.QueryRowContext(ctx, `SELECT sync_version FROM __change_log WHERE id = 1`).Scan(&synced1)
	_ = db.QueryRowContext(ctx, `SELECT sync_version FROM __change_log WHERE id = 2`).Scan(&synced2)
	_ = db.QueryRowContext(ctx, `SELECT sync_version FROM __change_log WHERE id = 3`).Scan(&synced3)
	if synced1 != 0 {
		t.Fatalf("row id 1 should be untouched, got sync_version=%d", synced1)
	}
	if synced2 == 0 || synced3 == 0 {
		t.Fatalf("rows after sinceID should be marked synced, got synced2=%d synced3=%d", synced2, synced3)
	}
}

func TestRetentionSweepDeletesOnlySyncedOldRows(t *testing.T) {
	ctx := context.Background()
	db := newChangeLogDB(t)
	old := time.Now().AddDate(0, 0, -30).UTC().Format(time.RFC3339)
	recent := time.Now().UTC().Format(time.RFC3339)

	if _, err := db.ExecContext(ctx, `INSERT INTO __change_log (table_name, record_id, operation, changed_at, sync_version) VALUES ('t', '1', 'INSERT', ?, 100)`, old); err != nil {
		t.Fatalf("insert old synced: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO __change_log (table_name, record_id, operation, changed_at, sync_version) VALUES ('t', '2', 'INSERT', ?, 0)`, old); err != nil {
		t.Fatalf("insert old pending: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO __change_log (table_name, record_id, operation, changed_at, sync_version) VALUES ('t', '3', 'INSERT', ?, 100)`, recent); err != nil {
		t.Fatalf("insert recent synced: %v", err)
	}

	n, err := RetentionSweep(ctx, db, time.Now().AddDate(0, 0, -1))
	if err != nil {
		t.Fatalf("RetentionSweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly 1 row swept (old+synced), got %d", n)
	}
}
