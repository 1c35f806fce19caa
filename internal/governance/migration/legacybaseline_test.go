package migration

import (
	"context"
	"log/slog"
	"testing"
)

func TestRecordLegacyBaselineSkipsWhenHistoryAlreadyExists(t *testing.T) {
	ctx := context.Background()
	db := openMigrationTestDB(t)
	if err := ensureHistoryTable(ctx, db); err != nil {
		t.Fatalf("ensureHistoryTable: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO migration_history (version, name, applied_on, checksum) VALUES (1, 'init', '2024-01-01T00:00:00Z', 'c1')`); err != nil {
		t.Fatalf("seed history row: %v", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE notes (id INTEGER PRIMARY KEY, title TEXT)`); err != nil {
		t.Fatalf("create legacy table: %v", err)
	}

	recorded, err := recordLegacyBaseline(ctx, db, Set{{Version: 1, Name: "init"}}, LegacySignal{Tables: []string{"notes"}}, slog.Default())
	if err != nil {
		t.Fatalf("recordLegacyBaseline: %v", err)
	}
	if recorded {
		t.Fatal("expected no baseline when the history table already has rows")
	}
}

func TestRecordLegacyBaselineSkipsWhenSignalDoesNotMatch(t *testing.T) {
	ctx := context.Background()
	db := openMigrationTestDB(t)

	recorded, err := recordLegacyBaseline(ctx, db, Set{{Version: 1, Name: "init"}}, LegacySignal{Tables: []string{"notes"}}, slog.Default())
	if err != nil {
		t.Fatalf("recordLegacyBaseline: %v", err)
	}
	if recorded {
		t.Fatal("expected no baseline when none of the legacy signal tables exist")
	}
}

func TestRecordLegacyBaselineRecordsWhenSignalMatchesAndContractHolds(t *testing.T) {
	ctx := context.Background()
	db := openMigrationTestDB(t)
	if _, err := db.ExecContext(ctx, `CREATE TABLE notes (id INTEGER PRIMARY KEY, title TEXT)`); err != nil {
		t.Fatalf("create legacy table: %v", err)
	}

	set := Set{{
		Version: 1, Name: "init", Checksum: "c1",
		Contract: Contract{Tables: []TableContract{{Name: "notes"}}},
	}}

	recorded, err := recordLegacyBaseline(ctx, db, set, LegacySignal{Tables: []string{"notes"}}, slog.Default())
	if err != nil {
		t.Fatalf("recordLegacyBaseline: %v", err)
	}
	if !recorded {
		t.Fatal("expected a baseline row to be recorded")
	}

	row, found, err := historyRowByVersion(ctx, db, 1)
	if err != nil || !found {
		t.Fatalf("historyRowByVersion: found=%v err=%v", found, err)
	}
	if row.Checksum != BaselineChecksum {
		t.Fatalf("expected the baseline sentinel checksum, got %q", row.Checksum)
	}
}

func TestRecordLegacyBaselineDefersWhenContractUnsatisfied(t *testing.T) {
	ctx := context.Background()
	db := openMigrationTestDB(t)
	if _, err := db.ExecContext(ctx, `CREATE TABLE notes (id INTEGER PRIMARY KEY)`); err != nil {
		t.Fatalf("create legacy table: %v", err)
	}

	set := Set{{
		Version: 1, Name: "init", Checksum: "c1",
		Contract: Contract{Tables: []TableContract{{Name: "notes", Columns: []ColumnContract{{Name: "title", NotNull: true}}}}},
	}}

	recorded, err := recordLegacyBaseline(ctx, db, set, LegacySignal{Tables: []string{"notes"}}, slog.Default())
	if err != nil {
		t.Fatalf("recordLegacyBaseline: %v", err)
	}
	if recorded {
		t.Fatal("expected no baseline when the first migration's contract does not hold against live schema")
	}
}
