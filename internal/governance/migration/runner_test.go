package migration

import (
	"context"
	"testing"
)

func TestApplyPendingAppliesOnlyUnrecordedMigrationsInOrder(t *testing.T) {
	ctx := context.Background()
	db := openMigrationTestDB(t)

	set := Set{
		{Version: 1, Name: "init", SQL: `CREATE TABLE t (id INTEGER PRIMARY KEY)`, Checksum: "c1"},
		{Version: 2, Name: "add_col", SQL: `ALTER TABLE t ADD COLUMN name TEXT`, Checksum: "c2"},
	}
	runner := NewRunner(db, set, nil)

	diff, err := runner.ApplyPending(ctx)
	if err != nil {
		t.Fatalf("ApplyPending: %v", err)
	}
	if diff.AppliedCount != 2 || diff.AppliedVersions[0] != 1 || diff.AppliedVersions[1] != 2 {
		t.Fatalf("unexpected diff: %+v", diff)
	}

	// Second call against the same database must be a no-op: every
	// migration is already recorded.
	diff2, err := runner.ApplyPending(ctx)
	if err != nil {
		t.Fatalf("second ApplyPending: %v", err)
	}
	if diff2.AppliedCount != 0 {
		t.Fatalf("expected no migrations applied on second run, got %+v", diff2)
	}

	v, err := fromVersion(ctx, db)
	if err != nil {
		t.Fatalf("fromVersion: %v", err)
	}
	if v != 2 {
		t.Fatalf("expected final version 2, got %d", v)
	}
}

func TestApplyPendingAppliesEachMigrationInItsOwnTransaction(t *testing.T) {
	ctx := context.Background()
	db := openMigrationTestDB(t)

	set := Set{
		{Version: 1, Name: "init", SQL: `CREATE TABLE t (id INTEGER PRIMARY KEY)`, Checksum: "c1"},
		{Version: 2, Name: "bad", SQL: `ALTER TABLE does_not_exist ADD COLUMN x TEXT`, Checksum: "c2"},
	}
	runner := NewRunner(db, set, nil)

	if _, err := runner.ApplyPending(ctx); err == nil {
		t.Fatal("expected the second migration to fail")
	}

	// Migration 1 must still be recorded even though migration 2 failed:
	// ungrouped mode means each migration's own transaction is independent.
	v, err := fromVersion(ctx, db)
	if err != nil {
		t.Fatalf("fromVersion: %v", err)
	}
	if v != 1 {
		t.Fatalf("expected version 1 to remain committed after a later migration failed, got %d", v)
	}
}

func TestChecksumsMapsVersionToChecksum(t *testing.T) {
	set := Set{{Version: 1, Checksum: "abc"}, {Version: 2, Checksum: "def"}}
	runner := NewRunner(nil, set, nil)
	sums := runner.Checksums()
	if sums[1] != "abc" || sums[2] != "def" {
		t.Fatalf("unexpected checksums map: %+v", sums)
	}
}
