package migration

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/deepstudent/datagovernance/internal/governance/dbid"
)

// TestRunAllAppliesRealChangeLogTriggerMigrations runs the production
// migration sets (sets_vfs.go, sets_mistakes.go, sets_llmusage.go,
// sets_chatv2.go) end-to-end through the real Coordinator, instead of the
// small synthetic sets the other coordinator tests use. Every one of those
// sets includes a change-log migration whose CREATE TRIGGER ... BEGIN ...
// END; statements carry an internal semicolon; this is the shape
// sqlparse_test.go's unit tests never exercise against a real database.
func TestRunAllAppliesRealChangeLogTriggerMigrations(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	coord := NewCoordinator(dir, DefaultSpecs())

	report, err := coord.RunAll(ctx)
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if !report.Success {
		t.Fatalf("expected a successful run, got: %+v", report)
	}

	for _, id := range []dbid.ID{dbid.VFS, dbid.Mistakes, dbid.LLMUsage, dbid.ChatV2} {
		db, err := openDB(filepath.Join(dir, dbid.FileName(id)))
		if err != nil {
			t.Fatalf("openDB(%s): %v", id, err)
		}
		exists, err := tableExists(ctx, db, "__change_log")
		db.Close()
		if err != nil {
			t.Fatalf("tableExists(%s, __change_log): %v", id, err)
		}
		if !exists {
			t.Fatalf("%s: expected __change_log table to exist after its change-log migration ran", id)
		}
	}

	vfsDB, err := openDB(filepath.Join(dir, dbid.FileName(dbid.VFS)))
	if err != nil {
		t.Fatalf("openDB(vfs): %v", err)
	}
	defer vfsDB.Close()

	triggers, err := triggersOf(ctx, vfsDB, "files")
	if err != nil {
		t.Fatalf("triggersOf(files): %v", err)
	}
	want := map[string]bool{"trg_files_ai": true, "trg_files_au": true, "trg_files_ad": true}
	for name := range triggers {
		delete(want, name)
	}
	if len(want) != 0 {
		t.Fatalf("missing triggers on files: %v (got %v)", want, triggers)
	}

	if _, err := vfsDB.ExecContext(ctx,
		`INSERT INTO folders (id, parent_id, name, created_at) VALUES ('f1', NULL, 'root', datetime('now'))`,
	); err != nil {
		t.Fatalf("insert into folders: %v", err)
	}
	if _, err := vfsDB.ExecContext(ctx,
		`INSERT INTO files (id, folder_id, path, created_at, updated_at) VALUES ('file1', 'f1', '/a', datetime('now'), datetime('now'))`,
	); err != nil {
		t.Fatalf("insert into files: %v", err)
	}
	var count int
	if err := vfsDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM __change_log WHERE table_name = 'files'`).Scan(&count); err != nil {
		t.Fatalf("count change log rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected the insert trigger to append one change-log row, got %d", count)
	}
}
