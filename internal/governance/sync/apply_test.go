package sync

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

func newApplyDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite memory db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	for _, stmt := range []string{
		`CREATE TABLE __change_log (id INTEGER PRIMARY KEY AUTOINCREMENT, table_name TEXT NOT NULL, record_id TEXT NOT NULL, operation TEXT NOT NULL, changed_at TEXT NOT NULL, sync_version INTEGER NOT NULL DEFAULT 0)`,
		`CREATE TABLE notes (id TEXT PRIMARY KEY, title TEXT, body TEXT)`,
		`CREATE TABLE llm_usage_daily (date TEXT, caller_type TEXT, model TEXT, provider TEXT, calls INTEGER, PRIMARY KEY (date, caller_type, model, provider))`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("setup: %s: %v", stmt, err)
		}
	}
	return db
}

func TestApplyChangesInsertsAndUpdatesViaUpsert(t *testing.T) {
	ctx := context.Background()
	db := newApplyDB(t)
	schemas := map[string]TableSchema{
		"notes": {Columns: []string{"id", "title", "body"}, PKCols: []string{"id"}},
	}

	changes := []SyncChangeWithData{
		{Table: "notes", RecordID: "n1", Operation: OpInsert, Data: map[string]any{"id": "n1", "title": "first", "body": "b1"}},
	}
	result, err := ApplyChanges(ctx, db, changes, schemas, nil)
	if err != nil {
		t.Fatalf("ApplyChanges insert: %v", err)
	}
	if result.Applied != 1 {
		t.Fatalf("expected 1 applied, got %+v", result)
	}

	changes = []SyncChangeWithData{
		{Table: "notes", RecordID: "n1", Operation: OpUpdate, Data: map[string]any{"id": "n1", "title": "updated", "body": "b1"}},
	}
	if _, err := ApplyChanges(ctx, db, changes, schemas, nil); err != nil {
		t.Fatalf("ApplyChanges update: %v", err)
	}

	var title string
	if err := db.QueryRowContext(ctx, `SELECT title FROM notes WHERE id = 'n1'`).Scan(&title); err != nil {
		t.Fatalf("query: %v", err)
	}
	if title != "updated" {
		t.Fatalf("expected upsert to update existing row, got title=%q", title)
	}

	var count int
	_ = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notes`).Scan(&count)
	if count != 1 {
		t.Fatalf("expected upsert not to duplicate the row, got %d rows", count)
	}
}

func TestApplyChangesCompositeKeyUpsert(t *testing.T) {
	ctx := context.Background()
	db := newApplyDB(t)
	schemas := map[string]TableSchema{
		"llm_usage_daily": {
			Columns: []string{"date", "caller_type", "model", "provider", "calls"},
			PKCols:  []string{"date", "caller_type", "model", "provider"},
		},
	}

	recordID, err := pkValuesToRecordID(map[string]string{
		"date": "2024-01-01", "caller_type": "chat", "model": "gpt", "provider": "openai",
	}, schemas["llm_usage_daily"].PKCols)
	if err != nil {
		t.Fatalf("pkValuesToRecordID: %v", err)
	}

	changes := []SyncChangeWithData{
		{Table: "llm_usage_daily", RecordID: recordID, Operation: OpInsert, Data: map[string]any{
			"date": "2024-01-01", "caller_type": "chat", "model": "gpt", "provider": "openai", "calls": 5,
		}},
	}
	if _, err := ApplyChanges(ctx, db, changes, schemas, nil); err != nil {
		t.Fatalf("ApplyChanges composite insert: %v", err)
	}

	var calls int
	if err := db.QueryRowContext(ctx, `SELECT calls FROM llm_usage_daily WHERE date='2024-01-01' AND caller_type='chat' AND model='gpt' AND provider='openai'`).Scan(&calls); err != nil {
		t.Fatalf("query: %v", err)
	}
	if calls != 5 {
		t.Fatalf("expected calls=5, got %d", calls)
	}
}

func TestApplyChangesDelete(t *testing.T) {
	ctx := context.Background()
	db := newApplyDB(t)
	if _, err := db.ExecContext(ctx, `INSERT INTO notes (id, title) VALUES ('n1', 'x')`); err != nil {
		t.Fatalf("seed: %v", err)
	}
	schemas := map[string]TableSchema{"notes": {Columns: []string{"id", "title", "body"}, PKCols: []string{"id"}}}

	changes := []SyncChangeWithData{{Table: "notes", RecordID: "n1", Operation: OpDelete}}
	result, err := ApplyChanges(ctx, db, changes, schemas, nil)
	if err != nil {
		t.Fatalf("ApplyChanges delete: %v", err)
	}
	if result.Applied != 1 {
		t.Fatalf("expected 1 applied delete, got %+v", result)
	}

	var count int
	_ = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notes`).Scan(&count)
	if count != 0 {
		t.Fatalf("expected row to be deleted, got count=%d", count)
	}
}

func TestApplyChangesRefusesProtectedTable(t *testing.T) {
	ctx := context.Background()
	db := newApplyDB(t)
	schemas := map[string]TableSchema{}

	changes := []SyncChangeWithData{{Table: "__change_log", RecordID: "1", Operation: OpDelete}}
	if _, err := ApplyChanges(ctx, db, changes, schemas, nil); err == nil {
		t.Fatal("expected ApplyChanges to refuse writing to a protected table")
	}
}

func TestApplyChangesSuppressesEchoLoopRows(t *testing.T) {
	ctx := context.Background()
	db := newApplyDB(t)
	// A real AFTER INSERT trigger on notes would append to __change_log;
	// reproduce that here so the batch's own writes actually echo.
	if _, err := db.ExecContext(ctx, `
CREATE TRIGGER notes_ai AFTER INSERT ON notes BEGIN
	INSERT INTO __change_log (table_name, record_id, operation, changed_at) VALUES ('notes', new.id, 'INSERT', datetime('now'));
END`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	schemas := map[string]TableSchema{"notes": {Columns: []string{"id", "title", "body"}, PKCols: []string{"id"}}}
	changes := []SyncChangeWithData{
		{Table: "notes", RecordID: "n1", Operation: OpInsert, Data: map[string]any{"id": "n1", "title": "t", "body": "b"}, SuppressChangeLog: true},
	}

	if _, err := ApplyChanges(ctx, db, changes, schemas, nil); err != nil {
		t.Fatalf("ApplyChanges: %v", err)
	}

	pending, err := PendingChanges(ctx, db, "", 0)
	if err != nil {
		t.Fatalf("PendingChanges: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected the trigger's own echo row to be suppressed, got %d pending: %+v", len(pending), pending)
	}

	// A row created independently afterwards must still show up as pending.
	if _, err := db.ExecContext(ctx, `INSERT INTO __change_log (table_name, record_id, operation, changed_at) VALUES ('notes', 'n2', 'INSERT', ?)`, time.Now().UTC().Format(time.RFC3339)); err != nil {
		t.Fatalf("seed post-apply change log row: %v", err)
	}
	pending, err = PendingChanges(ctx, db, "", 0)
	if err != nil {
		t.Fatalf("PendingChanges: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected the independently inserted row to remain pending, got %d", len(pending))
	}
}

func TestApplyChangesEmptyBatchIsNoop(t *testing.T) {
	ctx := context.Background()
	db := newApplyDB(t)
	result, err := ApplyChanges(ctx, db, nil, map[string]TableSchema{}, nil)
	if err != nil {
		t.Fatalf("ApplyChanges: %v", err)
	}
	if result.Applied != 0 || result.Skipped != 0 {
		t.Fatalf("expected a no-op result for an empty batch, got %+v", result)
	}
}
