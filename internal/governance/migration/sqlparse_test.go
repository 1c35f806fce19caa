package migration

import (
	"reflect"
	"strings"
	"testing"
)

func TestSplitStatementsTrimsAndDropsEmpty(t *testing.T) {
	got := splitStatements(`CREATE TABLE a (id INTEGER);  ; CREATE TABLE b (id INTEGER);`)
	want := []string{"CREATE TABLE a (id INTEGER)", "CREATE TABLE b (id INTEGER)"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("splitStatements = %#v, want %#v", got, want)
	}
}

func TestSplitStatementsKeepsTriggerBodySemicolonsIntact(t *testing.T) {
	sql := `
CREATE TRIGGER IF NOT EXISTS trg_files_ai AFTER INSERT ON files BEGIN
	INSERT INTO __change_log (table_name, record_id, operation, changed_at) VALUES ('files', NEW.id, 'INSERT', datetime('now'));
END;
CREATE TRIGGER IF NOT EXISTS trg_files_au AFTER UPDATE ON files BEGIN
	INSERT INTO __change_log (table_name, record_id, operation, changed_at) VALUES ('files', NEW.id, 'UPDATE', datetime('now'));
END;
`
	got := splitStatements(sql)
	if len(got) != 2 {
		t.Fatalf("expected 2 whole CREATE TRIGGER statements, got %d: %#v", len(got), got)
	}
	for _, stmt := range got {
		if !strings.Contains(strings.ToUpper(stmt), "END") {
			t.Errorf("statement lost its closing END: %q", stmt)
		}
		if !strings.Contains(stmt, "INSERT INTO __change_log") {
			t.Errorf("statement lost its trigger body: %q", stmt)
		}
	}
}

func TestParseAlterAddColumnsCaseInsensitive(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want []alterAddColumn
	}{
		{
			name: "uppercase",
			sql:  `ALTER TABLE files ADD COLUMN sync_version INTEGER NOT NULL DEFAULT 0;`,
			want: []alterAddColumn{{Table: "files", Column: "sync_version", Def: "INTEGER NOT NULL DEFAULT 0"}},
		},
		{
			name: "lowercase",
			sql:  `alter table files add column checksum text;`,
			want: []alterAddColumn{{Table: "files", Column: "checksum", Def: "text"}},
		},
		{
			name: "not an alter",
			sql:  `CREATE TABLE files (id INTEGER);`,
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseAlterAddColumns(tt.sql)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseAlterAddColumns(%q) = %+v, want %+v", tt.sql, got, tt.want)
			}
		})
	}
}

func TestIdempotentCreateStatementsOnlyReturnsGuardedCreates(t *testing.T) {
	sql := `
CREATE TABLE IF NOT EXISTS __change_log (id INTEGER PRIMARY KEY);
CREATE INDEX idx_x ON t(x);
CREATE TRIGGER IF NOT EXISTS trg_y AFTER INSERT ON t BEGIN SELECT 1; END;
ALTER TABLE t ADD COLUMN y TEXT;
`
	got := idempotentCreateStatements(sql)
	if len(got) != 2 {
		t.Fatalf("expected 2 idempotent create statements, got %d: %+v", len(got), got)
	}
}
