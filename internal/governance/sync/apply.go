package sync

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	goverrors "github.com/deepstudent/datagovernance/internal/governance/errors"
)

// maxReferentialViolationSample bounds how many foreign-key violations the
// post-apply integrity check reports before giving up and failing, per the
// design's "limit sampling to 20".
const maxReferentialViolationSample = 20

// isProtectedTable reports whether the applier must refuse to target name:
// the change-log itself, any other underscore-prefixed metadata-convention
// table, or the migration framework's own tables.
func isProtectedTable(name string) bool {
	if strings.HasPrefix(name, "__") || strings.HasPrefix(name, "sqlite_") {
		return true
	}
	switch name {
	case historyTableName, fingerprintTableName:
		return true
	}
	return false
}

const (
	historyTableName     = "migration_history"
	fingerprintTableName = "schema_fingerprint"
)

// TableSchema describes one local table's primary-key columns and full
// column list, the information ApplyChanges needs to build parameterized
// DELETEs and UPSERTs without a live schema probe per change.
type TableSchema struct {
	Columns []string
	PKCols  []string
}

// ApplyResult reports what ApplyChanges did.
type ApplyResult struct {
	Applied int
	Skipped int
}

// ApplyChanges implements the Apply step of §4.11: one outer transaction
// per batch, referential checks suspended for its duration, echo-loop
// suppression for changes flagged suppress_change_log, and a post-apply
// referential-integrity re-check that rolls back the whole batch on any
// violation.
func ApplyChanges(ctx context.Context, db *sql.DB, changes []SyncChangeWithData, schemas map[string]TableSchema, log *slog.Logger) (*ApplyResult, error) {
	if log == nil {
		log = slog.Default()
	}
	if len(changes) == 0 {
		return &ApplyResult{}, nil
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, goverrors.Wrap(goverrors.KindDatabase, err, "acquire dedicated connection")
	}
	defer conn.Close()

	originalFK, err := foreignKeysEnabledConn(ctx, conn)
	if err != nil {
		return nil, goverrors.Wrap(goverrors.KindDatabase, err, "read foreign_keys pragma")
	}

	if _, err := conn.ExecContext(ctx, `PRAGMA foreign_keys = OFF`); err != nil {
		return nil, goverrors.Wrap(goverrors.KindDatabase, err, "suspend foreign_keys")
	}
	defer func() {
		_, _ = conn.ExecContext(ctx, fkPragmaStatement(originalFK))
	}()

	if _, err := conn.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		return nil, goverrors.Wrap(goverrors.KindDatabase, err, "begin immediate")
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(ctx, `ROLLBACK`)
		}
	}()

	preApplyMaxID, err := maxChangeLogIDConn(ctx, conn)
	if err != nil {
		return nil, goverrors.Wrap(goverrors.KindDatabase, err, "read pre-apply change log max id")
	}

	result := &ApplyResult{}
	anySuppress := false
	for _, change := range changes {
		applied, err := applyOne(ctx, conn, change, schemas, log)
		if err != nil {
			return nil, goverrors.Wrap(goverrors.KindDatabase, err, "apply change to %s/%s", change.DatabaseName, change.Table)
		}
		if applied {
			result.Applied++
		} else {
			result.Skipped++
		}
		if change.SuppressChangeLog {
			anySuppress = true
		}
	}

	if anySuppress {
		if err := suppressNewRowsSinceConn(ctx, conn, preApplyMaxID); err != nil {
			return nil, goverrors.Wrap(goverrors.KindDatabase, err, "suppress echo-loop change log rows")
		}
	}

	if _, err := conn.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		return nil, goverrors.Wrap(goverrors.KindDatabase, err, "re-enable foreign_keys for check")
	}

	violations, err := foreignKeyCheckConn(ctx, conn, maxReferentialViolationSample)
	if err != nil {
		return nil, goverrors.Wrap(goverrors.KindDatabase, err, "foreign_key_check")
	}
	if len(violations) > 0 {
		return nil, goverrors.Newf(goverrors.KindDatabase, "referential integrity violated by applied batch: %s", strings.Join(violations, "; "))
	}

	if _, err := conn.ExecContext(ctx, `COMMIT`); err != nil {
		return nil, goverrors.Wrap(goverrors.KindDatabase, err, "commit apply batch")
	}
	committed = true
	return result, nil
}

func fkPragmaStatement(on bool) string {
	if on {
		return `PRAGMA foreign_keys = ON`
	}
	return `PRAGMA foreign_keys = OFF`
}

func applyOne(ctx context.Context, conn *sql.Conn, change SyncChangeWithData, schemas map[string]TableSchema, log *slog.Logger) (bool, error) {
	if isProtectedTable(change.Table) {
		return false, fmt.Errorf("refusing to apply change targeting protected table %q", change.Table)
	}
	schema, ok := schemas[change.Table]
	if !ok {
		return false, fmt.Errorf("refusing to apply change targeting unknown table %q", change.Table)
	}
	if len(schema.PKCols) == 0 {
		return false, fmt.Errorf("table %q has no declared primary key columns", change.Table)
	}

	pkValues, err := recordIDToPKValues(change.RecordID, schema.PKCols)
	if err != nil {
		return false, fmt.Errorf("parse record_id: %w", err)
	}

	switch change.Operation {
	case OpDelete:
		return true, applyDelete(ctx, conn, change.Table, schema.PKCols, pkValues)
	case OpInsert, OpUpdate:
		if change.Data == nil {
			log.Warn("skipping legacy change with no row snapshot", "table", change.Table, "record_id", change.RecordID)
			return false, nil
		}
		return true, applyUpsert(ctx, conn, change.Table, schema, pkValues, change.Data)
	default:
		log.Warn("skipping change with unrecognized operation", "table", change.Table, "operation", change.Operation)
		return false, nil
	}
}

func applyDelete(ctx context.Context, conn *sql.Conn, table string, pkCols []string, pkValues map[string]string) error {
	where := make([]string, len(pkCols))
	args := make([]any, len(pkCols))
	for i, col := range pkCols {
		where[i] = fmt.Sprintf("%s = ?", quoteIdent(col))
		args[i] = pkValues[col]
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s`, quoteIdent(table), strings.Join(where, " AND "))
	_, err := conn.ExecContext(ctx, query, args...)
	return err
}

// applyUpsert builds `INSERT ... ON CONFLICT(<pk>) DO UPDATE SET
// <col>=excluded.<col> ...`, falling back to `DO NOTHING` when the update
// set would otherwise be empty (a PK-only table).
func applyUpsert(ctx context.Context, conn *sql.Conn, table string, schema TableSchema, pkValues map[string]string, data map[string]any) error {
	cols := schema.Columns
	if len(cols) == 0 {
		cols = columnsFromData(data, schema.PKCols)
	}

	isPK := make(map[string]bool, len(schema.PKCols))
	for _, c := range schema.PKCols {
		isPK[c] = true
	}

	insertCols := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols))
	placeholders := make([]string, 0, len(cols))
	for _, col := range cols {
		insertCols = append(insertCols, quoteIdent(col))
		placeholders = append(placeholders, "?")
		if isPK[col] {
			args = append(args, pkValues[col])
		} else {
			args = append(args, data[col])
		}
	}

	conflictTarget := make([]string, len(schema.PKCols))
	for i, c := range schema.PKCols {
		conflictTarget[i] = quoteIdent(c)
	}

	var updateSet []string
	for _, col := range cols {
		if isPK[col] {
			continue
		}
		updateSet = append(updateSet, fmt.Sprintf("%s = excluded.%s", quoteIdent(col), quoteIdent(col)))
	}

	var conflictClause string
	if len(updateSet) == 0 {
		conflictClause = fmt.Sprintf("ON CONFLICT(%s) DO NOTHING", strings.Join(conflictTarget, ", "))
	} else {
		conflictClause = fmt.Sprintf("ON CONFLICT(%s) DO UPDATE SET %s", strings.Join(conflictTarget, ", "), strings.Join(updateSet, ", "))
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) %s`,
		quoteIdent(table), strings.Join(insertCols, ", "), strings.Join(placeholders, ", "), conflictClause)

	_, err := conn.ExecContext(ctx, query, args...)
	return err
}

func columnsFromData(data map[string]any, pkCols []string) []string {
	seen := make(map[string]bool, len(data)+len(pkCols))
	var cols []string
	for _, c := range pkCols {
		if !seen[c] {
			seen[c] = true
			cols = append(cols, c)
		}
	}
	dataCols := make([]string, 0, len(data))
	for c := range data {
		if !seen[c] {
			dataCols = append(dataCols, c)
		}
	}
	sort.Strings(dataCols)
	cols = append(cols, dataCols...)
	return cols
}

// quoteIdent quotes a SQL identifier, doubling any internal quote, per the
// design's "Quote identifiers by doubling internal "".
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func foreignKeysEnabledConn(ctx context.Context, conn *sql.Conn) (bool, error) {
	var v int
	if err := conn.QueryRowContext(ctx, `PRAGMA foreign_keys`).Scan(&v); err != nil {
		return false, err
	}
	return v != 0, nil
}

func maxChangeLogIDConn(ctx context.Context, conn *sql.Conn) (int64, error) {
	var v sql.NullInt64
	if err := conn.QueryRowContext(ctx, fmt.Sprintf(`SELECT MAX(id) FROM %s`, changeLogTable)).Scan(&v); err != nil {
		return 0, err
	}
	if !v.Valid {
		return 0, nil
	}
	return v.Int64, nil
}

// suppressNewRowsSinceConn marks as synced-now any change-log rows with id
// greater than sinceID, the echo-loop guard for a batch apply that ran
// under the same connection's transaction.
func suppressNewRowsSinceConn(ctx context.Context, conn *sql.Conn, sinceID int64) error {
	return suppressNewRowsSince(ctx, conn, sinceID)
}

// foreignKeyCheckConn runs PRAGMA foreign_key_check and returns up to limit
// human-readable violation descriptions.
func foreignKeyCheckConn(ctx context.Context, conn *sql.Conn, limit int) ([]string, error) {
	rows, err := conn.QueryContext(ctx, `PRAGMA foreign_key_check`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		if len(out) >= limit {
			break
		}
		var table string
		var rowID sql.NullInt64
		var refTable string
		var fkIdx int
		if err := rows.Scan(&table, &rowID, &refTable, &fkIdx); err != nil {
			return nil, err
		}
		out = append(out, fmt.Sprintf("%s(rowid=%v) -> %s", table, rowID, refTable))
	}
	return out, rows.Err()
}
