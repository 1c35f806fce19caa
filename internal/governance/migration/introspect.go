package migration

import (
	"context"
	"database/sql"
	"fmt"
)

type columnInfo struct {
	CID        int
	Name       string
	Type       string
	NotNull    bool
	Default    sql.NullString
	PK         int
}

func tableExists(ctx context.Context, db *sql.DB, table string) (bool, error) {
	var name string
	err := db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func columnsOf(ctx context.Context, db *sql.DB, table string) ([]columnInfo, error) {
	exists, err := tableExists(ctx, db, table)
	if err != nil || !exists {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%q)`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []columnInfo
	for rows.Next() {
		var c columnInfo
		var notNull int
		if err := rows.Scan(&c.CID, &c.Name, &c.Type, &notNull, &c.Default, &c.PK); err != nil {
			return nil, err
		}
		c.NotNull = notNull != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

func columnExists(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	cols, err := columnsOf(ctx, db, table)
	if err != nil {
		return false, err
	}
	for _, c := range cols {
		if c.Name == column {
			return true, nil
		}
	}
	return false, nil
}

func indexesOf(ctx context.Context, db *sql.DB, table string) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT name, sql FROM sqlite_master WHERE type='index' AND tbl_name=? AND name NOT LIKE 'sqlite_autoindex_%' AND sql IS NOT NULL`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, s string
		if err := rows.Scan(&name, &s); err != nil {
			return nil, err
		}
		out[name] = s
	}
	return out, rows.Err()
}

func triggersOf(ctx context.Context, db *sql.DB, table string) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT name, sql FROM sqlite_master WHERE type='trigger' AND tbl_name=? AND sql IS NOT NULL`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, s string
		if err := rows.Scan(&name, &s); err != nil {
			return nil, err
		}
		out[name] = s
	}
	return out, rows.Err()
}

// userTables returns all user tables in lexicographic order, excluding the
// framework history table, the fingerprint table, and sqlite_*-internal
// tables.
func userTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
SELECT name FROM sqlite_master
WHERE type='table'
  AND name NOT LIKE 'sqlite_%'
  AND name NOT IN (?, ?)
ORDER BY name`, historyTable, fingerprintTable)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func setForeignKeys(ctx context.Context, db *sql.DB, on bool) error {
	val := "OFF"
	if on {
		val = "ON"
	}
	_, err := db.ExecContext(ctx, `PRAGMA foreign_keys = `+val)
	return err
}
