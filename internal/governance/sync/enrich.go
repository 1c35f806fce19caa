package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// enrichWorkers bounds how many per-table lookups EnrichChanges fans out
// concurrently, the idiomatic Go analogue of the original's async
// suspension points at each row fetch.
const enrichWorkers = 4

// tableSchemaCache memoizes PRAGMA table_info lookups per table within one
// EnrichChanges call, matching the design's "schema discovered via
// introspection, cached per-table within one call".
type tableSchemaCache struct {
	mu      sync.Mutex
	columns map[string][]string
	pk      map[string][]string
}

func newTableSchemaCache() *tableSchemaCache {
	return &tableSchemaCache{columns: map[string][]string{}, pk: map[string][]string{}}
}

func (c *tableSchemaCache) get(ctx context.Context, db *sql.DB, table string) ([]string, []string, error) {
	c.mu.Lock()
	if cols, ok := c.columns[table]; ok {
		pk := c.pk[table]
		c.mu.Unlock()
		return cols, pk, nil
	}
	c.mu.Unlock()

	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%q)`, table))
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var cols, pk []string
	type pkCol struct {
		name string
		idx  int
	}
	var pkCols []pkCol
	for rows.Next() {
		var cid, notNull, pkIdx int
		var name, typ string
		var def sql.NullString
		if err := rows.Scan(&cid, &name, &typ, &notNull, &def, &pkIdx); err != nil {
			return nil, nil, err
		}
		cols = append(cols, name)
		if pkIdx > 0 {
			pkCols = append(pkCols, pkCol{name: name, idx: pkIdx})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	for _, p := range pkCols {
		pk = append(pk, p.name)
	}

	c.mu.Lock()
	c.columns[table] = cols
	c.pk[table] = pk
	c.mu.Unlock()
	return cols, pk, nil
}

// recordIDToPKValues parses a change-log record_id back into column/value
// pairs. For a single-column primary key, record_id is the raw value; for
// a composite key, record_id is a JSON object. Per the design notes, a
// fallback to underscore-splitting is available for non-JSON composite
// ids but is fragile if any key component contains "_"; we keep it,
// returning an error rather than silently returning empty when the part
// count does not match.
func recordIDToPKValues(recordID string, pkColumns []string) (map[string]string, error) {
	if len(pkColumns) == 1 {
		return map[string]string{pkColumns[0]: recordID}, nil
	}

	var asMap map[string]string
	if err := json.Unmarshal([]byte(recordID), &asMap); err == nil {
		return asMap, nil
	}

	parts := strings.Split(recordID, "_")
	if len(parts) != len(pkColumns) {
		return nil, fmt.Errorf("cannot parse composite record_id %q into %d columns", recordID, len(pkColumns))
	}
	out := make(map[string]string, len(pkColumns))
	for i, col := range pkColumns {
		out[col] = parts[i]
	}
	return out, nil
}

// pkValuesToRecordID is the inverse of recordIDToPKValues, used when a
// trigger or the applier needs to (re)construct a record_id string.
func pkValuesToRecordID(values map[string]string, pkColumns []string) (string, error) {
	if len(pkColumns) == 1 {
		return values[pkColumns[0]], nil
	}
	b, err := json.Marshal(values)
	return string(b), err
}

// EnrichChanges joins each pending change-log row with its current row
// content. INSERT/UPDATE entries carry the full row as a key/value map;
// DELETE entries carry no body.
func EnrichChanges(ctx context.Context, db *sql.DB, databaseName string, rows []ChangeLogRow) ([]SyncChangeWithData, error) {
	cache := newTableSchemaCache()
	out := make([]SyncChangeWithData, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichWorkers)

	for i, row := range rows {
		i, row := i, row
		g.Go(func() error {
			change := SyncChangeWithData{
				Table:             row.TableName,
				RecordID:          row.RecordID,
				Operation:         row.Operation,
				ChangedAt:         row.ChangedAt,
				DatabaseName:      databaseName,
				SuppressChangeLog: false,
			}

			if row.Operation != OpDelete {
				data, err := fetchRowSnapshot(gctx, db, cache, row.TableName, row.RecordID)
				if err != nil {
					return err
				}
				change.Data = data
			}

			out[i] = change
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func fetchRowSnapshot(ctx context.Context, db *sql.DB, cache *tableSchemaCache, table, recordID string) (map[string]any, error) {
	cols, pk, err := cache.get(ctx, db, table)
	if err != nil {
		return nil, err
	}
	if len(pk) == 0 {
		return nil, nil
	}

	pkValues, err := recordIDToPKValues(recordID, pk)
	if err != nil {
		return nil, err
	}

	where := make([]string, 0, len(pk))
	args := make([]any, 0, len(pk))
	for _, col := range pk {
		where = append(where, fmt.Sprintf("%q = ?", col))
		args = append(args, pkValues[col])
	}

	selectCols := make([]string, len(cols))
	for i, c := range cols {
		selectCols[i] = fmt.Sprintf("%q", c)
	}

	query := fmt.Sprintf(`SELECT %s FROM %q WHERE %s`, strings.Join(selectCols, ", "), table, strings.Join(where, " AND "))
	scanDest := make([]any, len(cols))
	scanVals := make([]any, len(cols))
	for i := range scanDest {
		scanDest[i] = &scanVals[i]
	}

	row := db.QueryRowContext(ctx, query, args...)
	if err := row.Scan(scanDest...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	out := make(map[string]any, len(cols))
	for i, c := range cols {
		out[c] = normalizeScannedValue(scanVals[i])
	}
	return out, nil
}

func normalizeScannedValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
