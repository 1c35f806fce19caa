// Package registry implements the Schema Registry Aggregator (§4.12): a
// read-only snapshot of every database's current version, checksum, and
// migration history, for external consumers (settings panes, support
// tooling) that need the governance core's state without driving a
// migration.
package registry

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/deepstudent/datagovernance/internal/governance/dbid"
	"github.com/deepstudent/datagovernance/internal/governance/migration"
)

// HistoryEntry mirrors one applied-migration row, for display.
type HistoryEntry struct {
	Version   int       `json:"version"`
	Name      string    `json:"name"`
	AppliedOn time.Time `json:"applied_on"`
	Checksum  string    `json:"checksum"`
}

// DatabaseStatus is one database's read-only status entry.
type DatabaseStatus struct {
	ID                   dbid.ID        `json:"id"`
	Version              int            `json:"version"`
	MinCompatibleVersion int            `json:"min_compatible_version"`
	MaxCompatibleVersion int            `json:"max_compatible_version"`
	DataContractVersion  int            `json:"data_contract_version"`
	History              []HistoryEntry `json:"history"`
	LastUpdatedAt        time.Time      `json:"last_updated_at"`
}

// Registry is the aggregator's top-level read-only snapshot.
type Registry struct {
	Databases     []DatabaseStatus `json:"databases"`
	GlobalVersion string           `json:"global_version"`
	SnapshotAt    time.Time        `json:"snapshot_at"`
}

// DataContractVersion maps a database's schema version to the data-contract
// version external consumers (e.g. the sync engine's payload readers) must
// expect, a fixed, declarative mapping rather than a computed one. Absent
// an explicit entry, the data-contract version equals 1 (the baseline
// contract every schema version satisfies).
type DataContractVersion func(schemaVersion int) int

// Aggregator builds read-only Registry snapshots across every configured
// database.
type Aggregator struct {
	dataDir string
	specs   map[dbid.ID]migration.DatabaseSpec
	order   []dbid.ID
	compat  map[dbid.ID]DataContractVersion
}

// New builds an Aggregator over dataDir using the same DatabaseSpec wiring
// the migration Coordinator uses, so the registry always reflects the
// coordinator's notion of each database's migration set.
func New(dataDir string, specs []migration.DatabaseSpec) *Aggregator {
	a := &Aggregator{
		dataDir: dataDir,
		specs:   make(map[dbid.ID]migration.DatabaseSpec, len(specs)),
		compat:  make(map[dbid.ID]DataContractVersion, len(specs)),
	}
	for _, s := range specs {
		a.specs[s.ID] = s
	}
	for _, id := range dbid.All {
		if _, ok := a.specs[id]; ok {
			a.order = append(a.order, id)
		}
	}
	return a
}

// WithDataContractVersion registers a fixed schema_version -> data-contract
// mapping for id. Without one, DataContractVersion always returns 1.
func (a *Aggregator) WithDataContractVersion(id dbid.ID, fn DataContractVersion) *Aggregator {
	a.compat[id] = fn
	return a
}

// Snapshot builds a read-only Registry over every configured database:
// opens a read-only connection, reads current version and history, and
// derives min/max compatible version and data-contract version from the
// configured migration set and mapping.
func (a *Aggregator) Snapshot(ctx context.Context) (*Registry, error) {
	reg := &Registry{SnapshotAt: time.Now()}

	versions := make([]int, 0, len(a.order))
	for _, id := range a.order {
		spec := a.specs[id]
		status, err := a.snapshotOne(ctx, id, spec)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", id, err)
		}
		reg.Databases = append(reg.Databases, status)
		versions = append(versions, status.Version)
	}

	reg.GlobalVersion = globalVersionHash(a.order, versions)
	return reg, nil
}

func (a *Aggregator) snapshotOne(ctx context.Context, id dbid.ID, spec migration.DatabaseSpec) (DatabaseStatus, error) {
	path := filepath.Join(a.dataDir, dbid.FileName(id))

	db, err := openReadOnly(path)
	if err != nil {
		return DatabaseStatus{}, err
	}
	defer db.Close()

	version, err := currentVersion(ctx, db)
	if err != nil {
		return DatabaseStatus{}, err
	}

	history, lastUpdated, err := readHistory(ctx, db)
	if err != nil {
		return DatabaseStatus{}, err
	}

	contractFn := a.compat[id]
	contractVersion := 1
	if contractFn != nil {
		contractVersion = contractFn(version)
	}

	return DatabaseStatus{
		ID:                   id,
		Version:              version,
		MinCompatibleVersion: minCompatible(spec.Migrations),
		MaxCompatibleVersion: spec.Migrations.Latest(),
		DataContractVersion:  contractVersion,
		History:              history,
		LastUpdatedAt:        lastUpdated,
	}, nil
}

// minCompatible is the lowest version a current reader must still
// understand: the version of the last migration not flagged idempotent,
// or 1 if every migration is idempotent. This mirrors the design's "min/max compatible
// version" without requiring an explicit compatibility table: the
// assumption is that only idempotent migrations are safe to roll forward
// past without breaking an older reader.
func minCompatible(set migration.Set) int {
	min := 1
	for _, m := range set {
		if !m.Idempotent {
			min = m.Version
		}
	}
	return min
}

func openReadOnly(path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=memory", filepath.Base(path)))
	}
	return sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", path))
}

func currentVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v sql.NullInt64
	err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM migration_history`).Scan(&v)
	if err != nil {
		// A database that has never been migrated (or doesn't exist) has
		// no history table; that is version 0, not an error.
		return 0, nil
	}
	if !v.Valid {
		return 0, nil
	}
	return int(v.Int64), nil
}

func readHistory(ctx context.Context, db *sql.DB) ([]HistoryEntry, time.Time, error) {
	rows, err := db.QueryContext(ctx, `SELECT version, name, applied_on, checksum FROM migration_history ORDER BY version`)
	if err != nil {
		return nil, time.Time{}, nil
	}
	defer rows.Close()

	var out []HistoryEntry
	var last time.Time
	for rows.Next() {
		var h HistoryEntry
		var appliedOn string
		if err := rows.Scan(&h.Version, &h.Name, &appliedOn, &h.Checksum); err != nil {
			return nil, time.Time{}, err
		}
		if t, err := time.Parse(time.RFC3339, appliedOn); err == nil {
			h.AppliedOn = t
			if t.After(last) {
				last = t
			}
		}
		out = append(out, h)
	}
	return out, last, rows.Err()
}

// globalVersionHash reduces every database's version into one stable,
// deterministic string: a SHA-256 over the sorted "id:version" pairs. The
// design leaves the exact reduction as an implementation choice, only
// requiring it be stable; hashing rather than summing or taking a min
// avoids collisions between different version combinations landing on the
// same reduced value.
func globalVersionHash(order []dbid.ID, versions []int) string {
	pairs := make([]string, len(order))
	for i, id := range order {
		pairs[i] = fmt.Sprintf("%s:%d", id, versions[i])
	}
	sort.Strings(pairs)

	h := sha256.New()
	for _, p := range pairs {
		h.Write([]byte(p))
		h.Write([]byte{';'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
