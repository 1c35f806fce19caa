package migration

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

const fingerprintTable = "schema_fingerprint"

func ensureFingerprintTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	database_id      TEXT NOT NULL,
	schema_version   INTEGER NOT NULL,
	fingerprint      TEXT NOT NULL,
	verified_at      TEXT NOT NULL,
	canonical_schema TEXT NOT NULL,
	PRIMARY KEY (database_id, schema_version)
)`, fingerprintTable))
	return err
}

// fingerprintStore reads and writes the shared schema_fingerprint table.
// It lives inside the same database it fingerprints, one of the two
// acceptable placements the design allows.
type fingerprintStore struct{}

type fingerprintRow struct {
	DatabaseID      string
	SchemaVersion   int
	Fingerprint     string
	VerifiedAt      time.Time
	CanonicalSchema string
}

func (fingerprintStore) get(ctx context.Context, db *sql.DB, databaseID string, version int) (fingerprintRow, bool, error) {
	var row fingerprintRow
	var verifiedAt string
	err := db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT database_id, schema_version, fingerprint, verified_at, canonical_schema FROM %s WHERE database_id = ? AND schema_version = ?`, fingerprintTable),
		databaseID, version).Scan(&row.DatabaseID, &row.SchemaVersion, &row.Fingerprint, &verifiedAt, &row.CanonicalSchema)
	if err == sql.ErrNoRows {
		return fingerprintRow{}, false, nil
	}
	if err != nil {
		return fingerprintRow{}, false, err
	}
	row.VerifiedAt, _ = time.Parse(time.RFC3339, verifiedAt)
	return row, true, nil
}

func (fingerprintStore) upsert(ctx context.Context, db *sql.DB, row fingerprintRow) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (database_id, schema_version, fingerprint, verified_at, canonical_schema)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(database_id, schema_version) DO UPDATE SET
	fingerprint = excluded.fingerprint,
	verified_at = excluded.verified_at,
	canonical_schema = excluded.canonical_schema`, fingerprintTable),
		row.DatabaseID, row.SchemaVersion, row.Fingerprint, row.VerifiedAt.UTC().Format(time.RFC3339), row.CanonicalSchema)
	return err
}

func (fingerprintStore) touchVerifiedAt(ctx context.Context, db *sql.DB, databaseID string, version int, at time.Time) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET verified_at = ? WHERE database_id = ? AND schema_version = ?`, fingerprintTable),
		at.UTC().Format(time.RFC3339), databaseID, version)
	return err
}

// computeCanonicalSchema builds the canonical text buffer described by
// §4.10: one `table:<name>` line per user table (lexicographic order), then
// its columns in cid order, then its indexes and triggers in lexicographic
// order.
func computeCanonicalSchema(ctx context.Context, db *sql.DB) (string, error) {
	tables, err := userTables(ctx, db)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, table := range tables {
		fmt.Fprintf(&b, "table:%s\n", table)

		cols, err := columnsOf(ctx, db, table)
		if err != nil {
			return "", err
		}
		sort.Slice(cols, func(i, j int) bool { return cols[i].CID < cols[j].CID })
		for _, c := range cols {
			def := ""
			if c.Default.Valid {
				def = c.Default.String
			}
			notNull := 0
			if c.NotNull {
				notNull = 1
			}
			fmt.Fprintf(&b, "col:%d:%s:%s:%d:%s:%d\n", c.CID, c.Name, c.Type, notNull, def, c.PK)
		}

		idx, err := indexesOf(ctx, db, table)
		if err != nil {
			return "", err
		}
		idxNames := make([]string, 0, len(idx))
		for n := range idx {
			idxNames = append(idxNames, n)
		}
		sort.Strings(idxNames)
		for _, n := range idxNames {
			fmt.Fprintf(&b, "idx:%s:%s\n", n, idx[n])
		}

		trig, err := triggersOf(ctx, db, table)
		if err != nil {
			return "", err
		}
		trigNames := make([]string, 0, len(trig))
		for n := range trig {
			trigNames = append(trigNames, n)
		}
		sort.Strings(trigNames)
		for _, n := range trigNames {
			fmt.Fprintf(&b, "trg:%s:%s\n", n, trig[n])
		}
	}
	return b.String(), nil
}

func hashCanonicalSchema(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// verifyFingerprint implements the Schema Fingerprint Verifier (§4.10).
func verifyFingerprint(ctx context.Context, db *sql.DB, databaseID string, version int, idempotent bool, fp *fingerprintStore, log *slog.Logger) error {
	if err := ensureFingerprintTable(ctx, db); err != nil {
		return err
	}

	canonical, err := computeCanonicalSchema(ctx, db)
	if err != nil {
		return err
	}
	sum := hashCanonicalSchema(canonical)

	existing, found, err := fp.get(ctx, db, databaseID, version)
	if err != nil {
		return err
	}

	now := time.Now()
	if !found {
		return fp.upsert(ctx, db, fingerprintRow{
			DatabaseID:      databaseID,
			SchemaVersion:   version,
			Fingerprint:     sum,
			VerifiedAt:      now,
			CanonicalSchema: canonical,
		})
	}

	if existing.Fingerprint == sum {
		return fp.touchVerifiedAt(ctx, db, databaseID, version, now)
	}

	if !idempotent {
		return verificationFailed(databaseID, version, "schema fingerprint drift detected outside the migration framework")
	}

	log.Warn("schema fingerprint drift on idempotent migration; rebaselining", "database", databaseID, "version", version)
	return fp.upsert(ctx, db, fingerprintRow{
		DatabaseID:      databaseID,
		SchemaVersion:   version,
		Fingerprint:     sum,
		VerifiedAt:      now,
		CanonicalSchema: canonical,
	})
}
