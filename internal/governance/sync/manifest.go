package sync

import (
	"context"
	"crypto/md5" //nolint:gosec // cheap non-cryptographic fingerprint, per design
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/deepstudent/datagovernance/internal/governance/objectstore"
)

// ComputeDatabaseState builds one database's manifest entry: schema
// version is MAX(version) in its migration-history table, data version is
// the normalized MAX(sync_version) in its change log, and checksum is a
// cheap content fingerprint, not a cryptographic one.
func ComputeDatabaseState(ctx context.Context, db *sql.DB) (DatabaseSyncState, error) {
	var schemaVersion sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM migration_history`).Scan(&schemaVersion); err != nil {
		return DatabaseSyncState{}, fmt.Errorf("read schema version: %w", err)
	}

	dataVersion, err := MaxSyncVersion(ctx, db)
	if err != nil {
		return DatabaseSyncState{}, fmt.Errorf("read data version: %w", err)
	}

	checksum, err := computeTableCountChecksum(ctx, db)
	if err != nil {
		return DatabaseSyncState{}, fmt.Errorf("compute checksum: %w", err)
	}

	return DatabaseSyncState{
		SchemaVersion: int(schemaVersion.Int64),
		DataVersion:   dataVersion,
		Checksum:      checksum,
		LastUpdatedAt: time.Now(),
	}, nil
}

// computeTableCountChecksum builds a 16-hex-character hash of
// concatenated "table=count;" pairs across user tables: cheap, not
// cryptographic, matching the design's state-computation contract.
func computeTableCountChecksum(ctx context.Context, db *sql.DB) (string, error) {
	rows, err := db.QueryContext(ctx, `
SELECT name FROM sqlite_master
WHERE type='table' AND name NOT LIKE 'sqlite_%' AND name NOT IN ('migration_history', 'schema_fingerprint')
ORDER BY name`)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return "", err
		}
		// The change log differs between devices even when business data
		// is identical, so metadata tables stay out of the checksum.
		if strings.HasPrefix(name, "__") {
			continue
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	buf := ""
	for _, t := range tables {
		var count int64
		if err := db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %q`, t)).Scan(&count); err != nil {
			return "", err
		}
		buf += fmt.Sprintf("%s=%d;", t, count)
	}

	sum := md5.Sum([]byte(buf)) //nolint:gosec
	return hex.EncodeToString(sum[:])[:16], nil
}

// PutManifest uploads manifest to its fixed object key.
func PutManifest(ctx context.Context, store objectstore.Store, manifest Manifest) error {
	data, err := json.Marshal(manifest)
	if err != nil {
		return err
	}
	return store.Put(ctx, manifestKey, data)
}

// GetManifest fetches and parses the current manifest, if any.
func GetManifest(ctx context.Context, store objectstore.Store) (Manifest, bool, error) {
	data, ok, err := store.Get(ctx, manifestKey)
	if err != nil || !ok {
		return Manifest{}, ok, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, false, fmt.Errorf("parse manifest: %w", err)
	}
	return m, true, nil
}
