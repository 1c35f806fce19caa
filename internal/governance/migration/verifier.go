package migration

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	goverrors "github.com/deepstudent/datagovernance/internal/governance/errors"
)

// verifyContract evaluates one migration's declarative contract against the
// live schema: tables exist; columns exist with expected nullability and
// default; indexes exist. It returns ok=false and a reason on the first
// mismatch found (contracts are small, so no need to accumulate every
// mismatch).
func verifyContract(ctx context.Context, db *sql.DB, c Contract) (bool, string, error) {
	for _, table := range c.Tables {
		exists, err := tableExists(ctx, db, table.Name)
		if err != nil {
			return false, "", err
		}
		if !exists {
			return false, fmt.Sprintf("table %q missing", table.Name), nil
		}

		cols, err := columnsOf(ctx, db, table.Name)
		if err != nil {
			return false, "", err
		}
		byName := make(map[string]columnInfo, len(cols))
		for _, c := range cols {
			byName[c.Name] = c
		}

		for _, wantCol := range table.Columns {
			gotCol, ok := byName[wantCol.Name]
			if !ok {
				return false, fmt.Sprintf("table %q missing column %q", table.Name, wantCol.Name), nil
			}
			if wantCol.NotNull != gotCol.NotNull {
				return false, fmt.Sprintf("table %q column %q not_null mismatch: want %v got %v", table.Name, wantCol.Name, wantCol.NotNull, gotCol.NotNull), nil
			}
			if wantCol.HasDefault {
				if !gotCol.Default.Valid || gotCol.Default.String != wantCol.Default {
					return false, fmt.Sprintf("table %q column %q default mismatch", table.Name, wantCol.Name), nil
				}
			}
		}

		existingIdx, err := indexesOf(ctx, db, table.Name)
		if err != nil {
			return false, "", err
		}
		for _, wantIdx := range table.Indexes {
			if _, ok := existingIdx[wantIdx]; !ok {
				return false, fmt.Sprintf("table %q missing index %q", table.Name, wantIdx), nil
			}
		}

		existingTrig, err := triggersOf(ctx, db, table.Name)
		if err != nil {
			return false, "", err
		}
		for _, wantTrig := range table.Triggers {
			if _, ok := existingTrig[wantTrig]; !ok {
				return false, fmt.Sprintf("table %q missing trigger %q", table.Name, wantTrig), nil
			}
		}
	}
	return true, "", nil
}

// verifyAll runs the Verifier (§4.10) over every migration whose version is
// <= current, fail-closed on any contract mismatch, then runs the schema
// fingerprint verifier.
func verifyAll(ctx context.Context, db *sql.DB, dbName string, set Set, currentVersion int, fp *fingerprintStore, log *slog.Logger) error {
	var lastIdempotent bool
	for _, m := range set {
		if m.Version > currentVersion {
			continue
		}
		ok, reason, err := verifyContract(ctx, db, m.Contract)
		if err != nil {
			return err
		}
		if !ok {
			return verificationFailed(dbName, m.Version, reason)
		}
		lastIdempotent = m.Idempotent
	}

	currentMigration, _ := set.ByVersion(currentVersion)
	idempotent := currentMigration.Idempotent || lastIdempotent

	return verifyFingerprint(ctx, db, dbName, currentVersion, idempotent, fp, log)
}

func verificationFailed(dbName string, version int, reason string) error {
	return goverrors.VerificationFailed(dbName, version, strings.TrimSpace(reason))
}
