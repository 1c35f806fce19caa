package migration

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// applyAlterGuard implements the Idempotent ALTER Guard (§4.7). It handles
// every future `ALTER TABLE ... ADD COLUMN` migration generically, so that
// pre-repair routines are only needed for migrations with historically
// observed bugs.
func applyAlterGuard(ctx context.Context, db *sql.DB, set Set, log *slog.Logger) error {
	for _, m := range set {
		_, recorded, err := historyRowByVersion(ctx, db, m.Version)
		if err != nil {
			return err
		}
		if recorded {
			continue
		}

		pairs := parseAlterAddColumns(m.SQL)
		if len(pairs) == 0 {
			continue
		}

		anyExist := false
		allExist := true
		presence := make([]bool, len(pairs))
		for i, p := range pairs {
			exists, err := columnExists(ctx, db, p.Table, p.Column)
			if err != nil {
				return err
			}
			presence[i] = exists
			if exists {
				anyExist = true
			} else {
				allExist = false
			}
		}

		switch {
		case allExist:
			if err := recordMigrationComplete(ctx, db, m); err != nil {
				return err
			}
			log.Info("alter guard: migration already fully applied, recording", "version", m.Version)

		case anyExist:
			for i, p := range pairs {
				if presence[i] {
					continue
				}
				stmt := fmt.Sprintf(`ALTER TABLE %q ADD COLUMN %s %s`, p.Table, p.Column, p.Def)
				if _, err := db.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
			for _, stmt := range idempotentCreateStatements(m.SQL) {
				if _, err := db.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
			if err := recordMigrationComplete(ctx, db, m); err != nil {
				return err
			}
			log.Info("alter guard: repaired partial migration", "version", m.Version)

		default:
			// None of the signature columns exist; let the runner apply
			// this migration normally.
		}
	}
	return nil
}

func recordMigrationComplete(ctx context.Context, db *sql.DB, m Migration) error {
	return insertHistoryRow(ctx, db, m.Version, m.Name, m.Checksum, time.Now())
}
