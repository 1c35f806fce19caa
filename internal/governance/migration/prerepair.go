package migration

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// applyPreRepair implements the Pre-Repair Engine (§4.6) for every
// migration in the set carrying a declared Signature. The generic
// Idempotent ALTER Guard (alterguard.go) then covers every migration still
// unrecorded, with or without one.
func applyPreRepair(ctx context.Context, db *sql.DB, set Set, log *slog.Logger) error {
	for _, m := range set {
		if m.Signature == nil {
			continue
		}
		if err := preRepairOne(ctx, db, m, log); err != nil {
			return fmt.Errorf("pre-repair migration %d %q: %w", m.Version, m.Name, err)
		}
	}
	return nil
}

func preRepairOne(ctx context.Context, db *sql.DB, m Migration, log *slog.Logger) error {
	_, recorded, err := historyRowByVersion(ctx, db, m.Version)
	if err != nil {
		return err
	}
	if recorded {
		return nil
	}

	present, total, err := probeSignature(ctx, db, *m.Signature)
	if err != nil {
		return err
	}

	switch {
	case present == 0:
		// Clean: nothing applied yet, let the runner handle it normally.
		return nil

	case present == total:
		for _, stmt := range idempotentCreateStatements(m.SQL) {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		if err := recordMigrationComplete(ctx, db, m); err != nil {
			return err
		}
		log.Info("pre-repair: migration fully applied, recording", "version", m.Version, "name", m.Name)
		return nil

	default:
		for _, tc := range m.Signature.Columns {
			exists, err := columnExists(ctx, db, tc.Table, tc.Column)
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			def := columnDefFromSQL(m.SQL, tc.Table, tc.Column)
			if def == "" {
				continue
			}
			stmt := fmt.Sprintf(`ALTER TABLE %q ADD COLUMN %s %s`, tc.Table, tc.Column, def)
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
		log.Info("pre-repair: partial migration repaired and recorded", "version", m.Version, "name", m.Name)
		return nil
	}
}

// probeSignature counts how many of a signature's tables/columns are
// currently present, and the total probed.
func probeSignature(ctx context.Context, db *sql.DB, sig Signature) (present, total int, err error) {
	for _, t := range sig.Tables {
		total++
		ok, err := tableExists(ctx, db, t)
		if err != nil {
			return 0, 0, err
		}
		if ok {
			present++
		}
	}
	for _, tc := range sig.Columns {
		total++
		ok, err := columnExists(ctx, db, tc.Table, tc.Column)
		if err != nil {
			return 0, 0, err
		}
		if ok {
			present++
		}
	}
	return present, total, nil
}

// columnDefFromSQL recovers the column definition text for table.column
// from the migration's own SQL, by re-using the ALTER ADD COLUMN parser.
func columnDefFromSQL(sql, table, column string) string {
	for _, p := range parseAlterAddColumns(sql) {
		if p.Table == table && p.Column == column {
			return p.Def
		}
	}
	return ""
}

// ensureChangeLogTable is the cross-cutting pre-repair contract shared by
// every database that adds a change-log table at a particular version
// (§4.6): if the migration is recorded but the table is absent (a
// DDL-rollback carcass), re-run the migration's idempotent SQL; if the
// core business table exists but the change-log is missing, create the
// change-log anyway.
func ensureChangeLogTable(ctx context.Context, db *sql.DB, coreTable, changeLogSQL string, changeLogVersion int) error {
	_, recorded, err := historyRowByVersion(ctx, db, changeLogVersion)
	if err != nil {
		return err
	}

	changeLogExists, err := tableExists(ctx, db, "__change_log")
	if err != nil {
		return err
	}
	if changeLogExists {
		return nil
	}

	coreExists, err := tableExists(ctx, db, coreTable)
	if err != nil {
		return err
	}
	if !recorded && !coreExists {
		// Neither applied; the runner will create both in order.
		return nil
	}

	for _, stmt := range splitStatements(changeLogSQL) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
