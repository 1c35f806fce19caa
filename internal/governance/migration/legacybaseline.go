package migration

import (
	"context"
	"database/sql"
	"log/slog"
	"time"
)

// LegacySignal declares how to detect that a database predates the
// migration framework: the presence of any of a set of legacy table names
// (an old version table, or business tables known to predate the
// framework).
type LegacySignal struct {
	Tables []string
}

func (s LegacySignal) matches(ctx context.Context, db *sql.DB) (bool, error) {
	for _, t := range s.Tables {
		ok, err := tableExists(ctx, db, t)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// recordLegacyBaseline implements the Legacy Baseline Recorder (spec.md
// §4.3). It returns true if a baseline row was written.
func recordLegacyBaseline(ctx context.Context, db *sql.DB, set Set, signal LegacySignal, log *slog.Logger) (bool, error) {
	n, err := historyRowCount(ctx, db)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}

	matched, err := signal.matches(ctx, db)
	if err != nil {
		return false, err
	}
	if !matched {
		return false, nil
	}

	if err := ensureHistoryTable(ctx, db); err != nil {
		return false, err
	}

	if len(set) == 0 {
		return false, nil
	}
	first := set[0]

	ok, _, err := verifyContract(ctx, db, first.Contract)
	if err != nil {
		return false, err
	}
	if !ok {
		log.Warn("legacy baseline contract not satisfied; deferring to real migration", "migration", first.Name)
		return false, nil
	}

	if err := insertHistoryRow(ctx, db, first.Version, first.Name, BaselineChecksum, time.Now()); err != nil {
		return false, err
	}
	log.Info("legacy baseline recorded", "version", first.Version, "name", first.Name)
	return true, nil
}
