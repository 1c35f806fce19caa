package migration

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	goverrors "github.com/deepstudent/datagovernance/internal/governance/errors"
)

// HistoryDiff reports what a runner's ApplyPending call actually did.
type HistoryDiff struct {
	AppliedVersions []int
	AppliedCount    int
}

// Runner is the black-box consumer of a migration set: it knows how to list
// migrations, report their checksums, and apply pending ones. Runners are
// polymorphic purely over this contract, matching the design's "Migration
// runners are polymorphic over {list_migrations, get_checksums,
// apply_pending_returning_history_diff}".
type Runner interface {
	ListMigrations() Set
	Checksums() map[int]string
	ApplyPending(ctx context.Context) (HistoryDiff, error)
}

// sqlRunner is the concrete Runner backed by database/sql. It always
// applies in ungrouped mode: one migration per transaction, never a single
// transaction spanning the whole pending set. This is a hard invariant,
// given the embedded engine's unreliable DDL rollback.
type sqlRunner struct {
	db  *sql.DB
	set Set
	log *slog.Logger
}

// NewRunner builds the runner for one database's migration set.
func NewRunner(db *sql.DB, set Set, log *slog.Logger) Runner {
	if log == nil {
		log = slog.Default()
	}
	return &sqlRunner{db: db, set: set, log: log}
}

func (r *sqlRunner) ListMigrations() Set { return r.set }

func (r *sqlRunner) Checksums() map[int]string {
	out := make(map[int]string, len(r.set))
	for _, m := range r.set {
		out[m.Version] = m.Checksum
	}
	return out
}

func (r *sqlRunner) ApplyPending(ctx context.Context) (HistoryDiff, error) {
	var diff HistoryDiff

	if err := ensureHistoryTable(ctx, r.db); err != nil {
		return diff, goverrors.Wrap(goverrors.KindDatabase, err, "ensure history table")
	}

	for _, m := range r.set {
		_, recorded, err := historyRowByVersion(ctx, r.db, m.Version)
		if err != nil {
			return diff, goverrors.Wrap(goverrors.KindDatabase, err, "read history row %d", m.Version)
		}
		if recorded {
			continue
		}

		if err := r.applyOne(ctx, m); err != nil {
			return diff, goverrors.Wrap(goverrors.KindMigrationFramework, err, "apply migration %d %q", m.Version, m.Name)
		}
		diff.AppliedVersions = append(diff.AppliedVersions, m.Version)
		diff.AppliedCount++
		r.log.Info("migration applied", "version", m.Version, "name", m.Name)
	}

	return diff, nil
}

func (r *sqlRunner) applyOne(ctx context.Context, m Migration) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	for _, stmt := range splitStatements(m.SQL) {
		if stmt == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec statement: %w", err)
		}
	}

	if err := insertHistoryRow(ctx, tx, m.Version, m.Name, m.Checksum, time.Now()); err != nil {
		return fmt.Errorf("record history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}
