package migration

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/deepstudent/datagovernance/internal/governance/audit"
	"github.com/deepstudent/datagovernance/internal/governance/dbid"
	goverrors "github.com/deepstudent/datagovernance/internal/governance/errors"
)

// DatabaseSpec binds one logical database to its concrete migration set,
// legacy-detection signal, and intermediate-table carcass list.
type DatabaseSpec struct {
	ID                     dbid.ID
	Migrations             Set
	LegacySignal           LegacySignal
	IntermediateTableNames []string

	// ChangeLogVersion, ChangeLogCoreTable, and ChangeLogSQL parameterize
	// the shared ensure_change_log_table cross-cutting contract (§4.6):
	// the version at which this database's change-log table is
	// introduced, the core business table whose presence implies that
	// version's migration already ran, and the idempotent SQL to
	// re-execute if the change-log table is found missing.
	ChangeLogVersion   int
	ChangeLogCoreTable string
	ChangeLogSQL       string
}

// Coordinator drives every database through its pending migrations in
// dependency order. It is the Go shape of the design's Migration
// Coordinator (§4.1): Coordinator.RunAll implements run_all() verbatim.
type Coordinator struct {
	dataDir     string
	backupsRoot string
	specs       map[dbid.ID]DatabaseSpec
	order       []dbid.ID
	auditSink   *audit.Sink
	log         *slog.Logger
}

// Option configures a Coordinator at construction time, the teacher's
// functional-options idiom (storage.New, etc.).
type Option func(*Coordinator)

// WithLogger overrides the coordinator's slog.Logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// WithAuditSink attaches an audit sink; without one, audit events are
// logged only.
func WithAuditSink(s *audit.Sink) Option {
	return func(c *Coordinator) { c.auditSink = s }
}

// WithBackupsRoot overrides the snapshot backups directory. Defaults to
// <dataDir>/migration_core_backups.
func WithBackupsRoot(path string) Option {
	return func(c *Coordinator) { c.backupsRoot = path }
}

// NewCoordinator builds a Coordinator over dataDir, iterating databases in
// the fixed leaves-first order from dbid.All.
func NewCoordinator(dataDir string, specs []DatabaseSpec, opts ...Option) *Coordinator {
	c := &Coordinator{
		dataDir:     dataDir,
		backupsRoot: filepath.Join(dataDir, "migration_core_backups"),
		specs:       make(map[dbid.ID]DatabaseSpec, len(specs)),
		log:         slog.Default(),
	}
	for _, s := range specs {
		c.specs[s.ID] = s
	}
	for _, id := range dbid.All {
		if _, ok := c.specs[id]; ok {
			c.order = append(c.order, id)
		}
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Coordinator) dbPath(id dbid.ID) string {
	return filepath.Join(c.dataDir, dbid.FileName(id))
}

// RunAll implements §4.1's run_all algorithm.
func (c *Coordinator) RunAll(ctx context.Context) (*Report, error) {
	report := &Report{Success: true}

	dbFiles := make(map[string]string, len(c.order))
	for _, id := range c.order {
		dbFiles[string(id)] = c.dbPath(id)
	}
	filePaths := make([]string, 0, len(dbFiles))
	for _, p := range dbFiles {
		filePaths = append(filePaths, p)
	}

	if err := diskPreflight(c.dataDir, filePaths); err != nil {
		return report, err
	}

	pendingTotal, schemaVersions, err := c.countPending(ctx)
	if err != nil {
		return report, err
	}

	if err := takeSnapshotIfNeeded(ctx, c.dataDir, c.backupsRoot, pendingTotal, dbFiles, schemaVersions, c.log); err != nil {
		return report, err
	}

	completed := map[dbid.ID]bool{}

	for _, id := range c.order {
		spec := c.specs[id]
		for _, dep := range dbid.Dependencies(id) {
			if !completed[dep] {
				err := goverrors.DependencyNotSatisfied(string(id), string(dep))
				report.Success = false
				report.FailedDatabase = id
				report.CompletedBefore = completedList(c.order, completed)
				c.auditFailure(ctx, id, err)
				return report, err
			}
		}

		dbReport, err := c.migrateDatabase(ctx, spec)
		report.Databases = append(report.Databases, dbReport)

		if err != nil {
			report.Success = false
			report.FailedDatabase = id
			report.CompletedBefore = completedList(c.order, completed)
			return report, err
		}
		completed[id] = true
	}

	return report, nil
}

func completedList(order []dbid.ID, completed map[dbid.ID]bool) []dbid.ID {
	var out []dbid.ID
	for _, id := range order {
		if completed[id] {
			out = append(out, id)
		}
	}
	return out
}

// countPending opens every database read-only-ish (full access but no
// writes performed) just to compute from_version vs. target version, for
// the snapshot step's "if zero, skip" precondition.
func (c *Coordinator) countPending(ctx context.Context) (int, map[string]int, error) {
	total := 0
	versions := make(map[string]int, len(c.order))
	for _, id := range c.order {
		spec := c.specs[id]
		path := c.dbPath(id)
		if _, err := os.Stat(path); err != nil {
			total += len(spec.Migrations)
			versions[string(id)] = 0
			continue
		}
		db, err := openDB(path)
		if err != nil {
			return 0, nil, err
		}
		v, err := fromVersion(ctx, db)
		db.Close()
		if err != nil {
			return 0, nil, err
		}
		versions[string(id)] = v
		for _, m := range spec.Migrations {
			if m.Version > v {
				total++
			}
		}
	}
	return total, versions, nil
}

func openDB(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// migrateDatabase implements migrate_database(id), §4.2.
func (c *Coordinator) migrateDatabase(ctx context.Context, spec DatabaseSpec) (DatabaseReport, error) {
	start := time.Now()
	rpt := DatabaseReport{ID: spec.ID}

	db, err := openDB(c.dbPath(spec.ID))
	if err != nil {
		return c.failDatabase(ctx, rpt, start, err)
	}
	defer db.Close()

	if err := setForeignKeys(ctx, db, true); err != nil {
		return c.failDatabase(ctx, rpt, start, err)
	}

	baselined, err := recordLegacyBaseline(ctx, db, spec.Migrations, spec.LegacySignal, c.log)
	if err != nil {
		return c.failDatabase(ctx, rpt, start, err)
	}

	from, err := fromVersion(ctx, db)
	if err != nil {
		return c.failDatabase(ctx, rpt, start, err)
	}
	rpt.FromVersion = from

	if _, err := fixMalformedHistoryRows(ctx, db); err != nil {
		return c.failDatabase(ctx, rpt, start, err)
	}

	runner := NewRunner(db, spec.Migrations, c.log)

	// A baseline recorded in this run keeps its sentinel checksum until the
	// next run reconciles it.
	if !baselined {
		recs, err := reconcileChecksums(ctx, db, spec.Migrations, c.log)
		if err != nil {
			return c.failDatabase(ctx, rpt, start, err)
		}
		if len(recs) > 0 {
			c.auditReconciliation(ctx, spec.ID, recs)
		}
	}

	if err := cleanIntermediateTables(ctx, db, spec.IntermediateTableNames, c.log); err != nil {
		return c.failDatabase(ctx, rpt, start, err)
	}

	if spec.ChangeLogSQL != "" {
		if err := ensureChangeLogTable(ctx, db, spec.ChangeLogCoreTable, spec.ChangeLogSQL, spec.ChangeLogVersion); err != nil {
			return c.failDatabase(ctx, rpt, start, err)
		}
	}

	if err := applyPreRepair(ctx, db, spec.Migrations, c.log); err != nil {
		return c.failDatabase(ctx, rpt, start, err)
	}

	if err := applyAlterGuard(ctx, db, spec.Migrations, c.log); err != nil {
		return c.failDatabase(ctx, rpt, start, err)
	}

	diff, err := runner.ApplyPending(ctx)
	if err != nil {
		return c.failDatabase(ctx, rpt, start, err)
	}
	rpt.AppliedCount = diff.AppliedCount

	to, err := fromVersion(ctx, db)
	if err != nil {
		return c.failDatabase(ctx, rpt, start, err)
	}
	rpt.ToVersion = to

	fp := &fingerprintStore{}
	if err := verifyAll(ctx, db, string(spec.ID), spec.Migrations, to, fp, c.log); err != nil {
		return c.failDatabase(ctx, rpt, start, err)
	}

	rpt.Duration = time.Since(start)
	rpt.Success = true
	c.auditSuccess(ctx, rpt)
	return rpt, nil
}

func (c *Coordinator) failDatabase(ctx context.Context, rpt DatabaseReport, start time.Time, err error) (DatabaseReport, error) {
	rpt.Duration = time.Since(start)
	rpt.Success = false
	rpt.Error = err.Error()
	c.auditFailureReport(ctx, rpt)
	return rpt, err
}

func (c *Coordinator) auditSuccess(ctx context.Context, rpt DatabaseReport) {
	_ = c.auditSink.Append(ctx, audit.Entry{
		Operation: "migrate_database",
		Target:    string(rpt.ID),
		Success:   true,
		Details: map[string]any{
			"from_version":  rpt.FromVersion,
			"to_version":    rpt.ToVersion,
			"applied_count": rpt.AppliedCount,
		},
		DurationMS: rpt.Duration.Milliseconds(),
	})
}

func (c *Coordinator) auditFailureReport(ctx context.Context, rpt DatabaseReport) {
	_ = c.auditSink.Append(ctx, audit.Entry{
		Operation:  "migrate_database",
		Target:     string(rpt.ID),
		Success:    false,
		Error:      rpt.Error,
		DurationMS: rpt.Duration.Milliseconds(),
		Details: map[string]any{
			"from_version": rpt.FromVersion,
		},
	})
}

func (c *Coordinator) auditFailure(ctx context.Context, id dbid.ID, err error) {
	_ = c.auditSink.Append(ctx, audit.Entry{
		Operation: "run_all",
		Target:    string(id),
		Success:   false,
		Error:     err.Error(),
	})
}

func (c *Coordinator) auditReconciliation(ctx context.Context, id dbid.ID, recs []reconciliation) {
	_ = c.auditSink.Append(ctx, audit.Entry{
		Operation: "reconcile_checksums",
		Target:    string(id),
		Success:   true,
		Details: map[string]any{
			"summary": summarizeReconciliations(recs),
			"count":   len(recs),
		},
	})
}
