// Package migration implements the Migration Coordinator: per-database
// schema migration in dependency order, legacy-database baselining,
// checksum reconciliation, idempotent DDL repair, and schema fingerprint
// verification.
package migration

import (
	"time"

	"github.com/deepstudent/datagovernance/internal/governance/dbid"
)

// ColumnContract is the declarative, verifiable shape of one column.
type ColumnContract struct {
	Name       string
	Type       string
	NotNull    bool
	Default    string
	HasDefault bool
	PK         bool
}

// TableContract is the declarative, verifiable shape of one table.
type TableContract struct {
	Name     string
	Columns  []ColumnContract
	Indexes  []string
	Triggers []string
}

// Contract is the full declarative shape a migration is expected to
// produce, evaluated post-apply by the Verifier and, for the very first
// migration of a database, evaluated in isolation by the Legacy Baseline
// Recorder.
type Contract struct {
	Tables []TableContract
}

// Signature declares the live-schema probes a pre-repair routine uses to
// classify a migration's applied state as clean, partial, or complete: the
// tables and table/column pairs that the migration's SQL is known to
// introduce.
type Signature struct {
	Tables  []string
	Columns []TableColumn
}

// TableColumn names one column on one table.
type TableColumn struct {
	Table  string
	Column string
}

// Migration is one versioned SQL script transitioning a database from
// version N to version N+1.
type Migration struct {
	Version    int
	Name       string
	SQL        string
	Checksum   string
	Idempotent bool
	Contract   Contract

	// Signature, when non-nil, marks this migration as one with a known
	// history of "applied but not recorded" or "partially applied" states
	// and opts it into the Pre-Repair Engine (as opposed to relying solely
	// on the generic Idempotent ALTER Guard).
	Signature *Signature
}

// Set is one database's ordered migration sequence, sorted ascending by
// Version by convention of the constructors in sets_*.go.
type Set []Migration

// Latest returns the highest version in the set, or 0 for an empty set.
func (s Set) Latest() int {
	max := 0
	for _, m := range s {
		if m.Version > max {
			max = m.Version
		}
	}
	return max
}

// ByVersion looks up a migration by version.
func (s Set) ByVersion(v int) (Migration, bool) {
	for _, m := range s {
		if m.Version == v {
			return m, true
		}
	}
	return Migration{}, false
}

// HistoryRow mirrors one row of the migration-history table.
type HistoryRow struct {
	Version   int
	Name      string
	AppliedOn time.Time
	Checksum  string
}

// DatabaseReport is the per-database outcome the coordinator's report
// carries.
type DatabaseReport struct {
	ID           dbid.ID
	FromVersion  int
	ToVersion    int
	AppliedCount int
	Duration     time.Duration
	Success      bool
	Error        string
}

// Report is the coordinator's top-level, trivially serializable output.
type Report struct {
	Databases       []DatabaseReport
	Success         bool
	FailedDatabase  dbid.ID
	CompletedBefore []dbid.ID
}
