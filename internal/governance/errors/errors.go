// Package errors defines the governance core's error taxonomy as sentinel
// values usable with errors.Is/errors.As, the same pattern the teacher used
// for its storage package sentinels.
package errors

import "fmt"

// Kind classifies an error without naming it, matching the taxonomy of
// kinds (not names) called for by the error-handling design.
type Kind string

const (
	KindConfiguration          Kind = "configuration"
	KindDatabase               Kind = "database"
	KindMigrationFramework     Kind = "migration_framework"
	KindVerification           Kind = "verification"
	KindDependencyNotSatisfied Kind = "dependency_not_satisfied"
	KindInsufficientDiskSpace  Kind = "insufficient_disk_space"
	KindNetwork                Kind = "network"
	KindIO                     Kind = "io"
	KindNotImplemented         Kind = "not_implemented"
	KindConflict               Kind = "conflict"
	KindManualResolutionNeeded Kind = "manual_resolution_required"
	KindPartialSync            Kind = "partial_sync"
	KindSchemaMismatch         Kind = "schema_mismatch"
)

// Error is the governance core's structured error type. Kind carries the
// taxonomy classification; Err, when non-nil, is the wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error

	// Fields used by a handful of kinds that the design calls out by name.
	Database    string
	Dependency  string
	AvailableMB int64
	RequiredMB  int64
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, ErrKind(KindX)) style matching by Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == "" {
		return false
	}
	return e.Kind == t.Kind
}

// ErrKind constructs a sentinel usable purely for errors.Is comparisons.
func ErrKind(k Kind) error { return &Error{Kind: k} }

func Newf(k Kind, format string, args ...any) error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(k Kind, err error, format string, args ...any) error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...), Err: err}
}

// DependencyNotSatisfied reports that database could not migrate because
// its declared dependency had not completed successfully in this run.
func DependencyNotSatisfied(database, dependency string) error {
	return &Error{
		Kind:       KindDependencyNotSatisfied,
		Msg:        fmt.Sprintf("database %q depends on %q, which has not completed migration", database, dependency),
		Database:   database,
		Dependency: dependency,
	}
}

// InsufficientDiskSpace reports the disk pre-flight failure with both
// numbers, in megabytes, as the design requires.
func InsufficientDiskSpace(availableMB, requiredMB int64) error {
	return &Error{
		Kind:        KindInsufficientDiskSpace,
		Msg:         fmt.Sprintf("insufficient disk space: available=%dMB required=%dMB", availableMB, requiredMB),
		AvailableMB: availableMB,
		RequiredMB:  requiredMB,
	}
}

// VerificationFailed reports a schema-contract or fingerprint mismatch at a
// specific schema version, with a reason string pointing at the diff.
func VerificationFailed(database string, version int, reason string) error {
	return &Error{
		Kind:     KindVerification,
		Database: database,
		Msg:      fmt.Sprintf("schema verification failed for %q at version %d: %s", database, version, reason),
	}
}
