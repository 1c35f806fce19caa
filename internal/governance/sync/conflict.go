package sync

import (
	"fmt"
	"sort"
)

// ConflictKind classifies a database-level disagreement between a local
// and a cloud manifest snapshot.
type ConflictKind string

const (
	ConflictSchemaMismatch   ConflictKind = "SchemaMismatch"
	ConflictDataConflict     ConflictKind = "DataConflict"
	ConflictChecksumMismatch ConflictKind = "ChecksumMismatch"
	ConflictLocalOnly        ConflictKind = "LocalOnly"
	ConflictCloudOnly        ConflictKind = "CloudOnly"
)

// DatabaseConflict is one entry in a detect_conflicts result: a single
// logical database present in either manifest whose state disagrees.
type DatabaseConflict struct {
	Database       string
	Kind           ConflictKind
	Local          *DatabaseSyncState
	Cloud          *DatabaseSyncState
	NeedsMigration bool
}

// DetectConflicts implements the database-level half of §4.11's conflict
// detection, over two manifests (e.g. a local device's computed state and
// the cloud manifest it downloaded). Calling DetectConflicts(a, b) and
// DetectConflicts(b, a) report the same conflict set with LocalOnly/
// CloudOnly swapped, the conflict-symmetry property of §8.
func DetectConflicts(local, cloud Manifest) []DatabaseConflict {
	names := map[string]struct{}{}
	for n := range local.Databases {
		names[n] = struct{}{}
	}
	for n := range cloud.Databases {
		names[n] = struct{}{}
	}

	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	var out []DatabaseConflict
	for _, name := range sorted {
		l, lok := local.Databases[name]
		c, cok := cloud.Databases[name]

		switch {
		case lok && !cok:
			localCopy := l
			out = append(out, DatabaseConflict{Database: name, Kind: ConflictLocalOnly, Local: &localCopy})
		case !lok && cok:
			cloudCopy := c
			out = append(out, DatabaseConflict{Database: name, Kind: ConflictCloudOnly, Cloud: &cloudCopy})
		case lok && cok:
			localCopy, cloudCopy := l, c
			if l.SchemaVersion != c.SchemaVersion {
				out = append(out, DatabaseConflict{
					Database: name, Kind: ConflictSchemaMismatch,
					Local: &localCopy, Cloud: &cloudCopy, NeedsMigration: true,
				})
				continue
			}
			if l.DataVersion != c.DataVersion && l.Checksum != c.Checksum {
				out = append(out, DatabaseConflict{Database: name, Kind: ConflictDataConflict, Local: &localCopy, Cloud: &cloudCopy})
				continue
			}
			if l.DataVersion == c.DataVersion && l.Checksum != c.Checksum {
				out = append(out, DatabaseConflict{Database: name, Kind: ConflictChecksumMismatch, Local: &localCopy, Cloud: &cloudCopy})
			}
		}
	}
	return out
}

// RecordSnapshot is one side's view of a single record for record-level
// conflict detection: the record's own sync_version (the base it was last
// synced at) and its local_version (bumped on every local mutation) plus
// the payload used for equality comparison.
type RecordSnapshot struct {
	RecordID     string
	SyncVersion  int64
	LocalVersion int64
	Payload      map[string]any
}

// RecordConflict is one record present in both snapshot sets whose data
// diverged since the last shared sync point.
type RecordConflict struct {
	RecordID string
	Local    RecordSnapshot
	Remote   RecordSnapshot
}

// DetectRecordConflicts implements the record-level half of §4.11's
// conflict detection: a record is in conflict iff both sides show the same
// sync_version (same base) and both sides' local_version exceeds that
// sync_version (both modified since last sync) and the payloads differ.
func DetectRecordConflicts(local, remote map[string]RecordSnapshot) []RecordConflict {
	var out []RecordConflict
	ids := make([]string, 0, len(local))
	for id := range local {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		l, ok := local[id]
		if !ok {
			continue
		}
		r, ok := remote[id]
		if !ok {
			continue
		}
		if l.SyncVersion != r.SyncVersion {
			continue
		}
		if l.LocalVersion <= l.SyncVersion || r.LocalVersion <= r.SyncVersion {
			continue
		}
		if payloadsEqual(l.Payload, r.Payload) {
			continue
		}
		out = append(out, RecordConflict{RecordID: id, Local: l, Remote: r})
	}
	return out
}

func payloadsEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		other, ok := b[k]
		if !ok {
			return false
		}
		if fmtValue(v) != fmtValue(other) {
			return false
		}
	}
	return true
}

func fmtValue(v any) string {
	if v == nil {
		return "<nil>"
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// MergeStrategy names the policy DetectRecordConflicts' caller applies to
// a resolved RecordConflict.
type MergeStrategy string

const (
	// KeepLocal discards the remote side, retaining the local payload.
	KeepLocal MergeStrategy = "KeepLocal"
	// UseCloud discards the local side, adopting the remote payload.
	UseCloud MergeStrategy = "UseCloud"
	// KeepLatest compares ISO-8601 changed_at timestamps lexicographically
	// (valid because ISO-8601 sorts as time once timezones are normalized
	// to a single offset) and keeps whichever side is newer.
	KeepLatest MergeStrategy = "KeepLatest"
	// Manual returns control to the caller with the conflict set,
	// resolving nothing automatically.
	Manual MergeStrategy = "Manual"
)

// ResolvedRecord is the outcome of applying a MergeStrategy to one
// RecordConflict.
type ResolvedRecord struct {
	RecordID    string
	KeepPayload map[string]any
	KeptLocal   bool
	NeedsManual bool
}

// ApplyMergeStrategy resolves every conflict in conflicts using strategy.
// localChangedAt/remoteChangedAt supply the ISO-8601 timestamps KeepLatest
// compares; both must be present for every record id when strategy is
// KeepLatest.
func ApplyMergeStrategy(strategy MergeStrategy, conflicts []RecordConflict, localChangedAt, remoteChangedAt map[string]string) []ResolvedRecord {
	out := make([]ResolvedRecord, 0, len(conflicts))
	for _, c := range conflicts {
		switch strategy {
		case KeepLocal:
			out = append(out, ResolvedRecord{RecordID: c.RecordID, KeepPayload: c.Local.Payload, KeptLocal: true})
		case UseCloud:
			out = append(out, ResolvedRecord{RecordID: c.RecordID, KeepPayload: c.Remote.Payload, KeptLocal: false})
		case KeepLatest:
			localTS := localChangedAt[c.RecordID]
			remoteTS := remoteChangedAt[c.RecordID]
			if localTS >= remoteTS {
				out = append(out, ResolvedRecord{RecordID: c.RecordID, KeepPayload: c.Local.Payload, KeptLocal: true})
			} else {
				out = append(out, ResolvedRecord{RecordID: c.RecordID, KeepPayload: c.Remote.Payload, KeptLocal: false})
			}
		case Manual:
			out = append(out, ResolvedRecord{RecordID: c.RecordID, NeedsManual: true})
		}
	}
	return out
}
