// Package sync implements the Change-Log Sync Engine: captures row-level
// mutations via a shared append-only log table, ships them as versioned,
// compressed payloads to a keyed object store, detects conflicts at both
// database and record granularity, applies downloaded changes
// transactionally with suspended referential checks, and guards against
// echo loops.
package sync

import "time"

// ManifestStatus is the sync manifest's overall status field.
type ManifestStatus string

const (
	StatusComplete ManifestStatus = "Complete"
	StatusPartial  ManifestStatus = "Partial"
	StatusFailed   ManifestStatus = "Failed"
)

// DatabaseSyncState is one database's entry inside the sync manifest: its
// schema version, data version (max sync_version shipped), a cheap
// content-checksum, and when it was last updated.
type DatabaseSyncState struct {
	SchemaVersion int       `json:"schema_version"`
	DataVersion   int64     `json:"data_version"`
	Checksum      string    `json:"checksum"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// Manifest is the cloud-side object describing one device's view of every
// database's sync state.
type Manifest struct {
	TransactionID string                       `json:"transaction_id"`
	DeviceID      string                       `json:"device_id"`
	Status        ManifestStatus               `json:"status"`
	CreatedAt     time.Time                    `json:"created_at"`
	Databases     map[string]DatabaseSyncState `json:"databases"`
}

// Operation is a change-log row's mutation kind.
type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// ChangeLogRow mirrors one row of the per-database __change_log table.
type ChangeLogRow struct {
	ID          int64
	TableName   string
	RecordID    string
	Operation   Operation
	ChangedAt   time.Time
	SyncVersion int64
}

// SyncChangeWithData is one enriched change-log entry, the unit that
// travels inside a change payload.
type SyncChangeWithData struct {
	Table             string         `json:"table"`
	RecordID          string         `json:"record_id"`
	Operation         Operation      `json:"operation"`
	ChangedAt         time.Time      `json:"changed_at"`
	DatabaseName      string         `json:"database_name"`
	SuppressChangeLog bool           `json:"suppress_change_log"`
	Data              map[string]any `json:"data,omitempty"`
}

// PayloadFormatVersion is the current wire format version for change
// payloads. Readers must tolerate older formats; in particular a legacy
// payload may omit Data on INSERT/UPDATE entries.
const PayloadFormatVersion = 2

// Payload is the cloud-side object holding one batch of enriched changes.
type Payload struct {
	FormatVersion int                  `json:"format_version"`
	DeviceID      string               `json:"device_id"`
	TotalCount    int                  `json:"total_count"`
	Changes       []SyncChangeWithData `json:"changes"`
}
