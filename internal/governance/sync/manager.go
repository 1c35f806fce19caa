package sync

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/deepstudent/datagovernance/internal/governance/objectstore"
)

// Manager is the exported entry point for the Change-Log Sync Engine: it
// binds a device id and object store to the per-database free functions in
// this package (UploadChanges, DownloadChanges, ApplyChanges,
// DetectConflicts), the same role the coordinator plays for migrations.
type Manager struct {
	Store    objectstore.Store
	DeviceID string
	Log      *slog.Logger

	// Schemas maps table name to its primary-key columns and column list,
	// for ApplyChanges. Callers register every business table their
	// databases expose to sync.
	Schemas map[string]TableSchema
}

// NewManager builds a Manager bound to store and deviceID.
func NewManager(store objectstore.Store, deviceID string, schemas map[string]TableSchema) *Manager {
	return &Manager{Store: store, DeviceID: deviceID, Log: slog.Default(), Schemas: schemas}
}

// Upload ships pending changes for one database, per §4.11's Upload step.
func (m *Manager) Upload(ctx context.Context, db *sql.DB, databaseName string, limit int) (*UploadResult, error) {
	return UploadChanges(ctx, db, m.Store, databaseName, m.DeviceID, limit)
}

// Download fetches and flattens every eligible remote change batch given
// the current manifest, per §4.11's Download step.
func (m *Manager) Download(ctx context.Context, manifest Manifest) ([]SyncChangeWithData, error) {
	return DownloadChanges(ctx, m.Store, manifest, m.Log)
}

// Apply replays a downloaded batch into db, per §4.11's Apply step.
func (m *Manager) Apply(ctx context.Context, db *sql.DB, changes []SyncChangeWithData) (*ApplyResult, error) {
	return ApplyChanges(ctx, db, changes, m.Schemas, m.Log)
}

// LocalManifest reads the current manifest from the object store, or a
// zero-value manifest with Status Partial if none has ever been uploaded.
func (m *Manager) LocalManifest(ctx context.Context) (Manifest, error) {
	manifest, found, err := GetManifest(ctx, m.Store)
	if err != nil {
		return Manifest{}, err
	}
	if !found {
		manifest.Status = StatusPartial
		manifest.Databases = map[string]DatabaseSyncState{}
	}
	return manifest, nil
}

// Conflicts compares a freshly computed local manifest against the cloud
// manifest, per §4.11's database-level conflict detection.
func (m *Manager) Conflicts(ctx context.Context, dbs map[string]*sql.DB) ([]DatabaseConflict, error) {
	local := Manifest{DeviceID: m.DeviceID, Databases: map[string]DatabaseSyncState{}}
	for name, db := range dbs {
		state, err := ComputeDatabaseState(ctx, db)
		if err != nil {
			return nil, err
		}
		local.Databases[name] = state
	}

	cloud, err := m.LocalManifest(ctx)
	if err != nil {
		return nil, err
	}
	return DetectConflicts(local, cloud), nil
}
