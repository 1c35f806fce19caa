package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/deepstudent/datagovernance/internal/governance/objectstore"
)

// UploadResult reports what UploadChanges actually shipped.
type UploadResult struct {
	Key         string
	ChangeCount int
	SyncVersion int64
}

// UploadChanges implements the Upload step of §4.11: it scans pending
// changes, enriches them, serializes and compresses a payload, puts it at
// its versioned key, updates the manifest, then marks the shipped rows
// synced.
func UploadChanges(ctx context.Context, db *sql.DB, store objectstore.Store, databaseName, deviceID string, limit int) (*UploadResult, error) {
	pending, err := PendingChanges(ctx, db, "", limit)
	if err != nil {
		return nil, fmt.Errorf("scan pending changes: %w", err)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	enriched, err := EnrichChanges(ctx, db, databaseName, pending)
	if err != nil {
		return nil, fmt.Errorf("enrich changes: %w", err)
	}

	payload := Payload{
		FormatVersion: PayloadFormatVersion,
		DeviceID:      deviceID,
		TotalCount:    len(enriched),
		Changes:       enriched,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	compressed, err := compress(body)
	if err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}

	unixSeconds := time.Now().Unix()
	key := changeKey(deviceID, unixSeconds, uuid.NewString(), compressExt)

	if err := store.Put(ctx, key, compressed); err != nil {
		return nil, fmt.Errorf("put payload: %w", err)
	}

	state, err := ComputeDatabaseState(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("compute database state: %w", err)
	}

	manifest, _, err := GetManifest(ctx, store)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if manifest.Databases == nil {
		manifest.Databases = map[string]DatabaseSyncState{}
	}
	manifest.TransactionID = uuid.NewString()
	manifest.DeviceID = deviceID
	manifest.Status = StatusComplete
	manifest.CreatedAt = time.Now()
	manifest.Databases[databaseName] = state

	if err := PutManifest(ctx, store, manifest); err != nil {
		return nil, fmt.Errorf("put manifest: %w", err)
	}

	ids := make([]int64, len(pending))
	for i, p := range pending {
		ids[i] = p.ID
	}
	if err := MarkSynced(ctx, db, ids, unixSeconds); err != nil {
		return nil, fmt.Errorf("mark synced: %w", err)
	}

	return &UploadResult{Key: key, ChangeCount: len(enriched), SyncVersion: unixSeconds}, nil
}
