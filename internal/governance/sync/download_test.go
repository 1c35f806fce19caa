package sync

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/deepstudent/datagovernance/internal/governance/objectstore"
)

func putTestPayload(t *testing.T, store objectstore.Store, deviceID string, unixSeconds int64, changes []SyncChangeWithData) {
	t.Helper()
	payload := Payload{FormatVersion: PayloadFormatVersion, DeviceID: deviceID, TotalCount: len(changes), Changes: changes}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	compressed, err := compress(body)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	key := changeKey(deviceID, unixSeconds, "nonce", compressExt)
	if err := store.Put(context.Background(), key, compressed); err != nil {
		t.Fatalf("put: %v", err)
	}
}

func TestDownloadChangesFlattensAndSortsByChangedAt(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemory()

	t1 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	putTestPayload(t, store, "device-a", 1700000000, []SyncChangeWithData{
		{Table: "notes", RecordID: "n1", Operation: OpInsert, ChangedAt: t1, DatabaseName: "vfs"},
	})
	putTestPayload(t, store, "device-b", 1700000001, []SyncChangeWithData{
		{Table: "notes", RecordID: "n2", Operation: OpInsert, ChangedAt: t2, DatabaseName: "vfs"},
	})

	changes, err := DownloadChanges(ctx, store, Manifest{Databases: map[string]DatabaseSyncState{}}, nil)
	if err != nil {
		t.Fatalf("DownloadChanges: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(changes))
	}
	if changes[0].RecordID != "n2" || changes[1].RecordID != "n1" {
		t.Fatalf("expected changes sorted by changed_at ascending, got %+v", changes)
	}
}

func TestDownloadChangesFiltersBelowDataVersionFloor(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemory()

	putTestPayload(t, store, "device-a", 1000, []SyncChangeWithData{
		{Table: "notes", RecordID: "old", Operation: OpInsert, DatabaseName: "vfs", ChangedAt: time.Now()},
	})
	putTestPayload(t, store, "device-a", 2000, []SyncChangeWithData{
		{Table: "notes", RecordID: "new", Operation: OpInsert, DatabaseName: "vfs", ChangedAt: time.Now()},
	})

	manifest := Manifest{Databases: map[string]DatabaseSyncState{"vfs": {DataVersion: 1500}}}
	changes, err := DownloadChanges(ctx, store, manifest, nil)
	if err != nil {
		t.Fatalf("DownloadChanges: %v", err)
	}
	if len(changes) != 1 || changes[0].RecordID != "new" {
		t.Fatalf("expected only the change at/above the floor, got %+v", changes)
	}
}

func TestDownloadChangesSkipsUnparseablePayloadWithoutAborting(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemory()

	badKey := changeKey("device-a", 1700000000, "nonce", compressExt)
	if err := store.Put(ctx, badKey, []byte("not valid json even after decompress fallback")); err != nil {
		t.Fatalf("put malformed payload: %v", err)
	}
	putTestPayload(t, store, "device-b", 1700000001, []SyncChangeWithData{
		{Table: "notes", RecordID: "ok", Operation: OpInsert, DatabaseName: "vfs", ChangedAt: time.Now()},
	})

	changes, err := DownloadChanges(ctx, store, Manifest{Databases: map[string]DatabaseSyncState{}}, nil)
	if err != nil {
		t.Fatalf("DownloadChanges should tolerate a bad payload, got error: %v", err)
	}
	if len(changes) != 1 || changes[0].RecordID != "ok" {
		t.Fatalf("expected the malformed payload to be skipped, got %+v", changes)
	}
}
