package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/deepstudent/datagovernance/internal/governance/objectstore"
)

// DownloadChanges implements the Download step of §4.11. It lists every
// change-payload key under the shared prefix, applies a coarse
// version-floor filter before fetching, decompresses and parses each
// payload (skipping a bad payload with a warning rather than aborting),
// filters again per-database using the manifest's per-database
// data_version, then returns the flattened result sorted globally by
// changed_at.
func DownloadChanges(ctx context.Context, store objectstore.Store, manifest Manifest, log *slog.Logger) ([]SyncChangeWithData, error) {
	if log == nil {
		log = slog.Default()
	}

	listings, err := store.List(ctx, changePrefix)
	if err != nil {
		return nil, fmt.Errorf("list change payloads: %w", err)
	}

	floor := minDataVersion(manifest)

	var all []SyncChangeWithData
	for _, l := range listings {
		version, ok := parseChangeKeyVersion(l.Key)
		if !ok {
			log.Warn("skipping change payload with unparseable key", "key", l.Key)
			continue
		}
		// Key-version filter uses >= not >, per the design: same-second
		// concurrent uploads must not be skipped, and apply is idempotent
		// so double delivery is harmless.
		if version < floor {
			continue
		}

		data, found, err := store.Get(ctx, l.Key)
		if err != nil {
			log.Warn("failed to fetch change payload, skipping", "key", l.Key, "error", err)
			continue
		}
		if !found {
			continue
		}

		raw := decompress(data)

		var payload Payload
		if err := json.Unmarshal(raw, &payload); err != nil {
			log.Warn("failed to parse change payload, skipping", "key", l.Key, "error", err)
			continue
		}

		for _, change := range payload.Changes {
			dbState, ok := manifest.Databases[change.DatabaseName]
			if ok && int64(version) < dbState.DataVersion {
				continue
			}
			all = append(all, change)
		}
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].ChangedAt.Before(all[j].ChangedAt) })
	return all, nil
}

func minDataVersion(manifest Manifest) int64 {
	if len(manifest.Databases) == 0 {
		return 0
	}
	var min int64 = -1
	for _, state := range manifest.Databases {
		if min == -1 || state.DataVersion < min {
			min = state.DataVersion
		}
	}
	if min < 0 {
		return 0
	}
	return min
}
