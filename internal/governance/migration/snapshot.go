package migration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	sqlite3 "github.com/ncruces/go-sqlite3"

	goverrors "github.com/deepstudent/datagovernance/internal/governance/errors"
	"github.com/gofrs/flock"
)

// backupStepPages is the page count passed to each Backup.Step call: small
// enough that one step never holds the source database's read lock for
// long, per the engine's own recommendation for its online backup API.
const backupStepPages = 100

// backupStepPause is the delay between backup steps, giving concurrent
// writers a window between each small read-lock acquisition.
const backupStepPause = 50 * time.Millisecond

// snapshotRetention is the number of most-recent snapshot directories kept,
// per the reference's value of 5.
const snapshotRetention = 5

// snapshotGuard is the one piece of global mutable state the design
// permits: a process-global set of data-directory paths already
// snapshotted this process, mutex-guarded and initialized lazily.
type snapshotGuard struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

var globalSnapshotGuard = &snapshotGuard{seen: make(map[string]struct{})}

// markIfAbsent marks dataDir as snapshotted this process. It returns true
// if dataDir was not marked before, false if it already was.
func (g *snapshotGuard) markIfAbsent(dataDir string) bool {
	canonical, err := filepath.Abs(dataDir)
	if err != nil {
		canonical = dataDir
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.seen[canonical]; ok {
		return false
	}
	g.seen[canonical] = struct{}{}
	return true
}

type snapshotMetadata struct {
	CreatedAt      time.Time         `json:"created_at"`
	SourceDir      string            `json:"source_dir"`
	CopiedFiles    []string          `json:"copied_files"`
	SchemaVersions map[string]int    `json:"schema_versions"`
	Purpose        string            `json:"purpose"`
}

// takeSnapshotIfNeeded implements the Pre-Migration Snapshot (§4.9). It is
// a no-op if pendingTotal is zero, or if this process has already
// snapshotted dataDir.
func takeSnapshotIfNeeded(ctx context.Context, dataDir, backupsRoot string, pendingTotal int, dbFiles map[string]string, schemaVersions map[string]int, log *slog.Logger) error {
	if pendingTotal == 0 {
		return nil
	}
	if !globalSnapshotGuard.markIfAbsent(dataDir) {
		log.Info("pre-migration snapshot already taken this process; skipping", "data_dir", dataDir)
		return nil
	}

	lockPath := filepath.Join(backupsRoot, ".snapshot.lock")
	if err := os.MkdirAll(backupsRoot, 0o755); err != nil {
		return goverrors.Wrap(goverrors.KindIO, err, "create backups root")
	}
	fileLock := flock.New(lockPath)
	locked, err := fileLock.TryLockContext(ctx, 200*time.Millisecond)
	if err != nil || !locked {
		return goverrors.Wrap(goverrors.KindIO, err, "acquire snapshot directory lock")
	}
	defer fileLock.Unlock()

	pid := os.Getpid()
	ts := time.Now().UTC().Format("20060102T150405Z")
	dir := filepath.Join(backupsRoot, fmt.Sprintf("startup_%s_%d", ts, pid))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return goverrors.Wrap(goverrors.KindIO, err, "create snapshot dir")
	}

	meta := snapshotMetadata{
		CreatedAt:      time.Now(),
		SourceDir:      dataDir,
		SchemaVersions: schemaVersions,
		Purpose:        "pre-migration safety snapshot",
	}

	for name, path := range dbFiles {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		dest := filepath.Join(dir, filepath.Base(path))
		if err := hotBackupFile(ctx, path, dest); err != nil {
			return goverrors.Wrap(goverrors.KindDatabase, err, "backup %s", name)
		}
		if err := quickCheck(ctx, dest); err != nil {
			return goverrors.Wrap(goverrors.KindDatabase, err, "quick_check failed for backup %s", dest)
		}
		meta.CopiedFiles = append(meta.CopiedFiles, filepath.Base(path))
	}

	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "metadata.json"), metaBytes, 0o644); err != nil {
		return goverrors.Wrap(goverrors.KindIO, err, "write snapshot metadata")
	}

	return pruneOldSnapshots(backupsRoot, log)
}

// hotBackupFile copies src into dest using the engine's online backup API
// (sqlite3_backup_init/step/finish, wrapped by Conn.Backup), stepping a
// small page count at a time with a short pause between steps so a long
// backup never holds the source database's read lock continuously, per
// §4.9 step 3's "page-by-page copy, small step size, short sleep between
// steps".
func hotBackupFile(ctx context.Context, src, dest string) error {
	srcConn, err := sqlite3.Open(src)
	if err != nil {
		return fmt.Errorf("open backup source: %w", err)
	}
	defer srcConn.Close()

	backup, err := srcConn.BackupInit("main", dest)
	if err != nil {
		return fmt.Errorf("init backup: %w", err)
	}
	defer backup.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := backup.Step(backupStepPages)
		if err != nil {
			return fmt.Errorf("backup step: %w", err)
		}
		if done {
			return nil
		}
		time.Sleep(backupStepPause)
	}
}

func quickCheck(ctx context.Context, dbPath string) error {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", dbPath))
	if err != nil {
		return err
	}
	defer db.Close()

	var result string
	if err := db.QueryRowContext(ctx, `PRAGMA quick_check`).Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("quick_check returned %q for %s", result, dbPath)
	}
	return nil
}

func pruneOldSnapshots(backupsRoot string, log *slog.Logger) error {
	entries, err := os.ReadDir(backupsRoot)
	if err != nil {
		return err
	}

	var dirs []os.DirEntry
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e)
		}
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Name() < dirs[j].Name() })

	if len(dirs) <= snapshotRetention {
		return nil
	}
	toRemove := dirs[:len(dirs)-snapshotRetention]
	for _, d := range toRemove {
		path := filepath.Join(backupsRoot, d.Name())
		if err := os.RemoveAll(path); err != nil {
			return err
		}
		log.Info("pruned old migration snapshot", "path", path)
	}
	return nil
}
