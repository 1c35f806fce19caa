package migration

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileSizeMissingFileIsZero(t *testing.T) {
	if got := fileSize(filepath.Join(t.TempDir(), "does_not_exist.db")); got != 0 {
		t.Fatalf("fileSize(missing) = %d, want 0", got)
	}
}

func TestFileSizeReportsActualSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.db")
	if err := os.WriteFile(path, make([]byte, 1234), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if got := fileSize(path); got != 1234 {
		t.Fatalf("fileSize = %d, want 1234", got)
	}
}

func TestDiskPreflightSucceedsWithNoExistingFiles(t *testing.T) {
	dir := t.TempDir()
	// With no database files on disk yet, the requirement collapses to the
	// fixed safety margin, which any usable test filesystem satisfies.
	if err := diskPreflight(dir, []string{filepath.Join(dir, "primary.db")}); err != nil {
		t.Fatalf("diskPreflight: %v", err)
	}
}
