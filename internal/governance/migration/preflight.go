package migration

import (
	"os"

	goverrors "github.com/deepstudent/datagovernance/internal/governance/errors"
	"github.com/shirou/gopsutil/v4/disk"
)

const diskSafetyMarginBytes int64 = 50 * 1024 * 1024

// diskPreflight implements §4.8: available disk space must be at least
// 2x the combined size of every database file (plus its WAL companion, if
// present) plus a fixed safety margin.
func diskPreflight(dataDir string, dbFiles []string) error {
	var total int64
	for _, f := range dbFiles {
		total += fileSize(f)
		total += fileSize(f + "-wal")
	}

	required := 2*total + diskSafetyMarginBytes

	available, err := availableDiskBytes(dataDir)
	if err != nil {
		return goverrors.Wrap(goverrors.KindIO, err, "statfs %s", dataDir)
	}

	if available < required {
		return goverrors.InsufficientDiskSpace(available/(1024*1024), required/(1024*1024))
	}
	return nil
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func availableDiskBytes(dir string) (int64, error) {
	usage, err := disk.Usage(dir)
	if err != nil {
		return 0, err
	}
	return int64(usage.Free), nil
}
