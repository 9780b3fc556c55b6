package preflight

import (
	"fmt"
	"syscall"

	"github.com/Franck-BRT/BlackIA-sub003/internal/ui"
)

// MinDiskSpaceBytes is the free space required under the data directory.
const MinDiskSpaceBytes = 200 * 1024 * 1024

// CheckDiskSpace checks the free space of the file system holding path.
func (c *Checker) CheckDiskSpace(path string) CheckResult {
	result := CheckResult{Name: "disk_space", Required: true}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(existingParent(path), &stat); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot check disk space: %v", err)
		return result
	}

	available := int64(stat.Bavail) * int64(stat.Bsize)
	result.Message = fmt.Sprintf("%s free (minimum: %s)", ui.FormatBytes(available), ui.FormatBytes(MinDiskSpaceBytes))
	if available < MinDiskSpaceBytes {
		result.Status = StatusFail
		result.Details = "Page patch grids need room; free space or move data_dir."
		return result
	}
	result.Status = StatusPass
	return result
}
