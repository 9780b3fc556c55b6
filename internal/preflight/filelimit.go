package preflight

import (
	"fmt"
	"syscall"
)

// MinFileDescriptors is the open-file limit needed by the watcher and the
// database together.
const MinFileDescriptors = 1024

// CheckFileDescriptors checks the soft open-file limit.
func (c *Checker) CheckFileDescriptors() CheckResult {
	result := CheckResult{Name: "file_descriptors", Required: true}

	var lim syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &lim); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot read limit: %v", err)
		return result
	}

	result.Message = fmt.Sprintf("%d (minimum: %d)", lim.Cur, MinFileDescriptors)
	if lim.Cur < MinFileDescriptors {
		result.Status = StatusFail
		result.Details = "Run 'ulimit -n 4096' before watching large directories."
		return result
	}
	result.Status = StatusPass
	return result
}
