package preflight

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/Franck-BRT/BlackIA-sub003/internal/ui"
)

const (
	// MinMemoryBytes fails the memory check.
	MinMemoryBytes = 256 * 1024 * 1024
	// RecommendedMemoryBytes warns below this amount. MaxSim scoring holds
	// candidate patch grids in memory.
	RecommendedMemoryBytes = 1024 * 1024 * 1024
)

// meminfoPath is replaced in tests.
var meminfoPath = "/proc/meminfo"

// CheckMemory checks available system memory. Where it cannot be measured
// the check warns instead of failing.
func (c *Checker) CheckMemory() CheckResult {
	result := CheckResult{Name: "memory", Required: true}

	available, err := availableMemory()
	if err != nil {
		result.Status = StatusWarn
		result.Required = false
		result.Message = "cannot measure available memory"
		result.Details = err.Error()
		return result
	}

	result.Message = fmt.Sprintf("%s available", ui.FormatBytes(available))
	switch {
	case available < MinMemoryBytes:
		result.Status = StatusFail
	case available < RecommendedMemoryBytes:
		result.Status = StatusWarn
		result.Details = fmt.Sprintf("recommended: %s", ui.FormatBytes(RecommendedMemoryBytes))
	default:
		result.Status = StatusPass
	}
	return result
}

func availableMemory() (int64, error) {
	f, err := os.Open(meminfoPath)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()
	return parseMeminfo(f)
}

// parseMeminfo returns MemAvailable in bytes.
func parseMeminfo(r io.Reader) (int64, error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 || fields[0] != "MemAvailable:" {
			continue
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse MemAvailable: %w", err)
		}
		return kb * 1024, nil
	}
	if err := sc.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("MemAvailable not reported")
}
