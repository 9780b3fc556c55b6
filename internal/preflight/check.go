// Package preflight checks that the machine can host an index: a writable
// data directory, free disk, memory, file descriptors and reachable
// embedding backends.
//
//	checker := preflight.New(preflight.WithEmbedders(text, vision))
//	results := checker.RunAll(ctx, dataDir)
//	if preflight.HasCriticalFailures(results) {
//		...
//	}
package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Franck-BRT/BlackIA-sub003/internal/embed"
	"github.com/Franck-BRT/BlackIA-sub003/internal/output"
)

// CheckStatus is the outcome of one check.
type CheckStatus int

const (
	StatusPass CheckStatus = iota
	StatusWarn
	StatusFail
)

func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusWarn:
		return "warn"
	case StatusFail:
		return "fail"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status by name.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *CheckStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "pass":
		*s = StatusPass
	case "warn":
		*s = StatusWarn
	case "fail":
		*s = StatusFail
	default:
		return fmt.Errorf("unknown check status %q", b)
	}
	return nil
}

// CheckResult is the result of a single check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical reports a failed required check.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Checker runs the checks.
type Checker struct {
	text    embed.TextEmbedder
	vision  embed.VisionEmbedder
	timeout time.Duration
	verbose bool
}

// Option configures a Checker.
type Option func(*Checker)

// WithEmbedders sets the backends probed by the embedder checks. A nil
// vision embedder reports vision search as disabled.
func WithEmbedders(text embed.TextEmbedder, vision embed.VisionEmbedder) Option {
	return func(c *Checker) {
		c.text = text
		c.vision = vision
	}
}

// WithTimeout bounds each backend probe (default 5s).
func WithTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithVerbose prints check details.
func WithVerbose(verbose bool) Option {
	return func(c *Checker) {
		c.verbose = verbose
	}
}

// New creates a Checker.
func New(opts ...Option) *Checker {
	c := &Checker{timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs every check against dataDir.
func (c *Checker) RunAll(ctx context.Context, dataDir string) []CheckResult {
	return []CheckResult{
		c.CheckDataDir(dataDir),
		c.CheckDiskSpace(dataDir),
		c.CheckMemory(),
		c.CheckFileDescriptors(),
		c.CheckTextEmbedder(ctx),
		c.CheckVisionEmbedder(ctx),
	}
}

// HasCriticalFailures reports whether any required check failed.
func HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus is ready, ready_with_warnings or failed.
func SummaryStatus(results []CheckResult) string {
	warned := false
	for _, r := range results {
		if r.IsCritical() {
			return "failed"
		}
		if r.Status != StatusPass {
			warned = true
		}
	}
	if warned {
		return "ready_with_warnings"
	}
	return "ready"
}

// PrintResults writes one line per check and a summary.
func (c *Checker) PrintResults(out *output.Writer, results []CheckResult) {
	for _, r := range results {
		line := fmt.Sprintf("%s: %s", r.Name, r.Message)
		switch r.Status {
		case StatusPass:
			out.Success(line)
		case StatusWarn:
			out.Warning(line)
		default:
			if r.Required {
				out.Error(line)
			} else {
				out.Warning(line)
			}
		}
		if c.verbose && r.Details != "" {
			out.Detail(r.Details)
		}
	}
	out.Newline()
	out.Infof("Status: %s", strings.ToUpper(SummaryStatus(results)))
}

// CheckDataDir creates dataDir if needed and verifies it is writable.
func (c *Checker) CheckDataDir(dataDir string) CheckResult {
	result := CheckResult{Name: "data_dir", Required: true, Details: dataDir}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot create: %v", err)
		return result
	}
	probe, err := os.CreateTemp(dataDir, ".preflight-*")
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("permission denied: %v", err)
		return result
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())

	result.Status = StatusPass
	result.Message = "writable"
	return result
}

// existingParent returns path or its nearest existing ancestor.
func existingParent(path string) string {
	for {
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(path)
		if parent == path {
			return path
		}
		path = parent
	}
}
