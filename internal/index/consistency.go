package index

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Franck-BRT/BlackIA-sub003/internal/store"
)

// InconsistencyType categorizes detected issues.
type InconsistencyType int

const (
	// InconsistencyMissing is an indexed state whose rows are gone.
	InconsistencyMissing InconsistencyType = iota
	// InconsistencyOrphan is stored rows with no indexed state.
	InconsistencyOrphan
	// InconsistencyCountMismatch is a state whose counts disagree with the rows.
	InconsistencyCountMismatch
)

// String returns a human-readable description of the inconsistency type.
func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyMissing:
		return "missing"
	case InconsistencyOrphan:
		return "orphan"
	case InconsistencyCountMismatch:
		return "count_mismatch"
	default:
		return "unknown"
	}
}

// Inconsistency is one detected issue.
type Inconsistency struct {
	Type         InconsistencyType
	AttachmentID string
	Details      string
}

// CheckResult contains the outcome of a consistency check.
type CheckResult struct {
	// Checked is the number of attachments verified.
	Checked         int
	Inconsistencies []Inconsistency
	Duration        time.Duration
}

// Consistent reports whether no issue was found.
func (r CheckResult) Consistent() bool { return len(r.Inconsistencies) == 0 }

// RepairReport is the outcome of Repair.
type RepairReport struct {
	Orphans store.OrphanReport
	// NeedsReindex lists attachments whose rows must be rebuilt by reindexing.
	NeedsReindex []string
}

// StateSource lists lifecycle states. Manager implements it.
type StateSource interface {
	States() []State
}

// RowSource reports stored rows and removes orphans. store.Maintenance
// implements it.
type RowSource interface {
	AttachmentCounts(ctx context.Context) (map[string]store.AttachmentCounts, error)
	CleanOrphans(ctx context.Context, validIDs []string, force bool) (store.OrphanReport, error)
}

// ConsistencyChecker compares lifecycle states with the stored rows.
type ConsistencyChecker struct {
	states StateSource
	rows   RowSource
	logger *slog.Logger
}

// NewConsistencyChecker creates a checker.
func NewConsistencyChecker(states StateSource, rows RowSource, logger *slog.Logger) *ConsistencyChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsistencyChecker{states: states, rows: rows, logger: logger}
}

// Check reports every attachment whose rows disagree with its state.
// Documents currently Indexing are not checked.
func (c *ConsistencyChecker) Check(ctx context.Context) (CheckResult, error) {
	start := time.Now()
	counts, err := c.rows.AttachmentCounts(ctx)
	if err != nil {
		return CheckResult{}, err
	}

	var issues []Inconsistency
	known := make(map[string]bool)
	checked := 0
	for _, st := range c.States() {
		known[st.AttachmentID] = true
		if st.Status == StatusIndexing || st.Status == StatusUnindexed {
			continue
		}
		checked++
		got, ok := counts[st.AttachmentID]
		expectRows := st.TextChunkCount > 0 || st.PageCount > 0
		switch {
		case !ok && expectRows:
			issues = append(issues, Inconsistency{
				Type:         InconsistencyMissing,
				AttachmentID: st.AttachmentID,
				Details:      fmt.Sprintf("state expects %d chunks and %d pages, store has none", st.TextChunkCount, st.PageCount),
			})
		case ok && (got.Chunks != st.TextChunkCount || got.Pages != st.PageCount):
			issues = append(issues, Inconsistency{
				Type:         InconsistencyCountMismatch,
				AttachmentID: st.AttachmentID,
				Details: fmt.Sprintf("state has %d chunks and %d pages, store has %d and %d",
					st.TextChunkCount, st.PageCount, got.Chunks, got.Pages),
			})
		}
	}

	orphans := make([]string, 0)
	for id := range counts {
		if !known[id] {
			orphans = append(orphans, id)
		}
	}
	sort.Strings(orphans)
	for _, id := range orphans {
		got := counts[id]
		issues = append(issues, Inconsistency{
			Type:         InconsistencyOrphan,
			AttachmentID: id,
			Details:      fmt.Sprintf("%d chunks and %d pages without a lifecycle state", got.Chunks, got.Pages),
		})
	}
	checked += len(orphans)

	return CheckResult{
		Checked:         checked,
		Inconsistencies: issues,
		Duration:        time.Since(start),
	}, nil
}

// States returns the checked states.
func (c *ConsistencyChecker) States() []State {
	return c.states.States()
}

// Repair deletes orphan rows. Missing and mismatched attachments are
// reported for reindexing.
func (c *ConsistencyChecker) Repair(ctx context.Context, issues []Inconsistency) (RepairReport, error) {
	var report RepairReport
	hasOrphans := false
	for _, issue := range issues {
		switch issue.Type {
		case InconsistencyOrphan:
			hasOrphans = true
		case InconsistencyMissing, InconsistencyCountMismatch:
			report.NeedsReindex = append(report.NeedsReindex, issue.AttachmentID)
		}
	}

	if hasOrphans {
		states := c.States()
		valid := make([]string, 0, len(states))
		for _, st := range states {
			valid = append(valid, st.AttachmentID)
		}
		orphans, err := c.rows.CleanOrphans(ctx, valid, true)
		if err != nil {
			return report, err
		}
		report.Orphans = orphans
	}

	if len(report.NeedsReindex) > 0 {
		c.logger.Warn("index has attachments that need reindexing",
			slog.Int("count", len(report.NeedsReindex)))
	}
	return report, nil
}
