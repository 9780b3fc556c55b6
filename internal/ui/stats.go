package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/Franck-BRT/BlackIA-sub003/internal/search"
	"github.com/Franck-BRT/BlackIA-sub003/internal/telemetry"
)

// StatsInfo is the store summary shown by the stats command.
type StatsInfo struct {
	DataDir string `json:"data_dir"`

	TextChunks          int `json:"text_chunks"`
	VisionPages         int `json:"vision_pages"`
	VisionPatches       int `json:"vision_patches"`
	DistinctAttachments int `json:"distinct_attachments"`

	TextDimensions   []int `json:"text_dimensions,omitempty"`
	VisionDimensions []int `json:"vision_dimensions,omitempty"`

	TextVectorBytes  int64 `json:"text_vector_bytes"`
	VisionPatchBytes int64 `json:"vision_patch_bytes"`
	FileSizeBytes    int64 `json:"file_size_bytes"`
	ANNNodes         int   `json:"ann_nodes"`

	// States counts documents per lifecycle status.
	States      map[string]int `json:"states,omitempty"`
	LastIndexed time.Time      `json:"last_indexed,omitzero"`

	TextModel   string `json:"text_model,omitempty"`
	VisionModel string `json:"vision_model,omitempty"`

	// Queries is set when query statistics were requested.
	Queries *telemetry.Snapshot `json:"queries,omitempty"`
}

// StatsRenderer displays store statistics.
type StatsRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatsRenderer creates a stats renderer.
func NewStatsRenderer(out io.Writer, noColor bool) *StatsRenderer {
	return &StatsRenderer{out: out, styles: GetStyles(noColor)}
}

// Render displays info as text.
func (r *StatsRenderer) Render(info StatsInfo) error {
	w := r.out
	_, _ = fmt.Fprintf(w, "%s\n\n", r.styles.Header.Render("Index: "+info.DataDir))

	_, _ = fmt.Fprintf(w, "  Documents:    %d\n", info.DistinctAttachments)
	_, _ = fmt.Fprintf(w, "  Text chunks:  %d\n", info.TextChunks)
	_, _ = fmt.Fprintf(w, "  Vision pages: %d (%d patches)\n", info.VisionPages, info.VisionPatches)
	if !info.LastIndexed.IsZero() {
		_, _ = fmt.Fprintf(w, "  Last indexed: %s\n", formatTime(info.LastIndexed))
	}
	_, _ = fmt.Fprintln(w)

	_, _ = fmt.Fprintln(w, "  Storage:")
	_, _ = fmt.Fprintf(w, "    Text vectors:   %s\n", FormatBytes(info.TextVectorBytes))
	_, _ = fmt.Fprintf(w, "    Vision patches: %s\n", FormatBytes(info.VisionPatchBytes))
	_, _ = fmt.Fprintf(w, "    Database file:  %s\n", FormatBytes(info.FileSizeBytes))
	if info.ANNNodes > 0 {
		_, _ = fmt.Fprintf(w, "    ANN nodes:      %d\n", info.ANNNodes)
	}
	_, _ = fmt.Fprintln(w)

	if info.TextModel != "" || info.VisionModel != "" {
		_, _ = fmt.Fprintln(w, "  Models:")
		if info.TextModel != "" {
			_, _ = fmt.Fprintf(w, "    Text:   %s %v\n", info.TextModel, info.TextDimensions)
		}
		if info.VisionModel != "" {
			_, _ = fmt.Fprintf(w, "    Vision: %s %v\n", info.VisionModel, info.VisionDimensions)
		}
		_, _ = fmt.Fprintln(w)
	}

	if len(info.States) > 0 {
		_, _ = fmt.Fprintln(w, "  Lifecycle:")
		for _, status := range []string{"indexed", "indexing", "failed"} {
			if n := info.States[status]; n > 0 {
				_, _ = fmt.Fprintf(w, "    %-9s %d\n", r.renderStatus(status)+":", n)
			}
		}
	}
	if info.Queries != nil {
		r.renderQueries(*info.Queries)
	}
	return nil
}

func (r *StatsRenderer) renderQueries(q telemetry.Snapshot) {
	w := r.out
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "  Queries:")
	if q.TotalQueries == 0 {
		_, _ = fmt.Fprintln(w, "    none recorded")
		return
	}
	if !q.Since.IsZero() {
		_, _ = fmt.Fprintf(w, "    Since:        %s\n", q.Since.Format("2006-01-02"))
	}
	_, _ = fmt.Fprintf(w, "    Total:        %d\n", q.TotalQueries)
	_, _ = fmt.Fprintf(w, "    No results:   %d (%.1f%%)\n", q.ZeroResultCount, q.ZeroResultPercentage())
	if q.DegradedCount > 0 {
		_, _ = fmt.Fprintf(w, "    Degraded:     %s\n", r.styles.Warning.Render(fmt.Sprint(q.DegradedCount)))
	}
	for _, m := range []search.Mode{search.ModeText, search.ModeVision, search.ModeHybrid} {
		if n := q.ModeCounts[m]; n > 0 {
			_, _ = fmt.Fprintf(w, "    %-13s %d\n", string(m)+":", n)
		}
	}
	_, _ = fmt.Fprint(w, "    Latency:     ")
	for _, b := range telemetry.Buckets {
		_, _ = fmt.Fprintf(w, " %s=%d", b, q.LatencyDistribution[b])
	}
	_, _ = fmt.Fprintln(w)
	if len(q.TopTerms) > 0 {
		_, _ = fmt.Fprint(w, "    Top terms:   ")
		for i, tc := range q.TopTerms {
			if i == 10 {
				break
			}
			_, _ = fmt.Fprintf(w, " %s(%d)", tc.Term, tc.Count)
		}
		_, _ = fmt.Fprintln(w)
	}
	for i, zq := range q.ZeroResultQueries {
		if i == 5 {
			break
		}
		_, _ = fmt.Fprintf(w, "    %s %q\n", r.styles.Dim.Render("missed"), zq)
	}
}

// RenderJSON outputs info as JSON.
func (r *StatsRenderer) RenderJSON(info StatsInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

func (r *StatsRenderer) renderStatus(status string) string {
	switch status {
	case "indexed":
		return r.styles.Success.Render(status)
	case "indexing":
		return r.styles.Warning.Render(status)
	case "failed":
		return r.styles.Error.Render(status)
	default:
		return status
	}
}

// formatTime formats a time relative to now.
func formatTime(t time.Time) string {
	diff := time.Since(t)
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute") + " ago"
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour") + " ago"
	case diff < 7*24*time.Hour:
		return plural(int(diff.Hours()/24), "day") + " ago"
	default:
		return t.Format("2006-01-02 15:04")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// FormatBytes formats bytes to human-readable format.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
