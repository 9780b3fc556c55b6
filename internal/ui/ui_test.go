package ui

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStage_StringAndIcon(t *testing.T) {
	tests := []struct {
		stage Stage
		name  string
		icon  string
	}{
		{StageScanning, "Scanning", "SCAN"},
		{StageExtracting, "Extracting", "READ"},
		{StageIndexing, "Indexing", "INDEX"},
		{StageComplete, "Complete", "DONE"},
		{Stage(99), "Unknown", "???"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.name, tt.stage.String())
		assert.Equal(t, tt.icon, tt.stage.Icon())
	}
}

func TestNewRenderer_NonTTYIsPlain(t *testing.T) {
	// Given: a buffer output
	var buf bytes.Buffer

	// When: creating a renderer
	r := NewRenderer(NewConfig(&buf))

	// Then: plain output is used
	_, ok := r.(*PlainRenderer)
	assert.True(t, ok)
}

func TestNewTUIRenderer_RejectsNonTTY(t *testing.T) {
	_, err := NewTUIRenderer(NewConfig(&bytes.Buffer{}))
	assert.Error(t, err)
}

func TestIsTTY(t *testing.T) {
	assert.False(t, IsTTY(nil))
	assert.False(t, IsTTY(&bytes.Buffer{}))

	f, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	defer f.Close()
	assert.False(t, IsTTY(f))
}

func TestDetectCI(t *testing.T) {
	t.Setenv("CI", "true")
	assert.True(t, DetectCI())
}

func TestPlainRenderer_Flow(t *testing.T) {
	// Given: a plain renderer
	var buf bytes.Buffer
	r := NewPlainRenderer(NewConfig(&buf))
	require.NoError(t, r.Start(t.Context()))

	// When: reporting a run
	r.UpdateProgress(ProgressEvent{Stage: StageScanning, Message: "found 2 documents"})
	r.UpdateProgress(ProgressEvent{Stage: StageIndexing, Current: 1, Total: 2, CurrentFile: "a.md"})
	r.AddError(errEvent("b.pdf"))
	r.Complete(CompletionStats{
		Documents: 1, Chunks: 3, Pages: 2, Errors: 1,
		Duration: 1500 * time.Millisecond,
		Stages:   StageTimings{Index: time.Second},
		Embedder: EmbedderInfo{Model: "static", Dimensions: 256, VisionModel: "static-vision"},
	})
	require.NoError(t, r.Stop())

	// Then: every event is printed
	out := buf.String()
	assert.Contains(t, out, "[SCAN] found 2 documents")
	assert.Contains(t, out, "[INDEX] 1/2 - a.md")
	assert.Contains(t, out, "ERROR: b.pdf: boom")
	assert.Contains(t, out, "Complete: 1 documents, 3 chunks, 2 pages")
	assert.Contains(t, out, "Stage Breakdown:")
	assert.Contains(t, out, "Text model: static (256 dims)")
	assert.Contains(t, out, "Vision model: static-vision")
}

func errEvent(file string) ErrorEvent {
	return ErrorEvent{File: file, Err: errors.New("boom")}
}

func TestProgressTracker(t *testing.T) {
	// Given: a tracker in the indexing stage
	p := NewProgressTracker()
	p.SetStage(StageIndexing, 4)

	// When: half the documents are done
	p.Update(2, "doc.md")
	p.AddError(ErrorEvent{Err: errors.New("x")})
	p.AddError(ErrorEvent{Err: errors.New("y"), IsWarn: true})

	// Then: the snapshot reflects it
	s := p.Stats()
	assert.Equal(t, StageIndexing, s.Stage)
	assert.InDelta(t, 0.5, s.Progress, 1e-9)
	assert.Equal(t, "doc.md", s.CurrentFile)
	assert.Equal(t, 1, s.ErrorCount)
	assert.Equal(t, 1, s.WarnCount)
	assert.Len(t, p.Errors(), 1)

	// And: progress is clamped
	p.Update(10, "")
	assert.InDelta(t, 1.0, p.Stats().Progress, 1e-9)
	assert.Zero(t, p.Stats().ETA)
}

func TestIndexingModel_Views(t *testing.T) {
	tracker := NewProgressTracker()
	m := newIndexingModel(tracker, "")
	m.styles = NoColorStyles()

	tracker.SetStage(StageIndexing, 10)
	tracker.Update(5, "/inbox/report.pdf")
	view := m.View()
	assert.Contains(t, view, "BlackIA Indexer")
	assert.Contains(t, view, "5 / 10 documents")
	assert.Contains(t, view, "report.pdf")

	_, _ = m.Update(completeMsg(CompletionStats{Documents: 10, Chunks: 40, Pages: 3}))
	assert.Contains(t, m.View(), "Indexing Complete")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "5s", formatDuration(5*time.Second))
	assert.Equal(t, "2m", formatDuration(2*time.Minute))
	assert.Equal(t, "2m 5s", formatDuration(125*time.Second))
	assert.Equal(t, "1h 1m", formatDuration(61*time.Minute))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "...6789", truncate("0123456789", 7))
	assert.Equal(t, "...", truncate("0123456789", 2))
	assert.True(t, strings.HasSuffix(truncate("/a/very/long/path/file.pdf", 12), "file.pdf"))
}
