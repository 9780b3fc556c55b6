package mcp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Franck-BRT/BlackIA-sub003/internal/search"
	"github.com/Franck-BRT/BlackIA-sub003/internal/store"
)

func TestFormatSearchResults_Empty(t *testing.T) {
	assert.Equal(t, `No results found for "tax"`, FormatSearchResults("tax", nil))
	assert.Equal(t, `No results found for "tax"`, FormatSearchResults("tax", &search.Response{}))
}

func TestFormatSearchResults_MixedSources(t *testing.T) {
	// Given: a hybrid response with a text and a vision hit
	resp := &search.Response{
		Mode:     search.ModeHybrid,
		Warnings: []string{"vision: backend unavailable"},
		Results: []search.FusedResult{
			{
				ID: "a-chunk-0", AttachmentID: "a", Source: search.SourceText, Score: 0.032,
				Text: &store.TextHit{TextChunk: store.TextChunk{
					Text:     "net income rose",
					Metadata: store.ChunkMetadata{DocumentName: "report.pdf"},
				}},
			},
			{
				ID: "a-page-1", AttachmentID: "a", Source: search.SourceVision, Score: 0.016,
				Vision: &store.VisionHit{VisionPage: store.VisionPage{
					Metadata: store.PageMetadata{DocumentName: "report.pdf", PageNumber: 2},
				}},
			},
		},
	}

	// When: rendered
	md := FormatSearchResults("income", resp)

	// Then: both hits, the mode and the warning appear
	assert.Contains(t, md, "Found 2 results (mode: hybrid)")
	assert.Contains(t, md, "> Warning: vision: backend unavailable")
	assert.Contains(t, md, "### 1. report.pdf\n")
	assert.Contains(t, md, "### 2. report.pdf, page 2")
	assert.Contains(t, md, "net income rose")
}

func TestToSearchResultOutput_FallsBackToAttachment(t *testing.T) {
	out := ToSearchResultOutput(search.FusedResult{ID: "x-chunk-0", AttachmentID: "x", Source: search.SourceText})
	assert.Empty(t, out.DocumentName)
	assert.Equal(t, "x", out.AttachmentID)
	assert.Contains(t, FormatSearchResults("q", &search.Response{Results: []search.FusedResult{{AttachmentID: "x"}}}), "### 1. x")
}

func TestSnippet_Truncates(t *testing.T) {
	long := strings.Repeat("é", maxSnippetRunes+10)
	got := snippet(long)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, maxSnippetRunes+3, len([]rune(got)))
	assert.Equal(t, "short", snippet("  short \n"))
}
