// Package store persists text chunks and vision pages in SQLite and answers
// similarity queries over them.
package store

import (
	"fmt"
	"time"
)

// ChunkID returns the identifier of chunk index of an attachment.
func ChunkID(attachmentID string, index int) string {
	return fmt.Sprintf("%s-chunk-%d", attachmentID, index)
}

// PageID returns the identifier of a page of an attachment.
func PageID(attachmentID string, pageIndex int) string {
	return fmt.Sprintf("%s-page-%d", attachmentID, pageIndex)
}

// ChunkMetadata is provenance stored with every text chunk.
type ChunkMetadata struct {
	DocumentName string `json:"document_name,omitempty"`
	Model        string `json:"model,omitempty"`
	LineStart    int    `json:"line_start,omitempty"`
	LineEnd      int    `json:"line_end,omitempty"`
	TokenStart   int    `json:"token_start"`
	TokenEnd     int    `json:"token_end"`
	Paragraph    int    `json:"paragraph,omitempty"`
}

// PageMetadata is provenance stored with every vision page.
type PageMetadata struct {
	DocumentName string `json:"document_name,omitempty"`
	Model        string `json:"model,omitempty"`
	PageNumber   int    `json:"page_number"` // PageIndex + 1
	NumPatches   int    `json:"num_patches"`
	EmbeddingDim int    `json:"embedding_dim"`
	ImagePath    string `json:"image_path,omitempty"`
}

// TextChunk is one embedded window of a document's text.
type TextChunk struct {
	ID           string
	AttachmentID string
	ChunkIndex   int
	Text         string
	Vector       []float32
	EntityType   string
	EntityID     string
	Metadata     ChunkMetadata
	CreatedAt    time.Time
}

// VisionPage is the patch embeddings of one rendered page.
type VisionPage struct {
	ID           string
	AttachmentID string
	PageIndex    int // 0-based, contiguous per attachment
	Patches      [][]float32
	EntityType   string
	EntityID     string
	Metadata     PageMetadata
	CreatedAt    time.Time
}

// TextHit is a ranked text chunk. Vector is not populated.
type TextHit struct {
	TextChunk
	Score float64
}

// VisionHit is a ranked vision page. Patches are not populated.
type VisionHit struct {
	VisionPage
	Score float64
}

// Filter restricts a search to a subset of rows. Zero values match everything.
type Filter struct {
	EntityType    string
	EntityID      string
	AttachmentIDs []string
}

// TextFilter restricts text searches.
type TextFilter = Filter

// VisionFilter restricts vision searches.
type VisionFilter = Filter

// HasAttachments reports whether the filter names attachments.
func (f Filter) HasAttachments() bool {
	return len(f.AttachmentIDs) > 0
}

// IsEmpty reports whether the filter matches every row.
func (f Filter) IsEmpty() bool {
	return f.EntityType == "" && f.EntityID == "" && len(f.AttachmentIDs) == 0
}

// VisionResults is the outcome of a MaxSim search.
type VisionResults struct {
	Hits []VisionHit
	// Candidates is the number of pages scored.
	Candidates int
	// Truncated is set when the candidate cap cut off older pages.
	Truncated bool
	// Skipped counts candidates dropped for a dimension mismatch.
	Skipped int
}

// Stats summarizes store contents.
type Stats struct {
	TextChunks          int
	VisionPages         int
	VisionPatches       int
	TextAttachments     int
	VisionAttachments   int
	DistinctAttachments int
	TextDimensions      []int
	VisionDimensions    []int
	TextVectorBytes     int64
	VisionPatchBytes    int64
	FileSizeBytes       int64
	ANNNodes            int
	ANNOrphans          int
}

// AttachmentCounts is the per-attachment row count used by consistency checks.
type AttachmentCounts struct {
	Chunks  int
	Pages   int
	Patches int
}
