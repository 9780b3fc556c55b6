package mcp

import "github.com/Franck-BRT/BlackIA-sub003/internal/async"

// SearchInput is the input schema of the search tool.
type SearchInput struct {
	Query         string   `json:"query" jsonschema:"the natural-language query"`
	Limit         int      `json:"limit,omitempty" jsonschema:"maximum number of results, default 10, max 100"`
	Mode          string   `json:"mode,omitempty" jsonschema:"auto, text, vision or hybrid; default auto"`
	MinScore      float64  `json:"min_score,omitempty" jsonschema:"drop per-source hits below this similarity"`
	AttachmentIDs []string `json:"attachment_ids,omitempty" jsonschema:"restrict to these documents"`
	EntityType    string   `json:"entity_type,omitempty" jsonschema:"restrict to documents attached to this entity type"`
	EntityID      string   `json:"entity_id,omitempty" jsonschema:"restrict to documents attached to this entity"`
}

// SearchOutput is the output schema of the search tool.
type SearchOutput struct {
	Mode     string               `json:"mode" jsonschema:"the mode actually executed"`
	Results  []SearchResultOutput `json:"results"`
	Warnings []string             `json:"warnings,omitempty" jsonschema:"sources that failed while the other succeeded"`
	Markdown string               `json:"markdown" jsonschema:"human-readable rendering of the results"`
}

// SearchResultOutput is one ranked result.
type SearchResultOutput struct {
	ID           string  `json:"id" jsonschema:"chunk or page id"`
	AttachmentID string  `json:"attachment_id"`
	Source       string  `json:"source" jsonschema:"text or vision"`
	Score        float64 `json:"score"`
	TextRank     int     `json:"text_rank,omitempty"`
	VisionRank   int     `json:"vision_rank,omitempty"`
	DocumentName string  `json:"document_name,omitempty"`
	Text         string  `json:"text,omitempty" jsonschema:"matched chunk text"`
	PageNumber   int     `json:"page_number,omitempty" jsonschema:"1-based page of a vision hit"`
}

// IndexDocumentInput is the input schema of the index_document tool.
type IndexDocumentInput struct {
	Path         string `json:"path,omitempty" jsonschema:"file to extract and index; page images are read from <name>.pages"`
	AttachmentID string `json:"attachment_id,omitempty" jsonschema:"document id; defaults to the file name without extension"`
	Text         string `json:"text,omitempty" jsonschema:"raw text to index when no path is given"`
	MimeType     string `json:"mime_type,omitempty" jsonschema:"mime type of raw text, default text/plain"`
	Name         string `json:"name,omitempty" jsonschema:"display name"`
	Mode         string `json:"mode,omitempty" jsonschema:"auto, text, vision or hybrid; default picks from the content"`
	EntityType   string `json:"entity_type,omitempty"`
	EntityID     string `json:"entity_id,omitempty"`
}

// IndexDocumentOutput reports one indexing run.
type IndexDocumentOutput struct {
	JobID         string `json:"job_id"`
	AttachmentID  string `json:"attachment_id"`
	Status        string `json:"status"`
	ChunkCount    int    `json:"chunk_count"`
	PageCount     int    `json:"page_count"`
	PatchCount    int    `json:"patch_count"`
	VisionSkipped bool   `json:"vision_skipped,omitempty"`
	DurationMS    int64  `json:"duration_ms"`
	Error         string `json:"error,omitempty"`
}

// DeleteDocumentInput is the input schema of the delete_document tool.
type DeleteDocumentInput struct {
	AttachmentID string `json:"attachment_id" jsonschema:"document id to remove from both indexes"`
}

// DeleteDocumentOutput confirms a deletion.
type DeleteDocumentOutput struct {
	AttachmentID string `json:"attachment_id"`
	Deleted      bool   `json:"deleted"`
}

// IndexStatusInput is the input schema of the index_status tool.
type IndexStatusInput struct {
	AttachmentID string `json:"attachment_id,omitempty" jsonschema:"report a single document instead of the whole index"`
}

// IndexStatusOutput is the output schema of the index_status tool.
type IndexStatusOutput struct {
	Stats      IndexStats              `json:"stats"`
	Documents  map[string]int          `json:"documents" jsonschema:"document count per lifecycle status"`
	Document   *DocumentStatus         `json:"document,omitempty"`
	Embeddings []EmbedderStatus        `json:"embeddings"`
	Background *async.ProgressSnapshot `json:"background,omitempty" jsonschema:"progress of the startup catch-up scan of the watched directory"`
}

// IndexStats summarizes store contents.
type IndexStats struct {
	TextChunks    int   `json:"text_chunks"`
	VisionPages   int   `json:"vision_pages"`
	VisionPatches int   `json:"vision_patches"`
	Attachments   int   `json:"attachments"`
	FileSizeBytes int64 `json:"file_size_bytes"`
}

// DocumentStatus is the lifecycle state of one document.
type DocumentStatus struct {
	AttachmentID     string `json:"attachment_id"`
	Status           string `json:"status"`
	Known            bool   `json:"known"`
	Mode             string `json:"mode,omitempty"`
	TextChunkCount   int    `json:"text_chunk_count"`
	PageCount        int    `json:"page_count"`
	VisionPatchCount int    `json:"vision_patch_count"`
	VisionSkipped    bool   `json:"vision_skipped,omitempty"`
	LastIndexedAt    string `json:"last_indexed_at,omitempty"`
	LastError        string `json:"last_error,omitempty"`
}

// EmbedderStatus reports one embedding backend.
type EmbedderStatus struct {
	Kind       string `json:"kind" jsonschema:"text or vision"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions,omitempty"`
	Status     string `json:"status" jsonschema:"ready or unavailable"`
}
