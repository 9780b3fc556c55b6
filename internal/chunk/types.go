// Package chunk splits extracted document text into overlapping token windows.
package chunk

import (
	"fmt"

	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
)

// Chunking defaults.
const (
	DefaultChunkSize = 500    // Whitespace tokens per window
	DefaultOverlap   = 50     // Tokens shared by consecutive windows
	DefaultSeparator = "\n\n" // Paragraph boundary used for provenance
)

// Options configures a chunking run.
type Options struct {
	// Size is the window length in tokens.
	Size int
	// Overlap is the number of tokens repeated at the start of the next window.
	Overlap int
	// Separator delimits paragraphs. It does not affect tokenization.
	Separator string
}

// DefaultOptions returns the default chunking options.
func DefaultOptions() Options {
	return Options{
		Size:      DefaultChunkSize,
		Overlap:   DefaultOverlap,
		Separator: DefaultSeparator,
	}
}

// Validate reports InvalidChunkingConfig for unusable options.
func (o Options) Validate() error {
	if o.Size <= 0 {
		return raerrors.New(raerrors.ErrCodeInvalidChunkingConfig,
			fmt.Sprintf("chunk size must be > 0, got %d", o.Size), nil)
	}
	if o.Overlap < 0 || o.Overlap >= o.Size {
		return raerrors.New(raerrors.ErrCodeInvalidChunkingConfig,
			fmt.Sprintf("overlap must be in [0, %d), got %d", o.Size, o.Overlap), nil).
			WithSuggestion("Use an overlap smaller than the chunk size")
	}
	return nil
}

// Stride is the number of tokens a window advances by.
func (o Options) Stride() int {
	return o.Size - o.Overlap
}

// Draft is a chunk before it is embedded and stored.
type Draft struct {
	Index int    // Zero-based, sequential
	Text  string // Tokens joined by a single space

	TokenStart int // First token offset (inclusive)
	TokenEnd   int // Last token offset (exclusive)
	LineStart  int // 1-indexed source line of the first token
	LineEnd    int // 1-indexed source line of the last token
	Paragraph  int // 1-indexed paragraph of the first token
}

// TokenCount returns the number of tokens in the draft.
func (d Draft) TokenCount() int {
	return d.TokenEnd - d.TokenStart
}

// Chunker splits text into drafts.
type Chunker interface {
	Chunk(text string) ([]Draft, error)
}
