// Package search answers queries over the text and vision indexes.
// Per-source results are merged with Reciprocal Rank Fusion (RRF), and the
// search mode can be chosen automatically from the query.
package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
	"github.com/Franck-BRT/BlackIA-sub003/internal/store"
)

// Mode selects which representations a query searches.
type Mode string

const (
	// ModeAuto lets the ModeSelector decide.
	ModeAuto Mode = "auto"
	// ModeText searches text chunks only.
	ModeText Mode = "text"
	// ModeVision searches page patches only.
	ModeVision Mode = "vision"
	// ModeHybrid searches both and fuses with RRF.
	ModeHybrid Mode = "hybrid"
)

// ParseMode parses a mode name. The empty string means ModeAuto.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeText, ModeVision, ModeHybrid:
		return m, nil
	default:
		return "", raerrors.ValidationError(fmt.Sprintf("unknown search mode %q", s), nil).
			WithSuggestion("Use one of: auto, text, vision, hybrid")
	}
}

// Source tags where a result came from.
type Source string

const (
	SourceText   Source = "text"
	SourceVision Source = "vision"
)

// Query is a search request.
type Query struct {
	// Text is the natural-language query.
	Text string

	// TopK is the number of results to return (default: 10).
	TopK int

	// MinScore drops per-source hits below this similarity before fusion.
	// Text hits compare their cosine; vision hits compare MaxSim divided by
	// the number of query patches.
	MinScore float64

	// Mode is auto, text, vision or hybrid (default: engine default).
	Mode Mode

	// Filters restricts both indexes.
	Filters store.Filter
}

// FusedResult is one ranked result.
type FusedResult struct {
	// ID is the chunk or page id.
	ID           string
	AttachmentID string

	// Score is the cosine (text mode), MaxSim (vision mode) or RRF score (hybrid).
	Score  float64
	Source Source

	// TextRank and VisionRank are 1-based positions in the source lists, 0 if absent.
	TextRank   int
	VisionRank int

	// Lists is the number of input lists the identity appeared in.
	Lists int

	Text   *store.TextHit
	Vision *store.VisionHit
}

// Identity is the cross-list key "<source>:<id>".
func (r FusedResult) Identity() string {
	return string(r.Source) + ":" + r.ID
}

// Response is the result of Engine.Search.
type Response struct {
	Results []FusedResult

	// Mode is the mode actually executed (never ModeAuto).
	Mode Mode

	// TextCount and VisionCount are the per-source hit counts before fusion.
	TextCount   int
	VisionCount int

	// VisionTruncated reports that the vision candidate cap was reached.
	VisionTruncated bool

	// Warnings lists sources that failed while the other succeeded.
	Warnings []string

	Took time.Duration
}

// Searcher is the query API exposed to the CLI and the MCP server.
type Searcher interface {
	Search(ctx context.Context, q Query) (*Response, error)
}

// TextSearcher is the text index as seen by the engine.
type TextSearcher interface {
	Search(ctx context.Context, query []float32, topK int, f store.TextFilter) ([]store.TextHit, error)
}

// VisionSearcher is the vision index as seen by the engine.
type VisionSearcher interface {
	SearchMaxSim(ctx context.Context, query [][]float32, topK int, f store.VisionFilter) (store.VisionResults, error)
}
