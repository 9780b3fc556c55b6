package search

import (
	"fmt"
	"sort"

	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
	"github.com/Franck-BRT/BlackIA-sub003/internal/store"
)

// DefaultRRFConstant is the standard RRF smoothing parameter.
const DefaultRRFConstant = 60

// RRFFusion merges ranked lists with Reciprocal Rank Fusion.
//
// Algorithm: RRF_score(d) = Σ 1 / (k + rank_i(d))
//
// rank_i is the 1-based position of d in list i. A list that does not
// contain d contributes nothing, so single-list items keep their score.
// Scores are not normalized.
type RRFFusion struct {
	K int // RRF smoothing constant (default: 60)
}

// NewRRFFusion creates a fusion with k=60.
func NewRRFFusion() *RRFFusion {
	return &RRFFusion{K: DefaultRRFConstant}
}

// NewRRFFusionWithK creates a fusion with a custom k.
// k <= 0 yields InvalidRRFConstant.
func NewRRFFusionWithK(k int) (*RRFFusion, error) {
	if k <= 0 {
		return nil, invalidK(k)
	}
	return &RRFFusion{K: k}, nil
}

func invalidK(k int) error {
	return raerrors.New(raerrors.ErrCodeInvalidRRFConstant,
		fmt.Sprintf("rrf constant must be > 0, got %d", k), nil)
}

// Fuse merges text and vision hits. Each input must already be ranked.
//
// Results are sorted by: Score (desc) → Lists (more first) → text before
// vision → identity (asc).
func (f *RRFFusion) Fuse(text []store.TextHit, vision []store.VisionHit) ([]FusedResult, error) {
	if f.K <= 0 {
		return nil, invalidK(f.K)
	}
	if len(text) == 0 && len(vision) == 0 {
		return []FusedResult{}, nil
	}

	scores := make(map[string]*FusedResult, len(text)+len(vision))

	for rank, hit := range text {
		r := f.getOrCreate(scores, FusedResult{ID: hit.ID, AttachmentID: hit.AttachmentID, Source: SourceText})
		if r.TextRank == 0 {
			r.TextRank = rank + 1
			r.Text = &hit
			r.Lists++
		}
		r.Score += 1.0 / float64(f.K+rank+1)
	}

	for rank, hit := range vision {
		r := f.getOrCreate(scores, FusedResult{ID: hit.ID, AttachmentID: hit.AttachmentID, Source: SourceVision})
		if r.VisionRank == 0 {
			r.VisionRank = rank + 1
			r.Vision = &hit
			r.Lists++
		}
		r.Score += 1.0 / float64(f.K+rank+1)
	}

	return toSortedSlice(scores), nil
}

// getOrCreate returns the accumulator for r's identity.
func (f *RRFFusion) getOrCreate(m map[string]*FusedResult, r FusedResult) *FusedResult {
	key := r.Identity()
	if existing, ok := m[key]; ok {
		return existing
	}
	m[key] = &r
	return &r
}

func toSortedSlice(m map[string]*FusedResult) []FusedResult {
	results := make([]FusedResult, 0, len(m))
	for _, r := range m {
		results = append(results, *r)
	}
	sort.Slice(results, func(i, j int) bool {
		return compare(results[i], results[j])
	})
	return results
}

// compare reports whether a ranks before b.
func compare(a, b FusedResult) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Lists != b.Lists {
		return a.Lists > b.Lists
	}
	if a.Source != b.Source {
		return a.Source == SourceText
	}
	return a.Identity() < b.Identity()
}

// textResults converts ranked text hits without fusion.
func textResults(hits []store.TextHit) []FusedResult {
	out := make([]FusedResult, len(hits))
	for i := range hits {
		hit := hits[i]
		out[i] = FusedResult{
			ID:           hit.ID,
			AttachmentID: hit.AttachmentID,
			Score:        hit.Score,
			Source:       SourceText,
			TextRank:     i + 1,
			Lists:        1,
			Text:         &hit,
		}
	}
	return out
}

// visionResults converts ranked vision hits without fusion.
func visionResults(hits []store.VisionHit) []FusedResult {
	out := make([]FusedResult, len(hits))
	for i := range hits {
		hit := hits[i]
		out[i] = FusedResult{
			ID:           hit.ID,
			AttachmentID: hit.AttachmentID,
			Score:        hit.Score,
			Source:       SourceVision,
			VisionRank:   i + 1,
			Lists:        1,
			Vision:       &hit,
		}
	}
	return out
}
