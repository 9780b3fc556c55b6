// Package vision implements late-interaction (MaxSim) scoring over
// multi-vector page embeddings.
package vision

import (
	"math"

	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
)

// Cosine returns dot(a,b)/(|a||b|). It returns 0 when either norm is zero
// or the lengths differ, so the result is never NaN or Inf.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Norm returns the Euclidean length of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Query is a patch set with precomputed norms, reused across candidates.
type Query struct {
	patches [][]float32
	norms   []float64
	dim     int
}

// NewQuery validates that every patch has the same dimension.
func NewQuery(patches [][]float32) (*Query, error) {
	q := &Query{patches: patches, norms: make([]float64, len(patches))}
	for i, p := range patches {
		if i == 0 {
			q.dim = len(p)
		} else if len(p) != q.dim {
			return nil, raerrors.DimensionMismatch(q.dim, len(p)).
				WithDetail("patch", "query")
		}
		q.norms[i] = Norm(p)
	}
	return q, nil
}

// Len returns the number of query patches.
func (q *Query) Len() int { return len(q.patches) }

// Dim returns the patch dimension, 0 for an empty query.
func (q *Query) Dim() int { return q.dim }

// Score computes Σ_i max_j cos(q_i, d_j) against doc.
// A doc patch of a different dimension yields EmbeddingDimensionMismatch.
// An empty doc scores 0.
func (q *Query) Score(doc [][]float32) (float64, error) {
	if len(doc) == 0 || len(q.patches) == 0 {
		return 0, nil
	}

	docNorms := make([]float64, len(doc))
	for j, d := range doc {
		if len(d) != q.dim {
			return 0, raerrors.DimensionMismatch(q.dim, len(d))
		}
		docNorms[j] = Norm(d)
	}

	var total float64
	for i, qp := range q.patches {
		if q.norms[i] == 0 {
			continue
		}
		best := math.Inf(-1)
		for j, dp := range doc {
			sim := 0.0
			if docNorms[j] != 0 {
				sim = dot(qp, dp) / (q.norms[i] * docNorms[j])
			}
			if sim > best {
				best = sim
			}
		}
		total += best
	}
	return total, nil
}

// MaxSim scores doc against query. See Query.Score.
func MaxSim(query, doc [][]float32) (float64, error) {
	q, err := NewQuery(query)
	if err != nil {
		return 0, err
	}
	return q.Score(doc)
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
