// Package validation measures retrieval quality against a data-driven
// query set. Each query names the attachments a correct answer must
// contain; queries are kept in a YAML file so the set can grow without a
// rebuild.
//
// Tier 1 queries must pass, tier 2 queries are tracked, and negative
// queries only have to complete without an internal error.
package validation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
	"github.com/Franck-BRT/BlackIA-sub003/internal/search"
)

// Tier groups queries by how strictly they are judged.
type Tier string

const (
	Tier1    Tier = "tier1"
	Tier2    Tier = "tier2"
	Negative Tier = "negative"
)

// QuerySpec is one query with the attachments it should retrieve.
type QuerySpec struct {
	ID       string   `yaml:"id" json:"id"`
	Name     string   `yaml:"name" json:"name"`
	Query    string   `yaml:"query" json:"query"`
	Mode     string   `yaml:"mode,omitempty" json:"mode,omitempty"`
	Expected []string `yaml:"expected" json:"expected,omitempty"`
	Notes    string   `yaml:"notes,omitempty" json:"notes,omitempty"`
	Tier     Tier     `yaml:"-" json:"tier"`
}

// QueryConfig is the query file layout.
type QueryConfig struct {
	Tier1    []QuerySpec `yaml:"tier1"`
	Tier2    []QuerySpec `yaml:"tier2"`
	Negative []QuerySpec `yaml:"negative"`
}

// All returns every query tagged with its tier, tier 1 first.
func (c *QueryConfig) All() []QuerySpec {
	var all []QuerySpec
	for _, group := range []struct {
		tier  Tier
		specs []QuerySpec
	}{{Tier1, c.Tier1}, {Tier2, c.Tier2}, {Negative, c.Negative}} {
		for _, s := range group.specs {
			s.Tier = group.tier
			all = append(all, s)
		}
	}
	return all
}

// LoadQueries reads a query file.
func LoadQueries(path string) (*QueryConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, raerrors.ValidationError(fmt.Sprintf("cannot read query file %s", path), err)
	}
	return ParseQueries(data)
}

// ParseQueries decodes a query file and checks that every positive query
// has expectations.
func ParseQueries(data []byte) (*QueryConfig, error) {
	var cfg QueryConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, raerrors.ValidationError("invalid query file", err)
	}
	for _, s := range cfg.All() {
		if s.ID == "" {
			return nil, raerrors.ValidationError(fmt.Sprintf("%s query %q has no id", s.Tier, s.Query), nil)
		}
		if s.Tier != Negative && len(s.Expected) == 0 {
			return nil, raerrors.ValidationError(fmt.Sprintf("query %s lists no expected attachments", s.ID), nil)
		}
		if s.Mode != "" {
			if _, err := search.ParseMode(s.Mode); err != nil {
				return nil, raerrors.ValidationError(fmt.Sprintf("query %s: %v", s.ID, err), nil)
			}
		}
	}
	return &cfg, nil
}

// TestResult is the outcome of one query.
type TestResult struct {
	Spec       QuerySpec     `json:"spec"`
	Passed     bool          `json:"passed"`
	Duration   time.Duration `json:"duration_ns"`
	Mode       string        `json:"mode,omitempty"`
	TopResults []string      `json:"top_results"`
	// MatchedAt is the 0-based rank of the first expected attachment, -1
	// when none was returned.
	MatchedAt int    `json:"matched_at"`
	Found     int    `json:"found"`
	Error     string `json:"error,omitempty"`
}

// TierSummary aggregates one tier.
type TierSummary struct {
	Passed int `json:"passed"`
	Total  int `json:"total"`
	// MRR is the mean reciprocal rank of the first expected hit.
	MRR float64 `json:"mrr"`
	// Recall is the share of expected attachments found in the top K.
	Recall float64 `json:"recall"`
}

// Result is a full run.
type Result struct {
	Timestamp time.Time            `json:"timestamp"`
	TopK      int                  `json:"top_k"`
	Results   []TestResult         `json:"results"`
	Tiers     map[Tier]TierSummary `json:"tiers"`
}

// Failed reports whether any tier 1 query failed.
func (r *Result) Failed() bool {
	s := r.Tiers[Tier1]
	return s.Passed < s.Total
}

// Validator runs query sets through a searcher.
type Validator struct {
	searcher search.Searcher
	topK     int
}

// DefaultTopK is the result depth a query is judged on.
const DefaultTopK = 10

// NewValidator judges queries on the top topK results.
func NewValidator(searcher search.Searcher, topK int) *Validator {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Validator{searcher: searcher, topK: topK}
}

// RunQuery executes spec and checks its expectations.
func (v *Validator) RunQuery(ctx context.Context, spec QuerySpec) TestResult {
	res := TestResult{Spec: spec, MatchedAt: -1}

	mode := search.ModeAuto
	if spec.Mode != "" {
		mode, _ = search.ParseMode(spec.Mode)
	}
	start := time.Now()
	resp, err := v.searcher.Search(ctx, search.Query{Text: spec.Query, TopK: v.topK, Mode: mode})
	res.Duration = time.Since(start)
	if err != nil {
		// A rejected negative query is still a pass: it failed cleanly.
		var re *raerrors.RAGError
		res.Passed = spec.Tier == Negative && errors.As(err, &re) && re.Category == raerrors.CategoryValidation
		res.Error = err.Error()
		return res
	}

	res.Mode = string(resp.Mode)
	seen := make(map[string]bool)
	for _, r := range resp.Results {
		if seen[r.AttachmentID] {
			continue
		}
		seen[r.AttachmentID] = true
		res.TopResults = append(res.TopResults, r.AttachmentID)
	}
	if spec.Tier == Negative {
		res.Passed = true
		return res
	}
	res.MatchedAt, res.Found = checkExpected(res.TopResults, spec.Expected)
	res.Passed = res.MatchedAt >= 0
	return res
}

// RunAll executes every query of cfg.
func (v *Validator) RunAll(ctx context.Context, cfg *QueryConfig) *Result {
	out := &Result{
		Timestamp: time.Now(),
		TopK:      v.topK,
		Tiers:     make(map[Tier]TierSummary),
	}
	rr := make(map[Tier]float64)
	found := make(map[Tier]int)
	expected := make(map[Tier]int)

	for _, spec := range cfg.All() {
		if ctx.Err() != nil {
			break
		}
		tr := v.RunQuery(ctx, spec)
		out.Results = append(out.Results, tr)

		s := out.Tiers[spec.Tier]
		s.Total++
		if tr.Passed {
			s.Passed++
		}
		out.Tiers[spec.Tier] = s
		if tr.MatchedAt >= 0 {
			rr[spec.Tier] += 1 / float64(tr.MatchedAt+1)
		}
		found[spec.Tier] += tr.Found
		expected[spec.Tier] += len(spec.Expected)
	}

	for tier, s := range out.Tiers {
		if tier == Negative {
			continue
		}
		if s.Total > 0 {
			s.MRR = rr[tier] / float64(s.Total)
		}
		if expected[tier] > 0 {
			s.Recall = float64(found[tier]) / float64(expected[tier])
		}
		out.Tiers[tier] = s
	}
	return out
}

// checkExpected returns the rank of the first expected attachment and how
// many expected attachments appear at all.
func checkExpected(results, expected []string) (first, found int) {
	first = -1
	want := make(map[string]bool, len(expected))
	for _, e := range expected {
		want[e] = true
	}
	for i, id := range results {
		if !want[id] {
			continue
		}
		if first < 0 {
			first = i
		}
		found++
	}
	return first, found
}
