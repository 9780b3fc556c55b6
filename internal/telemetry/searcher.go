package telemetry

import (
	"context"
	"time"

	"github.com/Franck-BRT/BlackIA-sub003/internal/search"
)

// Searcher records every successful search of an inner searcher.
type Searcher struct {
	inner   search.Searcher
	metrics *QueryMetrics
}

// Instrument wraps inner. A nil metrics returns inner unchanged.
func Instrument(inner search.Searcher, metrics *QueryMetrics) search.Searcher {
	if metrics == nil {
		return inner
	}
	return &Searcher{inner: inner, metrics: metrics}
}

// Search runs q and records its mode, latency and result count.
func (s *Searcher) Search(ctx context.Context, q search.Query) (*search.Response, error) {
	start := time.Now()
	resp, err := s.inner.Search(ctx, q)
	if err != nil {
		return resp, err
	}
	s.metrics.Record(QueryEvent{
		Query:       q.Text,
		Mode:        resp.Mode,
		ResultCount: len(resp.Results),
		Degraded:    len(resp.Warnings) > 0,
		Latency:     time.Since(start),
		Timestamp:   start,
	})
	return resp, nil
}

var _ search.Searcher = (*Searcher)(nil)
