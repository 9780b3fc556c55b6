package vision

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
)

// Scored is a candidate's MaxSim result.
type Scored struct {
	Key   string
	Score float64
}

// Scorer fans candidate scoring out over a bounded number of goroutines.
// Add blocks while all workers are busy, so callers can stream candidates
// straight from storage without materializing them all.
type Scorer struct {
	query  *Query
	ctx    context.Context
	group  *errgroup.Group
	logger *slog.Logger

	mu      sync.Mutex
	results []Scored
	skipped int
}

// NewScorer creates a scorer. workers <= 0 means runtime.NumCPU().
func NewScorer(ctx context.Context, query *Query, workers int, logger *slog.Logger) *Scorer {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = slog.Default()
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	return &Scorer{query: query, ctx: gctx, group: g, logger: logger}
}

// Add schedules key for scoring. decode is called on a worker goroutine.
// Candidates that fail with a dimension mismatch are logged and skipped.
func (s *Scorer) Add(key string, decode func() ([][]float32, error)) {
	s.group.Go(func() error {
		if err := s.ctx.Err(); err != nil {
			return err
		}
		patches, err := decode()
		if err != nil {
			return err
		}
		score, err := s.query.Score(patches)
		if err != nil {
			if raerrors.IsKind(err, raerrors.ErrCodeDimensionMismatch) {
				s.logger.Warn("vision candidate skipped",
					slog.String("id", key),
					slog.String("error", err.Error()))
				s.mu.Lock()
				s.skipped++
				s.mu.Unlock()
				return nil
			}
			return err
		}
		s.mu.Lock()
		s.results = append(s.results, Scored{Key: key, Score: score})
		s.mu.Unlock()
		return nil
	})
}

// Wait blocks until every candidate is scored. It returns the scores in
// completion order and the number of skipped candidates.
func (s *Scorer) Wait() ([]Scored, int, error) {
	if err := s.group.Wait(); err != nil {
		return nil, 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results, s.skipped, nil
}
