package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Franck-BRT/BlackIA-sub003/internal/embed"
	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
	"github.com/Franck-BRT/BlackIA-sub003/internal/store"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("required dependency is nil")

// Default query settings.
const (
	DefaultTopK = 10
	MaxTopK     = 100
)

// EngineConfig configures query defaults.
type EngineConfig struct {
	RRFConstant int
	DefaultTopK int
	DefaultMode Mode
	MinScore    float64
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() EngineConfig {
	return EngineConfig{
		RRFConstant: DefaultRRFConstant,
		DefaultTopK: DefaultTopK,
		DefaultMode: ModeAuto,
	}
}

// Engine runs text, vision or hybrid queries.
type Engine struct {
	text           TextSearcher
	vision         VisionSearcher
	textEmbedder   embed.TextEmbedder
	visionEmbedder embed.VisionEmbedder
	fusion         *RRFFusion
	selector       ModeSelector
	config         EngineConfig
	logger         *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithVision enables the vision path. Without it, vision queries fail with
// BackendUnavailable and hybrid queries return text results with a warning.
func WithVision(idx VisionSearcher, embedder embed.VisionEmbedder) EngineOption {
	return func(e *Engine) {
		e.vision = idx
		e.visionEmbedder = embedder
	}
}

// WithModeSelector replaces the default cached KeywordSelector.
func WithModeSelector(sel ModeSelector) EngineOption {
	return func(e *Engine) {
		e.selector = sel
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates a search engine over the text index. Vision is optional.
func NewEngine(text TextSearcher, embedder embed.TextEmbedder, config EngineConfig, opts ...EngineOption) (*Engine, error) {
	if text == nil {
		return nil, fmt.Errorf("%w: text index is required", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: text embedder is required", ErrNilDependency)
	}
	if config.RRFConstant == 0 {
		config.RRFConstant = DefaultRRFConstant
	}
	fusion, err := NewRRFFusionWithK(config.RRFConstant)
	if err != nil {
		return nil, err
	}
	if config.DefaultTopK <= 0 {
		config.DefaultTopK = DefaultTopK
	}
	if config.DefaultMode == "" {
		config.DefaultMode = ModeAuto
	}

	e := &Engine{
		text:         text,
		textEmbedder: embedder,
		fusion:       fusion,
		config:       config,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.selector == nil {
		e.selector = NewCachedSelector(NewKeywordSelector(), DefaultModeCacheSize)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e, nil
}

// sourceResult is the outcome of one per-source search.
type sourceResult struct {
	text      []store.TextHit
	vision    []store.VisionHit
	truncated bool
	err       error
}

// Search executes q. Each source fetches TopK hits, filtered by MinScore.
// Text and vision run in parallel for hybrid queries; if one source fails the
// other's results are returned with a warning. An error is returned only when
// every requested source failed.
func (e *Engine) Search(ctx context.Context, q Query) (*Response, error) {
	start := time.Now()

	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return nil, raerrors.New(raerrors.ErrCodeQueryEmpty, "query is empty", nil)
	}
	q = e.applyDefaults(q)

	resp := &Response{Results: []FusedResult{}}
	if q.TopK <= 0 {
		resp.Mode = q.Mode
		return resp, nil
	}

	mode := ResolveMode(ctx, e.selector, q.Mode, q.Text, q.Filters, e.logger)
	resp.Mode = mode

	var textRes, visionRes sourceResult
	g, gctx := errgroup.WithContext(ctx)
	if mode == ModeText || mode == ModeHybrid {
		g.Go(func() error {
			textRes = e.searchText(gctx, q)
			return nil
		})
	}
	if mode == ModeVision || mode == ModeHybrid {
		g.Go(func() error {
			visionRes = e.searchVision(gctx, q)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp.TextCount = len(textRes.text)
	resp.VisionCount = len(visionRes.vision)
	resp.VisionTruncated = visionRes.truncated

	switch mode {
	case ModeText:
		if textRes.err != nil {
			return nil, textRes.err
		}
		resp.Results = textResults(textRes.text)
	case ModeVision:
		if visionRes.err != nil {
			return nil, visionRes.err
		}
		resp.Results = visionResults(visionRes.vision)
	default:
		if textRes.err != nil && visionRes.err != nil {
			return nil, errors.Join(textRes.err, visionRes.err)
		}
		for _, w := range []struct {
			source string
			err    error
		}{{"text", textRes.err}, {"vision", visionRes.err}} {
			if w.err != nil {
				e.logger.Warn("search source failed, continuing with partial results",
					slog.String("source", w.source),
					slog.String("error", w.err.Error()))
				resp.Warnings = append(resp.Warnings, fmt.Sprintf("%s search failed: %v", w.source, w.err))
			}
		}
		fused, err := e.fusion.Fuse(textRes.text, visionRes.vision)
		if err != nil {
			return nil, err
		}
		resp.Results = fused
	}

	if len(resp.Results) > q.TopK {
		resp.Results = resp.Results[:q.TopK]
	}
	resp.Took = time.Since(start)

	e.logger.Debug("search_completed",
		slog.String("mode", string(mode)),
		slog.Int("text_hits", resp.TextCount),
		slog.Int("vision_hits", resp.VisionCount),
		slog.Int("results", len(resp.Results)),
		slog.Duration("took", resp.Took))
	return resp, nil
}

func (e *Engine) applyDefaults(q Query) Query {
	if q.TopK == 0 {
		q.TopK = e.config.DefaultTopK
	}
	if q.TopK > MaxTopK {
		q.TopK = MaxTopK
	}
	if q.Mode == "" {
		q.Mode = e.config.DefaultMode
	}
	if q.MinScore == 0 {
		q.MinScore = e.config.MinScore
	}
	return q
}

func (e *Engine) searchText(ctx context.Context, q Query) sourceResult {
	vec, err := e.textEmbedder.Embed(ctx, q.Text)
	if err != nil {
		return sourceResult{err: fmt.Errorf("embed query: %w", err)}
	}
	hits, err := e.text.Search(ctx, vec, q.TopK, q.Filters)
	if err != nil {
		return sourceResult{err: err}
	}
	kept := make([]store.TextHit, 0, len(hits))
	for _, h := range hits {
		if h.Score >= q.MinScore {
			kept = append(kept, h)
		}
	}
	return sourceResult{text: kept}
}

func (e *Engine) searchVision(ctx context.Context, q Query) sourceResult {
	if e.vision == nil || e.visionEmbedder == nil {
		return sourceResult{err: raerrors.BackendUnavailable("vision search is not configured", nil)}
	}
	patches, err := e.visionEmbedder.EmbedQuery(ctx, q.Text)
	if err != nil {
		return sourceResult{err: fmt.Errorf("embed vision query: %w", err)}
	}
	if len(patches) == 0 {
		return sourceResult{}
	}
	res, err := e.vision.SearchMaxSim(ctx, patches, q.TopK, q.Filters)
	if err != nil {
		return sourceResult{err: err}
	}
	kept := make([]store.VisionHit, 0, len(res.Hits))
	for _, h := range res.Hits {
		if h.Score/float64(len(patches)) >= q.MinScore {
			kept = append(kept, h)
		}
	}
	return sourceResult{vision: kept, truncated: res.Truncated}
}

// Stats reports the engine's static configuration.
type Stats struct {
	RRFConstant   int
	DefaultTopK   int
	DefaultMode   Mode
	VisionEnabled bool
	TextModel     string
	VisionModel   string
}

// Stats returns the engine configuration.
func (e *Engine) Stats() Stats {
	s := Stats{
		RRFConstant:   e.fusion.K,
		DefaultTopK:   e.config.DefaultTopK,
		DefaultMode:   e.config.DefaultMode,
		VisionEnabled: e.vision != nil && e.visionEmbedder != nil,
		TextModel:     e.textEmbedder.ModelName(),
	}
	if e.visionEmbedder != nil {
		s.VisionModel = e.visionEmbedder.ModelName()
	}
	return s
}

var _ Searcher = (*Engine)(nil)
