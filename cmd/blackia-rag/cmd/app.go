package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Franck-BRT/BlackIA-sub003/internal/chunk"
	"github.com/Franck-BRT/BlackIA-sub003/internal/config"
	"github.com/Franck-BRT/BlackIA-sub003/internal/embed"
	"github.com/Franck-BRT/BlackIA-sub003/internal/index"
	"github.com/Franck-BRT/BlackIA-sub003/internal/preflight"
	"github.com/Franck-BRT/BlackIA-sub003/internal/search"
	"github.com/Franck-BRT/BlackIA-sub003/internal/store"
	"github.com/Franck-BRT/BlackIA-sub003/internal/telemetry"
)

// app is one opened index: configuration, store, embedders and the
// components built on them.
type app struct {
	root    string
	dataDir string
	cfg     *config.Config
	logger  *slog.Logger

	lock      *store.DirLock
	store     *store.Store
	text      embed.TextEmbedder
	vision    embed.VisionEmbedder
	manager   *index.Manager
	engine    *search.Engine
	searcher  search.Searcher
	metrics   *telemetry.QueryMetrics
	compactor *index.Compactor
	checker   *index.ConsistencyChecker
}

type openOptions struct {
	// write takes the data directory lock.
	write bool
	// noEmbedders skips backend construction for maintenance commands.
	noEmbedders bool
	sinks       []index.OutcomeSink
}

// loadConfig resolves --root and loads its configuration, switching to
// static embeddings under --offline.
func loadConfig(ro *rootOptions) (string, *config.Config, error) {
	root, err := filepath.Abs(ro.root)
	if err != nil {
		return "", nil, fmt.Errorf("resolve root: %w", err)
	}
	cfg, err := config.Load(root)
	if err != nil {
		return "", nil, err
	}
	if ro.offline {
		cfg.Embeddings.Provider = string(embed.ProviderStatic)
		if cfg.Embeddings.VisionProvider != string(embed.ProviderNone) {
			cfg.Embeddings.VisionProvider = string(embed.ProviderStatic)
		}
	}
	return root, cfg, nil
}

func openApp(ctx context.Context, ro *rootOptions, oo openOptions) (*app, error) {
	root, cfg, err := loadConfig(ro)
	if err != nil {
		return nil, err
	}

	a := &app{
		root:    root,
		dataDir: cfg.DataPath(root),
		cfg:     cfg,
		logger:  ro.logger(),
	}

	if oo.write {
		a.lock = store.NewDirLock(a.dataDir)
		if err := a.lock.TryLock(); err != nil {
			return nil, err
		}
	}

	a.store, err = store.OpenStore(ctx, store.Options{
		DataDir:       a.dataDir,
		ANNEnabled:    cfg.Text.ANNEnabled,
		ANNMinRows:    cfg.Text.ANNMinRows,
		ANNOversample: cfg.Text.ANNOversample,
		MaxCandidates: cfg.Vision.MaxCandidates,
		Workers:       cfg.Vision.Workers,
		Logger:        a.logger,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.compactor = index.NewCompactor(a.store.Maintenance, cfg.Compaction, a.logger)

	if oo.noEmbedders {
		// Maintenance commands need states only.
		a.manager, err = a.newManager(embed.NewStaticEmbedder(0), nil, oo.sinks)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
	} else {
		if err := a.openEmbedders(ctx); err != nil {
			_ = a.Close()
			return nil, err
		}
		a.manager, err = a.newManager(a.text, a.vision, oo.sinks)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.engine, err = a.newEngine()
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		if err := a.openMetrics(ctx); err != nil {
			_ = a.Close()
			return nil, err
		}
		a.searcher = telemetry.Instrument(a.engine, a.metrics)
	}

	if _, err := a.manager.LoadStates(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	a.checker = index.NewConsistencyChecker(a.manager, a.store.Maintenance, a.logger)
	return a, nil
}

func (a *app) openEmbedders(ctx context.Context) error {
	fo := embed.FactoryOptions{Logger: a.logger, RequestTimeout: a.cfg.EmbedTimeout()}
	text, err := embed.NewTextEmbedder(ctx, a.cfg.Embeddings, fo)
	if err != nil {
		return err
	}
	a.text = text

	vision, err := embed.NewVisionEmbedder(ctx, a.cfg.Embeddings, fo)
	if err != nil {
		// Text-only operation stays possible when the vision service is down.
		a.logger.Warn("vision embedder unavailable, continuing text-only",
			slog.String("error", err.Error()))
		return nil
	}
	a.vision = vision
	return nil
}

func (a *app) newManager(text embed.TextEmbedder, vision embed.VisionEmbedder, sinks []index.OutcomeSink) (*index.Manager, error) {
	mc := index.DefaultManagerConfig()
	mc.Chunking = chunk.Options{
		Size:      a.cfg.Chunking.Size,
		Overlap:   a.cfg.Chunking.Overlap,
		Separator: a.cfg.Chunking.Separator,
	}
	mc.EmbedTimeout = a.cfg.EmbedTimeout()
	mc.TextThreshold = a.cfg.Index.TextThreshold

	opts := []index.ManagerOption{
		index.WithStateStore(index.NewDBStateStore(a.store.DB)),
		index.WithRemover(a.store.Maintenance),
		index.WithActivity(a.compactor),
		index.WithLogger(a.logger),
		index.WithSink(index.MultiSink(append([]index.OutcomeSink{index.LogSink{Logger: a.logger}}, sinks...)...)),
	}
	if vision != nil {
		opts = append(opts, index.WithVision(a.store.Vision, vision))
	}
	return index.NewManager(a.store.Text, text, mc, opts...)
}

func (a *app) newEngine() (*search.Engine, error) {
	mode, err := search.ParseMode(a.cfg.Search.DefaultMode)
	if err != nil {
		return nil, err
	}
	ec := search.EngineConfig{
		RRFConstant: a.cfg.Search.RRFConstant,
		DefaultTopK: a.cfg.Search.TopK,
		DefaultMode: mode,
		MinScore:    a.cfg.Search.MinScore,
	}
	opts := []search.EngineOption{
		search.WithLogger(a.logger),
		search.WithModeSelector(search.NewCachedSelector(search.NewKeywordSelector(), a.cfg.Search.ModeCacheSize)),
	}
	if a.vision != nil {
		opts = append(opts, search.WithVision(a.store.Vision, a.vision))
	}
	return search.NewEngine(a.store.Text, a.text, ec, opts...)
}

// openMetrics attaches query statistics when search.query_metrics is set.
func (a *app) openMetrics(ctx context.Context) error {
	if !a.cfg.Search.QueryMetrics {
		return nil
	}
	st, err := telemetry.NewSQLiteStore(ctx, a.store.DB.SQL())
	if err != nil {
		return err
	}
	a.metrics = telemetry.New(st, telemetry.DefaultConfig(), a.logger)
	return nil
}

// Close stops background work and releases the store, embedders and lock.
func (a *app) Close() error {
	var errs []error
	if a.compactor != nil {
		a.compactor.Stop()
	}
	if a.metrics != nil {
		errs = append(errs, a.metrics.Close())
	}
	if a.text != nil {
		errs = append(errs, a.text.Close())
	}
	if a.vision != nil {
		errs = append(errs, a.vision.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.lock != nil {
		errs = append(errs, a.lock.Unlock())
	}
	return errors.Join(errs...)
}

// embedderKey identifies the configured text backend for the preflight marker.
func (a *app) embedderKey() string {
	return preflight.EmbedderKey(a.cfg.Embeddings.Provider, a.cfg.Embeddings.Model)
}

// indexExists reports whether the data directory already holds a database.
func indexExists(ro *rootOptions) bool {
	root, cfg, err := loadConfig(ro)
	if err != nil {
		return false
	}
	_, err = os.Stat(filepath.Join(cfg.DataPath(root), store.DefaultDBName))
	return err == nil
}
