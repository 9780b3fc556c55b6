// Package integration exercises the store, lifecycle manager, search
// engine and watcher together over a real database file.
package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Franck-BRT/BlackIA-sub003/internal/config"
	"github.com/Franck-BRT/BlackIA-sub003/internal/embed"
	"github.com/Franck-BRT/BlackIA-sub003/internal/index"
	"github.com/Franck-BRT/BlackIA-sub003/internal/logging"
	"github.com/Franck-BRT/BlackIA-sub003/internal/search"
	"github.com/Franck-BRT/BlackIA-sub003/internal/store"
	"github.com/Franck-BRT/BlackIA-sub003/internal/telemetry"
)

// stack is one opened index with every component wired.
type stack struct {
	store     *store.Store
	manager   *index.Manager
	engine    *search.Engine
	searcher  search.Searcher
	metrics   *telemetry.QueryMetrics
	compactor *index.Compactor
	checker   *index.ConsistencyChecker
	sink      *index.MemorySink
}

// openStack opens dataDir with static embedders. Opening the same dir
// twice in sequence exercises persistence.
func openStack(t *testing.T, dataDir string) *stack {
	t.Helper()
	ctx := context.Background()
	logger := logging.Discard()

	st, err := store.OpenStore(ctx, store.Options{DataDir: dataDir, Logger: logger})
	require.NoError(t, err)

	text := embed.NewStaticEmbedder(64)
	vision := embed.NewStaticVisionEmbedder(32)
	s := &stack{store: st, sink: &index.MemorySink{}}

	s.compactor = index.NewCompactor(st.Maintenance, config.CompactionConfig{
		Enabled:         true,
		DeleteThreshold: 1,
	}, logger)

	s.manager, err = index.NewManager(st.Text, text, index.DefaultManagerConfig(),
		index.WithVision(st.Vision, vision),
		index.WithStateStore(index.NewDBStateStore(st.DB)),
		index.WithRemover(st.Maintenance),
		index.WithActivity(s.compactor),
		index.WithSink(s.sink),
		index.WithLogger(logger))
	require.NoError(t, err)
	_, err = s.manager.LoadStates(ctx)
	require.NoError(t, err)

	s.engine, err = search.NewEngine(st.Text, text, search.DefaultConfig(),
		search.WithVision(st.Vision, vision),
		search.WithLogger(logger))
	require.NoError(t, err)

	ms, err := telemetry.NewSQLiteStore(ctx, st.DB.SQL())
	require.NoError(t, err)
	s.metrics = telemetry.New(ms, telemetry.Config{}, logger)
	s.searcher = telemetry.Instrument(s.engine, s.metrics)

	s.checker = index.NewConsistencyChecker(s.manager, st.Maintenance, logger)
	return s
}

func (s *stack) close(t *testing.T) {
	t.Helper()
	s.compactor.Stop()
	require.NoError(t, s.metrics.Close())
	require.NoError(t, s.store.Close())
}

func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func indexFile(t *testing.T, s *stack, path string, mode search.Mode) index.Outcome {
	t.Helper()
	doc, err := index.DocumentFromFile(path, index.RunnerConfig{Mode: mode})
	require.NoError(t, err)
	out, err := s.manager.AddOrReindex(context.Background(), doc)
	require.NoError(t, err)
	return out
}

func attachmentIDs(resp *search.Response) []string {
	ids := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		ids = append(ids, r.AttachmentID)
	}
	return ids
}
