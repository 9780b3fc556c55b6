package index

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Franck-BRT/BlackIA-sub003/internal/chunk"
	"github.com/Franck-BRT/BlackIA-sub003/internal/embed"
	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
	"github.com/Franck-BRT/BlackIA-sub003/internal/logging"
	"github.com/Franck-BRT/BlackIA-sub003/internal/search"
	"github.com/Franck-BRT/BlackIA-sub003/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.OpenStore(context.Background(), store.Options{
		DataDir: t.TempDir(),
		Logger:  logging.Discard(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type testEnv struct {
	store   *store.Store
	manager *Manager
	sink    *MemorySink
	text    embed.TextEmbedder
	vision  embed.VisionEmbedder
}

// newTestEnv wires a Manager to a fresh store with static embedders.
func newTestEnv(t *testing.T, cfg ManagerConfig, opts ...ManagerOption) *testEnv {
	t.Helper()
	st := newTestStore(t)
	env := &testEnv{
		store:  st,
		sink:   &MemorySink{},
		text:   embed.NewStaticEmbedder(64),
		vision: embed.NewStaticVisionEmbedder(32),
	}
	base := []ManagerOption{
		WithVision(st.Vision, env.vision),
		WithRemover(st.Maintenance),
		WithSink(env.sink),
		WithLogger(logging.Discard()),
	}
	m, err := NewManager(st.Text, env.text, cfg, append(base, opts...)...)
	require.NoError(t, err)
	env.manager = m
	return env
}

func (e *testEnv) engine(t *testing.T) *search.Engine {
	t.Helper()
	eng, err := search.NewEngine(e.store.Text, e.text, search.DefaultConfig(),
		search.WithVision(e.store.Vision, e.vision),
		search.WithLogger(logging.Discard()))
	require.NoError(t, err)
	return eng
}

func smallChunks() ManagerConfig {
	cfg := DefaultManagerConfig()
	cfg.Chunking = chunk.Options{Size: 4, Overlap: 1, Separator: chunk.DefaultSeparator}
	return cfg
}

// writePages writes one text file per page; the static vision embedder
// turns their words into patches.
func writePages(t *testing.T, pages ...string) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, len(pages))
	for i, content := range pages {
		paths[i] = filepath.Join(dir, "page-"+string(rune('a'+i))+".png")
		require.NoError(t, os.WriteFile(paths[i], []byte(content), 0o644))
	}
	return paths
}

// failingVision fails every page embedding.
type failingVision struct{}

func (failingVision) EmbedPages(context.Context, []string) ([][][]float32, error) {
	return nil, raerrors.BackendUnavailable("vision sidecar down", nil)
}
func (failingVision) EmbedQuery(context.Context, string) ([][]float32, error) {
	return nil, raerrors.BackendUnavailable("vision sidecar down", nil)
}
func (failingVision) ModelName() string              { return "failing" }
func (failingVision) Available(context.Context) bool { return false }
func (failingVision) Close() error                   { return nil }

// blockingEmbedder blocks until its context is done.
type blockingEmbedder struct{ embed.TextEmbedder }

func (blockingEmbedder) EmbedBatch(ctx context.Context, _ []string) ([][]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// gatedEmbedder blocks EmbedBatch once armed: it signals entered, then
// waits for release.
type gatedEmbedder struct {
	embed.TextEmbedder
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newGatedEmbedder(inner embed.TextEmbedder) *gatedEmbedder {
	return &gatedEmbedder{
		TextEmbedder: inner,
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
}

func (g *gatedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if g.armed.Load() {
		close(g.entered)
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.TextEmbedder.EmbedBatch(ctx, texts)
}

// fakeActivity records Manager notifications.
type fakeActivity struct {
	mu      sync.Mutex
	touches int
	deleted int
}

func (f *fakeActivity) Touch() {
	f.mu.Lock()
	f.touches++
	f.mu.Unlock()
}

func (f *fakeActivity) RecordDeleted(n int) {
	f.mu.Lock()
	f.deleted += n
	f.mu.Unlock()
}

func (f *fakeActivity) snapshot() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.touches, f.deleted
}

// fakeCompacter counts compactions; when block is set it waits for
// cancellation.
type fakeCompacter struct {
	mu    sync.Mutex
	calls int
	block bool
	errs  []error
}

func (f *fakeCompacter) Compact(ctx context.Context) error {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()
	if block {
		select {
		case <-ctx.Done():
			f.mu.Lock()
			f.errs = append(f.errs, ctx.Err())
			f.mu.Unlock()
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
	return nil
}

func (f *fakeCompacter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeCompacter) interrupted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.errs)
}
