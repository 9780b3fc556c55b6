package search

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Franck-BRT/BlackIA-sub003/internal/embed"
	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
	"github.com/Franck-BRT/BlackIA-sub003/internal/logging"
	"github.com/Franck-BRT/BlackIA-sub003/internal/store"
)

type fakeText struct {
	hits []store.TextHit
	err  error
	got  store.Filter
}

func (f *fakeText) Search(_ context.Context, _ []float32, topK int, filter store.TextFilter) ([]store.TextHit, error) {
	f.got = filter
	if f.err != nil {
		return nil, f.err
	}
	return f.hits[:min(topK, len(f.hits))], nil
}

type fakeVision struct {
	res store.VisionResults
	err error
}

func (f *fakeVision) SearchMaxSim(_ context.Context, _ [][]float32, topK int, _ store.VisionFilter) (store.VisionResults, error) {
	if f.err != nil {
		return store.VisionResults{}, f.err
	}
	res := f.res
	res.Hits = res.Hits[:min(topK, len(res.Hits))]
	return res, nil
}

func newTestEngine(t *testing.T, text TextSearcher, vision VisionSearcher) *Engine {
	t.Helper()
	opts := []EngineOption{WithLogger(logging.Discard())}
	if vision != nil {
		opts = append(opts, WithVision(vision, embed.NewStaticVisionEmbedder(8)))
	}
	e, err := NewEngine(text, embed.NewStaticEmbedder(8), DefaultConfig(), opts...)
	require.NoError(t, err)
	return e
}

func TestEngine_TextMode(t *testing.T) {
	// Given: three ranked text hits
	text := &fakeText{hits: textHits("a", "b", "c")}
	e := newTestEngine(t, text, nil)

	// When: searching in text mode with topK 2
	resp, err := e.Search(context.Background(), Query{Text: "revenue", Mode: ModeText, TopK: 2})
	require.NoError(t, err)

	// Then: cosine scores pass through in order
	assert.Equal(t, ModeText, resp.Mode)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "a", resp.Results[0].ID)
	assert.Equal(t, 1.0, resp.Results[0].Score)
	assert.Equal(t, SourceText, resp.Results[0].Source)
}

func TestEngine_MinScoreFiltersPerSource(t *testing.T) {
	text := &fakeText{hits: textHits("a", "b", "c")} // 1.0, 0.9, 0.8
	e := newTestEngine(t, text, nil)

	resp, err := e.Search(context.Background(), Query{Text: "q", Mode: ModeText, MinScore: 0.85})
	require.NoError(t, err)

	assert.Equal(t, []string{"text:a", "text:b"}, identities(resp.Results))
}

func TestEngine_HybridFusesBothSources(t *testing.T) {
	// Given: text and vision hits
	text := &fakeText{hits: textHits("c1", "c2")}
	vision := &fakeVision{res: store.VisionResults{Hits: visionHits("p1"), Truncated: true}}
	e := newTestEngine(t, text, vision)

	// When: auto mode without attachment filter
	resp, err := e.Search(context.Background(), Query{Text: "show me the chart on page 3"})
	require.NoError(t, err)

	// Then: hybrid with RRF scores
	assert.Equal(t, ModeHybrid, resp.Mode)
	assert.Equal(t, []string{"text:c1", "vision:p1", "text:c2"}, identities(resp.Results))
	assert.InDelta(t, 1.0/61, resp.Results[0].Score, 1e-12)
	assert.True(t, resp.VisionTruncated)
	assert.Equal(t, 2, resp.TextCount)
	assert.Equal(t, 1, resp.VisionCount)
}

func TestEngine_HybridDegradesWhenOneSourceFails(t *testing.T) {
	text := &fakeText{hits: textHits("c1")}
	vision := &fakeVision{err: raerrors.StoreIOError("disk gone", nil)}
	e := newTestEngine(t, text, vision)

	resp, err := e.Search(context.Background(), Query{Text: "q", Mode: ModeHybrid})
	require.NoError(t, err)

	assert.Equal(t, []string{"text:c1"}, identities(resp.Results))
	require.Len(t, resp.Warnings, 1)
	assert.Contains(t, resp.Warnings[0], "vision")
}

func TestEngine_HybridFailsWhenBothSourcesFail(t *testing.T) {
	text := &fakeText{err: errors.New("text down")}
	vision := &fakeVision{err: errors.New("vision down")}
	e := newTestEngine(t, text, vision)

	_, err := e.Search(context.Background(), Query{Text: "q", Mode: ModeHybrid})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "text down")
	assert.Contains(t, err.Error(), "vision down")
}

func TestEngine_VisionWithoutBackend(t *testing.T) {
	e := newTestEngine(t, &fakeText{}, nil)

	_, err := e.Search(context.Background(), Query{Text: "q", Mode: ModeVision})

	assert.ErrorIs(t, err, raerrors.ErrBackendUnavailable)
}

func TestEngine_EmptyQueryAndTopK(t *testing.T) {
	e := newTestEngine(t, &fakeText{hits: textHits("a")}, nil)

	_, err := e.Search(context.Background(), Query{Text: "   "})
	assert.Equal(t, raerrors.ErrCodeQueryEmpty, raerrors.GetCode(err))

	resp, err := e.Search(context.Background(), Query{Text: "q", TopK: -1, Mode: ModeText})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestEngine_PassesFilters(t *testing.T) {
	text := &fakeText{}
	e := newTestEngine(t, text, nil)
	f := store.Filter{EntityType: "workspace", EntityID: "w1", AttachmentIDs: []string{"a"}}

	_, err := e.Search(context.Background(), Query{Text: "summarize", Filters: f})
	require.NoError(t, err)

	assert.Equal(t, f, text.got)
}

func TestNewEngine_RequiresDependencies(t *testing.T) {
	_, err := NewEngine(nil, embed.NewStaticEmbedder(8), DefaultConfig())
	assert.ErrorIs(t, err, ErrNilDependency)

	_, err = NewEngine(&fakeText{}, nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrNilDependency)

	_, err = NewEngine(&fakeText{}, embed.NewStaticEmbedder(8), EngineConfig{RRFConstant: -5})
	assert.ErrorIs(t, err, raerrors.ErrInvalidRRFConstant)
}

func TestEngine_OverRealStore(t *testing.T) {
	// Given: a store with one text document and one page image
	ctx := context.Background()
	st, err := store.OpenStore(ctx, store.Options{DataDir: t.TempDir(), Logger: logging.Discard()})
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	te := embed.NewStaticEmbedder(64)
	ve := embed.NewStaticVisionEmbedder(64)

	texts := []string{"the annual budget for marketing", "hiking trails in the alps"}
	vecs, err := te.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.NoError(t, st.Text.IndexChunks(ctx, []store.TextChunk{
		{AttachmentID: "doc", ChunkIndex: 0, Text: texts[0], Vector: vecs[0]},
		{AttachmentID: "doc", ChunkIndex: 1, Text: texts[1], Vector: vecs[1]},
	}))

	img := filepath.Join(t.TempDir(), "page.png")
	require.NoError(t, os.WriteFile(img, []byte("budget chart"), 0o644))
	pages, err := ve.EmbedPages(ctx, []string{img})
	require.NoError(t, err)
	require.NoError(t, st.Vision.IndexPages(ctx, []store.VisionPage{
		{AttachmentID: "scan", PageIndex: 0, Patches: pages[0]},
	}))

	e, err := NewEngine(st.Text, te, DefaultConfig(),
		WithVision(st.Vision, ve), WithLogger(logging.Discard()))
	require.NoError(t, err)

	// When: a hybrid query
	resp, err := e.Search(ctx, Query{Text: "marketing budget", TopK: 3})
	require.NoError(t, err)

	// Then: both sources contribute and the relevant chunk leads the text side
	assert.Equal(t, ModeHybrid, resp.Mode)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, "text:doc-chunk-0", resp.Results[0].Identity())
	assert.Contains(t, identities(resp.Results), "vision:scan-page-0")
}
