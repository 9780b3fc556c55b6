package index

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Franck-BRT/BlackIA-sub003/internal/embed"
	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
	"github.com/Franck-BRT/BlackIA-sub003/internal/logging"
	"github.com/Franck-BRT/BlackIA-sub003/internal/search"
	"github.com/Franck-BRT/BlackIA-sub003/internal/store"
)

func TestNewManager_RequiresDependencies(t *testing.T) {
	_, err := NewManager(nil, embed.NewStaticEmbedder(8), DefaultManagerConfig())
	assert.True(t, raerrors.IsKind(err, raerrors.ErrCodeInvalidInput))

	st := newTestStore(t)
	_, err = NewManager(st.Text, nil, DefaultManagerConfig())
	assert.Error(t, err)

	cfg := DefaultManagerConfig()
	cfg.Chunking.Overlap = cfg.Chunking.Size
	_, err = NewManager(st.Text, embed.NewStaticEmbedder(8), cfg)
	assert.True(t, raerrors.IsKind(err, raerrors.ErrCodeInvalidChunkingConfig))
}

func TestManager_EndToEnd(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, smallChunks())

	// Given: an eight-token text document chunked with size 4 and overlap 1
	doc := Document{AttachmentID: "letters", MimeType: "text/plain", Name: "letters.txt", Text: "A B C D E F G H"}

	// When: indexing it
	out, err := env.manager.AddOrReindex(ctx, doc)
	require.NoError(t, err)

	// Then: three overlapping chunks are stored
	assert.Equal(t, StatusIndexed, out.Status)
	assert.Equal(t, 3, out.ChunkCount)
	_, err = uuid.Parse(out.JobID)
	assert.NoError(t, err)

	hits, err := env.store.Text.GetAllByFilter(ctx, store.Filter{AttachmentIDs: []string{"letters"}}, 0)
	require.NoError(t, err)
	texts := make([]string, len(hits))
	for _, h := range hits {
		texts[h.ChunkIndex] = h.Text
		assert.Equal(t, "letters.txt", h.Metadata.DocumentName)
		assert.Equal(t, "static", h.Metadata.Model)
	}
	assert.Equal(t, []string{"A B C D", "D E F G", "G H"}, texts)

	st, ok := env.manager.State("letters")
	require.True(t, ok)
	assert.Equal(t, StatusIndexed, st.Status)
	assert.True(t, st.TextIndexed)
	assert.False(t, st.VisionIndexed)
	assert.Equal(t, 3, st.TextChunkCount)
	assert.False(t, st.LastIndexedAt.IsZero())
	assert.Empty(t, st.LastError)

	// And: the document is searchable
	eng := env.engine(t)
	resp, err := eng.Search(ctx, search.Query{Text: "E F G", Mode: search.ModeText})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Results)

	// When: deleting it
	require.NoError(t, env.manager.Delete(ctx, "letters"))

	// Then: search returns nothing and the state is reset
	resp, err = eng.Search(ctx, search.Query{Text: "E F G", Mode: search.ModeText})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)

	st, ok = env.manager.State("letters")
	assert.False(t, ok)
	assert.Equal(t, StatusUnindexed, st.Status)

	outcomes := env.sink.Outcomes()
	require.Len(t, outcomes, 2)
	assert.Equal(t, StatusIndexed, outcomes[0].Status)
	assert.Equal(t, StatusUnindexed, outcomes[1].Status)
}

func TestManager_ReindexIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, smallChunks())
	doc := Document{AttachmentID: "doc", MimeType: "text/plain", Text: "A B C D E F G H"}

	// Given: a document indexed twice
	_, err := env.manager.AddOrReindex(ctx, doc)
	require.NoError(t, err)
	_, err = env.manager.AddOrReindex(ctx, doc)
	require.NoError(t, err)

	// Then: rows are not duplicated
	n, err := env.store.Text.Count(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// When: reindexing with shorter text
	doc.Text = "A B C"
	out, err := env.manager.AddOrReindex(ctx, doc)
	require.NoError(t, err)

	// Then: only the new chunks remain
	assert.Equal(t, 1, out.ChunkCount)
	n, err = env.store.Text.Count(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestManager_ReindexKeepsOldRowsUntilSwap(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	text := newGatedEmbedder(embed.NewStaticEmbedder(64))
	vision := embed.NewStaticVisionEmbedder(32)
	m, err := NewManager(st.Text, text, smallChunks(),
		WithVision(st.Vision, vision),
		WithRemover(st.Maintenance),
		WithLogger(logging.Discard()))
	require.NoError(t, err)
	eng, err := search.NewEngine(st.Text, text, search.DefaultConfig(),
		search.WithVision(st.Vision, vision),
		search.WithLogger(logging.Discard()))
	require.NoError(t, err)

	// Given: a hybrid document with three chunks and two pages
	doc := Document{
		AttachmentID: "doc",
		MimeType:     "application/pdf",
		Text:         "A B C D E F G H",
		PageImages:   writePages(t, "alpha page", "beta page"),
		Mode:         search.ModeHybrid,
	}
	_, err = m.AddOrReindex(ctx, doc)
	require.NoError(t, err)
	countRows := func() (int, int) {
		f := store.Filter{AttachmentIDs: []string{"doc"}}
		textRows, err := st.Text.Count(ctx, f)
		require.NoError(t, err)
		visionRows, err := st.Vision.Count(ctx, f)
		require.NoError(t, err)
		return textRows, visionRows
	}
	textBefore, visionBefore := countRows()
	require.Equal(t, 3, textBefore)
	require.Equal(t, 2, visionBefore)

	// When: a reindex is held inside text embedding
	text.armed.Store(true)
	done := make(chan error, 1)
	go func() {
		_, err := m.AddOrReindex(ctx, doc)
		done <- err
	}()
	<-text.entered

	// Then: readers still see the previous text rows
	textDuring, _ := countRows()
	assert.Equal(t, 3, textDuring)
	resp, err := eng.Search(ctx, search.Query{Text: "A B C D", Mode: search.ModeText, TopK: 5, MinScore: -1})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 3)

	// And: once released, the new rows replace the old ones
	close(text.release)
	require.NoError(t, <-done)
	textAfter, visionAfter := countRows()
	assert.Equal(t, 3, textAfter)
	assert.Equal(t, 2, visionAfter)
}

func TestManager_ReindexClearsDroppedRepresentation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, smallChunks())

	// Given: a document indexed with both representations
	doc := Document{
		AttachmentID: "doc",
		MimeType:     "application/pdf",
		Text:         "A B C D E F G H",
		PageImages:   writePages(t, "alpha page"),
		Mode:         search.ModeHybrid,
	}
	_, err := env.manager.AddOrReindex(ctx, doc)
	require.NoError(t, err)

	// When: reindexing it text only
	doc.Mode = search.ModeText
	out, err := env.manager.AddOrReindex(ctx, doc)
	require.NoError(t, err)

	// Then: its vision pages are gone and the text rows remain
	assert.Equal(t, 3, out.ChunkCount)
	pages, err := env.store.Vision.Count(ctx, store.Filter{AttachmentIDs: []string{"doc"}})
	require.NoError(t, err)
	assert.Zero(t, pages)
	chunks, err := env.store.Text.Count(ctx, store.Filter{AttachmentIDs: []string{"doc"}})
	require.NoError(t, err)
	assert.Equal(t, 3, chunks)
}

func TestManager_FailedReindexClearsThatRepresentation(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	cfg := smallChunks()
	cfg.EmbedTimeout = 20 * time.Millisecond
	good, err := NewManager(st.Text, embed.NewStaticEmbedder(8), cfg, WithLogger(logging.Discard()))
	require.NoError(t, err)
	doc := Document{AttachmentID: "doc", MimeType: "text/plain", Text: "A B C D E F G H"}
	_, err = good.AddOrReindex(ctx, doc)
	require.NoError(t, err)

	// Given: the text backend stops answering
	bad, err := NewManager(st.Text, blockingEmbedder{embed.NewStaticEmbedder(8)}, cfg, WithLogger(logging.Discard()))
	require.NoError(t, err)

	// When: reindexing fails
	_, err = bad.AddOrReindex(ctx, doc)
	require.Error(t, err)

	// Then: no stale chunks outlive the Failed state
	state, _ := bad.State("doc")
	assert.Equal(t, StatusFailed, state.Status)
	assert.False(t, state.TextIndexed)
	n, err := st.Text.Count(ctx, store.Filter{AttachmentIDs: []string{"doc"}})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestManager_HybridDocument(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, smallChunks())

	// Given: a PDF with a short text layer and two rendered pages
	pages := writePages(t, "quarterly revenue chart", "appendix table")
	doc := Document{
		AttachmentID: "report",
		MimeType:     "application/pdf",
		Name:         "report.pdf",
		Text:         "quarterly revenue grew",
		PageImages:   pages,
		EntityType:   "project",
		EntityID:     "p1",
	}

	// When: indexing with auto mode
	out, err := env.manager.AddOrReindex(ctx, doc)
	require.NoError(t, err)

	// Then: both representations are stored
	st, _ := env.manager.State("report")
	assert.Equal(t, string(search.ModeHybrid), st.Mode)
	assert.True(t, st.TextIndexed)
	assert.True(t, st.VisionIndexed)
	assert.Equal(t, 2, out.PageCount)
	assert.Equal(t, 5, out.PatchCount)

	vhits, err := env.store.Vision.GetAllByFilter(ctx, store.Filter{EntityType: "project", EntityID: "p1"}, 0)
	require.NoError(t, err)
	require.Len(t, vhits, 2)
	for _, h := range vhits {
		assert.Equal(t, h.PageIndex+1, h.Metadata.PageNumber)
		assert.Equal(t, pages[h.PageIndex], h.Metadata.ImagePath)
		assert.Equal(t, "static-vision", h.Metadata.Model)
	}
}

func TestManager_VisionOnlyImage(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, smallChunks())
	pages := writePages(t, "diagram of the network")

	out, err := env.manager.AddOrReindex(ctx, Document{AttachmentID: "img", MimeType: "image/png", PageImages: pages})
	require.NoError(t, err)

	st, _ := env.manager.State("img")
	assert.Equal(t, string(search.ModeVision), st.Mode)
	assert.False(t, st.TextIndexed)
	assert.True(t, st.VisionIndexed)
	assert.Equal(t, 1, out.PageCount)
}

func TestManager_UnsupportedMimeSkipsVision(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, smallChunks())

	// Given: a markdown document forced to hybrid with page images
	doc := Document{
		AttachmentID: "notes",
		MimeType:     "text/markdown",
		Text:         "some notes here",
		PageImages:   writePages(t, "ignored"),
		Mode:         search.ModeHybrid,
	}

	// When: indexing it
	out, err := env.manager.AddOrReindex(ctx, doc)

	// Then: vision is skipped silently and text is indexed
	require.NoError(t, err)
	assert.True(t, out.VisionSkipped)
	assert.Equal(t, StatusIndexed, out.Status)
	n, err := env.store.Vision.Count(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Zero(t, n)
	st, _ := env.manager.State("notes")
	assert.True(t, st.TextIndexed)
	assert.True(t, st.VisionSkipped)
}

func TestManager_VisionWithoutEmbedderIsSkipped(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	m, err := NewManager(st.Text, embed.NewStaticEmbedder(16), smallChunks(), WithLogger(logging.Discard()))
	require.NoError(t, err)

	out, err := m.AddOrReindex(ctx, Document{AttachmentID: "img", MimeType: "image/png", PageImages: []string{"x.png"}})
	require.NoError(t, err)
	assert.True(t, out.VisionSkipped)
	assert.Equal(t, StatusIndexed, out.Status)
}

func TestManager_PartialFailureKeepsText(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sink := &MemorySink{}
	m, err := NewManager(st.Text, embed.NewStaticEmbedder(16), smallChunks(),
		WithVision(st.Vision, failingVision{}),
		WithSink(sink),
		WithLogger(logging.Discard()))
	require.NoError(t, err)

	// Given: a hybrid document whose vision backend is down
	doc := Document{
		AttachmentID: "report",
		MimeType:     "application/pdf",
		Text:         "short text layer",
		PageImages:   []string{"p1.png"},
	}

	// When: indexing it
	out, err := m.AddOrReindex(ctx, doc)

	// Then: the call fails but the text rows stay queryable
	require.Error(t, err)
	assert.True(t, raerrors.IsKind(err, raerrors.ErrCodeBackendUnavailable))
	assert.Equal(t, StatusFailed, out.Status)

	state, _ := m.State("report")
	assert.Equal(t, StatusFailed, state.Status)
	assert.True(t, state.TextIndexed)
	assert.False(t, state.VisionIndexed)
	assert.Contains(t, state.LastError, "vision sidecar down")

	n, err := st.Text.Count(ctx, store.Filter{AttachmentIDs: []string{"report"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, sink.Outcomes(), 1)
	assert.Error(t, sink.Outcomes()[0].Err)
}

func TestManager_EmbedTimeout(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	cfg := smallChunks()
	cfg.EmbedTimeout = 20 * time.Millisecond
	m, err := NewManager(st.Text, blockingEmbedder{embed.NewStaticEmbedder(8)}, cfg, WithLogger(logging.Discard()))
	require.NoError(t, err)

	// When: the embedder never answers
	_, err = m.AddOrReindex(ctx, Document{AttachmentID: "slow", MimeType: "text/plain", Text: "a b c"})

	// Then: the failure is an IndexingTimeout
	require.Error(t, err)
	assert.True(t, raerrors.IsKind(err, raerrors.ErrCodeIndexingTimeout))
	assert.True(t, raerrors.IsRetryable(err))
	state, _ := m.State("slow")
	assert.Equal(t, StatusFailed, state.Status)
}

func TestManager_CallerCancellationIsNotTimeout(t *testing.T) {
	st := newTestStore(t)
	m, err := NewManager(st.Text, blockingEmbedder{embed.NewStaticEmbedder(8)}, smallChunks(), WithLogger(logging.Discard()))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.AddOrReindex(ctx, Document{AttachmentID: "slow", MimeType: "text/plain", Text: "a b c"})
	require.Error(t, err)
	assert.False(t, raerrors.IsKind(err, raerrors.ErrCodeIndexingTimeout))
}

func TestManager_Validation(t *testing.T) {
	env := newTestEnv(t, smallChunks())
	_, err := env.manager.AddOrReindex(context.Background(), Document{AttachmentID: "  "})
	assert.True(t, raerrors.IsKind(err, raerrors.ErrCodeInvalidInput))
	assert.Error(t, env.manager.Delete(context.Background(), ""))
}

// countingRemover records DeleteAttachment calls before delegating.
type countingRemover struct {
	AttachmentRemover
	calls []string
}

func (c *countingRemover) DeleteAttachment(ctx context.Context, id string) (int, int, error) {
	c.calls = append(c.calls, id)
	return c.AttachmentRemover.DeleteAttachment(ctx, id)
}

func TestManager_DeleteRemovesBothInOneCall(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	remover := &countingRemover{AttachmentRemover: st.Maintenance}
	activity := &fakeActivity{}
	m, err := NewManager(st.Text, embed.NewStaticEmbedder(16), smallChunks(),
		WithVision(st.Vision, embed.NewStaticVisionEmbedder(8)),
		WithRemover(remover),
		WithActivity(activity),
		WithLogger(logging.Discard()))
	require.NoError(t, err)

	// Given: a hybrid document
	_, err = m.AddOrReindex(ctx, Document{
		AttachmentID: "doc",
		MimeType:     "application/pdf",
		Text:         "A B C D E F G H",
		PageImages:   writePages(t, "alpha page", "beta page"),
		Mode:         search.ModeHybrid,
	})
	require.NoError(t, err)

	// When: deleting it
	require.NoError(t, m.Delete(ctx, "doc"))

	// Then: one remover call cleared both representations
	assert.Equal(t, []string{"doc"}, remover.calls)
	ids, err := st.Maintenance.AttachmentIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
	_, deleted := activity.snapshot()
	assert.Equal(t, 5, deleted)
}

func TestManager_DeleteUnknownSucceeds(t *testing.T) {
	env := newTestEnv(t, smallChunks())
	assert.NoError(t, env.manager.Delete(context.Background(), "never-indexed"))
}

func TestManager_EmptyTextIsIndexedWithoutChunks(t *testing.T) {
	env := newTestEnv(t, smallChunks())
	out, err := env.manager.AddOrReindex(context.Background(), Document{AttachmentID: "blank", MimeType: "text/plain", Text: "   "})
	require.NoError(t, err)
	assert.Equal(t, StatusIndexed, out.Status)
	assert.Zero(t, out.ChunkCount)
}

func TestManager_StatesSorted(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, smallChunks())
	for _, id := range []string{"c", "a", "b"} {
		_, err := env.manager.AddOrReindex(ctx, Document{AttachmentID: id, MimeType: "text/plain", Text: "x y"})
		require.NoError(t, err)
	}
	states := env.manager.States()
	require.Len(t, states, 3)
	assert.Equal(t, "a", states[0].AttachmentID)
	assert.Equal(t, "c", states[2].AttachmentID)
}

func TestManager_PersistsStates(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	states := NewDBStateStore(st.DB)
	newManager := func() *Manager {
		m, err := NewManager(st.Text, embed.NewStaticEmbedder(16), smallChunks(),
			WithStateStore(states), WithLogger(logging.Discard()))
		require.NoError(t, err)
		return m
	}

	// Given: a document indexed by one manager, and a stuck record
	_, err := newManager().AddOrReindex(ctx, Document{AttachmentID: "doc", MimeType: "text/plain", Text: "A B C D E"})
	require.NoError(t, err)
	require.NoError(t, states.SaveState(ctx, State{AttachmentID: "stuck", Status: StatusIndexing}))

	// When: a new manager loads states
	m := newManager()
	n, err := m.LoadStates(ctx)
	require.NoError(t, err)

	// Then: both are restored and the stuck one is failed
	assert.Equal(t, 2, n)
	doc, ok := m.State("doc")
	require.True(t, ok)
	assert.Equal(t, StatusIndexed, doc.Status)
	assert.Equal(t, 2, doc.TextChunkCount)

	stuck, ok := m.State("stuck")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, stuck.Status)
	assert.NotEmpty(t, stuck.LastError)

	// And: delete removes the persisted state
	require.NoError(t, m.Delete(ctx, "doc"))
	loaded, err := states.LoadStates(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
}

func TestManager_ReportsActivity(t *testing.T) {
	ctx := context.Background()
	activity := &fakeActivity{}
	env := newTestEnv(t, smallChunks(), WithActivity(activity))
	doc := Document{AttachmentID: "doc", MimeType: "text/plain", Text: "A B C D E F G H"}

	_, err := env.manager.AddOrReindex(ctx, doc)
	require.NoError(t, err)
	_, err = env.manager.AddOrReindex(ctx, doc)
	require.NoError(t, err)
	require.NoError(t, env.manager.Delete(ctx, "doc"))

	touches, deleted := activity.snapshot()
	assert.GreaterOrEqual(t, touches, 2)
	assert.Equal(t, 6, deleted)
}

func TestManager_ConcurrentSameID(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, smallChunks())
	doc := Document{AttachmentID: "doc", MimeType: "text/plain", Text: "A B C D E F G H"}

	errs := make(chan error, 8)
	for range 8 {
		go func() {
			_, err := env.manager.AddOrReindex(ctx, doc)
			errs <- err
		}()
	}
	for range 8 {
		require.NoError(t, <-errs)
	}

	n, err := env.store.Text.Count(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Zero(t, env.manager.locks.Len())
}
