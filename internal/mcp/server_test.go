package mcp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Franck-BRT/BlackIA-sub003/internal/async"
	"github.com/Franck-BRT/BlackIA-sub003/internal/embed"
	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
	"github.com/Franck-BRT/BlackIA-sub003/internal/index"
	"github.com/Franck-BRT/BlackIA-sub003/internal/logging"
	"github.com/Franck-BRT/BlackIA-sub003/internal/search"
	"github.com/Franck-BRT/BlackIA-sub003/internal/store"
)

type testServer struct {
	srv     *Server
	manager *index.Manager
	store   *store.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st, err := store.OpenStore(context.Background(), store.Options{
		DataDir: t.TempDir(),
		Logger:  logging.Discard(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	text := embed.NewStaticEmbedder(64)
	vision := embed.NewStaticVisionEmbedder(32)
	mgr, err := index.NewManager(st.Text, text, index.DefaultManagerConfig(),
		index.WithVision(st.Vision, vision),
		index.WithRemover(st.Maintenance),
		index.WithLogger(logging.Discard()))
	require.NoError(t, err)
	eng, err := search.NewEngine(st.Text, text, search.DefaultConfig(),
		search.WithVision(st.Vision, vision),
		search.WithLogger(logging.Discard()))
	require.NoError(t, err)

	srv, err := NewServer(Dependencies{
		Searcher:       eng,
		Manager:        mgr,
		Stats:          st.Maintenance,
		TextEmbedder:   text,
		VisionEmbedder: vision,
		Logger:         logging.Discard(),
	})
	require.NoError(t, err)
	return &testServer{srv: srv, manager: mgr, store: st}
}

func (ts *testServer) index(t *testing.T, id, text string) {
	t.Helper()
	_, err := ts.srv.CallTool(context.Background(), "index_document", map[string]any{
		"attachment_id": id,
		"text":          text,
		"mode":          "text",
	})
	require.NoError(t, err)
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	_, err := NewServer(Dependencies{})
	require.Error(t, err)

	ts := newTestServer(t)
	_, err = NewServer(Dependencies{Searcher: ts.srv.deps.Searcher})
	require.Error(t, err)
}

func TestServer_ListTools(t *testing.T) {
	// Given: a server
	ts := newTestServer(t)

	// When: listing tools
	got := ts.srv.ListTools()

	// Then: the four tools are present
	names := make([]string, 0, len(got))
	for _, tool := range got {
		names = append(names, tool.Name)
		assert.NotEmpty(t, tool.Description)
	}
	assert.Equal(t, []string{"search", "index_document", "delete_document", "index_status"}, names)
	assert.NotNil(t, ts.srv.MCPServer())
}

func TestServer_IndexSearchDelete(t *testing.T) {
	// Given: a server with two indexed documents
	ts := newTestServer(t)
	ts.index(t, "lease", "the lease agreement runs for three years with annual rent review")
	ts.index(t, "menu", "soup of the day and a selection of desserts")

	// When: searching in text mode
	res, err := ts.srv.CallTool(context.Background(), "search", map[string]any{
		"query": "lease agreement rent",
		"mode":  "text",
		"limit": 1,
	})

	// Then: the matching document ranks first
	require.NoError(t, err)
	out := res.(SearchOutput)
	assert.Equal(t, "text", out.Mode)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "lease", out.Results[0].AttachmentID)
	assert.Equal(t, "text", out.Results[0].Source)
	assert.Contains(t, out.Markdown, "lease")

	// When: the document is deleted
	res, err = ts.srv.CallTool(context.Background(), "delete_document", map[string]any{"attachment_id": "lease"})

	// Then: it no longer appears
	require.NoError(t, err)
	assert.True(t, res.(DeleteDocumentOutput).Deleted)
	res, err = ts.srv.CallTool(context.Background(), "search", map[string]any{
		"query":          "lease agreement rent",
		"mode":           "text",
		"attachment_ids": []string{"lease"},
	})
	require.NoError(t, err)
	assert.Empty(t, res.(SearchOutput).Results)
}

func TestServer_IndexDocumentFromPath(t *testing.T) {
	// Given: a text file on disk
	ts := newTestServer(t)
	path := filepath.Join(t.TempDir(), "minutes.txt")
	require.NoError(t, os.WriteFile(path, []byte("board meeting minutes"), 0o644))

	// When: indexing it by path
	res, err := ts.srv.CallTool(context.Background(), "index_document", map[string]any{"path": path})

	// Then: the id is derived from the file name
	require.NoError(t, err)
	out := res.(IndexDocumentOutput)
	assert.Equal(t, "minutes", out.AttachmentID)
	assert.Equal(t, string(index.StatusIndexed), out.Status)
	assert.Equal(t, 1, out.ChunkCount)
	assert.NotEmpty(t, out.JobID)
}

func TestServer_IndexDocumentValidation(t *testing.T) {
	ts := newTestServer(t)
	tests := []struct {
		name string
		args map[string]any
	}{
		{name: "no path or id", args: map[string]any{"text": "orphan text"}},
		{name: "bad mode", args: map[string]any{"attachment_id": "x", "mode": "audio"}},
		{name: "missing file", args: map[string]any{"path": filepath.Join(t.TempDir(), "nope.txt")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ts.srv.CallTool(context.Background(), "index_document", tt.args)
			require.Error(t, err)
			var me *MCPError
			require.True(t, errors.As(err, &me))
			assert.Equal(t, ErrCodeInvalidParams, me.Code)
		})
	}
}

func TestServer_SearchValidation(t *testing.T) {
	ts := newTestServer(t)

	for _, args := range []map[string]any{
		nil,
		{"query": "   "},
		{"query": "x", "mode": "fuzzy"},
	} {
		_, err := ts.srv.CallTool(context.Background(), "search", args)
		var me *MCPError
		require.True(t, errors.As(err, &me), "args %v", args)
		assert.Equal(t, ErrCodeInvalidParams, me.Code)
	}
}

func TestServer_DeleteRequiresID(t *testing.T) {
	ts := newTestServer(t)
	_, err := ts.srv.CallTool(context.Background(), "delete_document", map[string]any{})
	var me *MCPError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, ErrCodeInvalidParams, me.Code)
}

func TestServer_IndexStatus(t *testing.T) {
	// Given: one indexed document
	ts := newTestServer(t)
	ts.index(t, "memo", "quarterly revenue grew by ten percent")

	// When: asking for the index and the document status
	res, err := ts.srv.CallTool(context.Background(), "index_status", map[string]any{"attachment_id": "memo"})

	// Then: counts and embedders are reported
	require.NoError(t, err)
	out := res.(IndexStatusOutput)
	assert.Equal(t, 1, out.Stats.TextChunks)
	assert.Equal(t, 1, out.Stats.Attachments)
	assert.Equal(t, map[string]int{"indexed": 1}, out.Documents)
	require.NotNil(t, out.Document)
	assert.True(t, out.Document.Known)
	assert.Equal(t, "indexed", out.Document.Status)
	assert.NotEmpty(t, out.Document.LastIndexedAt)
	require.Len(t, out.Embeddings, 2)
	assert.Equal(t, "text", out.Embeddings[0].Kind)
	assert.Equal(t, "ready", out.Embeddings[0].Status)
	assert.Equal(t, 64, out.Embeddings[0].Dimensions)
	assert.Nil(t, out.Background)

	// And: an unknown document reports unindexed
	res, err = ts.srv.CallTool(context.Background(), "index_status", map[string]any{"attachment_id": "ghost"})
	require.NoError(t, err)
	doc := res.(IndexStatusOutput).Document
	assert.False(t, doc.Known)
	assert.Equal(t, "unindexed", doc.Status)
}

func TestServer_IndexStatusBackground(t *testing.T) {
	// Given: a server with a catch-up run halfway through
	ts := newTestServer(t)
	progress := async.NewProgress()
	progress.SetDir("/inbox")
	progress.SetStage(async.StageIndexing, 2)
	progress.FileIndexed()
	deps := ts.srv.deps
	deps.Background = progress
	srv, err := NewServer(deps)
	require.NoError(t, err)

	// When: asking for the index status
	res, err := srv.CallTool(context.Background(), "index_status", nil)

	// Then: the run's progress is included
	require.NoError(t, err)
	bg := res.(IndexStatusOutput).Background
	require.NotNil(t, bg)
	assert.Equal(t, "running", bg.Status)
	assert.Equal(t, "/inbox", bg.Dir)
	assert.Equal(t, 1, bg.Indexed)
	assert.InDelta(t, 50.0, bg.ProgressPct, 0.001)
}

func TestServer_UnknownTool(t *testing.T) {
	ts := newTestServer(t)
	_, err := ts.srv.CallTool(context.Background(), "summarize", nil)
	var me *MCPError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, ErrCodeMethodNotFound, me.Code)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{name: "nil", err: nil},
		{name: "validation", err: raerrors.ValidationError("bad", nil), code: ErrCodeInvalidParams},
		{name: "store", err: raerrors.StoreIOError("disk", nil), code: ErrCodeStoreUnavailable},
		{name: "backend", err: raerrors.BackendUnavailable("down", nil), code: ErrCodeBackendUnavailable},
		{name: "indexing timeout", err: raerrors.IndexingTimeout("slow", nil), code: ErrCodeTimeout},
		{name: "deadline", err: context.DeadlineExceeded, code: ErrCodeTimeout},
		{name: "canceled", err: context.Canceled, code: ErrCodeTimeout},
		{name: "passthrough", err: NewInvalidParamsError("x"), code: ErrCodeInvalidParams},
		{name: "unknown", err: errors.New("boom"), code: ErrCodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if tt.err == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.code, got.Code)
		})
	}
}

func TestMapError_IncludesSuggestion(t *testing.T) {
	err := raerrors.ValidationError("unknown mode", nil).WithSuggestion("Use text.")
	assert.Equal(t, "unknown mode Use text.", MapError(err).Message)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 10, clampLimit(0, 10, 1, 100))
	assert.Equal(t, 100, clampLimit(500, 10, 1, 100))
	assert.Equal(t, 7, clampLimit(7, 10, 1, 100))
}
