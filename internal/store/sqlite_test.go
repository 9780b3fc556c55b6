package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
	"github.com/Franck-BRT/BlackIA-sub003/internal/logging"
)

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	// Given: a store with one chunk written to disk
	dir := t.TempDir()
	ctx := context.Background()
	s := newTestStore(t, Options{DataDir: dir})
	require.NoError(t, s.Text.IndexChunks(ctx, []TextChunk{textChunk("doc", 0, unit(2, 0))}))
	require.NoError(t, s.Close())

	// When: reopening the same directory
	reopened := newTestStore(t, Options{DataDir: dir})

	// Then: the chunk is still there
	n, err := reopened.Text.Count(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.FileExists(t, filepath.Join(dir, DefaultDBName))
}

func TestDB_BackupTo(t *testing.T) {
	// Given: an open store with one chunk
	ctx := context.Background()
	s := newTestStore(t, Options{DataDir: t.TempDir()})
	require.NoError(t, s.Text.IndexChunks(ctx, []TextChunk{textChunk("doc", 0, unit(2, 0))}))

	// When: backing it up while it stays open
	backup := filepath.Join(t.TempDir(), "copy", DefaultDBName)
	require.NoError(t, os.MkdirAll(filepath.Dir(backup), 0o755))
	require.NoError(t, s.DB.BackupTo(ctx, backup))

	// Then: the copy opens with the same content
	copied := newTestStore(t, Options{DataDir: filepath.Dir(backup)})
	n, err := copied.Text.Count(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// And: an existing target is refused
	assert.Error(t, s.DB.BackupTo(ctx, backup))
}

func TestOpen_InMemory(t *testing.T) {
	db, err := Open(context.Background(), "", WithLogger(logging.Discard()))
	require.NoError(t, err)
	defer db.Close()

	assert.Empty(t, db.Path())
	assert.Zero(t, db.FileSize())
}

func TestOpen_RecreatesCorruptedFile(t *testing.T) {
	// Given: garbage where the database should be
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultDBName)
	require.NoError(t, os.WriteFile(path, []byte("this is definitely not a sqlite database file"), 0o644))

	// When: opening it
	db, err := Open(context.Background(), path, WithLogger(logging.Discard()))

	// Then: a fresh, usable database replaces it
	require.NoError(t, err)
	defer db.Close()
	version, err := db.State(context.Background(), "schema_version")
	require.NoError(t, err)
	assert.Equal(t, "1", version)
}

func TestOpen_CancelledContextKeepsIndex(t *testing.T) {
	// Given: a database holding state
	path := filepath.Join(t.TempDir(), DefaultDBName)
	db, err := Open(context.Background(), path, WithLogger(logging.Discard()))
	require.NoError(t, err)
	require.NoError(t, db.SetState(context.Background(), "marker", "kept"))
	require.NoError(t, db.Close())

	// When: opening it with a cancelled context
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Open(ctx, path, WithLogger(logging.Discard()))

	// Then: the open fails as a store error
	require.Error(t, err)
	assert.True(t, raerrors.IsKind(err, raerrors.ErrCodeStoreIO))

	// And: the file and its contents survive
	db, err = Open(context.Background(), path, WithLogger(logging.Discard()))
	require.NoError(t, err)
	defer db.Close()
	marker, err := db.State(context.Background(), "marker")
	require.NoError(t, err)
	assert.Equal(t, "kept", marker)
}

func TestCheckIntegrity(t *testing.T) {
	dir := t.TempDir()
	healthy := filepath.Join(dir, "healthy.db")
	db, err := Open(context.Background(), healthy, WithLogger(logging.Discard()))
	require.NoError(t, err)
	require.NoError(t, db.Close())
	garbage := filepath.Join(dir, "garbage.db")
	require.NoError(t, os.WriteFile(garbage, []byte("this is definitely not a sqlite database file"), 0o644))

	tests := []struct {
		name        string
		path        string
		wantCorrupt bool
	}{
		{name: "missing file", path: filepath.Join(dir, "missing.db")},
		{name: "healthy file", path: healthy},
		{name: "not a database", path: garbage, wantCorrupt: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			corrupt, _, err := checkIntegrity(context.Background(), tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCorrupt, corrupt)
		})
	}
}

func TestDB_State(t *testing.T) {
	db, err := Open(context.Background(), "", WithLogger(logging.Discard()))
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	v, err := db.State(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, db.SetState(ctx, "embed_model", "a"))
	require.NoError(t, db.SetState(ctx, "embed_model", "b"))
	v, err = db.State(ctx, "embed_model")
	require.NoError(t, err)
	assert.Equal(t, "b", v)
}

func TestWhereClause(t *testing.T) {
	where, args := whereClause(Filter{})
	assert.Empty(t, where)
	assert.Empty(t, args)

	where, args = whereClause(Filter{EntityType: "t", EntityID: "i", AttachmentIDs: []string{"a", "b"}})
	assert.Equal(t, " WHERE entity_type = ? AND entity_id = ? AND attachment_id IN (?,?)", where)
	assert.Equal(t, []any{"t", "i", "a", "b"}, args)
}

func TestCodec_Patches(t *testing.T) {
	patches := [][]float32{{1, 2, 3}, {-1, 0.5, 0}}

	blob, dims, err := encodePatches(patches)
	require.NoError(t, err)
	assert.Equal(t, 3, dims)
	assert.Len(t, blob, 24)

	decoded, err := decodePatches(blob, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, patches, decoded)

	_, err = decodePatches(blob, 3, 3)
	assert.Error(t, err)

	_, _, err = encodePatches([][]float32{{1, 2}, {1}})
	assert.Error(t, err)
}

func TestIDs(t *testing.T) {
	assert.Equal(t, "att-1-chunk-0", ChunkID("att-1", 0))
	assert.Equal(t, "att-1-page-12", PageID("att-1", 12))
}

func TestDB_IndexingStates(t *testing.T) {
	// Given: an in-memory database
	ctx := context.Background()
	db, err := Open(ctx, "", WithLogger(logging.Discard()))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	// When: writing, overwriting and deleting records
	require.NoError(t, db.PutIndexingState(ctx, "a", `{"status":"indexing"}`))
	require.NoError(t, db.PutIndexingState(ctx, "a", `{"status":"indexed"}`))
	require.NoError(t, db.PutIndexingState(ctx, "b", `{}`))
	require.NoError(t, db.DeleteIndexingState(ctx, "b"))
	require.NoError(t, db.DeleteIndexingState(ctx, "missing"))

	// Then: only the latest record for a remains
	states, err := db.IndexingStates(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": `{"status":"indexed"}`}, states)
}
