package async

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Franck-BRT/BlackIA-sub003/internal/index"
	"github.com/Franck-BRT/BlackIA-sub003/internal/logging"
)

type fakeIndexer struct {
	mu      sync.Mutex
	states  map[string]index.State
	indexed []string
	failOn  string
}

func (f *fakeIndexer) AddOrReindex(_ context.Context, doc index.Document) (index.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc.AttachmentID == f.failOn {
		return index.Outcome{}, errors.New("embedding failed")
	}
	f.indexed = append(f.indexed, doc.AttachmentID)
	return index.Outcome{AttachmentID: doc.AttachmentID, Status: index.StatusIndexed}, nil
}

func (f *fakeIndexer) State(id string) (index.State, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[id]
	return st, ok
}

func TestCatchUp(t *testing.T) {
	// Given: an inbox with a current, a stale, a new, a failed and a broken document
	dir := t.TempDir()
	for _, name := range []string{"current.txt", "stale.txt", "new.txt", "retry.txt", "broken.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("contents of "+name), 0o644))
	}
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "current.txt"), past, past))
	fake := &fakeIndexer{
		states: map[string]index.State{
			"current": {AttachmentID: "current", Status: index.StatusIndexed, LastIndexedAt: time.Now()},
			"stale":   {AttachmentID: "stale", Status: index.StatusIndexed, LastIndexedAt: past.Add(-time.Hour)},
			"retry":   {AttachmentID: "retry", Status: index.StatusFailed},
		},
		failOn: "broken",
	}
	work := CatchUp(fake, CatchUpConfig{Dir: dir, Logger: logging.Discard()})

	// When: the work runs
	p := NewProgress()
	require.NoError(t, work(context.Background(), p))

	// Then: everything but the current document is indexed, and the broken one is counted as failed
	assert.ElementsMatch(t, []string{"stale", "new", "retry"}, fake.indexed)
	snap := p.Snapshot()
	assert.Equal(t, dir, snap.Dir)
	assert.Equal(t, 5, snap.FilesTotal)
	assert.Equal(t, 5, snap.FilesProcessed)
	assert.Equal(t, 3, snap.Indexed)
	assert.Equal(t, 1, snap.UpToDate)
	assert.Equal(t, 1, snap.Failed)
}

func TestCatchUp_Cancelled(t *testing.T) {
	// Given: a directory with a document and a cancelled context
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("alpha"), 0o644))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fake := &fakeIndexer{}

	// When: the work runs
	err := CatchUp(fake, CatchUpConfig{Dir: dir, Logger: logging.Discard()})(ctx, NewProgress())

	// Then: it stops without indexing
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, fake.indexed)
}

func TestCatchUp_MissingDir(t *testing.T) {
	err := CatchUp(&fakeIndexer{}, CatchUpConfig{Dir: filepath.Join(t.TempDir(), "missing")})(context.Background(), NewProgress())
	assert.Error(t, err)
}
