package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Franck-BRT/BlackIA-sub003/internal/async"
	"github.com/Franck-BRT/BlackIA-sub003/internal/logging"
	"github.com/Franck-BRT/BlackIA-sub003/internal/search"
)

func TestCatchUp_IndexesOnlyWhatChanged(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	dataDir := t.TempDir()
	s := openStack(t, dataDir)
	defer s.close(t)

	// Given: an inbox where one document is already indexed and one is new
	inbox := t.TempDir()
	indexFile(t, s, writeDoc(t, inbox, "lease.txt", "the lease renews every january"), search.ModeText)
	writeDoc(t, inbox, "invoice.txt", "invoice for the roof repair")
	writeDoc(t, inbox, ".blackiaignore", "drafts/\n")
	writeDoc(t, inbox, "drafts/note.txt", "unfinished thoughts")

	// When: a background catch-up runs over the inbox
	bg := async.NewBackgroundIndexer(
		async.IndexerConfig{DataDir: dataDir, Logger: logging.Discard()},
		async.CatchUp(s.manager, async.CatchUpConfig{Dir: inbox, Logger: logging.Discard()}))
	bg.Start(context.Background())
	require.NoError(t, bg.Wait())

	// Then: only the new document was indexed and it is searchable
	snap := bg.Progress().Snapshot()
	assert.Equal(t, 1, snap.Indexed)
	assert.Equal(t, 1, snap.UpToDate)
	assert.Zero(t, snap.Failed)
	assert.False(t, async.HasIncompleteLock(dataDir))

	resp, err := s.searcher.Search(context.Background(), search.Query{Text: "roof repair invoice", Mode: search.ModeText, TopK: 10})
	require.NoError(t, err)
	assert.Contains(t, attachmentIDs(resp), "invoice")
	_, known := s.manager.State("note")
	assert.False(t, known)
}
