package async

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgress_Snapshot(t *testing.T) {
	// Given: a run over four files
	p := NewProgress()
	p.SetDir("/inbox")
	p.SetStage(StageIndexing, 4)

	// When: files are counted
	p.FileIndexed()
	p.FileUpToDate()
	p.FileFailed()

	// Then: the snapshot carries the counts and the percentage
	snap := p.Snapshot()
	assert.Equal(t, string(StatusRunning), snap.Status)
	assert.Equal(t, string(StageIndexing), snap.Stage)
	assert.Equal(t, "/inbox", snap.Dir)
	assert.Equal(t, 4, snap.FilesTotal)
	assert.Equal(t, 3, snap.FilesProcessed)
	assert.Equal(t, 1, snap.Indexed)
	assert.Equal(t, 1, snap.UpToDate)
	assert.Equal(t, 1, snap.Failed)
	assert.InDelta(t, 75.0, snap.ProgressPct, 0.001)
	assert.True(t, p.IsRunning())
}

func TestProgress_TerminalStates(t *testing.T) {
	p := NewProgress()
	p.SetReady()
	assert.False(t, p.IsRunning())
	assert.Equal(t, string(StatusReady), p.Snapshot().Status)

	p = NewProgress()
	p.SetError("disk full")
	snap := p.Snapshot()
	assert.Equal(t, string(StatusError), snap.Status)
	assert.Equal(t, "disk full", snap.ErrorMessage)
}

func TestProgress_EmptyStageHasZeroPercent(t *testing.T) {
	p := NewProgress()
	p.SetStage(StageIndexing, 0)
	assert.Zero(t, p.Snapshot().ProgressPct)
}

func TestProgress_Concurrent(t *testing.T) {
	// Given: many goroutines counting files
	p := NewProgress()
	p.SetStage(StageIndexing, 100)
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.FileIndexed()
			_ = p.Snapshot()
		}()
	}
	wg.Wait()

	// Then: no update is lost
	assert.Equal(t, 100, p.Snapshot().Indexed)
}
