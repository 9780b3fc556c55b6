package async

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Franck-BRT/BlackIA-sub003/internal/logging"
)

func newIndexer(t *testing.T, work WorkFunc) (*BackgroundIndexer, string) {
	t.Helper()
	dir := t.TempDir()
	return NewBackgroundIndexer(IndexerConfig{DataDir: dir, Logger: logging.Discard()}, work), dir
}

func TestBackgroundIndexer_RunsWork(t *testing.T) {
	// Given: work that flags itself and checks the lock file
	var ran, locked atomic.Bool
	var b *BackgroundIndexer
	var dataDir string
	b, dataDir = newIndexer(t, func(_ context.Context, _ *Progress) error {
		ran.Store(true)
		locked.Store(HasIncompleteLock(dataDir))
		return nil
	})
	assert.False(t, b.IsRunning())

	// When: it is started and awaited
	b.Start(context.Background())
	require.NoError(t, b.Wait())

	// Then: the work ran under the lock, and the lock is gone afterwards
	assert.True(t, ran.Load())
	assert.True(t, locked.Load())
	assert.False(t, HasIncompleteLock(dataDir))
	assert.False(t, b.IsRunning())
	assert.Equal(t, string(StatusReady), b.Progress().Snapshot().Status)
}

func TestBackgroundIndexer_StartOnce(t *testing.T) {
	// Given: work counting its invocations
	var calls atomic.Int32
	b, _ := newIndexer(t, func(_ context.Context, _ *Progress) error {
		calls.Add(1)
		return nil
	})

	// When: Start is called twice
	b.Start(context.Background())
	b.Start(context.Background())
	require.NoError(t, b.Wait())

	// Then: the work ran once
	assert.Equal(t, int32(1), calls.Load())
}

func TestBackgroundIndexer_ErrorKeepsLock(t *testing.T) {
	// Given: work that fails
	b, dataDir := newIndexer(t, func(_ context.Context, _ *Progress) error {
		return errors.New("backend down")
	})

	// When: it runs
	b.Start(context.Background())
	err := b.Wait()

	// Then: the error is reported and the lock marks the run unfinished
	require.EqualError(t, err, "backend down")
	snap := b.Progress().Snapshot()
	assert.Equal(t, string(StatusError), snap.Status)
	assert.Equal(t, "backend down", snap.ErrorMessage)
	assert.True(t, HasIncompleteLock(dataDir))
}

func TestBackgroundIndexer_Stop(t *testing.T) {
	// Given: work that blocks until cancelled
	b, _ := newIndexer(t, func(ctx context.Context, _ *Progress) error {
		<-ctx.Done()
		return ctx.Err()
	})
	b.Start(context.Background())

	// When: it is stopped
	done := make(chan struct{})
	go func() {
		b.Stop()
		b.Stop()
		close(done)
	}()

	// Then: Stop returns and the run ends cancelled
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.ErrorIs(t, b.Wait(), context.Canceled)
	assert.False(t, b.IsRunning())
}

func TestHasIncompleteLock(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, HasIncompleteLock(dir))
	require.NoError(t, os.WriteFile(filepath.Join(dir, LockFileName), []byte("x"), 0o644))
	assert.True(t, HasIncompleteLock(dir))
}
