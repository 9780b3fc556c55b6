package async

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LockFileName marks a background run in progress. It survives a crash so
// the next start can tell the previous run was interrupted.
const LockFileName = "catchup.lock"

// WorkFunc is the work a BackgroundIndexer runs.
type WorkFunc func(ctx context.Context, progress *Progress) error

// IndexerConfig configures a BackgroundIndexer.
type IndexerConfig struct {
	// DataDir holds the lock file.
	DataDir string
	Logger  *slog.Logger
}

// BackgroundIndexer runs one WorkFunc in a goroutine with progress tracking.
type BackgroundIndexer struct {
	config   IndexerConfig
	progress *Progress
	work     WorkFunc
	logger   *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}

	mu      sync.Mutex
	started bool
	running bool
	err     error
}

// NewBackgroundIndexer creates an indexer for work.
func NewBackgroundIndexer(cfg IndexerConfig, work WorkFunc) *BackgroundIndexer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &BackgroundIndexer{
		config:   cfg,
		progress: NewProgress(),
		work:     work,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Progress returns the run's tracker.
func (b *BackgroundIndexer) Progress() *Progress {
	return b.progress
}

// IsRunning reports whether the work is still executing.
func (b *BackgroundIndexer) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Start runs the work in a goroutine and returns immediately. Only the
// first call has an effect.
func (b *BackgroundIndexer) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.running = true
	b.mu.Unlock()

	go b.run(ctx)
}

func (b *BackgroundIndexer) run(ctx context.Context) {
	defer close(b.doneCh)
	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-b.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	lockPath := filepath.Join(b.config.DataDir, LockFileName)
	if err := os.MkdirAll(b.config.DataDir, 0o755); err != nil {
		b.fail(err)
		return
	}
	if err := os.WriteFile(lockPath, []byte(time.Now().Format(time.RFC3339)), 0o644); err != nil {
		b.fail(err)
		return
	}

	if b.work != nil {
		if err := b.work(ctx, b.progress); err != nil {
			// An interrupted run keeps its lock file.
			b.fail(err)
			return
		}
	}
	_ = os.Remove(lockPath)
	b.progress.SetReady()
	snap := b.progress.Snapshot()
	b.logger.Info("background_index_done",
		slog.Int("indexed", snap.Indexed),
		slog.Int("up_to_date", snap.UpToDate),
		slog.Int("failed", snap.Failed),
		slog.Int("elapsed_s", snap.ElapsedSeconds))
}

func (b *BackgroundIndexer) fail(err error) {
	b.progress.SetError(err.Error())
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
	b.logger.Warn("background_index_failed", slog.String("error", err.Error()))
}

// Stop cancels the work and waits for it to return.
func (b *BackgroundIndexer) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	b.stopOnce.Do(func() { close(b.stopCh) })
	<-b.doneCh
}

// Wait blocks until the work completes and returns its error.
func (b *BackgroundIndexer) Wait() error {
	<-b.doneCh
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// HasIncompleteLock reports whether a previous run in dataDir did not
// finish.
func HasIncompleteLock(dataDir string) bool {
	_, err := os.Stat(filepath.Join(dataDir, LockFileName))
	return err == nil
}
