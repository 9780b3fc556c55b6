package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"
)

// PollingWatcher detects changes by rescanning the tree on an interval.
// HybridWatcher falls back to it when fsnotify is unavailable, e.g. on
// network mounts.
type PollingWatcher struct {
	interval   time.Duration
	extensions []string
	logger     *slog.Logger

	mu       sync.Mutex
	files    map[string]fileSnapshot
	events   chan FileEvent
	errors   chan error
	stopCh   chan struct{}
	stopped  bool
	rootPath string
}

type fileSnapshot struct {
	modTime time.Time
	size    int64
}

// NewPollingWatcher creates a polling watcher.
func NewPollingWatcher(opts Options) *PollingWatcher {
	opts = opts.WithDefaults()
	return &PollingWatcher{
		interval:   opts.PollInterval,
		extensions: opts.Extensions,
		logger:     opts.Logger,
		files:      make(map[string]fileSnapshot),
		events:     make(chan FileEvent, 100),
		errors:     make(chan error, 10),
		stopCh:     make(chan struct{}),
	}
}

// Start records a baseline and polls path until Stop or ctx is done.
func (p *PollingWatcher) Start(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}

	p.mu.Lock()
	p.rootPath = absPath
	baseline, err := p.snapshot()
	if err == nil {
		p.files = baseline
	}
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("perform initial scan: %w", err)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = p.Stop()
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case <-ticker.C:
			if err := p.detectChanges(); err != nil {
				p.emitError(err)
			}
		}
	}
}

// Stop stops polling and closes the channels.
func (p *PollingWatcher) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil
	}
	p.stopped = true
	close(p.stopCh)
	close(p.events)
	close(p.errors)
	return nil
}

// Events returns the channel of raw, undebounced events.
func (p *PollingWatcher) Events() <-chan FileEvent {
	return p.events
}

// Errors returns the channel of scan errors.
func (p *PollingWatcher) Errors() <-chan error {
	return p.errors
}

// snapshot walks the tree. Must be called with lock held.
func (p *PollingWatcher) snapshot() (map[string]fileSnapshot, error) {
	files := make(map[string]fileSnapshot)
	err := filepath.WalkDir(p.rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == p.rootPath {
				return err
			}
			return nil
		}
		rel, err := filepath.Rel(p.rootPath, path)
		if err != nil || rel == "." {
			return nil
		}
		if d.IsDir() {
			if ignoreDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if ignorePath(rel, false, p.extensions) || !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files[rel] = fileSnapshot{modTime: info.ModTime(), size: info.Size()}
		return nil
	})
	return files, err
}

func (p *PollingWatcher) detectChanges() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil
	}
	current, err := p.snapshot()
	if err != nil {
		return fmt.Errorf("walk directory for changes: %w", err)
	}

	now := time.Now()
	for rel, snap := range current {
		prev, ok := p.files[rel]
		switch {
		case !ok:
			p.emitEvent(FileEvent{Path: rel, Operation: OpCreate, Timestamp: now})
		case !prev.modTime.Equal(snap.modTime) || prev.size != snap.size:
			p.emitEvent(FileEvent{Path: rel, Operation: OpModify, Timestamp: now})
		}
	}
	for rel := range p.files {
		if _, ok := current[rel]; !ok {
			p.emitEvent(FileEvent{Path: rel, Operation: OpDelete, Timestamp: now})
		}
	}
	p.files = current
	return nil
}

// emitEvent must be called with lock held.
func (p *PollingWatcher) emitEvent(event FileEvent) {
	select {
	case p.events <- event:
	default:
		p.logger.Warn("polling watcher buffer full, dropping event",
			slog.String("path", event.Path),
			slog.String("op", event.Operation.String()))
	}
}

func (p *PollingWatcher) emitError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	select {
	case p.errors <- err:
	default:
	}
}
