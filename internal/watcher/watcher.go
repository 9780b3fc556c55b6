package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/Franck-BRT/BlackIA-sub003/internal/config"
	"github.com/Franck-BRT/BlackIA-sub003/internal/index"
)

// Operation is a file system operation type.
type Operation int

const (
	// OpCreate indicates a new file appeared in the inbox.
	OpCreate Operation = iota
	// OpModify indicates an existing file was written.
	OpModify
	// OpDelete indicates a file was removed.
	OpDelete
	// OpRename indicates a file was moved away from its path.
	OpRename
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// Removes reports whether the operation takes the path out of the inbox.
func (op Operation) Removes() bool {
	return op == OpDelete || op == OpRename
}

// FileEvent is one file system event.
type FileEvent struct {
	// Path is relative to the watched root.
	Path      string
	Operation Operation
	IsDir     bool
	Timestamp time.Time
}

// Watcher watches a directory tree and emits debounced event batches.
type Watcher interface {
	// Start watches path recursively until Stop is called or ctx is done.
	Start(ctx context.Context, path string) error

	// Stop releases resources. Safe to call multiple times.
	Stop() error

	// Events returns batches of coalesced events. Closed on Stop.
	Events() <-chan []FileEvent

	// Errors returns non-fatal watcher errors. Closed on Stop.
	Errors() <-chan error
}

// Options configures the watcher behavior.
type Options struct {
	// DebounceWindow is the quiet period before a batch is emitted.
	// Default: 500ms
	DebounceWindow time.Duration

	// PollInterval is the scan interval in polling mode.
	// Default: 5s
	PollInterval time.Duration

	// EventBufferSize is the size of the batch channel buffer.
	// Default: 1000
	EventBufferSize int

	// Extensions limits the files reported. Empty reports every file.
	Extensions []string

	// ForcePolling skips fsnotify.
	ForcePolling bool

	Logger *slog.Logger
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  500 * time.Millisecond,
		PollInterval:    5 * time.Second,
		EventBufferSize: 1000,
	}
}

// OptionsFromConfig builds watcher options from the watch section.
func OptionsFromConfig(cfg config.WatchConfig) Options {
	opts := DefaultOptions()
	opts.DebounceWindow = config.Duration(cfg.Debounce, opts.DebounceWindow)
	opts.Extensions = append([]string(nil), cfg.Extensions...)
	return opts
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaults.PollInterval
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// ignoreDir reports whether a directory below the root is skipped.
// Hidden directories and rendered page directories are never watched.
func ignoreDir(relPath string) bool {
	for _, part := range strings.Split(filepath.ToSlash(relPath), "/") {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
		if strings.HasSuffix(part, index.PagesDirSuffix) {
			return true
		}
	}
	return false
}

// ignorePath reports whether an event for relPath is dropped.
func ignorePath(relPath string, isDir bool, extensions []string) bool {
	if relPath == "." || relPath == "" {
		return true
	}
	if isDir {
		return ignoreDir(relPath)
	}
	if dir := filepath.Dir(relPath); dir != "." && ignoreDir(dir) {
		return true
	}
	if strings.HasPrefix(filepath.Base(relPath), ".") {
		return true
	}
	return !index.MatchExtension(relPath, extensions)
}
