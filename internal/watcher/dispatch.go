package watcher

import (
	"context"
	"log/slog"
	"path/filepath"

	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
	"github.com/Franck-BRT/BlackIA-sub003/internal/ignore"
	"github.com/Franck-BRT/BlackIA-sub003/internal/index"
)

// DocumentIndexer is the part of index.Manager the dispatcher drives.
type DocumentIndexer interface {
	AddOrReindex(ctx context.Context, doc index.Document) (index.Outcome, error)
	Delete(ctx context.Context, attachmentID string) error
}

// DispatchResult counts what one batch did.
type DispatchResult struct {
	Indexed int
	Deleted int
	Failed  int
	Ignored int
}

// Dispatcher turns inbox events into lifecycle calls: created and written
// files are (re)indexed, removed and renamed files are deleted. The
// attachment id is the file name without its extension. Paths excluded by
// the root's .blackiaignore are skipped.
type Dispatcher struct {
	root    string
	indexer DocumentIndexer
	doc     index.RunnerConfig
	rules   *ignore.Matcher
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher for events relative to root. doc
// supplies the entity and mode stamped on every indexed document.
func NewDispatcher(root string, indexer DocumentIndexer, doc index.RunnerConfig, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	rules, err := ignore.Load(root)
	if err != nil {
		logger.Warn("ignore_rules_unreadable", slog.String("root", root), slog.String("error", err.Error()))
	}
	return &Dispatcher{root: root, indexer: indexer, doc: doc, rules: rules, logger: logger}
}

// Handle applies a batch in order. Per-file failures are logged and counted.
func (d *Dispatcher) Handle(ctx context.Context, batch []FileEvent) DispatchResult {
	var res DispatchResult
	for _, ev := range batch {
		if ctx.Err() != nil {
			return res
		}
		if ev.IsDir {
			continue
		}
		if d.rules.Match(filepath.ToSlash(ev.Path), false) {
			res.Ignored++
			continue
		}
		path := filepath.Join(d.root, ev.Path)
		id := index.DocumentID(path)

		if ev.Operation.Removes() {
			if err := d.indexer.Delete(ctx, id); err != nil {
				res.Failed++
				d.logger.Warn("watch_delete_failed",
					append([]any{slog.String("path", ev.Path)}, raerrors.LogAttrs(err)...)...)
				continue
			}
			res.Deleted++
			d.logger.Info("watch_deleted", slog.String("path", ev.Path), slog.String("attachment_id", id))
			continue
		}

		doc, err := index.DocumentFromFile(path, d.doc)
		if err != nil {
			res.Failed++
			d.logger.Warn("watch_extract_failed",
				append([]any{slog.String("path", ev.Path)}, raerrors.LogAttrs(err)...)...)
			continue
		}
		out, err := d.indexer.AddOrReindex(ctx, doc)
		if err != nil {
			res.Failed++
			d.logger.Warn("watch_index_failed",
				append([]any{slog.String("path", ev.Path)}, raerrors.LogAttrs(err)...)...)
			continue
		}
		res.Indexed++
		d.logger.Info("watch_indexed",
			slog.String("path", ev.Path),
			slog.String("attachment_id", out.AttachmentID),
			slog.Int("chunks", out.ChunkCount),
			slog.Int("pages", out.PageCount))
	}
	return res
}

// Run starts w on the dispatcher root and handles batches until ctx is
// done or the watcher stops.
func (d *Dispatcher) Run(ctx context.Context, w Watcher) error {
	startErr := make(chan error, 1)
	go func() { startErr <- w.Start(ctx, d.root) }()
	defer func() { _ = w.Stop() }()

	events, errs := w.Events(), w.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-startErr:
			if err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		case batch, ok := <-events:
			if !ok {
				return nil
			}
			d.Handle(ctx, batch)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			d.logger.Warn("watcher_error", slog.String("error", err.Error()))
		}
	}
}
