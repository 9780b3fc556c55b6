package async

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/Franck-BRT/BlackIA-sub003/internal/index"
)

// DocumentIndexer is the part of index.Manager a catch-up scan drives.
type DocumentIndexer interface {
	AddOrReindex(ctx context.Context, doc index.Document) (index.Outcome, error)
	State(attachmentID string) (index.State, bool)
}

// CatchUpConfig describes the directory to bring up to date.
type CatchUpConfig struct {
	Dir        string
	Extensions []string
	Document   index.RunnerConfig
	Logger     *slog.Logger
}

// CatchUp returns work that indexes every document under cfg.Dir that is
// missing from the index, failed last time, or changed on disk since it was
// last indexed. It covers files added while no watcher was running.
func CatchUp(indexer DocumentIndexer, cfg CatchUpConfig) WorkFunc {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, progress *Progress) error {
		progress.SetDir(cfg.Dir)
		files, err := index.ScanDir(cfg.Dir, cfg.Extensions)
		if err != nil {
			return err
		}
		progress.SetStage(StageIndexing, len(files))

		for _, path := range files {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("catch-up interrupted: %w", err)
			}
			if upToDate(indexer, path) {
				progress.FileUpToDate()
				continue
			}
			doc, err := index.DocumentFromFile(path, cfg.Document)
			if err != nil {
				progress.FileFailed()
				logger.Warn("catchup_extract_failed", slog.String("path", path), slog.String("error", err.Error()))
				continue
			}
			if _, err := indexer.AddOrReindex(ctx, doc); err != nil {
				progress.FileFailed()
				logger.Warn("catchup_index_failed", slog.String("path", path), slog.String("error", err.Error()))
				continue
			}
			progress.FileIndexed()
		}
		return nil
	}
}

func upToDate(indexer DocumentIndexer, path string) bool {
	state, ok := indexer.State(index.DocumentID(path))
	if !ok || state.Status != index.StatusIndexed {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.ModTime().After(state.LastIndexedAt)
}
