package index

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/Franck-BRT/BlackIA-sub003/internal/embed"
	"github.com/Franck-BRT/BlackIA-sub003/internal/extract"
	"github.com/Franck-BRT/BlackIA-sub003/internal/ignore"
	"github.com/Franck-BRT/BlackIA-sub003/internal/search"
	"github.com/Franck-BRT/BlackIA-sub003/internal/ui"
)

// PagesDirSuffix names the directory holding a document's rendered pages:
// report.pdf takes its page images from report.pages/.
const PagesDirSuffix = ".pages"

// RunnerConfig configures a bulk indexing run.
type RunnerConfig struct {
	// Dir is the directory to index.
	Dir string

	// Extensions limits indexed files. Empty indexes every file.
	Extensions []string

	EntityType string
	EntityID   string

	// Mode applies to every document. Empty means auto per document.
	Mode search.Mode
}

// RunnerResult contains the outcome of a bulk run.
type RunnerResult struct {
	Documents int
	Chunks    int
	Pages     int
	Patches   int
	Skipped   int
	Errors    int
	Duration  time.Duration
}

// RunnerDependencies contains the injected dependencies for Runner.
type RunnerDependencies struct {
	// Renderer for progress display (required).
	Renderer ui.Renderer

	// Manager indexes each document (required).
	Manager *Manager

	// TextEmbedder and VisionEmbedder are reported in the summary.
	TextEmbedder   embed.TextEmbedder
	VisionEmbedder embed.VisionEmbedder

	Logger *slog.Logger
}

// Runner indexes a directory through the Manager with progress reporting.
type Runner struct {
	renderer ui.Renderer
	manager  *Manager
	text     embed.TextEmbedder
	vision   embed.VisionEmbedder
	logger   *slog.Logger
}

// NewRunner creates a Runner with injected dependencies.
func NewRunner(deps RunnerDependencies) (*Runner, error) {
	if deps.Renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if deps.Manager == nil {
		return nil, fmt.Errorf("manager is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		renderer: deps.Renderer,
		manager:  deps.Manager,
		text:     deps.TextEmbedder,
		vision:   deps.VisionEmbedder,
		logger:   logger,
	}, nil
}

// Run scans cfg.Dir, extracts every matching file and indexes it. Failures
// of single documents are reported and counted; only cancellation aborts.
func (r *Runner) Run(ctx context.Context, cfg RunnerConfig) (*RunnerResult, error) {
	start := time.Now()
	var timings ui.StageTimings
	result := &RunnerResult{}

	if err := r.renderer.Start(ctx); err != nil {
		return nil, err
	}
	defer func() { _ = r.renderer.Stop() }()

	// Stage 1: scan
	scanStart := time.Now()
	files, err := ScanDir(cfg.Dir, cfg.Extensions)
	if err != nil {
		return nil, err
	}
	timings.Scan = time.Since(scanStart)
	r.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageScanning,
		Current: len(files),
		Total:   len(files),
		Message: fmt.Sprintf("found %d documents", len(files)),
	})

	// Stage 2: extract
	extractStart := time.Now()
	docs := make([]Document, 0, len(files))
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.renderer.UpdateProgress(ui.ProgressEvent{
			Stage:       ui.StageExtracting,
			Current:     i + 1,
			Total:       len(files),
			CurrentFile: path,
		})
		doc, err := DocumentFromFile(path, cfg)
		if err != nil {
			result.Errors++
			r.renderer.AddError(ui.ErrorEvent{File: path, Err: err})
			continue
		}
		docs = append(docs, doc)
	}
	timings.Extract = time.Since(extractStart)

	// Stage 3: index
	indexStart := time.Now()
	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.renderer.UpdateProgress(ui.ProgressEvent{
			Stage:       ui.StageIndexing,
			Current:     i + 1,
			Total:       len(docs),
			CurrentFile: doc.Name,
		})
		out, err := r.manager.AddOrReindex(ctx, doc)
		result.Chunks += out.ChunkCount
		result.Pages += out.PageCount
		result.Patches += out.PatchCount
		if out.VisionSkipped {
			result.Skipped++
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			result.Errors++
			r.renderer.AddError(ui.ErrorEvent{File: doc.Name, Err: err})
			continue
		}
		result.Documents++
	}
	timings.Index = time.Since(indexStart)
	result.Duration = time.Since(start)

	r.renderer.Complete(ui.CompletionStats{
		Documents: result.Documents,
		Chunks:    result.Chunks,
		Pages:     result.Pages,
		Patches:   result.Patches,
		Duration:  result.Duration,
		Errors:    result.Errors,
		Warnings:  result.Skipped,
		Stages:    timings,
		Embedder:  r.embedderInfo(),
	})

	r.logger.Info("bulk indexing complete",
		slog.String("dir", cfg.Dir),
		slog.Int("documents", result.Documents),
		slog.Int("chunks", result.Chunks),
		slog.Int("pages", result.Pages),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration))
	return result, nil
}

func (r *Runner) embedderInfo() ui.EmbedderInfo {
	var info ui.EmbedderInfo
	if r.text != nil {
		info.Model = r.text.ModelName()
		info.Dimensions = r.text.Dimensions()
	}
	if r.vision != nil {
		info.VisionModel = r.vision.ModelName()
	}
	return info
}

// DocumentID derives an attachment id from a file path: its base name
// without extension.
func DocumentID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// DocumentFromFile extracts path into a Document. Page images are taken
// from the sibling <name>.pages directory when present.
func DocumentFromFile(path string, cfg RunnerConfig) (Document, error) {
	opts := extract.Options{}
	pagesDir := strings.TrimSuffix(path, filepath.Ext(path)) + PagesDirSuffix
	if info, err := os.Stat(pagesDir); err == nil && info.IsDir() {
		opts.PagesDir = pagesDir
	}

	res, err := extract.File(path, opts)
	if err != nil {
		return Document{}, err
	}
	return Document{
		AttachmentID: DocumentID(path),
		MimeType:     res.MimeType,
		Name:         res.Name,
		Text:         res.Text,
		PageImages:   res.PageImages,
		EntityType:   cfg.EntityType,
		EntityID:     cfg.EntityID,
		Mode:         cfg.Mode,
	}, nil
}

// ScanDir lists the files under dir matching extensions, sorted. Hidden
// entries, page directories and paths excluded by .blackiaignore files are
// skipped.
func ScanDir(dir string, extensions []string) ([]string, error) {
	var files []string
	rules := ignore.New()
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		rel, _ := filepath.Rel(dir, path)
		if d.IsDir() {
			if path != dir && (strings.HasPrefix(name, ".") || strings.HasSuffix(name, PagesDirSuffix) || rules.Match(rel, true)) {
				return filepath.SkipDir
			}
			if err := rules.AddFile(filepath.Join(path, ignore.FileName), rel); err != nil && !os.IsNotExist(err) {
				return err
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || !d.Type().IsRegular() || rules.Match(rel, false) {
			return nil
		}
		if MatchExtension(path, extensions) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	slices.Sort(files)
	return files, nil
}

// MatchExtension reports whether path has one of extensions. An empty list
// matches everything.
func MatchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range extensions {
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}
